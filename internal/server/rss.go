package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/feeds"
	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/feed"
)

// newsRSSHandler republishes the articles of every active source as one
// RSS 2.0 document.
func (s *Server) newsRSSHandler(w http.ResponseWriter, r *http.Request) {
	out := &feeds.Feed{
		Title:       "Shaking News",
		Link:        &feeds.Link{Href: requestURL(r)},
		Description: "Latest headlines from the configured news sources",
		Author:      &feeds.Author{Name: "shaking-news"},
		Created:     s.now(),
	}

	for _, res := range s.fetchActive(r.Context()) {
		for _, a := range res.Articles {
			link := a.Link
			if link == "" || link == "#" {
				link = out.Link.Href
			}
			item := &feeds.Item{
				Id:          a.ID,
				Title:       a.Title,
				Link:        &feeds.Link{Href: link},
				Description: a.Summary,
				Author:      &feeds.Author{Name: a.SourceName},
				Created:     a.PublishedAt,
			}
			out.Items = append(out.Items, item)
		}
	}

	body, err := out.ToRss()
	if err != nil {
		s.log.Error("Rendering RSS failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "rendering feed failed")
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(body))
}

// fetchActive fetches the active sources concurrently, keeping source order.
func (s *Server) fetchActive(ctx context.Context) []feed.FeedResult {
	var active []int
	sources := s.sources()
	for i, src := range sources {
		if src.Active {
			active = append(active, i)
		}
	}

	results := make([]feed.FeedResult, len(active))
	var wg sync.WaitGroup
	for slot, i := range active {
		wg.Add(1)
		go func(slot int, url, name string) {
			defer wg.Done()
			results[slot] = s.news.FetchSource(ctx, url, name, true)
		}(slot, sources[i].URL, sources[i].Name)
	}
	wg.Wait()
	return results
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
