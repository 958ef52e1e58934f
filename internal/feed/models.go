package feed

import "time"

// Article is one normalized news item. Category is empty when the source
// provides none.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"publishedAt"`
	Category    string    `json:"category,omitempty"`
	SourceName  string    `json:"sourceName"`
}

type FeedResult struct {
	Articles        []Article `json:"articles"`
	FeedTitle       string    `json:"feedTitle,omitempty"`
	FeedDescription string    `json:"feedDescription,omitempty"`
}

// Titles returns the article titles in order.
func (r FeedResult) Titles() []string {
	titles := make([]string, 0, len(r.Articles))
	for _, a := range r.Articles {
		titles = append(titles, a.Title)
	}
	return titles
}
