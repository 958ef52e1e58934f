// Package feed fetches news sources over HTTP and normalizes their payloads
// into a single article model.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
)

const (
	DefaultTimeout   = 15 * time.Second
	DefaultFeedTTL   = 240 * time.Minute
	DefaultUserAgent = "ShakingHeadNews/1.0"

	maxBodyBytes = 10 << 20
)

// Cache is the subset of *cache.Store the fetcher needs.
type Cache interface {
	Get(key string) (json.RawMessage, bool)
	Peek(key string) (json.RawMessage, bool)
	Set(key string, value any, ttl time.Duration) error
}

type Fetcher struct {
	cache     Cache
	client    *http.Client
	timeout   time.Duration
	feedTTL   time.Duration
	userAgent string
	now       func() time.Time
	log       *zap.Logger
}

type FetcherOption func(*Fetcher)

func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = d }
}

// WithFeedTTL sets how long a successful fetch stays cached.
func WithFeedTTL(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.feedTTL = d }
}

// WithUserAgent overrides DefaultUserAgent. An empty value is ignored.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func WithLogger(log *zap.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = log }
}

// NewFetcher builds a fetcher. A nil cache disables caching entirely; a nil
// client falls back to NewHTTPClient with no retries.
func NewFetcher(c Cache, client *http.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		cache:     c,
		client:    client,
		timeout:   DefaultTimeout,
		feedTTL:   DefaultFeedTTL,
		userAgent: DefaultUserAgent,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = NewHTTPClient(HTTPOptions{Logger: f.log})
	}
	return f
}

// FetchSource returns the articles for one source and never fails. A fresh
// cached copy is returned when useCache is set. When the network fetch fails
// the last stored copy is served even if expired, and failing that the
// fallback set.
func (f *Fetcher) FetchSource(ctx context.Context, url, sourceName string, useCache bool) FeedResult {
	key := cache.FeedKey(url)

	var stale json.RawMessage
	if f.cache != nil {
		stale, _ = f.cache.Peek(key)
		if useCache {
			if raw, ok := f.cache.Get(key); ok {
				if res, err := decodeResult(raw); err == nil {
					f.log.Debug("Serving cached feed", zap.String("source", sourceName))
					return res
				}
			}
		}
	}

	res, err := f.fetch(ctx, url, sourceName)
	if err == nil {
		if useCache {
			f.store(key, res)
		}
		return res
	}

	f.log.Warn("Fetching source failed",
		zap.String("source", sourceName),
		zap.String("url", url),
		zap.Stringer("kind", KindOf(err)),
		zap.Error(err))

	if stale != nil {
		if res, derr := decodeResult(stale); derr == nil {
			f.log.Info("Serving stale feed after fetch failure", zap.String("source", sourceName))
			return res
		}
	}
	return Fallback(sourceName, err, f.now())
}

// Refresh fetches url unconditionally and stores a successful result in the
// cache. Errors are returned rather than replaced by fallback content.
func (f *Fetcher) Refresh(ctx context.Context, url, sourceName string) (FeedResult, error) {
	res, err := f.fetch(ctx, url, sourceName)
	if err != nil {
		return FeedResult{}, err
	}
	f.store(cache.FeedKey(url), res)
	return res, nil
}

// Titles fetches every active source concurrently and concatenates their
// titles in source order.
func (f *Fetcher) Titles(ctx context.Context, sources []config.Source) []string {
	active := make([]config.Source, 0, len(sources))
	for _, s := range sources {
		if s.Active {
			active = append(active, s)
		}
	}

	results := make([][]string, len(active))
	var wg sync.WaitGroup
	for i, s := range active {
		wg.Add(1)
		go func(i int, s config.Source) {
			defer wg.Done()
			results[i] = f.FetchSource(ctx, s.URL, s.Name, true).Titles()
		}(i, s)
	}
	wg.Wait()

	var titles []string
	for _, r := range results {
		titles = append(titles, r...)
	}
	return titles
}

func (f *Fetcher) fetch(ctx context.Context, url, sourceName string) (FeedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FeedResult{}, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return FeedResult{}, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FeedResult{}, &FetchError{
			Kind:   classifyStatus(resp.StatusCode),
			URL:    url,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return FeedResult{}, &FetchError{Kind: KindNetwork, URL: url, Status: resp.StatusCode, Err: err}
	}

	res, err := Normalize(body, sourceName, f.now())
	if err != nil {
		kind := KindMalformed
		if errors.Is(err, ErrUnsupportedShape) {
			kind = KindUnsupportedShape
		}
		return FeedResult{}, &FetchError{Kind: kind, URL: url, Status: resp.StatusCode, Err: err}
	}

	f.log.Debug("Fetched source",
		zap.String("source", sourceName),
		zap.Int("articles", len(res.Articles)),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (f *Fetcher) store(key string, res FeedResult) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(key, res, f.feedTTL); err != nil {
		f.log.Warn("Caching feed failed", zap.String("key", key), zap.Error(err))
	}
}

func decodeResult(raw json.RawMessage) (FeedResult, error) {
	var res FeedResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return FeedResult{}, err
	}
	return res, nil
}
