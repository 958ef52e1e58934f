// Package server exposes the news, cache and preloader operations over HTTP
// for the management UI.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/feed"
	"github.com/ohengcom/shaking-news/internal/preload"
	"github.com/ohengcom/shaking-news/internal/settings"
)

type CacheService interface {
	Stats() cache.Stats
	Entries() []cache.Entry
	Clear()
	Delete(key string) bool
	Config() cache.Config
	UpdateConfig(cache.ConfigUpdate) error
}

type NewsService interface {
	FetchSource(ctx context.Context, url, sourceName string, useCache bool) feed.FeedResult
	Titles(ctx context.Context, sources []config.Source) []string
}

type PreloadService interface {
	Status() preload.Status
	ForceRun(ctx context.Context, sources []config.Source) (preload.Report, error)
}

type SettingsService interface {
	Get() settings.Settings
	Update(func(*settings.Settings)) (settings.Settings, error)
}

type Server struct {
	cache    CacheService
	news     NewsService
	preload  PreloadService
	settings SettingsService
	sources  func() []config.Source

	version string
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Server)

// WithSources supplies the current source list on every request.
func WithSources(fn func() []config.Source) Option {
	return func(s *Server) { s.sources = fn }
}

func WithSettings(m SettingsService) Option {
	return func(s *Server) { s.settings = m }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

func New(c CacheService, n NewsService, p PreloadService, opts ...Option) *Server {
	s := &Server{
		cache:   c,
		news:    n,
		preload: p,
		sources: func() []config.Source { return nil },
		version: "dev",
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router. Cache keys in paths must be escaped with
// url.PathEscape.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter().UseEncodedPath()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.corsMiddleware)
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	api.HandleFunc("/news", s.newsHandler).Methods(http.MethodGet)
	api.HandleFunc("/news.rss", s.newsRSSHandler).Methods(http.MethodGet)
	api.HandleFunc("/feed", s.feedHandler).Methods(http.MethodGet)

	api.HandleFunc("/cache/stats", s.cacheStatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache/entries", s.cacheEntriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache/entries/{key}", s.cacheDeleteEntryHandler).Methods(http.MethodDelete)
	api.HandleFunc("/cache", s.cacheClearHandler).Methods(http.MethodDelete)
	api.HandleFunc("/cache/config", s.cacheConfigHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache/config", s.cacheUpdateConfigHandler).Methods(http.MethodPatch)

	api.HandleFunc("/preload/status", s.preloadStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/preload", s.preloadRunHandler).Methods(http.MethodPost)

	if s.settings != nil {
		api.HandleFunc("/settings", s.settingsHandler).Methods(http.MethodGet)
		api.HandleFunc("/settings", s.updateSettingsHandler).Methods(http.MethodPatch)
	}

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("took", time.Since(start)))
	})
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
