package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/feed"
	"github.com/ohengcom/shaking-news/internal/logger"
	"github.com/ohengcom/shaking-news/internal/preload"
	"github.com/ohengcom/shaking-news/internal/storage"
)

// app holds the services shared by every command.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *cache.Store
	fetcher *feed.Fetcher
}

func newApp(ctx context.Context) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := config.LoadEnvFile(flagEnvFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(os.Getenv(config.EnvMode))
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(ctx, cfg.Storage.Driver, cfg.StorageDSN())
	if err != nil {
		logger.Sync(log)
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	store, err := cache.Open(ctx, backend, cacheConfig(cfg), cache.WithLogger(log.Named("cache")))
	if err != nil {
		backend.Close()
		logger.Sync(log)
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	client := feed.NewHTTPClient(feed.HTTPOptions{Logger: log.Named("http")})
	fetcher := feed.NewFetcher(store, client,
		feed.WithTimeout(cfg.Fetch.TimeoutDuration()),
		feed.WithFeedTTL(cfg.Fetch.FeedTTLDuration()),
		feed.WithUserAgent(cfg.Fetch.UserAgent),
		feed.WithLogger(log.Named("feed")))

	return &app{cfg: cfg, log: log, store: store, fetcher: fetcher}, nil
}

func (a *app) newPreloader() *preload.Preloader {
	return preload.New(a.store, a.fetcher,
		preload.WithInterval(a.cfg.Preload.IntervalDuration()),
		preload.WithMaxDailyRequests(a.cfg.Preload.MaxDailyRequests),
		preload.WithRequestDelay(a.cfg.Preload.RequestDelayDuration()),
		preload.WithLogger(a.log.Named("preload")))
}

// Close flushes the cache to storage and releases the backend.
func (a *app) Close() error {
	err := a.store.Close()
	logger.Sync(a.log)
	return err
}

func cacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		MaxSizeBytes: cfg.Cache.MaxSizeBytes(),
		DefaultTTL:   cfg.Cache.TTL(),
		MaxEntries:   cfg.Cache.MaxEntries,
		Enabled:      cfg.Cache.Enabled,
	}
}
