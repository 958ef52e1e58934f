// Package preload keeps source feeds warm in the cache on a schedule while
// staying under a daily request ceiling.
package preload

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/feed"
)

const (
	DefaultInterval         = 2 * time.Hour
	DefaultMaxDailyRequests = 90
	DefaultRequestDelay     = time.Second

	counterTTL = 24 * time.Hour
)

// Reasons recorded in Report.Skipped.
const (
	SkipInactive = "inactive"
	SkipCached   = "already cached"
	SkipLimit    = "daily limit reached"
	SkipCanceled = "canceled"
)

var ErrAlreadyRunning = errors.New("preload already in progress")

// Cache is the subset of *cache.Store the preloader needs.
type Cache interface {
	Has(key string) bool
	Peek(key string) (json.RawMessage, bool)
	Set(key string, value any, ttl time.Duration) error
	Stats() cache.Stats
}

type Refresher interface {
	Refresh(ctx context.Context, url, sourceName string) (feed.FeedResult, error)
}

type Report struct {
	CycleID    string            `json:"cycleId"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Requests   int               `json:"requests"`
	Fetched    []string          `json:"fetched"`
	Skipped    map[string]string `json:"skipped"`
	Failed     map[string]string `json:"failed"`
}

type Status struct {
	IsRunning         bool        `json:"isRunning"`
	Scheduled         bool        `json:"scheduled"`
	LastRunAt         time.Time   `json:"lastRunAt"`
	NextRunAt         time.Time   `json:"nextRunAt"`
	DailyRequestCount int         `json:"dailyRequestCount"`
	MaxDailyRequests  int         `json:"maxDailyRequests"`
	CacheStats        cache.Stats `json:"cacheStats"`
}

type Preloader struct {
	cache     Cache
	refresher Refresher

	interval time.Duration
	maxDaily int
	delay    time.Duration
	sources  []config.Source
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	log      *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu         sync.Mutex
	cron       *cron.Cron
	entryID    cron.EntryID
	lastRun    time.Time
	counterDay string
	counter    int
}

type Option func(*Preloader)

func WithInterval(d time.Duration) Option {
	return func(p *Preloader) { p.interval = d }
}

func WithMaxDailyRequests(n int) Option {
	return func(p *Preloader) { p.maxDaily = n }
}

// WithRequestDelay sets the pause between network calls within a cycle.
func WithRequestDelay(d time.Duration) Option {
	return func(p *Preloader) { p.delay = d }
}

// WithSources sets the sources used when a cycle is given none.
func WithSources(sources []config.Source) Option {
	return func(p *Preloader) { p.sources = sources }
}

func WithClock(now func() time.Time) Option {
	return func(p *Preloader) { p.now = now }
}

func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Preloader) { p.sleep = sleep }
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Preloader) { p.log = log }
}

func New(c Cache, r Refresher, opts ...Option) *Preloader {
	p := &Preloader{
		cache:     c,
		refresher: r,
		interval:  DefaultInterval,
		maxDaily:  DefaultMaxDailyRequests,
		delay:     DefaultRequestDelay,
		sources:   config.PreloadSources(),
		now:       time.Now,
		sleep:     sleepContext,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start schedules a cycle every interval, replacing any existing schedule.
// A cycle also runs right away when the last one is older than interval.
func (p *Preloader) Start() error {
	p.mu.Lock()
	if p.cron != nil {
		p.cron.Stop()
		p.cron = nil
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(p.log))))
	id, err := c.AddFunc("@every "+p.interval.String(), p.runScheduled)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.cron = c
	p.entryID = id
	due := p.now().Sub(p.lastRun) > p.interval
	p.mu.Unlock()

	c.Start()
	if due {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runScheduled()
		}()
	}

	p.log.Info("News preloader started", zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels the schedule. A cycle already in flight keeps going; the
// returned context is done once it has finished.
func (p *Preloader) Stop() context.Context {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	var cronDone context.Context
	if c != nil {
		cronDone = c.Stop()
		p.log.Info("News preloader stopped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if cronDone != nil {
			<-cronDone.Done()
		}
		p.wg.Wait()
		cancel()
	}()
	return ctx
}

func (p *Preloader) runScheduled() {
	report, err := p.RunCycle(context.Background(), nil)
	if err != nil {
		return
	}
	p.log.Info("Preload cycle finished",
		zap.String("cycle", report.CycleID),
		zap.Int("requests", report.Requests),
		zap.Int("fetched", len(report.Fetched)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed", len(report.Failed)))
}

// ForceRun starts a cycle now. It still refuses to overlap a running one.
func (p *Preloader) ForceRun(ctx context.Context, sources []config.Source) (Report, error) {
	p.log.Info("Force preloading news")
	return p.RunCycle(ctx, sources)
}

// RunCycle refreshes every active source that has no fresh cache entry,
// spending at most what is left of today's request budget. It returns
// ErrAlreadyRunning when another cycle is in progress.
func (p *Preloader) RunCycle(ctx context.Context, sources []config.Source) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Info("Preloading already in progress, skipping")
		return Report{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	start := p.now()
	p.mu.Lock()
	p.lastRun = start
	p.mu.Unlock()

	if len(sources) == 0 {
		sources = p.sources
	}

	report := Report{
		CycleID:   uuid.NewString(),
		StartedAt: start,
		Skipped:   make(map[string]string),
		Failed:    make(map[string]string),
	}
	log := p.log.With(zap.String("cycle", report.CycleID))
	log.Info("Preloading news", zap.Int("sources", len(sources)))

	for _, src := range sources {
		if !src.Active {
			report.Skipped[src.Name] = SkipInactive
			continue
		}
		if ctx.Err() != nil {
			report.Skipped[src.Name] = SkipCanceled
			continue
		}
		if p.cache.Has(cache.FeedKey(src.URL)) {
			log.Debug("Skipping preload, already cached", zap.String("source", src.Name))
			report.Skipped[src.Name] = SkipCached
			continue
		}

		used := p.dailyCount(p.now())
		if used >= p.maxDaily {
			log.Info("Skipping preload, daily limit reached",
				zap.String("source", src.Name),
				zap.Int("used", used),
				zap.Int("max", p.maxDaily))
			report.Skipped[src.Name] = SkipLimit
			continue
		}

		if report.Requests > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				report.Skipped[src.Name] = SkipCanceled
				continue
			}
		}

		log.Debug("Preloading", zap.String("source", src.Name))
		_, err := p.refresher.Refresh(ctx, src.URL, src.Name)
		report.Requests++
		total := p.recordRequest(p.now())
		if err != nil {
			log.Warn("Failed to preload", zap.String("source", src.Name), zap.Error(err))
			report.Failed[src.Name] = err.Error()
			continue
		}
		report.Fetched = append(report.Fetched, src.Name)
		log.Debug("Preloaded", zap.String("source", src.Name), zap.Int("today", total), zap.Int("max", p.maxDaily))
	}

	report.FinishedAt = p.now()
	return report, nil
}

func (p *Preloader) Status() Status {
	now := p.now()
	st := Status{
		IsRunning:         p.running.Load(),
		DailyRequestCount: p.dailyCount(now),
		MaxDailyRequests:  p.maxDaily,
		CacheStats:        p.cache.Stats(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st.LastRunAt = p.lastRun
	if !p.lastRun.IsZero() {
		st.NextRunAt = p.lastRun.Add(p.interval)
	}
	if p.cron != nil {
		st.Scheduled = true
		if next := p.cron.Entry(p.entryID).Next; !next.IsZero() {
			st.NextRunAt = next
		}
	}
	return st
}

// dailyCount returns the requests spent on now's calendar day. The count is
// the larger of the cached counter and the in-memory mirror, so a disabled
// or cleared cache cannot lift the ceiling.
func (p *Preloader) dailyCount(now time.Time) int {
	stored := 0
	if raw, ok := p.cache.Peek(cache.DailyRequestsKey(now)); ok {
		if err := json.Unmarshal(raw, &stored); err != nil {
			p.log.Warn("Ignoring unreadable request counter", zap.Error(err))
			stored = 0
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked(now)
	if stored > p.counter {
		p.counter = stored
	}
	return p.counter
}

func (p *Preloader) recordRequest(now time.Time) int {
	used := p.dailyCount(now)

	p.mu.Lock()
	p.rollDayLocked(now)
	if used > p.counter {
		p.counter = used
	}
	p.counter++
	total := p.counter
	p.mu.Unlock()

	if err := p.cache.Set(cache.DailyRequestsKey(now), total, counterTTL); err != nil {
		p.log.Warn("Failed to store request counter", zap.Error(err))
	}
	return total
}

func (p *Preloader) rollDayLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if p.counterDay != day {
		p.counterDay = day
		p.counter = 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
