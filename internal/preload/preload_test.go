package preload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/feed"
	"github.com/ohengcom/shaking-news/internal/storage"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRefresher records calls and writes the cache the way the real
// fetcher does.
type fakeRefresher struct {
	mu    sync.Mutex
	store *cache.Store
	calls []string
	fail  map[string]error

	entered chan struct{}
	release chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, url, name string) (feed.FeedResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	f.calls = append(f.calls, name)
	err := f.fail[name]
	f.mu.Unlock()

	if err != nil {
		return feed.FeedResult{}, err
	}
	res := feed.FeedResult{Articles: []feed.Article{{Title: name}}}
	f.store.Set(cache.FeedKey(url), res, time.Hour)
	return res, nil
}

func (f *fakeRefresher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type harness struct {
	store     *cache.Store
	refresher *fakeRefresher
	clock     *testClock
	sleeps    []time.Duration
	p         *Preloader
}

func newHarness(t *testing.T, cacheCfg cache.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: &testClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}}
	log := zaptest.NewLogger(t)

	store, err := cache.Open(context.Background(), storage.NewMemory(), cacheCfg,
		cache.WithClock(h.clock.Now), cache.WithLogger(log))
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	h.store = store
	h.refresher = &fakeRefresher{store: store}

	base := []Option{
		WithClock(h.clock.Now),
		WithLogger(log),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}),
	}
	h.p = New(store, h.refresher, append(base, opts...)...)
	return h
}

func sources(n int) []config.Source {
	out := make([]config.Source, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, config.Source{
			ID:     i,
			Name:   fmt.Sprintf("source-%d", i),
			URL:    fmt.Sprintf("https://example.com/%d.json", i),
			Active: true,
		})
	}
	return out
}

func TestRunCycleFetchesUncached(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig(), WithRequestDelay(250*time.Millisecond))

	report, err := h.p.RunCycle(context.Background(), sources(3))
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := h.refresher.Calls(); len(got) != 3 {
		t.Fatalf("refresh calls = %v, want 3", got)
	}
	if report.Requests != 3 || len(report.Fetched) != 3 {
		t.Errorf("report = %+v", report)
	}
	if report.CycleID == "" {
		t.Error("report has no cycle id")
	}
	// The delay separates network calls; none precedes the first.
	if len(h.sleeps) != 2 || h.sleeps[0] != 250*time.Millisecond {
		t.Errorf("sleeps = %v, want two 250ms pauses", h.sleeps)
	}

	counter, ok := cache.GetValue[int](h.store, cache.DailyRequestsKey(h.clock.Now()))
	if !ok || counter != 3 {
		t.Errorf("stored counter = %d, %v; want 3", counter, ok)
	}
}

func TestRunCycleSkipsCachedAndInactive(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig())
	src := sources(3)
	src[1].Active = false
	h.store.Set(cache.FeedKey(src[2].URL), feed.FeedResult{}, time.Hour)

	report, err := h.p.RunCycle(context.Background(), src)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := h.refresher.Calls(); len(got) != 1 || got[0] != "source-1" {
		t.Errorf("refresh calls = %v, want only source-1", got)
	}
	if report.Skipped["source-2"] != SkipInactive {
		t.Errorf("source-2 skip = %q", report.Skipped["source-2"])
	}
	if report.Skipped["source-3"] != SkipCached {
		t.Errorf("source-3 skip = %q", report.Skipped["source-3"])
	}
	if len(h.sleeps) != 0 {
		t.Errorf("slept %v with a single network call", h.sleeps)
	}
}

func TestRunCycleSecondPassIsFree(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig())
	src := sources(2)

	h.p.RunCycle(context.Background(), src)
	report, _ := h.p.RunCycle(context.Background(), src)

	if report.Requests != 0 {
		t.Errorf("second cycle made %d requests, want 0", report.Requests)
	}
	if got := h.p.Status().DailyRequestCount; got != 2 {
		t.Errorf("daily count = %d, want 2", got)
	}
}

func TestRunCycleRespectsDailyCeiling(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig(), WithMaxDailyRequests(5))
	h.store.Set(cache.DailyRequestsKey(h.clock.Now()), 2, 24*time.Hour)

	report, err := h.p.RunCycle(context.Background(), sources(6))
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if got := len(h.refresher.Calls()); got != 3 {
		t.Errorf("refresh calls = %d, want max - used = 3", got)
	}
	limited := 0
	for _, reason := range report.Skipped {
		if reason == SkipLimit {
			limited++
		}
	}
	if limited != 3 {
		t.Errorf("limit skips = %d, want 3 (%v)", limited, report.Skipped)
	}
	if got := h.p.Status().DailyRequestCount; got != 5 {
		t.Errorf("daily count = %d, want 5", got)
	}
}

func TestRunCycleCountsFailedRequests(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig(), WithMaxDailyRequests(2))
	h.refresher.fail = map[string]error{"source-1": errors.New("boom")}

	report, _ := h.p.RunCycle(context.Background(), sources(3))

	if report.Failed["source-1"] != "boom" {
		t.Errorf("failed = %v", report.Failed)
	}
	if len(report.Fetched) != 1 || report.Fetched[0] != "source-2" {
		t.Errorf("fetched = %v", report.Fetched)
	}
	if report.Skipped["source-3"] != SkipLimit {
		t.Errorf("source-3 skip = %q, failed attempts must count against the budget", report.Skipped["source-3"])
	}
}

func TestDailyCounterResetsOnNewDay(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig(), WithMaxDailyRequests(2))

	h.p.RunCycle(context.Background(), sources(2))
	if got := h.p.Status().DailyRequestCount; got != 2 {
		t.Fatalf("daily count = %d, want 2", got)
	}

	h.clock.Advance(24 * time.Hour)
	if got := h.p.Status().DailyRequestCount; got != 0 {
		t.Errorf("daily count after rollover = %d, want 0", got)
	}

	more := sources(4)[2:]
	report, _ := h.p.RunCycle(context.Background(), more)
	if report.Requests != 2 {
		t.Errorf("requests on new day = %d, want 2", report.Requests)
	}
}

func TestDisabledCacheKeepsCeiling(t *testing.T) {
	cfg := cache.DefaultConfig()
	cfg.Enabled = false
	h := newHarness(t, cfg, WithMaxDailyRequests(3))

	h.p.RunCycle(context.Background(), sources(2))
	report, _ := h.p.RunCycle(context.Background(), sources(2))

	if report.Requests != 1 {
		t.Errorf("second cycle requests = %d, want 1", report.Requests)
	}
	if got := len(h.refresher.Calls()); got != 3 {
		t.Errorf("total refresh calls = %d, want 3", got)
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig())
	h.refresher.entered = make(chan struct{})
	h.refresher.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.p.RunCycle(context.Background(), sources(1))
		done <- err
	}()
	<-h.refresher.entered

	if !h.p.Status().IsRunning {
		t.Error("status does not report the running cycle")
	}
	if _, err := h.p.ForceRun(context.Background(), sources(1)); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("ForceRun during cycle = %v, want ErrAlreadyRunning", err)
	}

	close(h.refresher.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := len(h.refresher.Calls()); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}

	h.refresher.entered = nil
	if _, err := h.p.ForceRun(context.Background(), sources(2)); err != nil {
		t.Errorf("ForceRun after cycle: %v", err)
	}
}

func TestRunCycleCanceled(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.p.RunCycle(ctx, sources(2))
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Requests != 0 || report.Skipped["source-1"] != SkipCanceled {
		t.Errorf("report = %+v", report)
	}
}

func TestRunCycleDefaultSources(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig(), WithSources(sources(2)))

	report, _ := h.p.RunCycle(context.Background(), nil)
	if len(report.Fetched) != 2 {
		t.Errorf("fetched = %v, want the configured defaults", report.Fetched)
	}
}

func TestStartRunsImmediatelyOnce(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig(), WithSources(sources(1)), WithInterval(time.Hour))

	if err := h.p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Restarting with a fresh last run must not trigger a second immediate cycle.
	waitIdle(t, h.p)
	if err := h.p.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	st := h.p.Status()
	if !st.Scheduled {
		t.Error("preloader not scheduled after Start")
	}
	if st.NextRunAt.IsZero() {
		t.Error("next run time unknown")
	}

	select {
	case <-h.p.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not finish")
	}
	if got := len(h.refresher.Calls()); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if h.p.Status().Scheduled {
		t.Error("still scheduled after Stop")
	}
}

func waitIdle(t *testing.T, p *Preloader) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !p.Status().LastRunAt.IsZero() && !p.Status().IsRunning {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("immediate cycle did not finish")
}

func TestStopWithoutStart(t *testing.T) {
	h := newHarness(t, cache.DefaultConfig())
	select {
	case <-h.p.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a schedule")
	}
}
