package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ohengcom/shaking-news/internal/storage"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func testStore(t *testing.T, cfg Config, clock *fakeClock, backend storage.Backend) *Store {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemory()
	}
	s, err := Open(context.Background(), backend, cfg, WithClock(clock.Now), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return s
}

// failingBackend refuses every write.
type failingBackend struct {
	saves int
}

func (f *failingBackend) Load(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *failingBackend) Save(ctx context.Context, data []byte) error {
	f.saves++
	return errors.New("quota exceeded")
}
func (f *failingBackend) Close() error { return nil }

type article struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestSetGetRoundTrip(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)

	want := article{Title: "A", Tags: []string{"x", "y"}}
	if err := s.Set("k", want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok := GetValue[article](s, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSetRejectsUnencodableValue(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)
	if err := s.Set("k", make(chan int), time.Minute); err == nil {
		t.Error("expected encoding error")
	}
}

func TestZeroTTLUsesDefault(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	cfg.DefaultTTL = 10 * time.Minute
	s := testStore(t, cfg, clock, nil)

	s.Set("k", 1, 0)
	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ExpiresAt.Sub(entries[0].CreatedAt); got != 10*time.Minute {
		t.Errorf("expected default ttl 10m, got %v", got)
	}
}

func TestExpiredEntriesDisappear(t *testing.T) {
	clock := newClock()
	s := testStore(t, DefaultConfig(), clock, nil)

	s.Set("short", "v", time.Minute)
	s.Set("long", "v", time.Hour)
	clock.Advance(2 * time.Minute)

	if s.Has("short") {
		t.Error("Has should report expired entry as absent")
	}
	if _, ok := s.Get("short"); ok {
		t.Error("Get should report expired entry as absent")
	}
	for _, e := range s.Entries() {
		if e.Key == "short" {
			t.Error("expired entry still listed")
		}
	}
	if !s.Has("long") {
		t.Error("fresh entry should still be present")
	}
}

func TestHasDoesNotCount(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)
	s.Set("k", "v", time.Minute)

	s.Has("k")
	s.Has("missing")

	st := s.Stats()
	if st.Hits != 0 || st.Misses != 0 {
		t.Errorf("Has must not count, got hits=%d misses=%d", st.Hits, st.Misses)
	}
}

func TestEvictsOldestBySize(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	// each value below encodes to 12 bytes ("\"" + 10 chars + "\"")
	cfg.MaxSizeBytes = 40
	s := testStore(t, cfg, clock, nil)

	const n = 6
	for i := 0; i < n; i++ {
		s.Set(fmt.Sprintf("k%d", i), strings.Repeat(fmt.Sprint(i), 10), time.Hour)
		clock.Advance(time.Second)
	}

	st := s.Stats()
	if st.TotalEntries >= n {
		t.Fatalf("expected eviction, still have %d entries", st.TotalEntries)
	}
	if st.TotalSizeBytes > cfg.MaxSizeBytes {
		t.Errorf("total size %d exceeds limit %d", st.TotalSizeBytes, cfg.MaxSizeBytes)
	}

	entries := s.Entries()
	for i, e := range entries {
		want := fmt.Sprintf("k%d", n-1-i)
		if e.Key != want {
			t.Errorf("entry %d = %s, want %s (newest survive)", i, e.Key, want)
		}
	}
}

func TestEvictsOldestByCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	// identical timestamps: insertion order breaks the tie
	s := testStore(t, cfg, newClock(), nil)

	for i := 0; i < 5; i++ {
		s.Set(fmt.Sprintf("k%d", i), i, time.Hour)
	}

	var keys []string
	for _, e := range s.Entries() {
		keys = append(keys, e.Key)
	}
	want := []string{"k4", "k3", "k2"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("got %v, want %v", keys, want)
	}
}

func TestEvictionIgnoresReads(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	s := testStore(t, cfg, clock, nil)

	s.Set("old", 1, time.Hour)
	clock.Advance(time.Second)
	s.Set("mid", 2, time.Hour)
	for i := 0; i < 10; i++ {
		s.Get("old")
	}
	clock.Advance(time.Second)
	s.Set("new", 3, time.Hour)

	if s.Has("old") {
		t.Error("frequently read but oldest entry should be evicted first")
	}
	if !s.Has("mid") || !s.Has("new") {
		t.Error("newer entries should survive")
	}
}

func TestReplaceKeepsSizeAccounting(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)

	s.Set("k", "aaaa", time.Hour)
	s.Set("k", "bb", time.Hour)

	st := s.Stats()
	if st.TotalEntries != 1 {
		t.Errorf("expected 1 entry after replace, got %d", st.TotalEntries)
	}
	if st.TotalSizeBytes != 4 {
		t.Errorf("expected size 4 after replace, got %d", st.TotalSizeBytes)
	}
}

func TestHitMissRates(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)

	st := s.Stats()
	if st.HitRate != 0 || st.MissRate != 0 {
		t.Errorf("rates must be 0 with no accesses, got %v/%v", st.HitRate, st.MissRate)
	}

	s.Set("k", "v", time.Hour)
	s.Get("k")
	s.Get("k")
	s.Get("k")
	s.Get("missing")

	st = s.Stats()
	if st.HitRate != 0.75 || st.MissRate != 0.25 {
		t.Errorf("expected 0.75/0.25, got %v/%v", st.HitRate, st.MissRate)
	}
	if st.HitRate+st.MissRate != 1 {
		t.Errorf("rates must sum to 1, got %v", st.HitRate+st.MissRate)
	}
}

func TestDisableClearsAndBlindsReads(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)
	s.Set("k", "v", time.Hour)

	disabled := false
	if err := s.UpdateConfig(ConfigUpdate{Enabled: &disabled}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := s.Entries(); len(got) != 0 {
		t.Errorf("expected no entries after disable, got %d", len(got))
	}
	s.Set("k", "v", time.Hour)
	if _, ok := s.Get("k"); ok {
		t.Error("disabled store must miss")
	}
	if s.Has("k") {
		t.Error("disabled store must report absent")
	}
	if st := s.Stats(); st.Misses != 1 || st.Hits != 0 {
		t.Errorf("expected one miss, got hits=%d misses=%d", st.Hits, st.Misses)
	}
}

func TestTighterLimitsEnforcedOnUpdate(t *testing.T) {
	clock := newClock()
	s := testStore(t, DefaultConfig(), clock, nil)
	for i := 0; i < 4; i++ {
		s.Set(fmt.Sprintf("k%d", i), i, time.Hour)
		clock.Advance(time.Second)
	}

	limit := 2
	if err := s.UpdateConfig(ConfigUpdate{MaxEntries: &limit}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.Stats().TotalEntries; got != 2 {
		t.Errorf("expected 2 entries after tightening, got %d", got)
	}
	if !s.Has("k3") || !s.Has("k2") {
		t.Error("expected newest entries to survive")
	}
	if got := s.Config().MaxEntries; got != 2 {
		t.Errorf("expected config MaxEntries 2, got %d", got)
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)
	zero := 0
	if err := s.UpdateConfig(ConfigUpdate{MaxEntries: &zero}); err == nil {
		t.Error("expected error for zero max entries")
	}
	if got := s.Config().MaxEntries; got != DefaultConfig().MaxEntries {
		t.Errorf("config changed despite error: %d", got)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)
	s.Set("k", "v", time.Hour)

	if !s.Delete("k") {
		t.Error("expected delete to report removal")
	}
	if s.Delete("k") {
		t.Error("second delete should report nothing removed")
	}
	if s.Has("k") {
		t.Error("deleted key still present")
	}
}

func TestClearResetsCounters(t *testing.T) {
	s := testStore(t, DefaultConfig(), newClock(), nil)
	s.Set("k", "v", time.Hour)
	s.Get("k")
	s.Get("nope")

	s.Clear()
	st := s.Stats()
	if st.TotalEntries != 0 || st.Hits != 0 || st.Misses != 0 || st.TotalSizeBytes != 0 {
		t.Errorf("expected empty stats after clear, got %+v", st)
	}
}

func TestEntriesNewestFirstAndStatsBounds(t *testing.T) {
	clock := newClock()
	s := testStore(t, DefaultConfig(), clock, nil)

	first := clock.Now()
	s.Set("a", 1, time.Hour)
	clock.Advance(time.Minute)
	s.Set("b", 2, time.Hour)
	clock.Advance(time.Minute)
	last := clock.Now()
	s.Set("c", 3, time.Hour)

	entries := s.Entries()
	if len(entries) != 3 || entries[0].Key != "c" || entries[2].Key != "a" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	st := s.Stats()
	if st.OldestEntryTime == nil || !st.OldestEntryTime.Equal(first) {
		t.Errorf("oldest = %v, want %v", st.OldestEntryTime, first)
	}
	if st.NewestEntryTime == nil || !st.NewestEntryTime.Equal(last) {
		t.Errorf("newest = %v, want %v", st.NewestEntryTime, last)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	clock := newClock()
	backend := storage.NewMemory()

	s := testStore(t, DefaultConfig(), clock, backend)
	s.Set("keep", "v", time.Hour)
	s.Get("keep")
	s.Get("missing")
	s.Set("expire", "v", time.Minute)

	clock.Advance(5 * time.Minute)
	reopened := testStore(t, DefaultConfig(), clock, backend)

	if !reopened.Has("keep") {
		t.Error("expected persisted entry after reopen")
	}
	for _, e := range reopened.Entries() {
		if e.Key == "expire" {
			t.Error("expired entry should be swept on open")
		}
	}
	st := reopened.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("expected counters restored (1/1), got %d/%d", st.Hits, st.Misses)
	}
}

func TestPersistsWithSQLite(t *testing.T) {
	clock := newClock()
	path := t.TempDir() + "/cache.db"

	db, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := testStore(t, DefaultConfig(), clock, db)
	s.Set("k", article{Title: "T"}, time.Hour)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	s = testStore(t, DefaultConfig(), clock, db)
	defer s.Close()

	got, ok := GetValue[article](s, "k")
	if !ok || got.Title != "T" {
		t.Errorf("expected persisted article, got %+v (ok=%v)", got, ok)
	}
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	backend := storage.NewMemory()
	backend.Save(context.Background(), []byte("{not json"))

	s := testStore(t, DefaultConfig(), newClock(), backend)
	if got := s.Stats().TotalEntries; got != 0 {
		t.Errorf("expected empty store from corrupt state, got %d", got)
	}
	s.Set("k", "v", time.Hour)
	if !s.Has("k") {
		t.Error("store should remain usable")
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	backend := &failingBackend{}
	s := testStore(t, DefaultConfig(), newClock(), backend)

	if err := s.Set("k", "v", time.Hour); err != nil {
		t.Fatalf("persist failure must not surface: %v", err)
	}
	if backend.saves == 0 {
		t.Error("expected a save attempt")
	}
	if !s.Has("k") {
		t.Error("in-memory state should still hold the entry")
	}
}

func TestPeekReturnsExpiredPayload(t *testing.T) {
	clock := newClock()
	s := testStore(t, DefaultConfig(), clock, nil)
	s.Set("k", "stale", time.Minute)
	clock.Advance(time.Hour)

	raw, ok := s.Peek("k")
	if !ok || string(raw) != `"stale"` {
		t.Errorf("expected stale payload, got %s (ok=%v)", raw, ok)
	}
	if st := s.Stats(); st.Hits != 0 || st.Misses != 0 {
		t.Error("Peek must not count")
	}
}

func TestPeekSurvivesSweepOfOtherKeys(t *testing.T) {
	clock := newClock()
	s := testStore(t, DefaultConfig(), clock, nil)
	s.Set(FeedKey("a"), "stale a", time.Minute)
	s.Set(FeedKey("b"), "stale b", time.Minute)
	clock.Advance(time.Hour)

	if _, ok := s.Get(FeedKey("a")); ok {
		t.Fatal("expired entry served by Get")
	}
	raw, ok := s.Peek(FeedKey("b"))
	if !ok || string(raw) != `"stale b"` {
		t.Errorf("Peek(b) after sweep = %s (ok=%v), want stale payload", raw, ok)
	}
	if s.Has(FeedKey("b")) {
		t.Error("stale copy reported as fresh")
	}
	if st := s.Stats(); st.TotalEntries != 0 || st.TotalSizeBytes != 0 {
		t.Errorf("stale copies counted in stats: %+v", st)
	}
	if n := len(s.Entries()); n != 0 {
		t.Errorf("Entries lists %d stale copies", n)
	}
}

func TestStaleCopySurvivesReopen(t *testing.T) {
	clock := newClock()
	backend := storage.NewMemory()

	s := testStore(t, DefaultConfig(), clock, backend)
	s.Set("feed", "old", time.Minute)
	clock.Advance(time.Hour)

	reopened := testStore(t, DefaultConfig(), clock, backend)
	if reopened.Has("feed") {
		t.Error("expired entry fresh after reopen")
	}
	if raw, ok := reopened.Peek("feed"); !ok || string(raw) != `"old"` {
		t.Errorf("Peek after reopen = %s (ok=%v)", raw, ok)
	}
}

func TestStaleCopyDroppedOnReplaceDeleteClear(t *testing.T) {
	clock := newClock()
	s := testStore(t, DefaultConfig(), clock, nil)

	expire := func(key string) {
		s.Set(key, "old", time.Minute)
		clock.Advance(time.Hour)
		s.Has(key)
	}

	expire("replaced")
	s.Set("replaced", "new", time.Minute)
	clock.Advance(time.Hour)
	if raw, _ := s.Peek("replaced"); string(raw) != `"new"` {
		t.Errorf("Peek(replaced) = %s, want the newest payload", raw)
	}

	expire("deleted")
	if s.Delete("deleted") {
		t.Error("Delete reported a fresh entry for a stale key")
	}
	if _, ok := s.Peek("deleted"); ok {
		t.Error("stale copy survived Delete")
	}

	expire("cleared")
	s.Clear()
	if _, ok := s.Peek("cleared"); ok {
		t.Error("stale copy survived Clear")
	}
}

func TestStaleShadowIsBounded(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	s := testStore(t, cfg, clock, nil)

	for _, key := range []string{"k1", "k2", "k3"} {
		s.Set(key, key, time.Minute)
		clock.Advance(time.Hour)
		s.Has(key)
	}

	if _, ok := s.Peek("k1"); ok {
		t.Error("oldest stale copy should be dropped")
	}
	for _, key := range []string{"k2", "k3"} {
		if _, ok := s.Peek(key); !ok {
			t.Errorf("stale copy %s missing", key)
		}
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 0
	if _, err := Open(context.Background(), storage.NewMemory(), cfg); err == nil {
		t.Error("expected error for zero max size")
	}
	if _, err := Open(context.Background(), nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil backend")
	}
}

func TestKeys(t *testing.T) {
	if got := FeedKey("https://x/y.json"); got != "rss:https://x/y.json" {
		t.Errorf("FeedKey = %q", got)
	}
	day := time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC)
	if got := DailyRequestsKey(day); got != "daily-requests-2025-03-09" {
		t.Errorf("DailyRequestsKey = %q", got)
	}
	if DailyRequestsKey(day) == DailyRequestsKey(day.Add(2*time.Minute)) {
		t.Error("counter key must change at the day boundary")
	}
}
