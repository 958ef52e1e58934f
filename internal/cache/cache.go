// Package cache is a bounded TTL key-value store with hit/miss accounting.
//
// The whole state is written to a storage.Backend as one JSON blob after
// every mutation and restored on Open. Expired entries are swept lazily on
// access into a stale shadow that only Peek reads. When the store exceeds its size or entry limits the oldest-created
// entries are evicted first, regardless of how often they are read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/storage"
)

type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	cfg     Config

	entries   map[string]Entry
	stale     map[string]Entry
	totalSize int64
	hits      int64
	misses    int64
	seq       uint64

	now            func() time.Time
	log            *zap.Logger
	persistTimeout time.Duration
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithPersistTimeout bounds each backend write. Default 5s.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) { s.persistTimeout = d }
}

// Open restores the persisted state from backend and sweeps expired entries.
// Unreadable or corrupt state is logged and treated as empty.
func Open(ctx context.Context, backend storage.Backend, cfg Config, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cache: nil storage backend")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	s := &Store{
		backend:        backend,
		cfg:            cfg,
		entries:        make(map[string]Entry),
		stale:          make(map[string]Entry),
		now:            time.Now,
		log:            zap.NewNop(),
		persistTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.restoreLocked(ctx)
	changed := s.sweepLocked(s.now()) > 0
	if !s.cfg.Enabled && len(s.entries) > 0 {
		s.resetLocked()
		changed = true
	}
	if s.enforceLimitsLocked() > 0 {
		changed = true
	}
	if changed {
		s.persistLocked()
	}
	return s, nil
}

func (s *Store) restoreLocked(ctx context.Context) {
	data, err := s.backend.Load(ctx)
	if err != nil {
		s.log.Warn("Failed to load cache state, starting empty", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("Corrupt cache state, starting empty", zap.Error(err))
		return
	}

	for _, e := range snap.Entries {
		if e.Key == "" || !e.ExpiresAt.After(e.CreatedAt) {
			continue
		}
		s.entries[e.Key] = e
		s.totalSize += e.SizeBytes
		if e.Seq > s.seq {
			s.seq = e.Seq
		}
	}
	for _, e := range snap.Stale {
		if _, live := s.entries[e.Key]; e.Key != "" && !live {
			s.stale[e.Key] = e
		}
	}
	s.hits = snap.Hits
	s.misses = snap.Misses
	if snap.Seq > s.seq {
		s.seq = snap.Seq
	}
}

// Close persists the current state and releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persistLocked()
	return s.backend.Close()
}

// Set stores value under key for ttl. A ttl <= 0 uses the configured default.
// It is a no-op while the store is disabled. The only error is a value that
// cannot be JSON encoded; persistence failures are logged.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	now := s.now()
	s.sweepLocked(now)

	if old, ok := s.entries[key]; ok {
		s.totalSize -= old.SizeBytes
	}
	delete(s.stale, key)
	s.seq++
	e := Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: int64(len(payload)),
		Seq:       s.seq,
	}
	s.entries[key] = e
	s.totalSize += e.SizeBytes

	s.enforceLimitsLocked()
	s.persistLocked()
	return nil
}

// Get returns the payload for key when present and fresh. Every call counts
// as a hit or a miss; a disabled store always misses.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.misses++
		return nil, false
	}

	swept := s.sweepLocked(s.now())
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		if swept > 0 {
			s.persistLocked()
		}
		return nil, false
	}

	s.hits++
	if swept > 0 {
		s.persistLocked()
	}
	return clonePayload(e.Payload), true
}

// GetValue decodes the payload stored under key into T.
func GetValue[T any](s *Store, key string) (T, bool) {
	var v T
	raw, ok := s.Get(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Warn("Cached value has unexpected shape", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

// Has reports whether key holds a fresh entry without touching the counters.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return false
	}
	if s.sweepLocked(s.now()) > 0 {
		s.persistLocked()
	}
	_, ok := s.entries[key]
	return ok
}

// Peek returns the last payload stored under key, expired or not, without
// sweeping or counting. Expired entries stay readable here after a sweep
// until the key is set again, deleted or the store is cleared. It backs
// stale-while-error fallbacks.
func (s *Store) Peek(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil, false
	}
	e, ok := s.entries[key]
	if !ok {
		e, ok = s.stale[key]
	}
	if !ok {
		return nil, false
	}
	return clonePayload(e.Payload), true
}

// Delete removes key, including any stale copy. It reports whether a fresh
// entry was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hadStale := s.stale[key]
	delete(s.stale, key)

	e, ok := s.entries[key]
	if !ok {
		if hadStale {
			s.persistLocked()
		}
		return false
	}
	delete(s.entries, key)
	s.totalSize -= e.SizeBytes
	s.persistLocked()
	return true
}

// Clear drops every entry and resets the hit/miss counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.persistLocked()
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepLocked(s.now()) > 0 {
		s.persistLocked()
	}

	st := Stats{
		TotalEntries:   len(s.entries),
		TotalSizeBytes: s.totalSize,
		Hits:           s.hits,
		Misses:         s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
		st.MissRate = float64(s.misses) / float64(total)
	}

	for _, e := range s.entries {
		created := e.CreatedAt
		if st.OldestEntryTime == nil || created.Before(*st.OldestEntryTime) {
			t := created
			st.OldestEntryTime = &t
		}
		if st.NewestEntryTime == nil || created.After(*st.NewestEntryTime) {
			t := created
			st.NewestEntryTime = &t
		}
	}
	return st
}

func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig merges u into the current config. Disabling clears the
// store; otherwise the limits are re-enforced immediately.
func (s *Store) UpdateConfig(u ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	if u.MaxSizeBytes != nil {
		next.MaxSizeBytes = *u.MaxSizeBytes
	}
	if u.DefaultTTL != nil {
		next.DefaultTTL = *u.DefaultTTL
	}
	if u.MaxEntries != nil {
		next.MaxEntries = *u.MaxEntries
	}
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if err := validateConfig(next); err != nil {
		return err
	}
	s.cfg = next

	if !s.cfg.Enabled {
		s.resetLocked()
		s.persistLocked()
		return nil
	}
	s.trimStaleLocked()
	if s.enforceLimitsLocked() > 0 {
		s.persistLocked()
	}
	return nil
}

// Entries lists fresh entries, newest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepLocked(s.now()) > 0 {
		s.persistLocked()
	}

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		e.Payload = clonePayload(e.Payload)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i], out[j])
	})
	return out
}

// sweepLocked moves expired entries into the stale shadow. The shadow keeps
// at most MaxEntries copies, dropping the oldest-created first.
func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			s.totalSize -= e.SizeBytes
			s.stale[key] = e
			removed++
		}
	}
	if removed > 0 {
		s.trimStaleLocked()
	}
	return removed
}

func (s *Store) trimStaleLocked() {
	excess := len(s.stale) - s.cfg.MaxEntries
	if excess <= 0 {
		return
	}
	ordered := make([]Entry, 0, len(s.stale))
	for _, e := range s.stale {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return newer(ordered[j], ordered[i])
	})
	for _, e := range ordered[:excess] {
		delete(s.stale, e.Key)
	}
}

func (s *Store) overLimitsLocked() bool {
	return s.totalSize > s.cfg.MaxSizeBytes || len(s.entries) > s.cfg.MaxEntries
}

// enforceLimitsLocked evicts oldest-created entries until both limits hold.
func (s *Store) enforceLimitsLocked() int {
	if !s.overLimitsLocked() {
		return 0
	}

	ordered := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return newer(ordered[j], ordered[i])
	})

	evicted := 0
	for _, e := range ordered {
		if !s.overLimitsLocked() {
			break
		}
		delete(s.entries, e.Key)
		s.totalSize -= e.SizeBytes
		evicted++
	}
	if evicted > 0 {
		s.log.Debug("Evicted cache entries", zap.Int("count", evicted))
	}
	return evicted
}

func (s *Store) resetLocked() {
	s.entries = make(map[string]Entry)
	s.stale = make(map[string]Entry)
	s.totalSize = 0
	s.hits = 0
	s.misses = 0
}

func (s *Store) persistLocked() {
	snap := snapshot{
		Entries: make([]Entry, 0, len(s.entries)),
		Hits:    s.hits,
		Misses:  s.misses,
		Seq:     s.seq,
	}
	for _, e := range s.entries {
		snap.Entries = append(snap.Entries, e)
	}
	for _, e := range s.stale {
		snap.Stale = append(snap.Stale, e)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("Failed to encode cache state", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.backend.Save(ctx, data); err != nil {
		s.log.Warn("Failed to persist cache state", zap.Error(err))
	}
}

func validateConfig(cfg Config) error {
	if cfg.MaxSizeBytes <= 0 {
		return fmt.Errorf("cache: max size must be positive, got %d", cfg.MaxSizeBytes)
	}
	if cfg.MaxEntries <= 0 {
		return fmt.Errorf("cache: max entries must be positive, got %d", cfg.MaxEntries)
	}
	if cfg.DefaultTTL <= 0 {
		return fmt.Errorf("cache: default ttl must be positive, got %s", cfg.DefaultTTL)
	}
	return nil
}

// newer orders by creation time, then by insertion sequence.
func newer(a, b Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}
