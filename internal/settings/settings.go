// Package settings holds the runtime-adjustable knobs of a running instance
// and notifies subscribers when they change.
package settings

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
)

const (
	RotationFixed      = "fixed"
	RotationContinuous = "continuous"

	MinRotationInterval = 5 * time.Second
	MaxRotationInterval = 300 * time.Second
)

type Settings struct {
	CacheEnabled     bool          `json:"cacheEnabled"`
	CacheTTL         time.Duration `json:"cacheTTL"`
	RotationMode     string        `json:"rotationMode"`
	RotationInterval time.Duration `json:"rotationInterval"`
	Language         string        `json:"language"`
	ActiveSourceIDs  []int         `json:"activeSourceIds"`
}

// Defaults mirrors the settings a fresh install starts with.
func Defaults() Settings {
	return Settings{
		CacheEnabled:     true,
		CacheTTL:         24 * time.Hour,
		RotationMode:     RotationContinuous,
		RotationInterval: 30 * time.Second,
		Language:         "zh",
	}
}

// FromConfig seeds settings from the loaded configuration.
func FromConfig(cfg *config.Config) Settings {
	s := Defaults()
	s.CacheEnabled = cfg.Cache.Enabled
	s.CacheTTL = cfg.Cache.TTL()
	s.RotationInterval = cfg.Rotation.IntervalDuration()
	s.Language = cfg.Language
	for _, src := range cfg.ActiveSources() {
		s.ActiveSourceIDs = append(s.ActiveSourceIDs, src.ID)
	}
	return s
}

func (s Settings) Validate() error {
	if s.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", s.CacheTTL)
	}
	if s.RotationMode != RotationFixed && s.RotationMode != RotationContinuous {
		return fmt.Errorf("unknown rotation mode %q", s.RotationMode)
	}
	if s.RotationInterval < MinRotationInterval || s.RotationInterval > MaxRotationInterval {
		return fmt.Errorf("rotation interval %s outside %s-%s", s.RotationInterval, MinRotationInterval, MaxRotationInterval)
	}
	if s.Language != "zh" && s.Language != "en" {
		return fmt.Errorf("unknown language %q", s.Language)
	}
	return nil
}

// CacheUpdate translates the cache-related settings into a store update.
func (s Settings) CacheUpdate() cache.ConfigUpdate {
	enabled := s.CacheEnabled
	ttl := s.CacheTTL
	return cache.ConfigUpdate{Enabled: &enabled, DefaultTTL: &ttl}
}

// Sources resolves the source list for these settings: the configured
// sources, or the language defaults when none are configured. When
// ActiveSourceIDs is set it decides which sources are active.
func (s Settings) Sources(configured []config.Source) []config.Source {
	base := configured
	if len(base) == 0 {
		base = config.DefaultSources(s.Language)
	}
	out := config.ExpandSources(base)
	if s.ActiveSourceIDs == nil {
		return out
	}
	for i := range out {
		out[i].Active = slices.Contains(s.ActiveSourceIDs, out[i].ID)
	}
	return out
}

func (s Settings) clone() Settings {
	s.ActiveSourceIDs = slices.Clone(s.ActiveSourceIDs)
	return s
}

type listener struct {
	id int
	fn func(Settings)
}

// Manager owns the current settings. Subscribers are called in
// registration order, one notification at a time, and must not call Update
// or Subscribe themselves.
type Manager struct {
	mu        sync.Mutex
	current   Settings
	listeners []listener
	nextID    int

	notifyMu sync.Mutex
}

func NewManager(initial Settings) *Manager {
	return &Manager{current: initial.clone()}
}

func (m *Manager) Get() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

// Update applies fn to a copy of the current settings. Invalid results are
// rejected and leave the settings unchanged.
func (m *Manager) Update(fn func(*Settings)) (Settings, error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	next := m.current.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return m.Get(), err
	}
	m.current = next
	fns := m.snapshotLocked()
	m.mu.Unlock()

	for _, f := range fns {
		f(next.clone())
	}
	return next.clone(), nil
}

// Subscribe registers fn and calls it with the current settings before
// returning. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(Settings)) (unsubscribe func()) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	current := m.current.clone()
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.listeners = slices.DeleteFunc(m.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

func (m *Manager) snapshotLocked() []func(Settings) {
	fns := make([]func(Settings), 0, len(m.listeners))
	for _, l := range m.listeners {
		fns = append(fns, l.fn)
	}
	return fns
}
