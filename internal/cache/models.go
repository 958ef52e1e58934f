package cache

import (
	"encoding/json"
	"time"
)

// Entry is one cached value. Entries are replaced, never mutated in place.
type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	SizeBytes int64           `json:"sizeBytes"`
	// Seq orders entries created within the same clock tick.
	Seq uint64 `json:"seq"`
}

func (e Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Config bounds the store. Disabling it drops every entry.
type Config struct {
	MaxSizeBytes int64         `json:"maxSizeBytes"`
	DefaultTTL   time.Duration `json:"defaultTTL"`
	MaxEntries   int           `json:"maxEntries"`
	Enabled      bool          `json:"enabled"`
}

// DefaultConfig is 50 MB, 15 minutes, 1000 entries, enabled.
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes: 50 << 20,
		DefaultTTL:   15 * time.Minute,
		MaxEntries:   1000,
		Enabled:      true,
	}
}

// ConfigUpdate is a partial Config; nil fields are left unchanged.
type ConfigUpdate struct {
	MaxSizeBytes *int64         `json:"maxSizeBytes,omitempty"`
	DefaultTTL   *time.Duration `json:"defaultTTL,omitempty"`
	MaxEntries   *int           `json:"maxEntries,omitempty"`
	Enabled      *bool          `json:"enabled,omitempty"`
}

type Stats struct {
	TotalEntries    int        `json:"totalEntries"`
	TotalSizeBytes  int64      `json:"totalSizeBytes"`
	Hits            int64      `json:"hits"`
	Misses          int64      `json:"misses"`
	HitRate         float64    `json:"hitRate"`
	MissRate        float64    `json:"missRate"`
	OldestEntryTime *time.Time `json:"oldestEntryTime,omitempty"`
	NewestEntryTime *time.Time `json:"newestEntryTime,omitempty"`
}

// snapshot is the persisted form of the whole store.
type snapshot struct {
	Entries []Entry `json:"entries"`
	Stale   []Entry `json:"stale,omitempty"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Seq     uint64  `json:"seq"`
}
