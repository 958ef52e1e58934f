// Package storage persists the cache state as a single opaque blob.
//
// Every backend stores exactly one value under a fixed name. The cache
// serializes its whole state on each mutation and hands the bytes to Save;
// on startup Load returns the last saved bytes, or nil when nothing has been
// written yet.
package storage

import (
	"context"
	"fmt"
)

// Backend is a single-blob persistence layer.
type Backend interface {
	// Load returns the stored blob, or (nil, nil) when none exists.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored blob.
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverGCS      = "gcs"
)

// BlobName is the key the cache state is stored under in every backend.
const BlobName = "shaking-news-cache"

// Drivers lists the accepted driver names.
func Drivers() []string {
	return []string{DriverSQLite, DriverMemory, DriverRedis, DriverPostgres, DriverGCS}
}

// Open creates the backend for driver. dsn is driver specific: a file path for
// sqlite, host:port for redis, a connection string for postgres and
// "bucket/prefix" for gcs. memory ignores it.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(dsn)
	case DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		return NewRedis(dsn), nil
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	case DriverGCS:
		return OpenGCS(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
