// Package store defines the shared ephemeral key-value boundary used by the
// job pipeline. Job records, queue lanes, rate-limit windows, dedup cache
// entries, partial-result records and batch counters all live behind this
// interface so multiple worker processes observe consistent state.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a TTL-capable key-value store with the small set of atomic
// primitives the pipeline needs. A ttl of 0 means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets the key only if it does not already exist and reports
	// whether the write happened. Used as a compare-and-set guard.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Incr atomically increments an integer key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Sorted-set primitives backing the queue lanes.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZPopMin removes and returns the lowest-scored member, or ErrNotFound
	// when the set is empty.
	ZPopMin(ctx context.Context, key string) (string, error)
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRank returns the zero-based position of member, or ErrNotFound.
	ZRank(ctx context.Context, key string, member string) (int64, error)
}
