package cache

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Cache defines the interface for a caching implementation. Keys are job
// fingerprints of the form "subject|type|params", so everything cached
// for one subject shares a key prefix.
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL. fetchedAt is when the
	// remote fetch that produced the value started; implementations may
	// use it to reject writes that would replace fresher data.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, fetchedAt time.Time) error

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string) error

	// InvalidateSubject removes every cached entry for one subject key,
	// across all collection types. Used on force refresh.
	InvalidateSubject(ctx context.Context, subjectKey string) error

	// Ping tests the connection to the cache
	Ping(ctx context.Context) error

	// Close releases resources used by the cache
	Close() error
}

// ErrCacheMiss is returned when a key is not found in the cache
var ErrCacheMiss = fmt.Errorf("cache miss")

// negativeMarker is stored for not-found results so repeated lookups for
// missing subjects short-circuit without a remote call.
var negativeMarker = []byte("__parcelharvest:negative__")

// NegativeEntry returns the payload cached for a not-found result.
func NegativeEntry() []byte {
	return append([]byte(nil), negativeMarker...)
}

// IsNegative reports whether a cached payload is a not-found marker.
func IsNegative(value []byte) bool {
	return bytes.Equal(value, negativeMarker)
}

// subjectPrefix is the key prefix shared by all entries of one subject.
func subjectPrefix(subjectKey string) string {
	return subjectKey + "|"
}
