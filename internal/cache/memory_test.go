package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte(`{"sqft":1200}`), time.Minute, time.Now()))

	value, err := c.Get(ctx, "APN-123|property|")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"sqft":1200}`), value)

	_, err = c.Get(ctx, "APN-999|property|")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_LazyExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("v"), 20*time.Millisecond, time.Now()))
	require.Equal(t, 1, c.Len())

	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "APN-123|property|")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, c.Len(), "expired entry must be removed on lookup")
}

func TestMemoryCache_StaleWriteRejected(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	earlier := time.Now().Add(-time.Minute)
	later := time.Now()

	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("fresh"), time.Minute, later))
	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("stale"), time.Minute, earlier))

	value, err := c.Get(ctx, "APN-123|property|")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), value, "older fetch must not clobber newer data")
}

func TestMemoryCache_StaleWriteAllowedOverExpired(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("fresh"), 10*time.Millisecond, time.Now()))
	time.Sleep(30 * time.Millisecond)

	// Once the fresher entry expires, an older fetch is better than nothing.
	earlier := time.Now().Add(-time.Minute)
	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("stale"), time.Minute, earlier))

	value, err := c.Get(ctx, "APN-123|property|")
	require.NoError(t, err)
	assert.Equal(t, []byte("stale"), value)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("v"), time.Minute, time.Now()))
	require.NoError(t, c.Delete(ctx, "APN-123|property|"))

	_, err := c.Get(ctx, "APN-123|property|")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_InvalidateSubject(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.Set(ctx, "APN-123|property|", []byte("a"), time.Minute, now))
	require.NoError(t, c.Set(ctx, "APN-123|tax_records|from=2020", []byte("b"), time.Minute, now))
	require.NoError(t, c.Set(ctx, "APN-456|property|", []byte("c"), time.Minute, now))

	require.NoError(t, c.InvalidateSubject(ctx, "APN-123"))

	_, err := c.Get(ctx, "APN-123|property|")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "APN-123|tax_records|from=2020")
	assert.ErrorIs(t, err, ErrCacheMiss)

	value, err := c.Get(ctx, "APN-456|property|")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), value)
}

func TestMemoryCache_Sweep(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("APN-%d|property|", i)
		require.NoError(t, c.Set(ctx, key, []byte("v"), 10*time.Millisecond, time.Now()))
	}
	require.NoError(t, c.Set(ctx, "APN-live|property|", []byte("v"), time.Minute, time.Now()))

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 5, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestNegativeEntry(t *testing.T) {
	assert.True(t, IsNegative(NegativeEntry()))
	assert.False(t, IsNegative([]byte(`{"sqft":1200}`)))
	assert.False(t, IsNegative(nil))
}
