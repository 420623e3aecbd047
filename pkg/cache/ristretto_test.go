package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) *RistrettoCache {
	t.Helper()

	c, err := NewRistrettoCache(&RistrettoConfig{
		Name:        "test",
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewRistrettoCache_RequiresLogger(t *testing.T) {
	_, err := NewRistrettoCache(&RistrettoConfig{NumCounters: 10, MaxCost: 10, BufferItems: 64})
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestRistrettoCache_SetGetDelete(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Set("k", "v", time.Hour))
	c.Wait()

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestRistrettoCache_TTL(t *testing.T) {
	c := newTestCache(t)

	c.Set("short", 1, 50*time.Millisecond)
	c.Wait()
	_, ok := c.Get("short")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("short")
		return !ok
	}, 3*time.Second, 25*time.Millisecond)
}

func TestRistrettoCache_Clear(t *testing.T) {
	c := newTestCache(t)

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)
	c.Wait()

	c.Clear()
	_, ok := c.Get("a")
	assert.False(t, ok)
}
