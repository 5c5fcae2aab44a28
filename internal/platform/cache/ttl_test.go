package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestTTLExpiresAgainstInjectedClock(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[int](time.Minute, 0).WithClock(clock.Now)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	_, _, ok = c.GetStale("a")
	assert.True(t, ok)
}

func TestTTLGetStaleKeepsLastValue(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[string](time.Second, 0).WithClock(clock.Now)
	c.Set("k", "v1")
	stored := clock.t
	clock.Advance(time.Hour)

	v, at, ok := c.GetStale("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
	assert.Equal(t, stored, at)
}

func TestTTLEvictsOldestWhenFull(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[int](time.Hour, 2).WithClock(clock.Now)
	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	c.Set("b", 20)
	assert.Equal(t, 2, c.Len())
	c.Purge()
	assert.Zero(t, c.Len())
}
