package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New[uint64, string](time.Minute)
	c.Set(1, "Online")

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Online", got)
}

func TestGet_Missing(t *testing.T) {
	c := New[uint64, string](time.Minute)
	_, ok := c.Get(42)
	assert.False(t, ok)
}

func TestGet_Expired(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewWithClock[uint64, string](time.Minute, clk)

	c.Set(1, "InGame")
	clk.Advance(time.Minute)

	_, ok := c.Get(1)
	assert.False(t, ok, "entry older than TTL must be absent")
	assert.Equal(t, 0, c.Len(), "expired entry should be purged on read")
}

func TestGet_JustBeforeExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewWithClock[uint64, string](time.Minute, clk)

	c.Set(1, "InStudio")
	clk.Advance(time.Minute - time.Millisecond)

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "InStudio", got)
}

func TestSet_Overwrites(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewWithClock[uint64, string](time.Minute, clk)

	c.Set(1, "Online")
	clk.Advance(50 * time.Second)
	c.Set(1, "InGame")
	clk.Advance(30 * time.Second)

	// The overwrite refreshed the insertion timestamp.
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "InGame", got)
}

func TestInvalidateAndClear(t *testing.T) {
	c := New[uint64, string](time.Minute)
	c.Set(1, "a")
	c.Set(2, "b")

	c.Invalidate(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
	_, ok = c.Get(2)
	assert.True(t, ok)

	c.Clear()
	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set(j%10, n)
				c.Get(j % 10)
				if j%50 == 0 {
					c.Invalidate(j % 10)
				}
			}
		}(i)
	}
	wg.Wait()
}
