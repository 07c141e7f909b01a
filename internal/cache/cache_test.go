package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New(Options{})
	c.Set("enrichment", "deal-1", "value")

	got, ok := c.Get("enrichment", "deal-1")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	// Same key in another namespace is a distinct entry.
	_, ok = c.Get("extraction", "deal-1")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New(Options{DefaultTTL: time.Minute})
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("ns", "k", 42)

	_, ok := c.Get("ns", "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("ns", "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestExplicitTTLOverridesDefault(t *testing.T) {
	c := New(Options{DefaultTTL: time.Second})
	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetTTL("ns", "k", 1, time.Hour)
	now = now.Add(time.Minute)

	_, ok := c.Get("ns", "k")
	assert.True(t, ok)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c := New(Options{})
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("ns", "k", 1)
	now = now.Add(1000 * time.Hour)

	_, ok := c.Get("ns", "k")
	assert.True(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New(Options{MaxEntries: 3})
	c.Set("ns", "a", 1)
	c.Set("ns", "b", 2)
	c.Set("ns", "c", 3)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("ns", "a")
	require.True(t, ok)

	c.Set("ns", "d", 4)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("ns", "b")
	assert.False(t, ok)
	_, ok = c.Get("ns", "a")
	assert.True(t, ok)
	_, ok = c.Get("ns", "d")
	assert.True(t, ok)
}

func TestInvalidateTag(t *testing.T) {
	c := New(Options{})
	c.Set("extraction", "deal-1", 1, WithTags("deal:1"))
	c.Set("enrichment", "deal-1", 2, WithTags("deal:1"))
	c.Set("extraction", "deal-2", 3, WithTags("deal:2"))

	n := c.InvalidateTag("deal:1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("extraction", "deal-2")
	assert.True(t, ok)

	assert.Zero(t, c.InvalidateTag("deal:1"))
}

func TestInvalidateNamespace(t *testing.T) {
	c := New(Options{})
	c.Set("a", "1", 1)
	c.Set("a", "2", 2)
	c.Set("b", "1", 3)

	assert.Equal(t, 2, c.InvalidateNamespace("a"))
	assert.Equal(t, 1, c.Len())
}

func TestReplaceExistingEntry(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	c.Set("ns", "k", 1, WithTags("old"))
	c.Set("ns", "k", 2, WithTags("new"))

	assert.Equal(t, 1, c.Len())
	got, _ := c.Get("ns", "k")
	assert.Equal(t, 2, got)

	// The replaced entry's tag no longer reaches anything.
	assert.Zero(t, c.InvalidateTag("old"))
	assert.Equal(t, 1, c.InvalidateTag("new"))
}

func TestPurge(t *testing.T) {
	c := New(Options{})
	for i := 0; i < 10; i++ {
		c.Set("ns", fmt.Sprintf("k%d", i), i)
	}
	c.Purge()
	assert.Zero(t, c.Len())
}
