package cache

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digests(bodies ...string) [][sha256.Size]byte {
	out := make([][sha256.Size]byte, len(bodies))
	for i, b := range bodies {
		out[i] = sha256.Sum256([]byte(b))
	}
	return out
}

func TestKey(t *testing.T) {
	base := Key("gemini-2.5-flash", "prompt", "notice", digests("a", "b", "c"))

	assert.Len(t, base, 64)
	assert.Equal(t, base, Key("gemini-2.5-flash", "prompt", "notice", digests("a", "b", "c")))
	assert.NotEqual(t, base, Key("gemini-2.5-pro", "prompt", "notice", digests("a", "b", "c")))
	assert.NotEqual(t, base, Key("gemini-2.5-flash", "prompt!", "notice", digests("a", "b", "c")))
	assert.NotEqual(t, base, Key("gemini-2.5-flash", "prompt", "", digests("a", "b", "c")))
	assert.NotEqual(t, base, Key("gemini-2.5-flash", "prompt", "notice", digests("c", "b", "a")), "image order matters")
	assert.NotEqual(t, base, Key("gemini-2.5-flash", "prompt", "notice", digests("a", "b")))
	assert.NotEqual(t, base, Key("gemini-2.5-flash", "prompt", "notice", digests("a", "b", "c\n")), "any byte change matters")
}

func TestGetSet(t *testing.T) {
	c := New(4)
	t.Cleanup(c.Close)

	a := &Analysis{Report: "1. 제품명: 두유", Model: "gemini-2.5-flash"}
	c.Set("k", a)

	got, ok := c.Get("k", 60_000)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = c.Get("k", 0)
	assert.False(t, ok, "max age 0 disables the lookup")

	_, ok = c.Get("other", 60_000)
	assert.False(t, ok)
}

func TestGet_TooOld(t *testing.T) {
	c := New(4)
	t.Cleanup(c.Close)

	c.Set("k", &Analysis{Report: "old"})
	c.store["k"].createdAt = time.Now().Add(-2 * time.Second)

	_, ok := c.Get("k", 1000)
	assert.False(t, ok)
	_, ok = c.Get("k", 5000)
	assert.True(t, ok)
}

func TestSet_EvictsAtCapacity(t *testing.T) {
	c := New(3)
	t.Cleanup(c.Close)

	for i := range 10 {
		c.Set(fmt.Sprintf("k%d", i), &Analysis{})
	}
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get("k9", 60_000)
	assert.True(t, ok, "the newest entry is always kept")
}

func TestSet_OverwriteDoesNotEvict(t *testing.T) {
	c := New(2)
	t.Cleanup(c.Close)

	c.Set("a", &Analysis{Report: "a"})
	c.Set("b", &Analysis{Report: "b"})
	c.Set("b", &Analysis{Report: "b2"})

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("b", 60_000)
	require.True(t, ok)
	assert.Equal(t, "b2", got.Report)
}

func TestEvictExpired(t *testing.T) {
	c := New(4)
	t.Cleanup(c.Close)

	c.Set("fresh", &Analysis{})
	c.Set("stale", &Analysis{})
	c.store["stale"].createdAt = time.Now().Add(-2 * time.Hour)

	c.evictExpired(time.Now())

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh", 60_000)
	assert.True(t, ok)
}
