package multicast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeenCacheMarkSeenAtomicCheckThenInsert(t *testing.T) {
	c := newSeenCache(time.Minute)

	require.True(t, c.markSeen("a"))
	require.False(t, c.markSeen("a"), "second markSeen for the same id must report already-seen")
	require.True(t, c.has("a"))
}

func TestSeenCacheDistinctIDs(t *testing.T) {
	c := newSeenCache(time.Minute)

	require.True(t, c.markSeen("a"))
	require.True(t, c.markSeen("b"))
	require.False(t, c.has("c"))
}

func TestSeenCacheInsertSuppressesSelfEcho(t *testing.T) {
	c := newSeenCache(time.Minute)

	c.insert("self-published")
	require.False(t, c.markSeen("self-published"), "a pre-inserted id must be treated as already seen")
}

func TestSeenCacheDefaultDuration(t *testing.T) {
	c := newSeenCache(0)
	require.NotNil(t, c.cache)
}
