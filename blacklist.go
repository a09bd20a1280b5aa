package multicast

import (
	"sync"

	"github.com/libp2p/go-libp2p-core/peer"
)

// Blacklist decides whether a peer's streams and messages are dropped
// before they reach any processing pipeline. Mirrored from the teacher's
// Blacklist/MapBlacklist/WithBlacklist, which the engine consults both for
// the peer a message arrived from and for the peer a message claims
// origination from.
type Blacklist interface {
	Add(peer.ID)
	Contains(peer.ID) bool
}

// MapBlacklist is the default Blacklist implementation, a plain
// mutex-guarded set.
type MapBlacklist struct {
	mu sync.RWMutex
	m  map[peer.ID]struct{}
}

// NewMapBlacklist returns an empty MapBlacklist.
func NewMapBlacklist() *MapBlacklist {
	return &MapBlacklist{m: make(map[peer.ID]struct{})}
}

func (b *MapBlacklist) Add(p peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[p] = struct{}{}
}

func (b *MapBlacklist) Contains(p peer.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.m[p]
	return ok
}
