package multicast

import (
	"time"

	"github.com/libp2p/go-libp2p-core/discovery"
	"github.com/libp2p/go-libp2p-core/protocol"
	"golang.org/x/sync/semaphore"
)

// engineOption configures an Engine at construction time, mirrored from
// the teacher's `type Option func(*PubSub) error` pattern. Engine options
// cannot fail validation (there is nothing here that needs a private key
// or peerstore lookup the way the teacher's signing options do), so
// unlike the façade's Option these do not return an error.
type engineOption func(*Engine)

// WithProtocolID overrides the default "/multicast/0.0.1" protocol
// identifier (spec.md section 6).
func WithProtocolID(id protocol.ID) engineOption {
	return func(e *Engine) { e.protocolID = id }
}

// WithMaxMessageSize overrides DefaultMaxMessageSize for the framing
// adapter's decode path, mirrored from the teacher's WithMaxMessageSize.
func WithMaxMessageSize(n int) engineOption {
	return func(e *Engine) { e.maxMessageSize = n }
}

// WithCacheDuration overrides the dedup cache's validity window.
func WithCacheDuration(d time.Duration) engineOption {
	return func(e *Engine) { e.cache = newSeenCache(d) }
}

// WithBlacklist overrides the default MapBlacklist, mirrored from the
// teacher's WithBlacklist.
func WithBlacklist(b Blacklist) engineOption {
	return func(e *Engine) { e.blacklist = b }
}

// WithEventTracer installs a Tracer, mirrored from the teacher's
// WithEventTracer.
func WithEventTracer(t EventTracer) engineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithValidatorConcurrency overrides defaultValidatorConcurrency, the
// global cap on forwarding-validator evaluations in flight across every
// topic at once.
func WithValidatorConcurrency(n int64) engineOption {
	return func(e *Engine) {
		if n <= 0 {
			n = defaultValidatorConcurrency
		}
		e.validators.sem = semaphore.NewWeighted(n)
	}
}

// WithDiscovery installs d as the engine's peer-discovery advertiser. On
// the first local subscription to a topic the engine advertises that topic
// as a rendezvous namespace via d.Advertise; it never drives a polling
// FindPeers loop itself (that bootstrap machinery is out of scope -- see
// DESIGN.md), so this is a thin hook rather than a full discovery service.
func WithDiscovery(d discovery.Discovery) engineOption {
	return func(e *Engine) { e.discovery = d }
}
