package multicast

import (
	"sync"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-multicast/pb"
)

// outboundQueueSize is the default capacity of a peer's outbound RPC
// channel, mirrored from the teacher's peerOutboundQueueSize default of 32.
const outboundQueueSize = 32

// SubscriptionDelta is the wire-level (subscribe, topic) pair from spec.md
// section 3.
type SubscriptionDelta struct {
	Subscribe bool
	Topic     string
}

// PeerRecord is the per-connected-peer bookkeeping described in spec.md
// section 3/4.2: identity, announced topics, an optional outbound stream,
// a reference count for connection lifetime accounting, and two lifecycle
// signals. The engine owns the map of PeerRecords; a PeerRecord is shared
// with whichever send-loop goroutine drains its outbound channel (see
// comm.go), so all mutation here is guarded by mu.
type PeerRecord struct {
	mu sync.Mutex

	info   peer.AddrInfo
	topics map[string]struct{}
	send   chan *pb.RPC

	references int32

	connHandlers  []func()
	closeHandlers []func()
}

// NewPeerRecord returns a disconnected PeerRecord for info. The record has
// no writable connection until CreateStream is called.
func NewPeerRecord(info peer.AddrInfo) *PeerRecord {
	return &PeerRecord{
		info:       info,
		topics:     make(map[string]struct{}),
		references: 1,
	}
}

// ID returns the peer identifier.
func (p *PeerRecord) ID() peer.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.ID
}

// Info returns the peer's identity and addressing metadata.
func (p *PeerRecord) Info() peer.AddrInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// IsWritable reports whether a send channel is currently installed. This
// is the invariant from spec.md section 3: isWritable iff send is present.
func (p *PeerRecord) IsWritable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send != nil
}

// Topics returns a snapshot of the topics this peer has announced.
func (p *PeerRecord) Topics() map[string]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]struct{}, len(p.topics))
	for t := range p.topics {
		out[t] = struct{}{}
	}
	return out
}

// HasTopic reports whether the peer has announced t.
func (p *PeerRecord) HasTopic(t string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.topics[t]
	return ok
}

// IntersectsTopics reports whether the peer's announced topics share any
// member with topics, used by the forward procedure's disjoint-interest
// skip (spec.md section 4.4 step 2).
func (p *PeerRecord) IntersectsTopics(topics []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.topics) == 0 {
		return false
	}
	for _, t := range topics {
		if _, ok := p.topics[t]; ok {
			return true
		}
	}
	return false
}

// UpdateSubscriptions applies deltas to topics in order (spec.md section
// 4.2): subscribe=true adds, subscribe=false removes.
func (p *PeerRecord) UpdateSubscriptions(deltas []SubscriptionDelta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range deltas {
		if d.Subscribe {
			p.topics[d.Topic] = struct{}{}
		} else {
			delete(p.topics, d.Topic)
		}
	}
}

// CreateStream installs a fresh outbound queue, emits the connection
// signal, and returns the channel for the send loop to drain (spec.md
// section 4.2).
func (p *PeerRecord) CreateStream() chan *pb.RPC {
	p.mu.Lock()
	ch := make(chan *pb.RPC, outboundQueueSize)
	p.send = ch
	handlers := p.connHandlers
	p.connHandlers = nil
	p.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return ch
}

// OnStreamEnd clears the send channel and emits the close signal. It is
// idempotent: calling it when there is no active stream is a no-op.
func (p *PeerRecord) OnStreamEnd() {
	p.mu.Lock()
	if p.send == nil {
		p.mu.Unlock()
		return
	}
	p.send = nil
	handlers := p.closeHandlers
	p.closeHandlers = nil
	p.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// Write pushes one framed record onto the outbound queue. It fails with
// ErrNoWritableConnection if no send channel is installed, and also drops
// the record and returns ErrNoWritableConnection if the queue is full
// (spec.md section 4.9: a full queue is equivalent to no connection for
// flooding's purposes -- the dial hook will re-synchronize on reconnect).
func (p *PeerRecord) Write(rpc *pb.RPC) error {
	p.mu.Lock()
	ch := p.send
	p.mu.Unlock()

	if ch == nil {
		return ErrNoWritableConnection
	}
	select {
	case ch <- rpc:
		return nil
	default:
		log.Infof("outbound queue full for peer %s, dropping RPC", p.ID())
		return ErrNoWritableConnection
	}
}

// SendSubscriptions emits a single RPC record announcing subscription to
// each of topics. No-op on empty input (spec.md section 4.2).
func (p *PeerRecord) SendSubscriptions(topics []string) error {
	return p.sendSubDeltas(topics, true)
}

// SendUnsubscriptions emits a single RPC record announcing removal of
// interest in each of topics. No-op on empty input.
func (p *PeerRecord) SendUnsubscriptions(topics []string) error {
	return p.sendSubDeltas(topics, false)
}

func (p *PeerRecord) sendSubDeltas(topics []string, subscribe bool) error {
	if len(topics) == 0 {
		return nil
	}
	opts := make([]*pb.RPC_SubOpts, 0, len(topics))
	for _, t := range topics {
		topic := t
		sub := subscribe
		opts = append(opts, &pb.RPC_SubOpts{Subscribe: &sub, TopicCID: &topic})
	}
	return p.Write(&pb.RPC{Subscriptions: opts})
}

// SendMessages emits a single RPC record carrying msgs. No-op on empty
// input.
func (p *PeerRecord) SendMessages(msgs []*pb.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return p.Write(&pb.RPC{Msgs: msgs})
}

// OnceConnect registers fn to run the next time CreateStream installs a
// send channel, or immediately (synchronously) if one is already present.
// It returns a cancel function that prevents fn from running if it has not
// already fired. Used by subscribe/unsubscribe (spec.md section 4.6) to
// defer an announcement until the peer becomes writable.
func (p *PeerRecord) OnceConnect(fn func()) (cancel func()) {
	p.mu.Lock()
	if p.send != nil {
		p.mu.Unlock()
		fn()
		return func() {}
	}
	var fired bool
	wrapped := func() {
		p.mu.Lock()
		if fired {
			p.mu.Unlock()
			return
		}
		fired = true
		p.mu.Unlock()
		fn()
	}
	p.connHandlers = append(p.connHandlers, wrapped)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		fired = true
		p.mu.Unlock()
	}
}

// OnceClose registers fn to run the next time OnStreamEnd or Close fires
// the close signal. It returns a cancel function with the same semantics
// as OnceConnect's.
func (p *PeerRecord) OnceClose(fn func()) (cancel func()) {
	p.mu.Lock()
	var fired bool
	wrapped := func() {
		p.mu.Lock()
		if fired {
			p.mu.Unlock()
			return
		}
		fired = true
		p.mu.Unlock()
		fn()
	}
	p.closeHandlers = append(p.closeHandlers, wrapped)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		fired = true
		p.mu.Unlock()
	}
}

// Retain increments the reference count, used when a second collaborator
// (e.g. an additional inbound stream) starts sharing this record.
func (p *PeerRecord) Retain() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.references++
	return p.references
}

// Release decrements the reference count and reports the new value. A
// value of zero or less means the record is eligible for removal from the
// engine's peer map.
func (p *PeerRecord) Release() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.references > 0 {
		p.references--
	}
	return p.references
}

// Close forces the reference count to 1, ends the send channel if any, and
// asynchronously emits the close signal before invoking cb (spec.md
// section 4.2).
func (p *PeerRecord) Close(cb func()) {
	p.mu.Lock()
	p.references = 1
	p.mu.Unlock()

	go func() {
		p.OnStreamEnd()
		if cb != nil {
			cb()
		}
	}()
}
