package multicast

import (
	"sync"

	"github.com/libp2p/go-libp2p-core/peer"
)

// subscriptionQueueSize bounds a single Subscription's delivery channel.
// A slow local listener loses messages rather than stalling dissemination
// to other peers, mirrored from the teacher's per-Subscription notifySubs
// drop-on-full behavior.
const subscriptionQueueSize = 32

// MessageHandler is a local listener callback, the Go-idiomatic
// counterpart to spec.md section 6's `handler` argument to subscribe.
type MessageHandler func(msg *Message)

// Subscription is a single local listener's handle on a topic, returned by
// Engine.Subscribe. It is the local subscription bookkeeping unit; spec.md
// section 6's "handler" passed to unsubscribe is, in this Go surface, the
// *Subscription returned from the matching Subscribe call.
type Subscription struct {
	topic    string
	ch       chan *Message
	cancelCh chan *Subscription
	done     <-chan struct{}

	mu  sync.Mutex
	err error
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.topic }

// Messages returns the channel on which matching messages are delivered.
// It is closed when the subscription is cancelled.
func (s *Subscription) Messages() <-chan *Message { return s.ch }

// Err returns the reason the subscription was cancelled, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel unsubscribes this listener. It is safe to call more than once.
func (s *Subscription) Cancel() {
	select {
	case s.cancelCh <- s:
	case <-s.done:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.err == nil {
		s.err = errSubscriptionCancelled
	}
	s.mu.Unlock()
	close(s.ch)
}

func (s *Subscription) deliver(msg *Message) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// PeerEventType distinguishes a topic join from a topic leave.
type PeerEventType int

const (
	// PeerJoin fires when a connected peer announces a subscription to a
	// topic we are locally interested in.
	PeerJoin PeerEventType = iota
	// PeerLeave fires when a connected peer withdraws that announcement,
	// or disconnects while holding it.
	PeerLeave
)

// PeerEvent is a single join/leave notification, a supplement to spec.md's
// distilled scope (see SPEC_FULL.md section 4): natural complement to the
// subscription-delta handling in section 4.3 step 3.
type PeerEvent struct {
	Type PeerEventType
	Peer peer.ID
}

// TopicEventHandler is a listener for PeerEvents on a single topic.
type TopicEventHandler struct {
	topic string
	ch    chan PeerEvent
	done  <-chan struct{}
}

func (h *TopicEventHandler) Events() <-chan PeerEvent { return h.ch }
func (h *TopicEventHandler) Topic() string            { return h.topic }

func (h *TopicEventHandler) deliver(ev PeerEvent) {
	select {
	case h.ch <- ev:
	default:
	}
}

var errSubscriptionCancelled = &subscriptionCancelledError{}

type subscriptionCancelledError struct{}

func (*subscriptionCancelledError) Error() string { return "multicast: subscription cancelled" }
