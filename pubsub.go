package multicast

import (
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
)

// PubSub is the façade of spec.md section 2 component 5: a thin API
// surface that adapts the engine's channel/Subscription events to
// listener-style handlers and enforces the started/stopped precondition
// on every public call except BlacklistPeer (spec.md section 6/7),
// mirrored from the teacher's
// outer PubSub type wrapping its processLoop-driven internals.
type PubSub struct {
	engine *Engine
}

// Option configures a PubSub at construction time, mirrored from the
// teacher's `type Option func(*PubSub) error`.
type Option func(*PubSub) error

// NewPubSub returns a PubSub bound to h. The returned value is not
// accepting connections or serving the public API until Start is called.
func NewPubSub(h host.Host, opts ...Option) (*PubSub, error) {
	p := &PubSub{engine: NewEngine(h)}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// WithEngineOptions threads engine-level options (WithProtocolID,
// WithMaxMessageSize, WithCacheDuration, WithBlacklist, WithEventTracer)
// through to the underlying Engine at construction time.
func WithEngineOptions(opts ...engineOption) Option {
	return func(p *PubSub) error {
		for _, opt := range opts {
			opt(p.engine)
		}
		return nil
	}
}

// Start installs the protocol handler and begins processing (spec.md
// section 4.8).
func (p *PubSub) Start() {
	p.engine.Start()
}

// Stop tears down every peer stream and empties the local subscription
// set (spec.md section 4.8). The façade itself may be Started again
// afterwards; the validator registry and cache persist across restarts.
func (p *PubSub) Stop() {
	p.engine.Stop()
}

// SubscribeOpts configures a single Subscribe call.
type SubscribeOpts struct {
	// ForwardHooks installs per-topic forwarding validators on the topic.
	// They stay registered after the subscription is cancelled, until
	// RemoveFrwdHooks is called for the topic. spec.md section 9
	// notes the source has a typo-level bug iterating
	// `options.frwdHook` instead of `options.frwdHooks`; this field is
	// named, and iterated, correctly.
	ForwardHooks []ValidatorFunc
	// ValidatorOpts configures how ForwardHooks are scheduled (timeout,
	// inline vs. throttled).
	ValidatorOpts []ValidatorOpt
}

// SubscribeOpt mutates SubscribeOpts.
type SubscribeOpt func(*SubscribeOpts)

// WithForwardHooks is the SubscribeOpt form of spec.md section 6's
// `options.frwdHooks`.
func WithForwardHooks(hooks ...ValidatorFunc) SubscribeOpt {
	return func(o *SubscribeOpts) { o.ForwardHooks = append(o.ForwardHooks, hooks...) }
}

// WithSubscribeValidatorOpts attaches ValidatorOpts to any ForwardHooks
// registered by the same Subscribe call.
func WithSubscribeValidatorOpts(opts ...ValidatorOpt) SubscribeOpt {
	return func(o *SubscribeOpts) { o.ValidatorOpts = append(o.ValidatorOpts, opts...) }
}

// Subscribe registers a local listener for topic and, on first
// subscription to topic, announces it to every connected peer. Any
// ForwardHooks supplied via opts are installed as forwarding validators
// for topic before the subscription is created. handler is invoked for
// every locally-delivered message until the returned *Subscription is
// cancelled (spec.md section 6).
func (p *PubSub) Subscribe(topic string, handler MessageHandler, opts ...SubscribeOpt) (*Subscription, error) {
	if !p.engine.isStarted() {
		return nil, ErrNotStarted
	}
	var so SubscribeOpts
	for _, o := range opts {
		o(&so)
	}
	if len(so.ForwardHooks) > 0 {
		p.engine.AddFrwdHooks(topic, so.ForwardHooks, so.ValidatorOpts...)
	}

	sub, err := p.engine.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	if handler != nil {
		go pumpSubscription(sub, handler)
	}
	return sub, nil
}

func pumpSubscription(sub *Subscription, handler MessageHandler) {
	for msg := range sub.Messages() {
		handler(msg)
	}
}

// Unsubscribe cancels sub, the handle returned by the matching Subscribe
// call. On the last listener for topic it announces removal to every
// connected peer. It returns silently (no error) if the façade is not
// started, avoiding a shutdown race (spec.md section 4.6).
func (p *PubSub) Unsubscribe(topic string, sub *Subscription) error {
	if !p.engine.isStarted() {
		return nil
	}
	if sub == nil {
		return nil
	}
	sub.Cancel()
	return nil
}

// Publish publishes a single message on topic with the given hop budget.
// data must be a []byte; any other type fails with ErrBadArgument
// (spec.md section 6).
func (p *PubSub) Publish(topic string, data interface{}, hops int32) error {
	if !p.engine.isStarted() {
		return ErrNotStarted
	}
	b, ok := data.([]byte)
	if !ok {
		return ErrBadArgument
	}
	return p.engine.Publish([]string{topic}, b, hops)
}

// Ls yields the current local subscription topic list.
func (p *PubSub) Ls() ([]string, error) {
	return p.engine.Topics()
}

// Peers yields the textual identifiers of connected peers, optionally
// filtered to those that have announced topic. Pass "" for topic to list
// every connected peer.
func (p *PubSub) Peers(topic string) ([]string, error) {
	ids, err := p.engine.ListPeers(topic)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out, nil
}

// AddFrwdHooks bulk-registers validators for topic.
func (p *PubSub) AddFrwdHooks(topic string, hooks ...ValidatorFunc) error {
	if !p.engine.isStarted() {
		return ErrNotStarted
	}
	p.engine.AddFrwdHooks(topic, hooks)
	return nil
}

// RemoveFrwdHooks bulk-unregisters every validator for topic.
func (p *PubSub) RemoveFrwdHooks(topic string) error {
	if !p.engine.isStarted() {
		return ErrNotStarted
	}
	p.engine.RemoveFrwdHooks(topic)
	return nil
}

// BlacklistPeer unconditionally drops all future streams and messages
// to/from pid.
func (p *PubSub) BlacklistPeer(pid peer.ID) {
	p.engine.BlacklistPeer(pid)
}
