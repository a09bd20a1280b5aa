package multicast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ValidatorFunc is the per-topic forwarding validator from spec.md section
// 3/4.4: an asynchronous predicate over (peer, message). It returns an
// error to signal the validator itself failed (treated as "does not pass",
// logged, non-fatal per spec.md section 7), as distinct from returning
// (false, nil) to mean "this validator rejects the message".
//
// spec.md section 9 notes two divergent forwarding-validator timing
// contracts in the source this core was distilled from: one where
// validators are asynchronous callback-style predicates, and one where
// they are synchronous boolean-returning functions. Both are supported
// here as the same ValidatorFunc type -- a validator that never suspends
// is simply a synchronous degenerate case of an asynchronous one. Which
// timing a given validator needs is a property of its own implementation,
// not of the registry; WithValidatorInline only controls whether the
// registry first takes a slot of its concurrency semaphore before calling
// it (both forms run on the forwarding goroutine), which matters for
// throttling, not for correctness.
type ValidatorFunc func(ctx context.Context, peer *PeerRecord, msg *Message) (bool, error)

// BoolValidator adapts a plain synchronous predicate (the degenerate case
// spec.md section 9 calls out) into a ValidatorFunc.
func BoolValidator(fn func(peer *PeerRecord, msg *Message) bool) ValidatorFunc {
	return func(_ context.Context, p *PeerRecord, m *Message) (bool, error) {
		return fn(p, m), nil
	}
}

// ValidatorOpt configures how a registered validator is scheduled.
type ValidatorOpt func(*validatorEntry)

// WithValidatorTimeout sets a deadline on the context passed to a single
// validator invocation (and on waiting for a throttle slot). The registry
// waits for the validator to return; a validator that ignores its context
// is not cut off at the deadline.
func WithValidatorTimeout(d time.Duration) ValidatorOpt {
	return func(e *validatorEntry) { e.timeout = d }
}

// WithValidatorInline calls the validator directly, without first taking a
// slot of the registry's concurrency semaphore. Use for validators that
// are already synchronous and cheap; avoids the throttle wait per message
// per peer.
func WithValidatorInline() ValidatorOpt {
	return func(e *validatorEntry) { e.inline = true }
}

type validatorEntry struct {
	fn      ValidatorFunc
	timeout time.Duration
	inline  bool
}

// validatorRegistry is the forwarding-validator registry from spec.md
// section 3: topic -> set of validators, combined by logical conjunction
// with short-circuit semantics. It is engine-owned and may be read
// concurrently by forward evaluations (spec.md section 5); a semaphore
// bounds total concurrent async evaluations, generalizing the teacher's
// per-topic/global validator throttle referenced in RegisterTopicValidator.
type validatorRegistry struct {
	mu    sync.RWMutex
	byTop map[string][]*validatorEntry

	sem *semaphore.Weighted
}

// defaultValidatorConcurrency bounds the number of non-inline validator
// evaluations in flight at once across the whole registry, unless overridden by
// WithValidatorConcurrency.
const defaultValidatorConcurrency = 64

func newValidatorRegistry() *validatorRegistry {
	return &validatorRegistry{
		byTop: make(map[string][]*validatorEntry),
		sem:   semaphore.NewWeighted(defaultValidatorConcurrency),
	}
}

// add registers hooks for topic.
func (r *validatorRegistry) add(topic string, hooks []ValidatorFunc, opts ...ValidatorOpt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range hooks {
		e := &validatorEntry{fn: h}
		for _, opt := range opts {
			opt(e)
		}
		r.byTop[topic] = append(r.byTop[topic], e)
	}
}

// removeAll unregisters every validator for topic. Go functions cannot be
// compared, so individual validators are not removed one by one; all of
// the topic's validators go at once, whichever AddFrwdHooks call
// registered them.
func (r *validatorRegistry) removeAll(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTop, topic)
}

// hasAny reports whether any validators are registered for topic.
func (r *validatorRegistry) hasAny(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTop[topic]) > 0
}

// evaluate runs every validator registered for topic against (peer, msg),
// combined by conjunction with short-circuit semantics. A topic with no
// registered validators trivially passes (spec.md section 4.4).
func (r *validatorRegistry) evaluate(ctx context.Context, topic string, p *PeerRecord, msg *Message) bool {
	r.mu.RLock()
	entries := append([]*validatorEntry(nil), r.byTop[topic]...)
	r.mu.RUnlock()

	for _, e := range entries {
		if !r.run(ctx, e, p, msg) {
			return false
		}
	}
	return true
}

func (r *validatorRegistry) run(ctx context.Context, e *validatorEntry, p *PeerRecord, msg *Message) bool {
	vctx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		vctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if e.inline {
		ok, err := e.fn(vctx, p, msg)
		if err != nil {
			log.Warningf("forwarding validator error: %s", err)
			return false
		}
		return ok
	}

	if err := r.sem.Acquire(vctx, 1); err != nil {
		// cancelled/timed out waiting for a validator slot: treated as a
		// dropped evaluation (spec.md section 5, cancellation).
		return false
	}
	defer r.sem.Release(1)

	ok, err := e.fn(vctx, p, msg)
	if err != nil {
		log.Warningf("forwarding validator error: %s", err)
		return false
	}
	return ok
}
