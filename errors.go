package multicast

import "errors"

// Sentinel errors for the semantic kinds named in spec.md section 7. These
// are returned, never panicked, except where the section explicitly calls
// for a programmer-error fail-fast (NotStarted, BadArgument): callers that
// trip those have a bug, but the core still reports it as an error value
// rather than crashing the process, matching the teacher's style of
// returning `fmt.Errorf` from constructors and public methods instead of
// panicking.
var (
	// ErrNotStarted is returned by any public API call made before Start
	// or after Stop.
	ErrNotStarted = errors.New("multicast: not started")

	// ErrNoWritableConnection is returned by PeerRecord.Write when the
	// peer has no installed send channel.
	ErrNoWritableConnection = errors.New("multicast: no writable connection to peer")

	// ErrBadArgument is returned by Publish when data is not a byte
	// buffer-shaped payload (spec.md section 6).
	ErrBadArgument = errors.New("multicast: bad argument")

	// ErrTopicRequired is returned by Engine.Publish when it is called
	// with an empty topic list.
	ErrTopicRequired = errors.New("multicast: at least one topic is required")
)

// CodecError wraps a decode or encode failure on a single peer's stream.
// It never escapes the engine (spec.md section 7): comm.go returns it and
// the engine logs it and tears down that one stream.
type CodecError struct {
	Peer string
	Err  error
}

func (e *CodecError) Error() string {
	return "multicast: codec error with peer " + e.Peer + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error { return e.Err }

// ValidatorError wraps an error raised by a forwarding validator. The
// validator registry does not construct it: it logs a validator's error
// as returned and treats the message as not passing (spec.md section 7).
// No tracer event is raised for validator errors.
type ValidatorError struct {
	Topic string
	Err   error
}

func (e *ValidatorError) Error() string {
	return "multicast: validator error on topic " + e.Topic + ": " + e.Err.Error()
}

func (e *ValidatorError) Unwrap() error { return e.Err }
