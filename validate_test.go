package multicast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidatorRegistryTrivialPassWithNoValidators(t *testing.T) {
	r := newValidatorRegistry()
	require.True(t, r.evaluate(context.Background(), "weather", nil, &Message{}))
}

func TestValidatorRegistryConjunctionShortCircuits(t *testing.T) {
	r := newValidatorRegistry()
	var secondCalled bool

	r.add("weather", []ValidatorFunc{
		BoolValidator(func(*PeerRecord, *Message) bool { return false }),
		func(context.Context, *PeerRecord, *Message) (bool, error) {
			secondCalled = true
			return true, nil
		},
	}, WithValidatorInline())

	require.False(t, r.evaluate(context.Background(), "weather", nil, &Message{}))
	require.False(t, secondCalled, "a failing validator must short-circuit the remaining ones")
}

func TestValidatorRegistryConjunctionAllPass(t *testing.T) {
	r := newValidatorRegistry()
	r.add("weather", []ValidatorFunc{
		BoolValidator(func(*PeerRecord, *Message) bool { return true }),
		BoolValidator(func(*PeerRecord, *Message) bool { return true }),
	}, WithValidatorInline())

	require.True(t, r.evaluate(context.Background(), "weather", nil, &Message{}))
}

func TestValidatorRegistryErrorTreatedAsFail(t *testing.T) {
	r := newValidatorRegistry()
	r.add("weather", []ValidatorFunc{
		func(context.Context, *PeerRecord, *Message) (bool, error) {
			return true, errors.New("boom")
		},
	}, WithValidatorInline())

	require.False(t, r.evaluate(context.Background(), "weather", nil, &Message{}))
}

func TestValidatorRegistryRemoveAll(t *testing.T) {
	r := newValidatorRegistry()
	r.add("weather", []ValidatorFunc{BoolValidator(func(*PeerRecord, *Message) bool { return false })})
	require.True(t, r.hasAny("weather"))

	r.removeAll("weather")
	require.False(t, r.hasAny("weather"))
	require.True(t, r.evaluate(context.Background(), "weather", nil, &Message{}))
}

func TestValidatorRegistryThrottledValidatorRuns(t *testing.T) {
	r := newValidatorRegistry()
	r.add("weather", []ValidatorFunc{
		BoolValidator(func(*PeerRecord, *Message) bool { return true }),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, r.evaluate(ctx, "weather", nil, &Message{}))
}

func TestWithValidatorConcurrencyOverridesDefault(t *testing.T) {
	e := &Engine{validators: newValidatorRegistry()}
	WithValidatorConcurrency(2)(e)

	require.True(t, e.validators.sem.TryAcquire(2))
	require.False(t, e.validators.sem.TryAcquire(1), "sem should be exhausted at the overridden weight")
	e.validators.sem.Release(2)
}

func TestWithValidatorConcurrencyNonPositiveFallsBackToDefault(t *testing.T) {
	e := &Engine{validators: newValidatorRegistry()}
	WithValidatorConcurrency(0)(e)

	require.True(t, e.validators.sem.TryAcquire(defaultValidatorConcurrency))
	e.validators.sem.Release(defaultValidatorConcurrency)
}

func TestValidatorRegistryTimeoutTreatedAsFail(t *testing.T) {
	r := newValidatorRegistry()
	r.add("weather", []ValidatorFunc{
		func(ctx context.Context, _ *PeerRecord, _ *Message) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	}, WithValidatorTimeout(10*time.Millisecond), WithValidatorInline())

	require.False(t, r.evaluate(context.Background(), "weather", nil, &Message{}))
}
