package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Hour
	b := NewBreaker(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	}

	assert.True(t, b.IsOpen())
	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCall(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig("call"))

	v, err := Call(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, "call", b.Name())
}

func TestBreaker_ExcludedErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("not found")
	cfg := DefaultBreakerConfig("excluded")
	cfg.ConsecutiveFailures = 1
	cfg.Excluded = func(err error) bool { return errors.Is(err, notFound) }
	b := NewBreaker(cfg)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return notFound }), notFound)
	}
	assert.False(t, b.IsOpen())
}
