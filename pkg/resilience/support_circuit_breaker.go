// Package resilience wraps outbound calls in circuit breakers.
package resilience

import (
	"errors"
	"time"

	"support_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // allowed in half-open
	Interval            time.Duration // counter reset in closed state
	Timeout             time.Duration // open duration before half-open
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64

	// Excluded errors are returned to the caller without counting as failures.
	Excluded func(err error) bool
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		MinRequests:         10,
		FailureRatio:        0.6,
	}
}

// Breaker is a named gobreaker instance that logs state transitions.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (cfg.Excluded != nil && cfg.Excluded(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("breaker", name).Warn("Circuit state changed from %s to %s", from, to)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return translate(err)
}

func (b *Breaker) Name() string {
	return b.cb.Name()
}

func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Call is Execute for functions returning a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Execute(func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
