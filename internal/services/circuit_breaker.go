package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/irfndi/celebrum-quant/internal/logging"
)

// ErrCircuitOpen is returned while a breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `json:"success_threshold"` // half-open calls that must succeed to close
	Timeout          time.Duration `json:"timeout"`           // wait in open state before probing
}

// CircuitBreakerStats holds statistics for the circuit breaker
type CircuitBreakerStats struct {
	State               string `json:"state"`
	TotalRequests       int64  `json:"total_requests"`
	RejectedRequests    int64  `json:"rejected_requests"`
	FailedRequests      int64  `json:"failed_requests"`
	StateChanges        int64  `json:"state_changes"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// CircuitBreaker stops calling a failing dependency until a cool-down has passed.
type CircuitBreaker struct {
	name    string
	config  CircuitBreakerConfig
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger

	total    atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
	changes  atomic.Int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.NewStandardLogger("info")
	}

	cb := &CircuitBreaker{name: name, config: config, logger: logger}
	threshold := uint32(config.FailureThreshold)
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.SuccessThreshold),
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: cb.onStateChange,
	})
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.total.Add(1)
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		cb.rejected.Add(1)
		return ErrCircuitOpen
	case err != nil:
		cb.failed.Add(1)
	}
	return err
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.changes.Add(1)
	cb.logger.WithComponent("circuit_breaker").Info("Circuit breaker state changed",
		"circuit_breaker", name,
		"old_state", from.String(),
		"new_state", to.String(),
	)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	return CircuitBreakerStats{
		State:               cb.breaker.State().String(),
		TotalRequests:       cb.total.Load(),
		RejectedRequests:    cb.rejected.Load(),
		FailedRequests:      cb.failed.Load(),
		StateChanges:        cb.changes.Load(),
		ConsecutiveFailures: cb.breaker.Counts().ConsecutiveFailures,
	}
}
