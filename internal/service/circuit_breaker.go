package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"livechat/internal/constants"
	"livechat/internal/errors"
)

type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker sheds calls to a failing external service. Closed
// passes everything through; enough consecutive failures open it; after
// a cooldown a few probe calls decide whether to close again.
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	timeout          time.Duration
	halfOpenMaxCalls uint32

	mu              sync.Mutex
	state           CircuitBreakerState
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32

	logger *logrus.Logger
}

func NewCircuitBreaker(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: constants.CircuitBreakerHalfOpenCalls,
		state:            StateClosed,
		logger:           logger,
	}
}

// Execute wraps a call with circuit breaker accounting. While the
// breaker is open the call is rejected without touching the service.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return errors.New(errors.ErrCodeBridgeUnavailable, "circuit breaker is open").
			WithContext("service", cb.name).
			WithUserMessage("Service is temporarily unavailable")
	}

	err := fn(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
			cb.logger.WithField("service", cb.name).Info("Circuit breaker transitioning to half-open")
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.halfOpenMaxCalls
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"service":      cb.name,
				"failures":     cb.failures,
				"max_failures": cb.maxFailures,
			}).Warn("Circuit breaker opened due to failures")
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.WithField("service", cb.name).Warn("Circuit breaker reopened from half-open state")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenCalls++
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithField("service", cb.name).Info("Circuit breaker closed after successful half-open tests")
		}
	case StateClosed:
		cb.failures = 0
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.logger.WithField("service", cb.name).Info("Circuit breaker manually reset")
}
