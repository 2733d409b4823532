package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerRegistry manages one circuit breaker per agent id. An agent whose
// dispatches fail repeatedly gets short-circuited to immediate failure
// instead of burning full attempt timeouts.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewBreakerRegistry creates an empty breaker registry.
func NewBreakerRegistry(logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the breaker for the agent, creating it on first use.
func (r *BreakerRegistry) Get(agentID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentID,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("agent circuit breaker state change",
				slog.String("agent", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not an agent fault.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	r.breakers[agentID] = cb
	return cb
}

// ErrBreakerOpen reports that the agent's breaker refused the dispatch.
var ErrBreakerOpen = errors.New("agent circuit open")

// IsBreakerRefusal reports whether err came from an open or saturated
// breaker rather than the executor itself.
func IsBreakerRefusal(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
