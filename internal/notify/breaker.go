package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the breaker is rejecting deliveries.
var ErrCircuitOpen = errors.New("notification circuit breaker is open")

// BreakerConfig tunes the circuit breaker around a sink.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerSink wraps another sink with a circuit breaker so a dead
// broker cannot slow down scheduled runs: once open, deliveries fail
// fast and are dropped by the caller's fire-and-forget policy.
type BreakerSink struct {
	inner   Sink
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerSink wraps the sink with a circuit breaker.
func NewBreakerSink(inner Sink, config BreakerConfig, logger *slog.Logger) *BreakerSink {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "notification-sink",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerSink{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Notify delivers through the breaker.
func (s *BreakerSink) Notify(ctx context.Context, n Notification) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.Notify(ctx, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// Close closes the wrapped sink.
func (s *BreakerSink) Close() error {
	return s.inner.Close()
}
