package services

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/l3v3l/core/pkg/logger"
)

// Notifier is the outbound boundary the executor calls after finalizing an
// execution record. Delivery channels (email, SMS, push) live behind it;
// failures here are logged by callers, never fatal to job execution.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject, body string) error
}

// LogNotifier writes notifications to the service log. It is the default
// sink when no delivery channel is configured.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log-backed notification sink
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.New("notifier")}
}

// Notify records the notification in the service log
func (n *LogNotifier) Notify(ctx context.Context, recipients []string, subject, body string) error {
	n.logger.Info().
		Str("action", "notify").
		Strs("recipients", recipients).
		Str("subject", subject).
		Str("body", body).
		Msg("Dispatching job notification")
	return nil
}

// BreakerNotifier wraps a Notifier with a circuit breaker so a failing
// delivery channel stops being hammered while jobs keep executing.
type BreakerNotifier struct {
	inner   Notifier
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewBreakerNotifier wraps the given sink with a circuit breaker
func NewBreakerNotifier(inner Notifier) *BreakerNotifier {
	settings := gobreaker.Settings{
		Name:        "job-notifications",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &BreakerNotifier{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger.New("notifier-breaker"),
	}
}

// Notify delivers through the wrapped sink unless the breaker is open
func (n *BreakerNotifier) Notify(ctx context.Context, recipients []string, subject, body string) error {
	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.inner.Notify(ctx, recipients, subject, body)
	})
	if err != nil {
		n.logger.Warn().
			Err(err).
			Str("action", "notify_failed").
			Str("breaker_state", n.breaker.State().String()).
			Msg("Notification delivery failed")
		return fmt.Errorf("notification delivery failed: %w", err)
	}
	return nil
}
