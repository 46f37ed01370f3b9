package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/nab/internal/metrics"
	"github.com/darshan-rambhia/nab/internal/model"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around a provider.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures that open the circuit
	Timeout          time.Duration `yaml:"timeout"`           // open duration before a trial request
	Interval         time.Duration `yaml:"interval"`          // count reset period while closed
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Timeout: 5 * time.Minute, Interval: 10 * time.Minute}
}

// BreakerProvider wraps a Provider so that a dead endpoint is skipped quickly
// instead of timing out on every alert.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// WithBreaker wraps p in a circuit breaker.
func WithBreaker(p Provider, cfg BreakerConfig) *BreakerProvider {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("notification circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerProvider{next: p, cb: cb}
}

func (b *BreakerProvider) Name() string { return b.next.Name() }

// State returns the breaker state ("closed", "half-open", "open").
func (b *BreakerProvider) State() string { return b.cb.State().String() }

func (b *BreakerProvider) Send(ctx context.Context, n model.Notification) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, n)
	})
	switch {
	case err == nil:
		metrics.NotificationsSent.WithLabelValues(b.Name(), "sent").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotificationsSent.WithLabelValues(b.Name(), "rejected").Inc()
	default:
		metrics.NotificationsSent.WithLabelValues(b.Name(), "failed").Inc()
	}
	return err
}
