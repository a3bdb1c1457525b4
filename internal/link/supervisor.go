package link

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds association retries. Zero MaxElapsed and zero
// MaxAttempts together retry until ctx is cancelled.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxAttempts     int
}

// Supervisor implements Link over an Associator.
type Supervisor struct {
	assoc  Associator
	policy RetryPolicy
	logger *slog.Logger

	// OnRetry, if set, is called after every failed attempt with the attempt
	// number and the wait before the next one. Used for a visible retry
	// indication.
	OnRetry func(attempt int, err error, next time.Duration)
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(assoc Associator, policy RetryPolicy, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		assoc:  assoc,
		policy: policy,
		logger: logger,
	}
}

// IsConnected reports the associator's state.
func (s *Supervisor) IsConnected() bool {
	return s.assoc.IsConnected()
}

// Connect associates with the access point, retrying with exponential backoff.
func (s *Supervisor) Connect(ctx context.Context, ssid, password string) error {
	if s.assoc.IsConnected() {
		return nil
	}

	if err := s.assoc.Activate(ctx); err != nil {
		return &Error{Op: "activate", Attempts: 1, Err: fmt.Errorf("%w: %w", ErrActivateFailed, err)}
	}

	attempts := 0
	op := func() error {
		attempts++
		if err := s.assoc.Associate(ctx, ssid, password); err != nil {
			return err
		}
		if !s.assoc.IsConnected() {
			return ErrNotAssociated
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn("wifi association failed, retrying",
			"ssid", ssid, "attempt", attempts, "retry_in", next, "error", err)
		if s.OnRetry != nil {
			s.OnRetry(attempts, err, next)
		}
	}

	if err := backoff.RetryNotify(op, s.backOff(ctx), notify); err != nil {
		return &Error{Op: "associate", Attempts: attempts, Err: fmt.Errorf("%w: %w", ErrAssociationFailed, err)}
	}

	s.logger.Info("wifi connected", "ssid", ssid, "attempts", attempts)
	return nil
}

func (s *Supervisor) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if s.policy.InitialInterval > 0 {
		eb.InitialInterval = s.policy.InitialInterval
	}
	if s.policy.MaxInterval > 0 {
		eb.MaxInterval = s.policy.MaxInterval
	}
	eb.MaxElapsedTime = s.policy.MaxElapsed

	var b backoff.BackOff = eb
	if s.policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.policy.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
