// Package restart performs the full device restart demanded by the watchdog.
package restart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sweeney/soil-pump/internal/config"
)

// ErrUnsupported is returned by Reboot on platforms without a reboot syscall.
var ErrUnsupported = errors.New("restart: reboot not supported on this platform")

// Restarter restarts the device. A successful Restart does not return.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// New returns the Restarter for the configured mode.
func New(cfg config.RestartConfig, logger *slog.Logger) Restarter {
	if cfg.Mode == "reboot" {
		return &Reboot{Delay: cfg.Delay.D(), Logger: logger, reboot: rebootSystem}
	}
	return &Exit{Delay: cfg.Delay.D(), Code: cfg.ExitCode, Logger: logger, exit: os.Exit}
}

// Exit ends the process with a non-zero code so the service manager starts
// a fresh one.
type Exit struct {
	Delay  time.Duration
	Code   int
	Logger *slog.Logger

	exit func(int)
}

// Restart waits Delay, then exits.
func (e *Exit) Restart(ctx context.Context, reason string) error {
	e.Logger.Error("restarting process", "reason", reason, "delay", e.Delay, "exit_code", e.Code)
	if err := wait(ctx, e.Delay); err != nil {
		return err
	}
	e.exit(e.Code)
	return nil
}

// Reboot syncs filesystems and reboots the kernel.
type Reboot struct {
	Delay  time.Duration
	Logger *slog.Logger

	reboot func() error
}

// Restart waits Delay, then reboots.
func (r *Reboot) Restart(ctx context.Context, reason string) error {
	r.Logger.Error("rebooting device", "reason", reason, "delay", r.Delay)
	if err := wait(ctx, r.Delay); err != nil {
		return err
	}
	if err := r.reboot(); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
