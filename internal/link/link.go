// Package link keeps the wireless network association alive.
//
// A Supervisor wraps a platform Associator and turns its single-shot
// association attempts into a bounded retry with exponential backoff, so a
// missing access point costs the control loop at most the configured retry
// budget instead of blocking it forever.
package link

import (
	"context"
	"errors"
	"fmt"
)

// Link is the network association the control loop depends on.
type Link interface {
	// Connect associates with the access point. It returns nil immediately
	// when already associated. Failures are reported as *Error.
	Connect(ctx context.Context, ssid, password string) error

	// IsConnected is a non-blocking status query, safe to call every tick.
	IsConnected() bool
}

// Associator is the platform driver behind a Supervisor.
type Associator interface {
	// Activate powers up the wireless interface.
	Activate(ctx context.Context) error

	// Associate makes one association attempt.
	Associate(ctx context.Context, ssid, password string) error

	// IsConnected reports whether the interface is currently associated.
	IsConnected() bool
}

// Sentinel errors. Use errors.Is to match them through *Error.
var (
	ErrActivateFailed    = errors.New("link: interface activation failed")
	ErrAssociationFailed = errors.New("link: association failed")
	ErrNotAssociated     = errors.New("link: not associated")
)

// Error is returned by Link.Connect when the retry budget is exhausted.
type Error struct {
	Op       string // "activate" or "associate"
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
