package link

import (
	"context"
	"errors"
)

// FakeAssociator is a test double for Associator.
type FakeAssociator struct {
	// Connected is the current association state.
	Connected bool

	// SucceedAfter is the number of failing Associate calls before one succeeds.
	// Negative means never succeed.
	SucceedAfter int

	// ActivateError, if set, will be returned by Activate.
	ActivateError error

	ActivateCalls  int
	AssociateCalls int
}

// Activate records the call.
func (f *FakeAssociator) Activate(ctx context.Context) error {
	f.ActivateCalls++
	return f.ActivateError
}

// Associate fails until SucceedAfter calls have been made.
func (f *FakeAssociator) Associate(ctx context.Context, ssid, password string) error {
	f.AssociateCalls++
	if f.SucceedAfter < 0 || f.AssociateCalls <= f.SucceedAfter {
		return errors.New("simulated association failure")
	}
	f.Connected = true
	return nil
}

// IsConnected returns Connected.
func (f *FakeAssociator) IsConnected() bool {
	return f.Connected
}

// FakeLink is a test double for Link used by the control loop tests.
type FakeLink struct {
	Connected bool

	// ConnectError, if set, is returned by Connect and the link stays down.
	ConnectError error

	// ConnectFunc, if set, replaces ConnectError. It sees the caller's ctx,
	// so it can block or report retries.
	ConnectFunc func(ctx context.Context) error

	ConnectCalls int
}

// Connect records the call and comes up unless ConnectError is set.
func (f *FakeLink) Connect(ctx context.Context, ssid, password string) error {
	f.ConnectCalls++
	if f.Connected {
		return nil
	}
	if f.ConnectFunc != nil {
		if err := f.ConnectFunc(ctx); err != nil {
			return err
		}
	} else if f.ConnectError != nil {
		return f.ConnectError
	}
	f.Connected = true
	return nil
}

// IsConnected returns Connected.
func (f *FakeLink) IsConnected() bool {
	return f.Connected
}
