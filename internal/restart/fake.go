package restart

import "context"

// FakeRestarter records restart requests.
type FakeRestarter struct {
	Reasons []string

	// Err, if set, will be returned by Restart.
	Err error
}

// Restart records the reason.
func (f *FakeRestarter) Restart(ctx context.Context, reason string) error {
	f.Reasons = append(f.Reasons, reason)
	return f.Err
}
