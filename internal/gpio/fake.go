package gpio

// FakeOutput is a test double that records every write.
type FakeOutput struct {
	// On is the last value written.
	On bool

	// Writes contains every value passed to Set, in order.
	Writes []bool

	// SetError, if set, will be returned by Set (the write is not recorded).
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutput creates a FakeOutput that starts off.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the write.
func (f *FakeOutput) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	f.Writes = append(f.Writes, on)
	return nil
}

// Close drives the output off and marks it closed.
func (f *FakeOutput) Close() error {
	f.On = false
	f.Closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeOutput) Reset() {
	f.On = false
	f.Writes = nil
	f.SetError = nil
	f.Closed = false
}
