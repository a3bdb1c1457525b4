package adc

import "errors"

// FakeReader is a test double that returns scripted readings.
type FakeReader struct {
	// Values contains scripted readings. Each call to ReadMoisture consumes
	// the next one; once exhausted the last value repeats.
	Values []int

	index int

	// Reads counts calls to ReadMoisture.
	Reads int

	// ReadError, if set, will be returned by ReadMoisture.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeReader creates a FakeReader with the given readings.
func NewFakeReader(values ...int) *FakeReader {
	return &FakeReader{Values: values}
}

// ReadMoisture returns the next scripted reading.
func (f *FakeReader) ReadMoisture() (int, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no readings configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}
