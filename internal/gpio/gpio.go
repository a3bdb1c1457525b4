// Package gpio drives digital outputs (pump relay, status LED) with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output is a single digital output line.
type Output interface {
	// Set drives the line to its logical on/off state. Writes are idempotent.
	Set(on bool) error

	// Close drives the line off and releases it.
	Close() error
}

// Default pin offsets on gpiochip0.
const (
	DefaultPumpPin = 13
	DefaultLEDPin  = 2
)
