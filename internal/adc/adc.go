// Package adc reads the raw soil-moisture level from an analog converter.
package adc

// MoistureReader returns the latest raw analog reading of the moisture probe.
type MoistureReader interface {
	// ReadMoisture returns the raw converter value. Higher is drier on
	// typical capacitive probes; no scaling is applied.
	ReadMoisture() (int, error)

	// Close releases the converter.
	Close() error
}
