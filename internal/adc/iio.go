package adc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IIOReader reads a channel exposed by the Linux Industrial I/O subsystem,
// e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type IIOReader struct {
	path string
}

// NewIIOReader checks that path is readable and returns a reader for it.
func NewIIOReader(path string) (*IIOReader, error) {
	r := &IIOReader{path: path}
	if _, err := r.ReadMoisture(); err != nil {
		return nil, err
	}
	return r, nil
}

// ReadMoisture reads and parses the raw channel value.
func (r *IIOReader) ReadMoisture() (int, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("read iio channel: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse iio value %q: %w", strings.TrimSpace(string(data)), err)
	}
	return v, nil
}

// Close is a no-op; the sysfs file is opened per read.
func (r *IIOReader) Close() error {
	return nil
}
