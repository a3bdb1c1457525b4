//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives a GPIO line on actual hardware using the Linux GPIO character device.
type RealOutput struct {
	line *gpiocdev.Line
	name string
}

// NewRealOutput requests offset on chip as an output, initially off.
// With activeLow the logical "on" state drives the pin low, as most relay
// boards expect.
func NewRealOutput(chip string, offset int, activeLow bool, name string) (*RealOutput, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("soil-pump-" + name),
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s pin %d: %w", name, offset, err)
	}
	return &RealOutput{line: line, name: name}, nil
}

// Set drives the line. Logical on = 1; the active-low flag inverts the physical level.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set %s pin: %w", o.name, err)
	}
	return nil
}

// Close drives the line off, then reconfigures it as an input before releasing
// it so a relay is never left energised across a restart.
func (o *RealOutput) Close() error {
	if o.line == nil {
		return nil
	}
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive %s off: %w", o.name, err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", o.name, err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s pin: %w", o.name, err))
	}
	o.line = nil
	return errors.Join(errs...)
}
