package adc

import (
	"errors"
	"fmt"
	"strconv"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// ADS1115Reader reads one single-ended channel of an ADS1115 converter
// attached to the Raspberry Pi I2C bus.
type ADS1115Reader struct {
	adaptor *raspi.Adaptor
	driver  *i2c.ADS1x15Driver
	pin     string
}

// NewADS1115Reader connects to the converter at address on bus.
func NewADS1115Reader(bus, address, channel int) (*ADS1115Reader, error) {
	adaptor := raspi.NewAdaptor()
	if err := adaptor.Connect(); err != nil {
		return nil, fmt.Errorf("connect raspi adaptor: %w", err)
	}

	driver := i2c.NewADS1115Driver(adaptor, i2c.WithBus(bus), i2c.WithAddress(address))
	if err := driver.Start(); err != nil {
		_ = adaptor.Finalize()
		return nil, fmt.Errorf("start ads1115 at bus %d addr 0x%02x: %w", bus, address, err)
	}

	return &ADS1115Reader{
		adaptor: adaptor,
		driver:  driver,
		pin:     strconv.Itoa(channel),
	}, nil
}

// ReadMoisture returns the raw conversion result of the configured channel.
func (r *ADS1115Reader) ReadMoisture() (int, error) {
	v, err := r.driver.AnalogRead(r.pin)
	if err != nil {
		return 0, fmt.Errorf("read ads1115 channel %s: %w", r.pin, err)
	}
	return v, nil
}

// Close halts the driver and releases the bus.
func (r *ADS1115Reader) Close() error {
	var errs []error
	if err := r.driver.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt ads1115: %w", err))
	}
	if err := r.adaptor.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("finalize adaptor: %w", err))
	}
	return errors.Join(errs...)
}
