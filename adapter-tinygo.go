//go:build tinygo

package sx1262

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) Out(l Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *tinygoPin) In(pull Pull) error {
	var mPull machine.PinMode
	switch pull {
	case PullUp:
		mPull = machine.PinInputPullup
	case PullDown:
		mPull = machine.PinInputPulldown
	default:
		mPull = machine.PinInput
	}
	p.pin.Configure(machine.PinConfig{Mode: mPull})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

func (p *tinygoPin) Watch(edge Edge, handler func()) error {
	var mEdge machine.PinChange
	switch edge {
	case RisingEdge:
		mEdge = machine.PinRising
	case FallingEdge:
		mEdge = machine.PinFalling
	case BothEdges:
		mEdge = machine.PinToggle
	default:
		return nil
	}

	// Ensure we are in input mode before arming the interrupt; SetInterrupt
	// and Get are undefined on an unconfigured pin
	p.pin.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})

	return p.pin.SetInterrupt(mEdge, func(machine.Pin) {
		handler()
	})
}

func (p *tinygoPin) Unwatch() error {
	// TinyGo doesn't always have a clear "Unwatch", so reconfigure the pin as
	// a plain input instead.
	p.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

// tinygoSPI wraps a machine.SPI to satisfy the SPI interface.
// It frames every transfer with the NSS pin, since the SX1262 treats each
// NSS-low window as one command.
type tinygoSPI struct {
	spi *machine.SPI
	cs  machine.Pin
}

func (s *tinygoSPI) Tx(w, r []byte) error {
	s.cs.Low()
	err := s.spi.Tx(w, r)
	s.cs.High()
	return err
}

// NewTinyGo creates a new SX1262 driver for TinyGo systems.
// The dio1Pin is optional; pass machine.NoPin to fall back to polling.
func NewTinyGo(c RadioConfig, spi *machine.SPI, csPin, rstPin, busyPin, dio1Pin machine.Pin) (*Device, error) {
	// Configure CS pin as output and set high (inactive)
	csPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	csPin.High()

	var dio1Wrapper Pin
	if dio1Pin != machine.NoPin {
		dio1Wrapper = &tinygoPin{pin: dio1Pin}
	}

	hwConfig := HardwareConfig{
		RadioConfig: c,
		RST:         &tinygoPin{pin: rstPin},
		BUSY:        &tinygoPin{pin: busyPin},
		DIO1:        dio1Wrapper,
	}

	return NewWithHardware(hwConfig, &tinygoSPI{spi: spi, cs: csPin})
}
