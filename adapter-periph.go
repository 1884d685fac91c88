//go:build !tinygo

package sx1262

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
	stopWatch chan struct{}
}

func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	var pPull gpio.Pull
	switch pull {
	case PullFloat:
		pPull = gpio.Float
	case PullDown:
		pPull = gpio.PullDown
	case PullUp:
		pPull = gpio.PullUp
	default:
		pPull = gpio.PullNoChange
	}
	return p.PinIO.In(pPull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}

	// Ensure we are in input mode with the correct edge detection
	if err := p.PinIO.In(gpio.PullDown, pEdge); err != nil {
		return err
	}

	p.stopWatch = make(chan struct{})

	go func() {
		for {
			// Wait for edge with -1 (infinite timeout)
			if p.PinIO.WaitForEdge(-1) {
				select {
				case <-p.stopWatch:
					return
				default:
					handler()
				}
			} else {
				// WaitForEdge returned false (timeout or error), check stop
				select {
				case <-p.stopWatch:
					return
				default:
				}
			}
		}
	}()
	return nil
}

func (p *realPin) Unwatch() error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	// Disable edge detection
	return p.PinIO.In(gpio.PullDown, gpio.NoEdge)
}

// Config holds the configuration for the Linux/periph.io driver.
type Config struct {
	RadioConfig
	// RSTPin is the GPIO pin number (BCM numbering) for the reset pin.
	// Defaults to 17 if not provided.
	RSTPin int
	// BUSYPin is the GPIO pin number (BCM numbering) for the BUSY line.
	// Defaults to 20 if not provided.
	BUSYPin int
	// DIO1Pin is the GPIO pin number (BCM numbering) for the interrupt pin.
	// Optional. If not provided, polling is used.
	DIO1Pin int
	// PowerPin is the GPIO pin number (BCM numbering) of a power rail enable
	// line gating the radio subsystem. It is driven high and held there for
	// the lifetime of the process.
	// Optional. If not provided, the radio is assumed to be powered.
	PowerPin int
	// PowerSettle is how long to wait after asserting PowerPin before talking
	// to the radio.
	// Defaults to 100ms if not provided.
	PowerSettle time.Duration
	// SpiBusPath is the path to the SPI bus (e.g., "/dev/spidev0.0").
	// Defaults to "/dev/spidev0.0" if not provided.
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency in Hz.
	// Defaults to 2000000 (2MHz) if not provided.
	SpiClockHz int
}

// New creates and initializes a new SX1262 driver for Linux systems.
// It applies configuration defaults, asserts the power rail enable line when
// one is configured, initializes the GPIO and SPI interfaces using periph.io,
// and configures the radio module.
// It returns the initialized driver or an error if hardware initialization fails.
func New(c Config) (*Device, error) {
	// 1. Initialize periph.io host (Required for both SPI and GPIO)
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	// 2. Power rail. The radio is unreachable until this line is asserted.
	if c.PowerPin != 0 {
		powerName := fmt.Sprintf("GPIO%d", c.PowerPin)
		power := gpioreg.ByName(powerName)
		if power == nil {
			return nil, fmt.Errorf("failed to open power pin %s", powerName)
		}
		if err := power.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("failed to assert power pin %s: %w", powerName, err)
		}
		if c.PowerSettle == 0 {
			c.PowerSettle = 100 * time.Millisecond
		}
		time.Sleep(c.PowerSettle)
	}

	// 3. Default SPI Path
	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}

	// 4. Open the SPI Port
	p, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	// 5. Default Clock
	if c.SpiClockHz == 0 {
		c.SpiClockHz = 2000000
	}

	// 6. Create the SPI Connection (Mode 0, 8 bits)
	conn, err := p.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	// 7. Setup RST and BUSY pins
	if c.RSTPin == 0 {
		c.RSTPin = 17
	}
	if c.BUSYPin == 0 {
		c.BUSYPin = 20
	}
	rstName := fmt.Sprintf("GPIO%d", c.RSTPin)
	realRst := gpioreg.ByName(rstName)
	if realRst == nil {
		p.Close()
		return nil, fmt.Errorf("failed to open RST pin %s", rstName)
	}
	busyName := fmt.Sprintf("GPIO%d", c.BUSYPin)
	realBusy := gpioreg.ByName(busyName)
	if realBusy == nil {
		p.Close()
		return nil, fmt.Errorf("failed to open BUSY pin %s", busyName)
	}

	// 8. Setup DIO1 pin
	var dio1Wrapper Pin
	if c.DIO1Pin != 0 {
		dio1Name := fmt.Sprintf("GPIO%d", c.DIO1Pin)
		realDio1 := gpioreg.ByName(dio1Name)
		if realDio1 == nil {
			p.Close()
			return nil, fmt.Errorf("failed to open DIO1 pin %s", dio1Name)
		}
		dio1Wrapper = &realPin{PinIO: realDio1}
	}

	// 9. Call internal constructor
	hwConfig := HardwareConfig{
		RadioConfig: c.RadioConfig,
		RST:         &realPin{PinIO: realRst},
		BUSY:        &realPin{PinIO: realBusy},
		DIO1:        dio1Wrapper,
	}
	dev, err := NewWithHardware(hwConfig, conn)
	if err != nil {
		p.Close()
		return nil, err
	}

	// Store the port closer so we can close it later
	dev.port = p
	return dev, nil
}
