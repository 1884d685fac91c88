// Package beacon implements a periodic LoRa test transmitter. It formats a
// counter-stamped payload, hands it to a radio for synchronous transmission,
// reports the outcome and sleeps for a fixed interval, forever. Transmit
// failures are reported and skipped; the counter keeps advancing, so a gap in
// received packet numbers is the receiver-side signature of a lost packet.
package beacon

import (
	"errors"
	"fmt"
	"time"
)

// Transmitter sends a single packet and blocks until the transmission has
// completed on air. *sx1262.Device satisfies this.
type Transmitter interface {
	Transmit(p []byte) error
}

// Logger is the subset of the driver's logging interface the beacon reports
// through.
type Logger interface {
	Info(msg string)
	Error(msg string)
}

type nopLogger struct{}

func (nopLogger) Info(msg string)  {}
func (nopLogger) Error(msg string) {}

type Config struct {
	// Label is the payload prefix; packets are "<label> #<counter>".
	// Defaults to "GR-MCP" if not provided.
	Label string
	// Interval is the pause between iterations, measured from the end of one
	// transmission to the start of the next.
	// Defaults to 3s if not provided.
	Interval time.Duration
	// TxPowerDBm is the configured radio output power, echoed on success lines.
	TxPowerDBm int8
	// MaxPayloadLen bounds the formatted payload; longer payloads are
	// truncated, not rejected.
	// Defaults to 64 if not provided.
	MaxPayloadLen int
	// Logger receives the per-iteration report lines.
	// Defaults to a no-op logger if not provided.
	Logger Logger
}

// Beacon is the transmit loop state: the fixed configuration and the packet
// counter. The counter wraps to zero at its maximum value, which is benign.
type Beacon struct {
	config  Config
	tx      Transmitter
	counter uint32
}

// New creates a beacon driving the given transmitter.
func New(tx Transmitter, c Config) (*Beacon, error) {
	if tx == nil {
		return nil, errors.New("beacon: transmitter not configured")
	}
	if c.Label == "" {
		c.Label = "GR-MCP"
	}
	if c.Interval == 0 {
		c.Interval = 3 * time.Second
	}
	if c.MaxPayloadLen == 0 {
		c.MaxPayloadLen = 64
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return &Beacon{config: c, tx: tx}, nil
}

// Counter returns the value that will stamp the next packet.
func (b *Beacon) Counter() uint32 {
	return b.counter
}

// payload formats the next packet. Truncation to the configured bound happens
// by construction; the counter's decimal form never gets near it in practice.
func (b *Beacon) payload() string {
	s := fmt.Sprintf("%s #%d", b.config.Label, b.counter)
	if len(s) > b.config.MaxPayloadLen {
		s = s[:b.config.MaxPayloadLen]
	}
	return s
}

// Step runs one beacon iteration: format, transmit, report, advance the
// counter. A transmit failure is reported but never retried and never stops
// the loop; the counter advances regardless of the outcome.
func (b *Beacon) Step() {
	n := b.counter
	payload := b.payload()

	err := b.tx.Transmit([]byte(payload))
	if err != nil {
		b.config.Logger.Error(fmt.Sprintf("[TX %d] %q FAIL: %v", n, payload, err))
	} else {
		b.config.Logger.Info(fmt.Sprintf("[TX %d] %q OK (%d dBm)", n, payload, b.config.TxPowerDBm))
	}

	b.counter++
}

// Run executes Step forever with the fixed interval between iterations. The
// interval is additive to transmission time: each pause starts after the
// previous synchronous transmit call has returned. Run never returns; the loop
// ends only with power loss or external reset.
func (b *Beacon) Run() {
	for {
		b.Step()
		time.Sleep(b.config.Interval)
	}
}
