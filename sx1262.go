package sx1262

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrPkg         = errors.New("sx1262dev")
	ErrTimeout     = errors.New("timeout waiting for transmission")
	ErrBusyTimeout = errors.New("timeout waiting for busy line")
)

type (
	Bandwidth  byte
	CodingRate byte
)

const (
	// Bandwidth125kHz represents a bandwidth of 125 kHz
	Bandwidth125kHz Bandwidth = iota
	// Bandwidth250kHz represents a bandwidth of 250 kHz
	Bandwidth250kHz
	// Bandwidth500kHz represents a bandwidth of 500 kHz
	Bandwidth500kHz
	// Bandwidth62_5kHz represents a bandwidth of 62.5 kHz
	Bandwidth62_5kHz
	// Bandwidth41_7kHz represents a bandwidth of 41.67 kHz
	Bandwidth41_7kHz
	// Bandwidth31_25kHz represents a bandwidth of 31.25 kHz
	Bandwidth31_25kHz
	// Bandwidth20_8kHz represents a bandwidth of 20.83 kHz
	Bandwidth20_8kHz
	// Bandwidth15_6kHz represents a bandwidth of 15.63 kHz
	Bandwidth15_6kHz
	// Bandwidth10_4kHz represents a bandwidth of 10.42 kHz
	Bandwidth10_4kHz
	// Bandwidth7_8kHz represents a bandwidth of 7.81 kHz
	Bandwidth7_8kHz
)

// code returns the SX1262 LoRa bandwidth setting for the SetModulationParams command.
func (b Bandwidth) code() byte {
	switch b {
	case Bandwidth125kHz:
		return 0x04
	case Bandwidth250kHz:
		return 0x05
	case Bandwidth500kHz:
		return 0x06
	case Bandwidth62_5kHz:
		return 0x03
	case Bandwidth41_7kHz:
		return 0x0A
	case Bandwidth31_25kHz:
		return 0x02
	case Bandwidth20_8kHz:
		return 0x09
	case Bandwidth15_6kHz:
		return 0x01
	case Bandwidth10_4kHz:
		return 0x08
	case Bandwidth7_8kHz:
		return 0x00
	default:
		return 0x04
	}
}

// Hz returns the bandwidth in Hertz.
func (b Bandwidth) Hz() int {
	switch b {
	case Bandwidth125kHz:
		return 125000
	case Bandwidth250kHz:
		return 250000
	case Bandwidth500kHz:
		return 500000
	case Bandwidth62_5kHz:
		return 62500
	case Bandwidth41_7kHz:
		return 41670
	case Bandwidth31_25kHz:
		return 31250
	case Bandwidth20_8kHz:
		return 20830
	case Bandwidth15_6kHz:
		return 15630
	case Bandwidth10_4kHz:
		return 10420
	case Bandwidth7_8kHz:
		return 7810
	default:
		return 125000
	}
}

func (b Bandwidth) String() string {
	switch b {
	case Bandwidth125kHz:
		return "125kHz"
	case Bandwidth250kHz:
		return "250kHz"
	case Bandwidth500kHz:
		return "500kHz"
	case Bandwidth62_5kHz:
		return "62.5kHz"
	case Bandwidth41_7kHz:
		return "41.7kHz"
	case Bandwidth31_25kHz:
		return "31.25kHz"
	case Bandwidth20_8kHz:
		return "20.8kHz"
	case Bandwidth15_6kHz:
		return "15.6kHz"
	case Bandwidth10_4kHz:
		return "10.4kHz"
	case Bandwidth7_8kHz:
		return "7.8kHz"
	default:
		return "unknown"
	}
}

const (
	// CodingRate4_5 represents a coding rate of 4/5
	CodingRate4_5 CodingRate = iota
	// CodingRate4_6 represents a coding rate of 4/6
	CodingRate4_6
	// CodingRate4_7 represents a coding rate of 4/7
	CodingRate4_7
	// CodingRate4_8 represents a coding rate of 4/8
	CodingRate4_8
)

// code returns the SX1262 coding rate setting for the SetModulationParams command.
func (c CodingRate) code() byte {
	return byte(c) + 1
}

func (c CodingRate) String() string {
	switch c {
	case CodingRate4_5:
		return "4/5"
	case CodingRate4_6:
		return "4/6"
	case CodingRate4_7:
		return "4/7"
	case CodingRate4_8:
		return "4/8"
	default:
		return "unknown"
	}
}

type RadioConfig struct {
	// FrequencyHz is the RF center frequency in Hz. The SX1262 tunes in steps
	// of 32MHz/2^25 (~0.95Hz).
	// Defaults to 915000000 (915 MHz, US ISM band) if not provided.
	FrequencyHz uint32
	// Bandwidth sets the LoRa signal bandwidth.
	// Defaults to Bandwidth125kHz if not provided.
	Bandwidth Bandwidth
	// SpreadingFactor sets the LoRa spreading factor.
	// Range: 5 to 12.
	// Defaults to 7 if not provided.
	SpreadingFactor uint8
	// CodingRate sets the forward error correction coding rate.
	// Defaults to CodingRate4_5 if not provided.
	CodingRate CodingRate
	// SyncWord is the LoRa sync word distinguishing this network's traffic.
	// 0x12 is the conventional private-network word, 0x34 the LoRaWAN public one.
	// Defaults to 0x12 if not provided.
	SyncWord byte
	// TxPowerDBm sets the output power.
	// Range: -9 to 22.
	// Defaults to 14 if not provided.
	TxPowerDBm int8
	// PreambleLength is the preamble length in symbols.
	// Defaults to 8 if not provided.
	PreambleLength uint16
	// DisableCRC disables the hardware payload CRC.
	// Defaults to false (CRC enabled) if not provided.
	DisableCRC bool
	// ImplicitHeader selects implicit (fixed-length) header framing.
	// Defaults to false (explicit header mode) if not provided.
	ImplicitHeader bool
	// DisableDIO2RfSwitch disables driving the antenna switch from DIO2.
	// Most SX1262 modules (Heltec V3 included) route the RF switch to DIO2,
	// so this defaults to false (DIO2 controls the switch).
	DisableDIO2RfSwitch bool
}

type HardwareConfig struct {
	RadioConfig
	// RST is the reset pin interface. Required.
	RST Pin
	// BUSY is the busy line interface. Required. The SX1262 rejects commands
	// while BUSY is high, so every command waits for it to drop first.
	BUSY Pin
	// DIO1 is the interrupt pin interface.
	// Optional. If not provided, polling is used.
	DIO1 Pin
}

type Device struct {
	config  HardwareConfig
	conn    SPI
	irqChan chan struct{}
	port    io.Closer
	mu      sync.Mutex
	scratch [260]byte // Max payload (255) + opcode + address/offset bytes
}

// NewWithHardware creates and initializes a new SX1262 driver with the provided
// hardware interfaces. It resets the chip, applies the fixed radio configuration
// and verifies the SPI link by reading the sync word back. The configuration is
// not mutated after initialization.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	if c.FrequencyHz == 0 {
		c.FrequencyHz = 915000000
	}
	if c.SpreadingFactor == 0 {
		c.SpreadingFactor = 7
	}
	if c.SpreadingFactor < 5 || c.SpreadingFactor > 12 {
		return nil, fmt.Errorf("SpreadingFactor must be between 5 and 12")
	}
	if c.Bandwidth > Bandwidth7_8kHz {
		return nil, fmt.Errorf("unknown bandwidth setting")
	}
	if c.CodingRate > CodingRate4_8 {
		return nil, fmt.Errorf("unknown coding rate setting")
	}
	if c.SyncWord == 0 {
		c.SyncWord = 0x12
	}
	if c.TxPowerDBm == 0 {
		c.TxPowerDBm = 14
	}
	if c.TxPowerDBm < -9 || c.TxPowerDBm > 22 {
		return nil, fmt.Errorf("TxPowerDBm must be between -9 and 22")
	}
	if c.PreambleLength == 0 {
		c.PreambleLength = 8
	}

	if c.RST == nil {
		return nil, fmt.Errorf("RST pin not configured")
	}
	if c.BUSY == nil {
		return nil, fmt.Errorf("BUSY pin not configured")
	}

	dev := &Device{
		config: c,
		conn:   conn,
	}

	// --- Hardware Initialization ---

	globalLogger.Info("Initializing SX1262 SPI communication...")

	// Setup BUSY as input
	dev.config.BUSY.In(PullNoChange)

	// Setup DIO1 if provided
	if dev.config.DIO1 != nil {
		dev.config.DIO1.In(PullDown)
		dev.irqChan = make(chan struct{}, 1)
		// DIO1 is active high on the SX1262, so watch the rising edge.
		err := dev.config.DIO1.Watch(RisingEdge, func() {
			select {
			case dev.irqChan <- struct{}{}:
			default:
				// Channel full
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch DIO1 pin: %w", err)
		}
	}

	// 1. Hardware reset, then wait for the chip to come out of its boot sequence
	dev.config.RST.Out(Low)
	time.Sleep(time.Millisecond)
	dev.config.RST.Out(High)
	time.Sleep(5 * time.Millisecond)
	if err := dev.waitBusy(); err != nil {
		return nil, fmt.Errorf("chip did not leave reset: %w", err)
	}

	// 2. Standby (RC oscillator) and LoRa packet type. The packet type must be
	// selected before any other modem configuration.
	if err := dev.command(_SET_STANDBY, _STDBY_RC); err != nil {
		return nil, err
	}
	if err := dev.command(_SET_PACKET_TYPE, _PACKET_TYPE_LORA); err != nil {
		return nil, err
	}
	// DC-DC regulator mode; the SX1262 modules this targets all wire the
	// buck converter, and the LDO-only default wastes power
	if err := dev.command(_SET_REGULATOR_MODE, _REGULATOR_DC_DC); err != nil {
		return nil, err
	}

	// 3. RF switch control. On modules wired like the Heltec V3 the TX/RX
	// switch is driven by DIO2 and transmission fails silently without this.
	if !dev.config.DisableDIO2RfSwitch {
		if err := dev.command(_SET_DIO2_AS_RF_SWITCH, 0x01); err != nil {
			return nil, err
		}
	}

	// 4. RF frequency
	frf := uint32(uint64(dev.config.FrequencyHz) << _FREQ_SHIFT / _XTAL_FREQ_HZ)
	err := dev.command(_SET_RF_FREQUENCY,
		byte(frf>>24), byte(frf>>16), byte(frf>>8), byte(frf))
	if err != nil {
		return nil, err
	}

	// 5. PA configuration and TX parameters (SX1262 high-power PA)
	if err := dev.command(_SET_PA_CONFIG, 0x04, 0x07, 0x00, 0x01); err != nil {
		return nil, err
	}
	if err := dev.command(_SET_TX_PARAMS, byte(dev.config.TxPowerDBm), _PA_RAMP_200U); err != nil {
		return nil, err
	}

	// 6. Buffer base addresses: TX and RX both start at zero
	if err := dev.command(_SET_BUFFER_BASE_ADDR, 0x00, 0x00); err != nil {
		return nil, err
	}

	// 7. Modulation parameters
	err = dev.command(_SET_MODULATION_PARAMS,
		dev.config.SpreadingFactor,
		dev.config.Bandwidth.code(),
		dev.config.CodingRate.code(),
		dev.lowDataRateOptimize())
	if err != nil {
		return nil, err
	}

	// 8. Packet parameters (max payload length until a packet is staged)
	if err := dev.setPacketParams(_MAX_PAYLOAD_BYTES); err != nil {
		return nil, err
	}

	// 9. Sync word. The one-byte word expands to two register bytes with 0x4
	// in the low nibbles (0x12 -> 0x1424).
	msb := (dev.config.SyncWord & 0xF0) | 0x04
	lsb := (dev.config.SyncWord&0x0F)<<4 | 0x04
	if err := dev.writeRegister(_REG_LORA_SYNC_WORD_MSB, []byte{msb, lsb}); err != nil {
		return nil, err
	}

	// 10. Verify Connection
	// Read back the sync word to ensure SPI write/read is working
	readback, err := dev.readRegister(_REG_LORA_SYNC_WORD_MSB, 2)
	if err != nil {
		return nil, err
	}
	if len(readback) != 2 || readback[0] != msb || readback[1] != lsb {
		dev.Close()
		return nil, fmt.Errorf("failed to verify SX1262 connection: check wiring/power")
	}

	// 11. IRQ routing: latch everything we care about, raise DIO1 on the
	// completion events
	irqMask := uint16(IrqTxDone | IrqRxDone | IrqCrcErr | IrqTimeout)
	err = dev.command(_SET_DIO_IRQ_PARAMS,
		byte(irqMask>>8), byte(irqMask),
		byte(irqMask>>8), byte(irqMask),
		0x00, 0x00, // DIO2 (RF switch)
		0x00, 0x00) // DIO3 unused
	if err != nil {
		return nil, err
	}
	if err := dev.clearIrqStatus(IrqAll); err != nil {
		return nil, err
	}

	globalLogger.Info("SX1262 initialized and configured. Ready to operate.")

	return dev, nil
}

func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("SX1262(Freq=%.1fMHz, SF%d, BW=%s, CR=%s, Sync=0x%02X, Power=%ddBm, Preamble=%d, CRC=%v)",
		float64(d.config.FrequencyHz)/1e6,
		d.config.SpreadingFactor,
		d.config.Bandwidth,
		d.config.CodingRate,
		d.config.SyncWord,
		d.config.TxPowerDBm,
		d.config.PreambleLength,
		!d.config.DisableCRC,
	)
}

// TxPowerDBm returns the configured output power.
func (d *Device) TxPowerDBm() int8 {
	return d.config.TxPowerDBm
}

// Close cleans up the resources used by the SX1262 driver.
// It puts the radio to sleep, closes the SPI connection, and releases GPIO pins.
// This method is concurrent safe.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	// 1. Put the radio to sleep
	// We duplicate logic here to avoid deadlock if we called Sleep() which locks
	dev.command(_SET_SLEEP, _SLEEP_WARM_START)
	globalLogger.Info("SX1262 put to sleep.")

	// 2. Clean up SPI
	if dev.port != nil {
		if err := dev.port.Close(); err != nil {
			globalLogger.Warn("Failed to close SPI port")
		}
		globalLogger.Info("SPI bus closed.")
	}

	// 3. Clean up GPIO
	if dev.config.DIO1 != nil {
		dev.config.DIO1.Unwatch()
	}
	globalLogger.Info("GPIO interface closed.")

	return nil
}

// --- SX1262 Core Functions (SPI interaction) ---

// waitBusy blocks until the BUSY line drops. The chip holds BUSY high while it
// processes the previous command; issuing a new command during that window
// corrupts it.
func (d *Device) waitBusy() error {
	for i := 0; i < 100; i++ {
		if d.config.BUSY.Read() == Low {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return fmt.Errorf("%w: %w", ErrPkg, ErrBusyTimeout)
}

func (d *Device) spiTransfer(len int) ([]byte, error) {
	// Perform full-duplex transaction on the scratch buffer
	// We use the same slice for read and write
	slice := d.scratch[:len]
	if err := d.conn.Tx(slice, slice); err != nil {
		globalLogger.Error("SPI Transfer Error")
		return nil, fmt.Errorf("%w: spi transfer: %w", ErrPkg, err)
	}
	return slice, nil
}

// command waits for BUSY and sends a single opcode with its arguments.
func (d *Device) command(opcode byte, args ...byte) error {
	if err := d.waitBusy(); err != nil {
		return err
	}
	d.scratch[0] = opcode
	copy(d.scratch[1:], args)
	_, err := d.spiTransfer(1 + len(args))
	return err
}

func (d *Device) writeRegister(addr uint16, data []byte) error {
	if err := d.waitBusy(); err != nil {
		return err
	}
	d.scratch[0] = _WRITE_REGISTER
	d.scratch[1] = byte(addr >> 8)
	d.scratch[2] = byte(addr)
	copy(d.scratch[3:], data)
	_, err := d.spiTransfer(3 + len(data))
	return err
}

func (d *Device) readRegister(addr uint16, n int) ([]byte, error) {
	if err := d.waitBusy(); err != nil {
		return nil, err
	}
	d.scratch[0] = _READ_REGISTER
	d.scratch[1] = byte(addr >> 8)
	d.scratch[2] = byte(addr)
	for i := 3; i < 4+n; i++ {
		d.scratch[i] = _NOP
	}
	// Response: opcode echo, address, one status byte, then the data
	resp, err := d.spiTransfer(4 + n)
	if err != nil {
		return nil, err
	}
	// Copy to a safe buffer, the scratch space is reused by the next command
	result := make([]byte, n)
	copy(result, resp[4:4+n])
	return result, nil
}

func (d *Device) writeBuffer(offset byte, data []byte) error {
	if err := d.waitBusy(); err != nil {
		return err
	}
	d.scratch[0] = _WRITE_BUFFER
	d.scratch[1] = offset
	copy(d.scratch[2:], data)
	_, err := d.spiTransfer(2 + len(data))
	return err
}

func (d *Device) readBuffer(offset byte, n int) ([]byte, error) {
	if err := d.waitBusy(); err != nil {
		return nil, err
	}
	d.scratch[0] = _READ_BUFFER
	d.scratch[1] = offset
	for i := 2; i < 3+n; i++ {
		d.scratch[i] = _NOP
	}
	// Response: opcode echo, offset, one status byte, then the data
	resp, err := d.spiTransfer(3 + n)
	if err != nil {
		return nil, err
	}
	// Copy to a safe buffer, the scratch space is reused by the next command
	result := make([]byte, n)
	copy(result, resp[3:3+n])
	return result, nil
}

func (d *Device) getIrqStatus() (uint16, error) {
	if err := d.waitBusy(); err != nil {
		return 0, err
	}
	d.scratch[0] = _GET_IRQ_STATUS
	d.scratch[1] = _NOP
	d.scratch[2] = _NOP
	d.scratch[3] = _NOP
	resp, err := d.spiTransfer(4)
	if err != nil {
		return 0, err
	}
	return uint16(resp[2])<<8 | uint16(resp[3]), nil
}

func (d *Device) clearIrqStatus(mask uint16) error {
	return d.command(_CLEAR_IRQ_STATUS, byte(mask>>8), byte(mask))
}

// setPacketParams writes the packet parameters with the given payload length.
// All other fields come from the fixed configuration.
func (d *Device) setPacketParams(payloadLen byte) error {
	header := byte(_HEADER_EXPLICIT)
	if d.config.ImplicitHeader {
		header = _HEADER_IMPLICIT
	}
	crc := byte(_CRC_ON)
	if d.config.DisableCRC {
		crc = _CRC_OFF
	}
	return d.command(_SET_PACKET_PARAMS,
		byte(d.config.PreambleLength>>8), byte(d.config.PreambleLength),
		header,
		payloadLen,
		crc,
		_IQ_STANDARD)
}

// lowDataRateOptimize returns the LDRO flag mandated for symbol durations of
// 16.38ms and up (SF11/SF12 at 125kHz, SF12 at 250kHz).
func (d *Device) lowDataRateOptimize() byte {
	symbolMs := (1 << d.config.SpreadingFactor) * 1000 / d.config.Bandwidth.Hz()
	if symbolMs >= 16 {
		return 0x01
	}
	return 0x00
}

// --- SX1262 Status/Diagnostics ---

// GetStatus reads the current chip mode and command status byte.
// This is useful for debugging or polling the radio state.
// This method is concurrent safe.
func (d *Device) GetStatus() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitBusy(); err != nil {
		return 0, err
	}
	d.scratch[0] = _GET_STATUS
	d.scratch[1] = _NOP
	resp, err := d.spiTransfer(2)
	if err != nil {
		return 0, err
	}
	return resp[1], nil
}

// GetIrqStatus reads the latched IRQ flags without clearing them.
// This method is concurrent safe.
func (d *Device) GetIrqStatus() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getIrqStatus()
}

// LastPacketStatus returns the RSSI (dBm) and SNR (dB) of the last received
// packet.
// This method is concurrent safe.
func (d *Device) LastPacketStatus() (rssiDBm int, snrDB int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitBusy(); err != nil {
		return 0, 0, err
	}
	d.scratch[0] = _GET_PACKET_STATUS
	for i := 1; i < 5; i++ {
		d.scratch[i] = _NOP
	}
	resp, err := d.spiTransfer(5)
	if err != nil {
		return 0, 0, err
	}
	rssiDBm = -int(resp[2]) / 2
	snrDB = int(int8(resp[3])) / 4
	return rssiDBm, snrDB, nil
}

// TimeOnAir returns the on-air duration of a packet with the given payload
// length under the fixed configuration.
func (d *Device) TimeOnAir(payloadLen int) time.Duration {
	sf := int(d.config.SpreadingFactor)
	crc := 1
	if d.config.DisableCRC {
		crc = 0
	}
	ih := 0
	if d.config.ImplicitHeader {
		ih = 1
	}
	de := int(d.lowDataRateOptimize())

	num := 8*payloadLen - 4*sf + 28 + 16*crc - 20*ih
	den := 4 * (sf - 2*de)
	symbols := 0
	if num > 0 {
		symbols = (num + den - 1) / den * (int(d.config.CodingRate.code()) + 4)
	}
	payloadSymbols := 8 + symbols

	// Total duration in quarter symbols: preamble + 4.25 sync + payload
	quarters := 4*int(d.config.PreambleLength) + 17 + 4*payloadSymbols
	return time.Duration(int64(quarters) * int64(1<<sf) * int64(time.Second) /
		int64(4*d.config.Bandwidth.Hz()))
}

// --- SX1262 Power Management ---

// Sleep puts the SX1262 into sleep mode with configuration retention.
// Current consumption drops to about 600nA; any command wakes the chip back
// into standby.
// This method is concurrent safe.
func (d *Device) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(_SET_SLEEP, _SLEEP_WARM_START)
}

// Standby puts the SX1262 into standby mode (RC oscillator).
// This method is concurrent safe.
func (d *Device) Standby() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(_SET_STANDBY, _STDBY_RC)
}

// --- SX1262 Transmit/Receive ---

// Transmit sends a single LoRa packet and blocks until the transmission has
// completed on air (TX_DONE) or failed. A failed transmission leaves the radio
// in standby, ready for the next attempt; the driver never retries on its own.
// This method is concurrent safe.
func (dev *Device) Transmit(p []byte) error {
	if len(p) == 0 || len(p) > _MAX_PAYLOAD_BYTES {
		return fmt.Errorf("%w: payload must be 1 to %d bytes, got %d", ErrPkg, _MAX_PAYLOAD_BYTES, len(p))
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.command(_SET_STANDBY, _STDBY_RC); err != nil {
		return err
	}
	if err := dev.command(_SET_BUFFER_BASE_ADDR, 0x00, 0x00); err != nil {
		return err
	}
	if err := dev.writeBuffer(0x00, p); err != nil {
		return err
	}
	if err := dev.setPacketParams(byte(len(p))); err != nil {
		return err
	}
	if err := dev.clearIrqStatus(IrqAll); err != nil {
		return err
	}
	// SetTx with the hardware timeout disabled; the poll loop below enforces
	// a software timeout derived from the time on air.
	if err := dev.command(_SET_TX, 0x00, 0x00, 0x00); err != nil {
		return err
	}

	timeoutDuration := 2*dev.TimeOnAir(len(p)) + 200*time.Millisecond
	timeout := time.After(timeoutDuration)

	for {
		select {
		case <-timeout:
			dev.clearIrqStatus(IrqAll)
			dev.command(_SET_STANDBY, _STDBY_RC)
			return fmt.Errorf("%w: %w", ErrPkg, ErrTimeout)
		default:
			irq, err := dev.getIrqStatus()
			if err != nil {
				return err
			}
			if irq&(IrqTxDone|IrqTimeout) != 0 {
				dev.clearIrqStatus(IrqAll)
				dev.command(_SET_STANDBY, _STDBY_RC)
				if irq&IrqTimeout != 0 {
					return fmt.Errorf("%w: %w (irq=0x%04X)", ErrPkg, ErrTimeout, irq)
				}
				return nil
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// StartReceive puts the radio into continuous receive mode.
// This method is concurrent safe.
func (d *Device) StartReceive() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.command(_SET_STANDBY, _STDBY_RC); err != nil {
		return err
	}
	if err := d.clearIrqStatus(IrqAll); err != nil {
		return err
	}
	return d.command(_SET_RX,
		byte(_RX_CONTINUOUS>>16), byte(_RX_CONTINUOUS>>8&0xFF), byte(_RX_CONTINUOUS&0xFF))
}

// Receive tries to fetch a received packet from the SX1262 buffer.
// This method is non-blocking and assumes the radio has been put into receive
// mode with StartReceive. Packets failing the CRC check are dropped.
// It returns the payload and true if a packet is available, otherwise nil and false.
// This method is concurrent safe.
func (dev *Device) Receive() ([]byte, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	irq, err := dev.getIrqStatus()
	if err != nil || irq&IrqRxDone == 0 {
		return nil, false
	}
	defer dev.clearIrqStatus(IrqAll)

	if irq&IrqCrcErr != 0 {
		globalLogger.Warn("Dropping packet with CRC error")
		return nil, false
	}

	// GetRxBufferStatus: payload length and start offset of the last packet
	if err := dev.waitBusy(); err != nil {
		return nil, false
	}
	dev.scratch[0] = _GET_RX_BUFFER_STATUS
	dev.scratch[1] = _NOP
	dev.scratch[2] = _NOP
	dev.scratch[3] = _NOP
	resp, err := dev.spiTransfer(4)
	if err != nil {
		return nil, false
	}
	size, offset := resp[2], resp[3]
	if size == 0 {
		return nil, false
	}

	payload, err := dev.readBuffer(offset, int(size))
	if err != nil {
		return nil, false
	}
	return payload, true
}

// WaitForInterrupt blocks until DIO1 goes high (active) or the context is
// cancelled. It returns the content of the IRQ status.
// If the DIO1 pin is not configured, it returns an error.
// This method is concurrent safe.
func (d *Device) WaitForInterrupt(ctx context.Context) (uint16, error) {
	if d.config.DIO1 == nil {
		return 0, fmt.Errorf("DIO1 pin not configured")
	}

	// Check if the interrupt is already asserted
	if d.config.DIO1.Read() == High {
		return d.GetIrqStatus()
	}

	// Wait for signal from the Watch callback or context
	select {
	case <-d.irqChan:
		return d.GetIrqStatus()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReceiveBlocking waits for a packet to arrive or for the context to be
// cancelled. It blocks efficiently using the DIO1 pin if configured, or falls
// back to polling.
// This method is concurrent safe.
func (d *Device) ReceiveBlocking(ctx context.Context) ([]byte, error) {
	for {
		// Check for cancellation
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// 1. Check if a packet is already available
		data, ok := d.Receive() // Receive is already thread-safe
		if ok {
			return data, nil
		}

		// 2. Wait for data
		if d.config.DIO1 != nil {
			irq, err := d.WaitForInterrupt(ctx)
			if err != nil {
				return nil, err
			}

			if irq&IrqRxDone != 0 {
				// Loop again to call Receive() and fetch the payload
				continue
			}
			// Another interrupt fired (e.g. CRC error), clear it so we don't get stuck
			d.mu.Lock()
			d.clearIrqStatus(irq)
			d.mu.Unlock()
		} else {
			// Polling fallback
			time.Sleep(5 * time.Millisecond)
		}
	}
}
