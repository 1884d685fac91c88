package sx1262

// IRQ Status Bits
const (
	IrqTxDone           = 1 << 0 // TX_DONE
	IrqRxDone           = 1 << 1 // RX_DONE
	IrqPreambleDetected = 1 << 2 // PREAMBLE_DETECTED
	IrqSyncWordValid    = 1 << 3 // SYNC_WORD_VALID
	IrqHeaderValid      = 1 << 4 // HEADER_VALID
	IrqHeaderErr        = 1 << 5 // HEADER_ERR
	IrqCrcErr           = 1 << 6 // CRC_ERR
	IrqCadDone          = 1 << 7 // CAD_DONE
	IrqCadDetected      = 1 << 8 // CAD_DETECTED
	IrqTimeout          = 1 << 9 // TIMEOUT

	IrqAll = 0x03FF
)

// --- SX1262 Commands/Registers/Parameters ---

// SX1262 Command Opcodes
const (
	_SET_SLEEP             = 0x84
	_SET_STANDBY           = 0x80
	_SET_TX                = 0x83
	_SET_RX                = 0x82
	_SET_PACKET_TYPE       = 0x8A
	_SET_RF_FREQUENCY      = 0x86
	_SET_PA_CONFIG         = 0x95
	_SET_TX_PARAMS         = 0x8E
	_SET_BUFFER_BASE_ADDR  = 0x8F
	_SET_MODULATION_PARAMS = 0x8B
	_SET_PACKET_PARAMS     = 0x8C
	_SET_DIO_IRQ_PARAMS    = 0x08
	_SET_DIO2_AS_RF_SWITCH = 0x9D
	_SET_REGULATOR_MODE    = 0x96

	_WRITE_REGISTER = 0x0D
	_READ_REGISTER  = 0x1D
	_WRITE_BUFFER   = 0x0E
	_READ_BUFFER    = 0x1E

	_GET_IRQ_STATUS       = 0x12
	_CLEAR_IRQ_STATUS     = 0x02
	_GET_RX_BUFFER_STATUS = 0x13
	_GET_PACKET_STATUS    = 0x14
	_GET_STATUS           = 0xC0

	_NOP = 0x00
)

// SX1262 Register Addresses (16-bit address space)
const (
	_REG_LORA_SYNC_WORD_MSB = 0x0740
	//_REG_LORA_SYNC_WORD_LSB = 0x0741
	//_REG_OCP = 0x08E7
	//_REG_RX_GAIN = 0x08AC
)

// SX1262 Command Parameter Values
const (
	_PACKET_TYPE_LORA = 0x01

	_STDBY_RC = 0x00
	//_STDBY_XOSC = 0x01

	// Sleep with configuration retention (warm start)
	_SLEEP_WARM_START = 0x04

	_REGULATOR_DC_DC = 0x01

	// PA ramp time 200us
	_PA_RAMP_200U = 0x04

	_HEADER_EXPLICIT = 0x00
	_HEADER_IMPLICIT = 0x01

	_CRC_OFF = 0x00
	_CRC_ON  = 0x01

	_IQ_STANDARD = 0x00
	//_IQ_INVERTED = 0x01

	// SetRx timeout value for continuous receive
	_RX_CONTINUOUS = 0xFFFFFF
)

const _MAX_PAYLOAD_BYTES = 255

// The RF frequency is programmed in steps of 32MHz / 2^25 (~0.95 Hz).
const (
	_XTAL_FREQ_HZ = 32000000
	_FREQ_SHIFT   = 25
)
