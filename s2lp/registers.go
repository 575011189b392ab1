// Copyright 2025 by the ttrack authors, see LICENSE file

package s2lp

// Register map, see the S2-LP datasheet (DS11896) register table.
const (
	REG_GPIO0_CONF = 0x00
	REG_GPIO1_CONF = 0x01
	REG_GPIO2_CONF = 0x02
	REG_GPIO3_CONF = 0x03
	REG_SYNT3      = 0x05
	REG_SYNT2      = 0x06
	REG_SYNT1      = 0x07
	REG_SYNT0      = 0x08
	REG_MOD4       = 0x0E // datarate mantissa MSB
	REG_MOD3       = 0x0F // datarate mantissa LSB
	REG_MOD2       = 0x10 // modulation type + datarate exponent
	REG_MOD1       = 0x11 // fdev exponent
	REG_MOD0       = 0x12 // fdev mantissa
	REG_CHFLT      = 0x13 // channel filter mantissa + exponent
	REG_RSSI_TH    = 0x18
	REG_ANT_SELECT = 0x1F
	REG_PCKTCTRL6  = 0x2B
	REG_PCKTCTRL5  = 0x2C
	REG_PCKTCTRL3  = 0x2E
	REG_PCKTCTRL2  = 0x2F
	REG_PCKTCTRL1  = 0x30
	REG_PCKTLEN1   = 0x31
	REG_PCKTLEN0   = 0x32
	REG_SYNC3      = 0x33
	REG_SYNC2      = 0x34
	REG_SYNC1      = 0x35
	REG_SYNC0      = 0x36
	REG_QI         = 0x37
	REG_PROTOCOL2  = 0x39
	REG_PROTOCOL1  = 0x3A

	// FIFO almost-full/almost-empty threshold registers. The FifoThreshold
	// values below are these addresses, as in the datasheet register map.
	REG_FIFO_CONFIG3 = 0x3C // RX almost full
	REG_FIFO_CONFIG2 = 0x3D // RX almost empty
	REG_FIFO_CONFIG1 = 0x3E // TX almost full
	REG_FIFO_CONFIG0 = 0x3F // TX almost empty

	REG_IRQ_MASK3 = 0x50 // IRQ mask bits 31:24
	REG_IRQ_MASK2 = 0x51
	REG_IRQ_MASK1 = 0x52
	REG_IRQ_MASK0 = 0x53 // IRQ mask bits 7:0

	REG_PA_POWER8     = 0x5A
	REG_PA_POWER0     = 0x62
	REG_PA_CONFIG1    = 0x63
	REG_PA_CONFIG0    = 0x64
	REG_SYNTH_CONFIG2 = 0x65
	REG_XO_RCO_CONF1  = 0x6C
	REG_XO_RCO_CONF0  = 0x6D
	REG_PM_CONF3      = 0x76
	REG_PM_CONF2      = 0x77

	REG_MC_STATE1    = 0x8D
	REG_MC_STATE0    = 0x8E
	REG_TX_FIFO_STAT = 0x8F
	REG_RX_FIFO_STAT = 0x90
	REG_RSSI_LEVEL   = 0xA2
	REG_DEVICE_INFO1 = 0xF0 // part number
	REG_DEVICE_INFO0 = 0xF1 // version
	REG_IRQ_STATUS3  = 0xFA
	REG_IRQ_STATUS0  = 0xFD

	REG_FIFO = 0xFF // linear FIFO access
)

// SPI header bytes, sent as the first byte of every transaction.
const (
	HEADER_WRITE   = 0x00
	HEADER_READ    = 0x01
	HEADER_COMMAND = 0x80
)

// Command strobes.
const (
	CMD_TX           = 0x60
	CMD_RX           = 0x61
	CMD_READY        = 0x62
	CMD_STANDBY      = 0x63
	CMD_SLEEP        = 0x64
	CMD_LOCKRX       = 0x65
	CMD_LOCKTX       = 0x66
	CMD_SABORT       = 0x67
	CMD_LDC_RELOAD   = 0x68
	CMD_SRES         = 0x70
	CMD_FLUSHRXFIFO  = 0x71
	CMD_FLUSHTXFIFO  = 0x72
	CMD_SEQ_UPDATE   = 0x73
)

// Expected DEVICE_INFO contents.
const (
	DEVICE_PARTNUM = 0x03
	DEVICE_VERSION = 0xC1
)

// FifoSize is the depth of the chip's TX and RX FIFOs.
const FifoSize = 128

// State is the chip operating state as reported in MC_STATE0[7:1]. The values
// are the raw 7-bit codes from the datasheet.
type State byte

const (
	StateReady      State = 0x00
	StateSleepA     State = 0x01
	StateStandby    State = 0x02
	StateSleepB     State = 0x03
	StateLock       State = 0x0C
	StateRx         State = 0x30
	StateSynthSetup State = 0x50
	StateTx         State = 0x5C
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateSleepA:
		return "SLEEP_A"
	case StateStandby:
		return "STANDBY"
	case StateSleepB:
		return "SLEEP_B"
	case StateLock:
		return "LOCK"
	case StateRx:
		return "RX"
	case StateSynthSetup:
		return "SYNTH_SETUP"
	case StateTx:
		return "TX"
	}
	return "UNKNOWN"
}

// valid reports whether s is one of the documented state codes.
func (s State) valid() bool {
	switch s {
	case StateReady, StateSleepA, StateStandby, StateSleepB,
		StateLock, StateRx, StateSynthSetup, StateTx:
		return true
	}
	return false
}

// Modulation selects the TX modulation scheme, MOD2[7:4].
type Modulation byte

const (
	Modulation2FSK      Modulation = 0x00
	Modulation4FSK      Modulation = 0x01
	Modulation2GFSKBT1  Modulation = 0x02
	Modulation4GFSKBT1  Modulation = 0x03
	ModulationASKOOK    Modulation = 0x05
	ModulationPolar     Modulation = 0x06
	ModulationNone      Modulation = 0x07
	Modulation2GFSKBT05 Modulation = 0x0A
	Modulation4GFSKBT05 Modulation = 0x0B
)

// GPIOMode configures a chip GPIO pin as input or output, GPIOx_CONF[1:0].
type GPIOMode byte

const (
	GPIOModeIn           GPIOMode = 0x01
	GPIOModeOutLowPower  GPIOMode = 0x02
	GPIOModeOutHighPower GPIOMode = 0x03
)

// GPIOFunction selects the signal driven on an output GPIO, GPIOx_CONF[7:3].
type GPIOFunction byte

const (
	GPIOFuncNIRQ         GPIOFunction = 0x00
	GPIOFuncNPOR         GPIOFunction = 0x01
	GPIOFuncWUT          GPIOFunction = 0x02
	GPIOFuncLowBatt      GPIOFunction = 0x03
	GPIOFuncTxDataClock  GPIOFunction = 0x04
	GPIOFuncTxState      GPIOFunction = 0x05
	GPIOFuncFifoEmpty    GPIOFunction = 0x06
	GPIOFuncFifoFull     GPIOFunction = 0x07
	GPIOFuncRxData       GPIOFunction = 0x08
	GPIOFuncRxClock      GPIOFunction = 0x09
	GPIOFuncRxState      GPIOFunction = 0x0A
	GPIOFuncSleepStandby GPIOFunction = 0x0B
	GPIOFuncStandby      GPIOFunction = 0x0C
	GPIOFuncAntenna      GPIOFunction = 0x0D
	GPIOFuncPreamble     GPIOFunction = 0x0E
	GPIOFuncSyncWord     GPIOFunction = 0x0F
	GPIOFuncRSSI         GPIOFunction = 0x10
	GPIOFuncTxRx         GPIOFunction = 0x12
	GPIOFuncVDD          GPIOFunction = 0x13
	GPIOFuncGND          GPIOFunction = 0x14
	GPIOFuncSMPS         GPIOFunction = 0x15
	GPIOFuncSleep        GPIOFunction = 0x16
	GPIOFuncReady        GPIOFunction = 0x17
	GPIOFuncLock         GPIOFunction = 0x18
	GPIOFuncLockDetector GPIOFunction = 0x19
	GPIOFuncTxDataOOK    GPIOFunction = 0x1A
	GPIOFuncReady2       GPIOFunction = 0x1B
	GPIOFuncPM           GPIOFunction = 0x1C
	GPIOFuncVCO          GPIOFunction = 0x1D
	GPIOFuncSynth        GPIOFunction = 0x1E
)

// IRQIndex is a bit index into the 32-bit interrupt mask/status word.
// Indices 20..27 and 30..31 are reserved and must be left untouched.
type IRQIndex uint

const (
	IRQRxDataReady       IRQIndex = 0
	IRQRxDataDiscarded   IRQIndex = 1
	IRQTxDataSent        IRQIndex = 2
	IRQMaxReTxReached    IRQIndex = 3
	IRQCRCError          IRQIndex = 4
	IRQTxFifoError       IRQIndex = 5
	IRQRxFifoError       IRQIndex = 6
	IRQTxFifoAlmostFull  IRQIndex = 7
	IRQTxFifoAlmostEmpty IRQIndex = 8
	IRQRxFifoAlmostFull  IRQIndex = 9
	IRQRxFifoAlmostEmpty IRQIndex = 10
	IRQMaxBackoffCCA     IRQIndex = 11
	IRQValidPreamble     IRQIndex = 12
	IRQValidSync         IRQIndex = 13
	IRQRssiAboveThresh   IRQIndex = 14
	IRQWakeupTimeout     IRQIndex = 15
	IRQReady             IRQIndex = 16
	IRQStandbyDelayed    IRQIndex = 17
	IRQLowBattery        IRQIndex = 18
	IRQPowerOnReset      IRQIndex = 19
	IRQRxTimeout         IRQIndex = 28
	IRQRxSniffTimeout    IRQIndex = 29
)

// FifoThreshold identifies one of the four FIFO almost-full/almost-empty
// interrupt thresholds. The values are the FIFO_CONFIGx register addresses.
type FifoThreshold byte

const (
	FifoThresholdRxFull  FifoThreshold = REG_FIFO_CONFIG3
	FifoThresholdRxEmpty FifoThreshold = REG_FIFO_CONFIG2
	FifoThresholdTxFull  FifoThreshold = REG_FIFO_CONFIG1
	FifoThresholdTxEmpty FifoThreshold = REG_FIFO_CONFIG0
)

// TxSource selects where the transmitted bit stream comes from, PCKTCTRL1[3:2].
type TxSource byte

const (
	TxSourceNormal TxSource = 0x00
	TxSourceFifo   TxSource = 0x01
	TxSourceGPIO   TxSource = 0x02
	TxSourcePN9    TxSource = 0x03
)

// RxSource selects where received bits are routed, PCKTCTRL3[5:4].
type RxSource byte

const (
	RxSourceNormal RxSource = 0x00
	RxSourceFifo   RxSource = 0x01
	RxSourceGPIO   RxSource = 0x02
)

// PreamblePattern selects the preamble chip pattern, PCKTCTRL3[1:0].
type PreamblePattern byte

const (
	PreamblePattern0101 PreamblePattern = 0x00
	PreamblePattern1010 PreamblePattern = 0x01
	PreamblePattern1100 PreamblePattern = 0x02
	PreamblePattern0011 PreamblePattern = 0x03
)

// SmpsSetting is a pair of raw PM_CONF3/PM_CONF2 values selecting the
// switched-mode power supply operating point.
type SmpsSetting struct {
	PmConf3 byte
	PmConf2 byte
}

// SMPS operating points, swapped on TX/RX entry.
var (
	SmpsTx = SmpsSetting{0x9C, 0x28}
	SmpsRx = SmpsSetting{0x87, 0xFC}
)

// Oscillator selects the reference clock source.
type Oscillator byte

const (
	OscillatorQuartz Oscillator = 0x00
	OscillatorTCXO   Oscillator = 0x01
)
