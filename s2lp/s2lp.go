// Copyright 2025 by the ttrack authors, see LICENSE file

// The s2lp package drives an ST S2-LP sub-GHz transceiver connected to an SPI
// bus, with the chip select and shutdown lines on two gpio pins.
//
// The chip is operated through three primitives that share a single
// transaction shape: register writes, register reads and command strobes. The
// first two bytes clocked out by the chip during the header phase of every
// transaction are the MC_STATE registers, so each call also refreshes the
// decoded ChipStatus. The driver keeps the last commanded state next to the
// chip-reported one; the reported state is ground truth.
//
// All methods are blocking and none are safe for concurrent use: the tracker
// firmware runs one control sequence at a time and so does this driver. The
// only bounded-blocking primitives are WaitForState and WaitForXO, both of
// which poll under a monotonic deadline.
//
// The driver owns no buffers beyond per-transaction scratch space; FIFO
// payloads are bounded by the chip's 128-byte FIFO depth and longer payloads
// are the caller's chunking problem.
package s2lp

import (
	"errors"
	"fmt"
	"time"

	"github.com/ttrack/radio"
)

// Error kinds. Bus faults, bad chip status, state timeouts and encoder range
// violations are distinguishable with errors.Is.
var (
	ErrBus           = errors.New("s2lp: spi transfer failed")
	ErrInvalidStatus = errors.New("s2lp: invalid chip status")
	ErrStateTimeout  = errors.New("s2lp: state switch timeout")
	ErrOutOfRange    = errors.New("s2lp: value out of range")
	ErrBadDevice     = errors.New("s2lp: unexpected device info")
)

// ChipStatus is the decoded MC_STATE word returned during the header phase of
// every SPI transaction.
type ChipStatus struct {
	State       State
	XoOn        bool // crystal oscillator running
	ErrorLock   bool
	RxFifoEmpty bool
	TxFifoFull  bool
}

func decodeStatus(mcState1, mcState0 byte) ChipStatus {
	return ChipStatus{
		State:       State(mcState0 >> 1),
		XoOn:        mcState0&0x01 != 0,
		ErrorLock:   mcState1&0x01 != 0,
		RxFifoEmpty: mcState1&0x02 != 0,
		TxFifoFull:  mcState1&0x04 != 0,
	}
}

// LogPrintf is a function used by the driver to print logging info.
type LogPrintf func(format string, v ...interface{})

// Radio represents one S2-LP chip. There is a single instance per board; the
// component composing the system owns it and passes it by reference.
type Radio struct {
	spi radio.SPI
	cs  radio.Pin // chip select, active low
	sdn radio.Pin // shutdown, active high
	// state
	commanded State      // last commanded state
	status    ChipStatus // status decoded on the most recent transaction
	log       LogPrintf
	sleep     radio.Sleeper
}

// Opts contains options used when initializing a Radio.
type Opts struct {
	Logger LogPrintf     // function to use for logging, nil disables
	Sleep  radio.Sleeper // delay hook, nil uses time.Sleep
}

// New wires up a Radio on the given SPI device and control pins. The chip is
// left in shutdown; call ExitShutdown (or rfctl.Init) to wake it. The SPI bus
// must be set to 8MHz max and mode 0.
func New(dev radio.SPI, cs, sdn radio.Pin, opts Opts) (*Radio, error) {
	r := &Radio{
		spi:       dev,
		cs:        cs,
		sdn:       sdn,
		commanded: StateStandby,
		log:       func(format string, v ...interface{}) {},
		sleep:     time.Sleep,
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) {
			opts.Logger("s2lp: "+format, v...)
		}
	}
	if opts.Sleep != nil {
		r.sleep = opts.Sleep
	}
	if err := cs.Out(radio.High); err != nil {
		return nil, fmt.Errorf("s2lp: cannot release chip select: %v", err)
	}
	if err := sdn.Out(radio.High); err != nil {
		return nil, fmt.Errorf("s2lp: cannot drive shutdown pin: %v", err)
	}
	return r, nil
}

// Status returns the chip status decoded on the most recent transaction.
func (r *Radio) Status() ChipStatus { return r.status }

// LastCommanded returns the state most recently requested via SendCommand.
func (r *Radio) LastCommanded() State { return r.commanded }

// transact performs one chip-select-bracketed full-duplex exchange. The
// select line is released on every path, bus fault included.
func (r *Radio) transact(w, rx []byte) (ChipStatus, error) {
	csErr := r.cs.Out(radio.Low)
	txErr := r.spi.Tx(w, rx)
	if err := r.cs.Out(radio.High); err != nil && csErr == nil {
		csErr = err
	}
	if txErr != nil {
		return ChipStatus{}, fmt.Errorf("%w: %v", ErrBus, txErr)
	}
	if csErr != nil {
		return ChipStatus{}, fmt.Errorf("%w: chip select: %v", ErrBus, csErr)
	}
	st := decodeStatus(rx[0], rx[1])
	if !st.State.valid() {
		return st, fmt.Errorf("%w: state %#x", ErrInvalidStatus, byte(st.State))
	}
	r.status = st
	return st, nil
}

// WriteRegister writes one or multiple registers starting at addr, the chip
// auto-increments.
func (r *Radio) WriteRegister(addr byte, data ...byte) error {
	w := make([]byte, len(data)+2)
	rx := make([]byte, len(data)+2)
	w[0] = HEADER_WRITE
	w[1] = addr
	copy(w[2:], data)
	_, err := r.transact(w, rx)
	return err
}

// ReadRegister reads one register and returns its value.
func (r *Radio) ReadRegister(addr byte) (byte, error) {
	var w, rx [3]byte
	w[0] = HEADER_READ
	w[1] = addr
	if _, err := r.transact(w[:], rx[:]); err != nil {
		return 0, err
	}
	return rx[2], nil
}

// ReadRegisters reads len(buf) consecutive registers starting at addr.
func (r *Radio) ReadRegisters(addr byte, buf []byte) error {
	w := make([]byte, len(buf)+2)
	rx := make([]byte, len(buf)+2)
	w[0] = HEADER_READ
	w[1] = addr
	if _, err := r.transact(w, rx); err != nil {
		return err
	}
	copy(buf, rx[2:])
	return nil
}

// updateRegister read-modify-writes the bits of addr selected by mask.
func (r *Radio) updateRegister(addr, mask, value byte) error {
	v, err := r.ReadRegister(addr)
	if err != nil {
		return err
	}
	return r.WriteRegister(addr, v&^mask|value&mask)
}

// commandTargets maps strobes to the state they drive the chip toward.
var commandTargets = map[byte]State{
	CMD_TX:      StateTx,
	CMD_RX:      StateRx,
	CMD_READY:   StateReady,
	CMD_STANDBY: StateStandby,
	CMD_SLEEP:   StateSleepA,
	CMD_SABORT:  StateReady,
	CMD_LOCKRX:  StateLock,
	CMD_LOCKTX:  StateLock,
}

// SendCommand issues a command strobe. It does not wait for the resulting
// state transition; pair it with WaitForState.
func (r *Radio) SendCommand(cmd byte) error {
	var rx [2]byte
	if _, err := r.transact([]byte{HEADER_COMMAND, cmd}, rx[:]); err != nil {
		return err
	}
	if target, ok := commandTargets[cmd]; ok {
		r.commanded = target
	}
	r.log("command %#x (-> %v)", cmd, r.commanded)
	return nil
}

// ReadStatus refreshes and returns the chip status with a minimal two-byte
// exchange: the status word is clocked out during the header phase, so the
// register contents themselves are never transferred.
func (r *Radio) ReadStatus() (ChipStatus, error) {
	var rx [2]byte
	return r.transact([]byte{HEADER_READ, REG_MC_STATE0}, rx[:])
}

// WaitForState polls the chip status until it reports the target state or
// the timeout expires.
func (r *Radio) WaitForState(target State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st, err := r.ReadStatus()
		if err != nil {
			return err
		}
		if st.State == target {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %v not reached after %v, chip reports %v",
				ErrStateTimeout, target, timeout, st.State)
		}
		r.sleep(100 * time.Microsecond)
	}
}

// WaitForXO polls the chip status until the crystal oscillator reports
// running. Register contents are undefined before oscillator lock, so this
// must complete before any configuration access after ExitShutdown.
func (r *Radio) WaitForXO(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st, err := r.ReadStatus()
		if err != nil {
			return err
		}
		if st.XoOn {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: oscillator not running after %v", ErrStateTimeout, timeout)
		}
		r.sleep(100 * time.Microsecond)
	}
}

// EnterShutdown drives the shutdown pin high, cutting the chip's digital
// core. All register contents are lost.
func (r *Radio) EnterShutdown() error {
	if err := r.sdn.Out(radio.High); err != nil {
		return fmt.Errorf("%w: shutdown pin: %v", ErrBus, err)
	}
	r.sleep(time.Millisecond)
	r.commanded = StateStandby
	return nil
}

// ExitShutdown releases the shutdown pin and waits for the crystal
// oscillator to stabilize.
func (r *Radio) ExitShutdown() error {
	if err := r.sdn.Out(radio.Low); err != nil {
		return fmt.Errorf("%w: shutdown pin: %v", ErrBus, err)
	}
	r.sleep(time.Millisecond)
	return r.WaitForXO(100 * time.Millisecond)
}

// CheckDevice verifies the part number and version registers.
func (r *Radio) CheckDevice() error {
	var info [2]byte
	if err := r.ReadRegisters(REG_DEVICE_INFO1, info[:]); err != nil {
		return err
	}
	if info[0] != DEVICE_PARTNUM || info[1] != DEVICE_VERSION {
		return fmt.Errorf("%w: partnum %#x version %#x", ErrBadDevice, info[0], info[1])
	}
	r.log("device partnum %#x version %#x", info[0], info[1])
	return nil
}

// ConfigureGPIO sets up one of the chip's four gpio pins. fifoFlagTx selects
// whether the FIFO flag functions report the TX FIFO (true) or RX FIFO.
func (r *Radio) ConfigureGPIO(pin int, mode GPIOMode, fn GPIOFunction, fifoFlagTx bool) error {
	if pin < 0 || pin > 3 {
		return fmt.Errorf("%w: gpio pin %d", ErrOutOfRange, pin)
	}
	if err := r.WriteRegister(REG_GPIO0_CONF+byte(pin), byte(fn)<<3|byte(mode)); err != nil {
		return err
	}
	// FIFO_GPIO_OUT_MUX_SEL
	var sel byte
	if fifoFlagTx {
		sel = 0x04
	}
	return r.updateRegister(REG_PROTOCOL2, 0x04, sel)
}

// DisableGPIO reverts all four gpio pins to high-impedance inputs.
func (r *Radio) DisableGPIO() error {
	for pin := byte(0); pin < 4; pin++ {
		if err := r.WriteRegister(REG_GPIO0_CONF+pin, byte(GPIOModeIn)); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureIRQ enables or disables a single interrupt source. Only the
// addressed bit is touched; reserved bits keep their reset value.
func (r *Radio) ConfigureIRQ(idx IRQIndex, enable bool) error {
	if idx > IRQRxSniffTimeout || (idx > IRQPowerOnReset && idx < IRQRxTimeout) {
		return fmt.Errorf("%w: irq index %d", ErrOutOfRange, idx)
	}
	// IRQ_MASK0 holds bits 7:0, IRQ_MASK3 bits 31:24.
	addr := byte(REG_IRQ_MASK0) - byte(idx/8)
	bit := byte(1) << (idx % 8)
	var v byte
	if enable {
		v = bit
	}
	return r.updateRegister(addr, bit, v)
}

// ClearIRQFlags reads and discards the latched interrupt status. Reading
// clears on this chip family; skipping the read leaves stale flags armed.
func (r *Radio) ClearIRQFlags() error {
	_, err := r.ReadIRQFlags()
	return err
}

// ReadIRQFlags returns the latched 32-bit interrupt status, clearing it as a
// side effect of the read.
func (r *Radio) ReadIRQFlags() (uint32, error) {
	var buf [4]byte
	if err := r.ReadRegisters(REG_IRQ_STATUS3, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

// SetFifoThreshold programs one of the four FIFO almost-full/almost-empty
// interrupt thresholds. The value is in bytes, 7 bits wide.
func (r *Radio) SetFifoThreshold(th FifoThreshold, value byte) error {
	switch th {
	case FifoThresholdRxFull, FifoThresholdRxEmpty, FifoThresholdTxFull, FifoThresholdTxEmpty:
	default:
		return fmt.Errorf("%w: fifo threshold %#x", ErrOutOfRange, byte(th))
	}
	return r.WriteRegister(byte(th), value&0x7F)
}

// WriteFIFO floods up to 128 bytes into the TX FIFO.
func (r *Radio) WriteFIFO(data []byte) error {
	if len(data) == 0 || len(data) > FifoSize {
		return fmt.Errorf("%w: fifo write of %d bytes", ErrOutOfRange, len(data))
	}
	w := make([]byte, len(data)+2)
	rx := make([]byte, len(data)+2)
	w[0] = HEADER_WRITE
	w[1] = REG_FIFO
	copy(w[2:], data)
	_, err := r.transact(w, rx)
	return err
}

// ReadFIFO drains up to 128 bytes from the RX FIFO.
func (r *Radio) ReadFIFO(n int) ([]byte, error) {
	if n <= 0 || n > FifoSize {
		return nil, fmt.Errorf("%w: fifo read of %d bytes", ErrOutOfRange, n)
	}
	w := make([]byte, n+2)
	rx := make([]byte, n+2)
	w[0] = HEADER_READ
	w[1] = REG_FIFO
	if _, err := r.transact(w, rx); err != nil {
		return nil, err
	}
	return rx[2:], nil
}

// SetModulation selects the TX modulation, preserving the data rate exponent
// sharing the MOD2 register.
func (r *Radio) SetModulation(mod Modulation) error {
	return r.updateRegister(REG_MOD2, 0xF0, byte(mod)<<4)
}

// SetRFFrequency programs the frequency synthesizer for the given carrier.
// The charge pump bits in SYNT3 are preserved; the band select bit is forced
// to the high band the encoder assumes.
func (r *Radio) SetRFFrequency(freqHz uint32) error {
	synt, err := EncodeSynth(freqHz)
	if err != nil {
		return err
	}
	r.log("frequency %dHz -> synt %#x", freqHz, synt)
	if err := r.updateRegister(REG_SYNT3, 0x1F, byte(synt>>24)&0x0F); err != nil {
		return err
	}
	return r.WriteRegister(REG_SYNT2, byte(synt>>16), byte(synt>>8), byte(synt))
}

// ConfigureChargePump sets the PLL charge pump current for the 26MHz
// reference: ISEL=2, PFD split disabled.
func (r *Radio) ConfigureChargePump() error {
	if err := r.updateRegister(REG_SYNT3, 0xE0, 0x02<<5); err != nil {
		return err
	}
	// PLL_PFD_SPLIT_EN
	return r.updateRegister(REG_SYNTH_CONFIG2, 0x04, 0x00)
}

// SetFSKDeviation programs the frequency deviation mantissa and exponent.
func (r *Radio) SetFSKDeviation(me MantissaExponent) error {
	if me.Mantissa > 0xFF || me.Exponent > 0x0F {
		return fmt.Errorf("%w: deviation setting %+v", ErrOutOfRange, me)
	}
	if err := r.updateRegister(REG_MOD1, 0x0F, me.Exponent); err != nil {
		return err
	}
	return r.WriteRegister(REG_MOD0, byte(me.Mantissa))
}

// SetDataRate programs the data rate mantissa and exponent.
func (r *Radio) SetDataRate(me MantissaExponent) error {
	if me.Exponent > 0x0F {
		return fmt.Errorf("%w: data rate setting %+v", ErrOutOfRange, me)
	}
	if err := r.WriteRegister(REG_MOD4, byte(me.Mantissa>>8), byte(me.Mantissa)); err != nil {
		return err
	}
	return r.updateRegister(REG_MOD2, 0x0F, me.Exponent)
}

// SetRxBandwidth programs the channel filter mantissa and exponent.
func (r *Radio) SetRxBandwidth(me MantissaExponent) error {
	if me.Mantissa > 0x0F || me.Exponent > 0x0F {
		return fmt.Errorf("%w: bandwidth setting %+v", ErrOutOfRange, me)
	}
	return r.WriteRegister(REG_CHFLT, byte(me.Mantissa)<<4|me.Exponent)
}

// ConfigureSMPS programs the switched-mode power supply operating point;
// SmpsTx and SmpsRx are swapped on state entry.
func (r *Radio) ConfigureSMPS(s SmpsSetting) error {
	return r.WriteRegister(REG_PM_CONF3, s.PmConf3, s.PmConf2)
}

// SetOscillator selects the reference clock source.
func (r *Radio) SetOscillator(osc Oscillator) error {
	var ext byte
	if osc == OscillatorTCXO {
		ext = 0x80
	}
	// EXT_REF
	return r.updateRegister(REG_XO_RCO_CONF0, 0x80, ext)
}

// ConfigurePA sets up the power amplifier for unramped, FIR-less operation
// with the single slot 8 level active.
func (r *Radio) ConfigurePA() error {
	if err := r.updateRegister(REG_PA_CONFIG1, 0x02, 0x00); err != nil {
		return err
	}
	return r.WriteRegister(REG_PA_CONFIG0, 0x47)
}

// SetOutputPower programs the PA for the given output power in dBm EIRP.
func (r *Radio) SetOutputPower(dbm int) error {
	if dbm < -30 || dbm > 14 {
		return fmt.Errorf("%w: output power %ddBm", ErrOutOfRange, dbm)
	}
	// PA_LEVEL8 steps in 0.5dB from +14dBm at 1.
	return r.WriteRegister(REG_PA_POWER8, byte(29-2*dbm))
}

// ReadRSSI returns the instantaneous received signal strength in dBm.
func (r *Radio) ReadRSSI() (int, error) {
	raw, err := r.ReadRegister(REG_RSSI_LEVEL)
	if err != nil {
		return 0, err
	}
	return int(raw) - 146, nil
}

// SetPacketLength programs the packet engine payload length in bytes.
func (r *Radio) SetPacketLength(n uint16) error {
	return r.WriteRegister(REG_PCKTLEN1, byte(n>>8), byte(n))
}

// SetPreambleDetector programs the preamble length (in 2-bit pairs) and chip
// pattern.
func (r *Radio) SetPreambleDetector(pairs byte, pattern PreamblePattern) error {
	if err := r.updateRegister(REG_PCKTCTRL6, 0x03, 0x00); err != nil {
		return err
	}
	if err := r.WriteRegister(REG_PCKTCTRL5, pairs); err != nil {
		return err
	}
	return r.updateRegister(REG_PCKTCTRL3, 0x03, byte(pattern))
}

// SetSyncWord programs the sync word and its length in bits.
func (r *Radio) SetSyncWord(sync []byte, bits byte) error {
	if len(sync) == 0 || len(sync) > 4 || bits > 32 {
		return fmt.Errorf("%w: sync word %d bytes %d bits", ErrOutOfRange, len(sync), bits)
	}
	var regs [4]byte
	copy(regs[:], sync)
	if err := r.WriteRegister(REG_SYNC3, regs[0], regs[1], regs[2], regs[3]); err != nil {
		return err
	}
	return r.updateRegister(REG_PCKTCTRL6, 0xFC, bits<<2)
}

// DisableCRC turns the packet engine CRC off; the protocol stack carries its
// own integrity check.
func (r *Radio) DisableCRC() error {
	return r.updateRegister(REG_PCKTCTRL1, 0xE0, 0x00)
}

// SetTxSource selects the transmitted bit stream source.
func (r *Radio) SetTxSource(src TxSource) error {
	return r.updateRegister(REG_PCKTCTRL1, 0x0C, byte(src)<<2)
}

// SetRxSource selects where received bits are routed.
func (r *Radio) SetRxSource(src RxSource) error {
	return r.updateRegister(REG_PCKTCTRL3, 0x30, byte(src)<<4)
}

// DisableEquCSAntSwitch turns off the equalizer, carrier-sense blanking and
// antenna switching, none of which the tracker's RF front end uses.
func (r *Radio) DisableEquCSAntSwitch() error {
	return r.updateRegister(REG_ANT_SELECT, 0x60, 0x00)
}
