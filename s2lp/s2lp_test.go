// Copyright 2025 by the ttrack authors, see LICENSE file

package s2lp

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ttrack/radio"
)

// fakeChip simulates the SPI slave side of an S2-LP: a register file, the
// linear FIFO port, command strobes that move the state machine, and the
// MC_STATE word clocked out during the header phase of every transaction.
type fakeChip struct {
	regs   [256]byte
	state  State
	xoOn   bool
	txFifo []byte // bytes the driver wrote to the FIFO port
	rxFifo []byte // bytes the driver will read from the FIFO port
	failTx error  // next Tx returns this error
	nTx    int
}

func newFakeChip() *fakeChip {
	c := &fakeChip{state: StateReady, xoOn: true}
	c.regs[REG_DEVICE_INFO1] = DEVICE_PARTNUM
	c.regs[REG_DEVICE_INFO0] = DEVICE_VERSION
	return c
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.nTx++
	if c.failTx != nil {
		err := c.failTx
		c.failTx = nil
		return err
	}
	r[0] = 0
	r[1] = byte(c.state) << 1
	if c.xoOn {
		r[1] |= 0x01
	}
	switch w[0] {
	case HEADER_COMMAND:
		c.strobe(w[1])
	case HEADER_WRITE:
		if w[1] == REG_FIFO {
			c.txFifo = append(c.txFifo, w[2:]...)
			break
		}
		for i, b := range w[2:] {
			c.regs[w[1]+byte(i)] = b
		}
	case HEADER_READ:
		if w[1] == REG_FIFO {
			n := copy(r[2:], c.rxFifo)
			c.rxFifo = c.rxFifo[n:]
			break
		}
		for i := range w[2:] {
			addr := w[1] + byte(i)
			r[2+i] = c.regs[addr]
			// interrupt status is read-to-clear
			if addr >= REG_IRQ_STATUS3 && addr <= REG_IRQ_STATUS0 {
				c.regs[addr] = 0
			}
		}
	}
	return nil
}

func (c *fakeChip) Close() error { return nil }

func (c *fakeChip) strobe(cmd byte) {
	switch cmd {
	case CMD_TX:
		c.state = StateTx
	case CMD_RX:
		c.state = StateRx
	case CMD_READY, CMD_SABORT:
		c.state = StateReady
	case CMD_STANDBY:
		c.state = StateStandby
	case CMD_SLEEP:
		c.state = StateSleepA
	case CMD_SRES:
		c.regs = newFakeChip().regs
		c.state = StateReady
	case CMD_FLUSHTXFIFO:
		c.txFifo = nil
	case CMD_FLUSHRXFIFO:
		c.rxFifo = nil
	}
}

// fakePin records every level written to it.
type fakePin struct {
	levels []radio.Level
	fail   error
}

func (p *fakePin) Out(level radio.Level) error {
	if p.fail != nil {
		return p.fail
	}
	p.levels = append(p.levels, level)
	return nil
}

func testRadio(t *testing.T) (*Radio, *fakeChip, *fakePin) {
	t.Helper()
	chip := newFakeChip()
	cs := &fakePin{}
	sdn := &fakePin{}
	r, err := New(chip, cs, sdn, Opts{
		Logger: func(format string, v ...interface{}) { t.Logf(format, v...) },
		Sleep:  func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cs.levels = nil // drop the initial release from New
	return r, chip, cs
}

// Every transaction must bracket the bus exchange with exactly one chip
// select assert/release pair, and the release must happen even when the bus
// transfer fails.
func TestChipSelectBracketing(t *testing.T) {
	r, chip, cs := testRadio(t)

	if err := r.WriteRegister(REG_MOD0, 0x42); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if _, err := r.ReadRegister(REG_MOD0); err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	want := []radio.Level{radio.Low, radio.High, radio.Low, radio.High}
	if fmt.Sprint(cs.levels) != fmt.Sprint(want) {
		t.Fatalf("cs sequence %v, want %v", cs.levels, want)
	}

	cs.levels = nil
	chip.failTx = errors.New("dma underrun")
	err := r.WriteRegister(REG_MOD0, 0x42)
	if !errors.Is(err, ErrBus) {
		t.Fatalf("expected ErrBus, got %v", err)
	}
	if len(cs.levels) != 2 || cs.levels[1] != radio.High {
		t.Fatalf("cs not released on bus fault: %v", cs.levels)
	}
}

func TestStatusDecode(t *testing.T) {
	r, chip, _ := testRadio(t)

	chip.state = StateRx
	chip.xoOn = true
	st, err := r.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st.State != StateRx || !st.XoOn {
		t.Errorf("status %+v, want RX with XO on", st)
	}
	if r.Status() != st {
		t.Errorf("cached status %+v differs from returned %+v", r.Status(), st)
	}

	// An undocumented state code means the chip answered garbage.
	chip.state = State(0x11)
	if _, err := r.ReadStatus(); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSendCommandTracksState(t *testing.T) {
	r, chip, _ := testRadio(t)

	if err := r.SendCommand(CMD_TX); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if r.LastCommanded() != StateTx {
		t.Errorf("last commanded %v, want TX", r.LastCommanded())
	}
	if chip.state != StateTx {
		t.Errorf("chip state %v, want TX", chip.state)
	}
	if err := r.SendCommand(CMD_SABORT); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if r.LastCommanded() != StateReady {
		t.Errorf("last commanded %v, want READY", r.LastCommanded())
	}
}

// WaitForState against a chip that never leaves READY must give up within
// its timeout instead of spinning forever.
func TestWaitForStateTimeout(t *testing.T) {
	r, _, _ := testRadio(t)

	start := time.Now()
	err := r.WaitForState(StateTx, 10*time.Millisecond)
	if !errors.Is(err, ErrStateTimeout) {
		t.Fatalf("expected ErrStateTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("WaitForState blocked for %v", elapsed)
	}

	if err := r.SendCommand(CMD_RX); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := r.WaitForState(StateRx, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForState: %v", err)
	}
}

func TestWaitForXO(t *testing.T) {
	r, chip, _ := testRadio(t)

	chip.xoOn = false
	if err := r.WaitForXO(10 * time.Millisecond); !errors.Is(err, ErrStateTimeout) {
		t.Fatalf("expected ErrStateTimeout, got %v", err)
	}
	chip.xoOn = true
	if err := r.WaitForXO(10 * time.Millisecond); err != nil {
		t.Fatalf("WaitForXO: %v", err)
	}
}

func TestFIFO(t *testing.T) {
	r, chip, _ := testRadio(t)

	data := make([]byte, FifoSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := r.WriteFIFO(data); err != nil {
		t.Fatalf("WriteFIFO: %v", err)
	}
	if !bytes.Equal(chip.txFifo, data) {
		t.Fatalf("chip got %d bytes, want %d matching bytes", len(chip.txFifo), len(data))
	}

	chip.rxFifo = append([]byte(nil), data...)
	got, err := r.ReadFIFO(FifoSize)
	if err != nil {
		t.Fatalf("ReadFIFO: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadFIFO returned %d bytes, mismatch", len(got))
	}

	if err := r.WriteFIFO(make([]byte, FifoSize+1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("oversized write: expected ErrOutOfRange, got %v", err)
	}
	if err := r.WriteFIFO(nil); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("empty write: expected ErrOutOfRange, got %v", err)
	}
	if _, err := r.ReadFIFO(FifoSize + 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("oversized read: expected ErrOutOfRange, got %v", err)
	}
}

// Enabling one interrupt must set exactly its bit in the right mask register
// and leave every other bit alone.
func TestConfigureIRQ(t *testing.T) {
	r, chip, _ := testRadio(t)
	chip.regs[REG_IRQ_MASK3] = 0xA0
	chip.regs[REG_IRQ_MASK0] = 0x81

	if err := r.ConfigureIRQ(IRQTxDataSent, true); err != nil {
		t.Fatalf("ConfigureIRQ: %v", err)
	}
	if chip.regs[REG_IRQ_MASK0] != 0x81|0x04 {
		t.Errorf("IRQ_MASK0 = %#x, want %#x", chip.regs[REG_IRQ_MASK0], 0x81|0x04)
	}

	if err := r.ConfigureIRQ(IRQRxTimeout, true); err != nil {
		t.Fatalf("ConfigureIRQ: %v", err)
	}
	if chip.regs[REG_IRQ_MASK3] != 0xA0|0x10 {
		t.Errorf("IRQ_MASK3 = %#x, want %#x", chip.regs[REG_IRQ_MASK3], 0xA0|0x10)
	}

	if err := r.ConfigureIRQ(IRQTxDataSent, false); err != nil {
		t.Fatalf("ConfigureIRQ: %v", err)
	}
	if chip.regs[REG_IRQ_MASK0] != 0x81 {
		t.Errorf("IRQ_MASK0 = %#x after disable, want %#x", chip.regs[REG_IRQ_MASK0], 0x81)
	}

	// reserved bit indices are refused
	for _, idx := range []IRQIndex{20, 27, 30, 99} {
		if err := r.ConfigureIRQ(idx, true); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("index %d: expected ErrOutOfRange, got %v", idx, err)
		}
	}
}

func TestIRQFlagsReadToClear(t *testing.T) {
	r, chip, _ := testRadio(t)
	chip.regs[REG_IRQ_STATUS3] = 0x10
	chip.regs[REG_IRQ_STATUS0] = 0x04

	flags, err := r.ReadIRQFlags()
	if err != nil {
		t.Fatalf("ReadIRQFlags: %v", err)
	}
	if flags != 0x10000004 {
		t.Errorf("flags = %#x, want 0x10000004", flags)
	}
	flags, err = r.ReadIRQFlags()
	if err != nil {
		t.Fatalf("ReadIRQFlags: %v", err)
	}
	if flags != 0 {
		t.Errorf("flags = %#x after clearing read, want 0", flags)
	}
}

func TestCheckDevice(t *testing.T) {
	r, chip, _ := testRadio(t)
	if err := r.CheckDevice(); err != nil {
		t.Fatalf("CheckDevice: %v", err)
	}
	chip.regs[REG_DEVICE_INFO0] = 0x91
	if err := r.CheckDevice(); !errors.Is(err, ErrBadDevice) {
		t.Fatalf("expected ErrBadDevice, got %v", err)
	}
}

func TestSetOutputPower(t *testing.T) {
	r, chip, _ := testRadio(t)
	tests := map[int]byte{14: 1, 10: 9, 0: 29, -30: 89}
	for dbm, want := range tests {
		if err := r.SetOutputPower(dbm); err != nil {
			t.Fatalf("%ddBm: %v", dbm, err)
		}
		if chip.regs[REG_PA_POWER8] != want {
			t.Errorf("%ddBm: PA_POWER8 = %d, want %d", dbm, chip.regs[REG_PA_POWER8], want)
		}
	}
	for _, dbm := range []int{15, -31, 100} {
		if err := r.SetOutputPower(dbm); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%ddBm: expected ErrOutOfRange, got %v", dbm, err)
		}
	}
}

// MOD2 is shared between the modulation selector and the data rate exponent;
// setting one must not clobber the other.
func TestMod2Sharing(t *testing.T) {
	r, chip, _ := testRadio(t)

	if err := r.SetDataRate(DataRate600bps); err != nil {
		t.Fatalf("SetDataRate: %v", err)
	}
	if err := r.SetModulation(Modulation2GFSKBT1); err != nil {
		t.Fatalf("SetModulation: %v", err)
	}
	if got := chip.regs[REG_MOD2]; got != byte(Modulation2GFSKBT1)<<4|1 {
		t.Errorf("MOD2 = %#x, want %#x", got, byte(Modulation2GFSKBT1)<<4|1)
	}
	if chip.regs[REG_MOD4] != byte(33579>>8) || chip.regs[REG_MOD3] != byte(33579&0xFF) {
		t.Errorf("MOD4/MOD3 = %#x/%#x", chip.regs[REG_MOD4], chip.regs[REG_MOD3])
	}
}

func TestSetRFFrequency(t *testing.T) {
	r, chip, _ := testRadio(t)
	chip.regs[REG_SYNT3] = 0xE0 // charge pump bits must survive

	if err := r.SetRFFrequency(868000000); err != nil {
		t.Fatalf("SetRFFrequency: %v", err)
	}
	if chip.regs[REG_SYNT3]&0xE0 != 0xE0 {
		t.Errorf("SYNT3 charge pump bits clobbered: %#x", chip.regs[REG_SYNT3])
	}
	if chip.regs[REG_SYNT3]&0x10 != 0 {
		t.Errorf("band select bit set in SYNT3: %#x", chip.regs[REG_SYNT3])
	}
	synt := uint32(chip.regs[REG_SYNT3]&0x0F)<<24 | uint32(chip.regs[REG_SYNT2])<<16 |
		uint32(chip.regs[REG_SYNT1])<<8 | uint32(chip.regs[REG_SYNT0])
	back := DecodeSynth(synt)
	if diff := int64(back) - 868000000; diff > 7 || diff < -7 {
		t.Errorf("programmed carrier %dHz, off by %d", back, diff)
	}

	if err := r.SetRFFrequency(433000000); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestSetFifoThreshold(t *testing.T) {
	r, chip, _ := testRadio(t)
	if err := r.SetFifoThreshold(FifoThresholdTxEmpty, 48); err != nil {
		t.Fatalf("SetFifoThreshold: %v", err)
	}
	if chip.regs[REG_FIFO_CONFIG0] != 48 {
		t.Errorf("FIFO_CONFIG0 = %d, want 48", chip.regs[REG_FIFO_CONFIG0])
	}
	// threshold value is 7 bits
	if err := r.SetFifoThreshold(FifoThresholdRxFull, 0xFF); err != nil {
		t.Fatalf("SetFifoThreshold: %v", err)
	}
	if chip.regs[REG_FIFO_CONFIG3] != 0x7F {
		t.Errorf("FIFO_CONFIG3 = %#x, want 0x7F", chip.regs[REG_FIFO_CONFIG3])
	}
	if err := r.SetFifoThreshold(FifoThreshold(0x99), 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestConfigureGPIO(t *testing.T) {
	r, chip, _ := testRadio(t)
	if err := r.ConfigureGPIO(3, GPIOModeOutHighPower, GPIOFuncFifoEmpty, true); err != nil {
		t.Fatalf("ConfigureGPIO: %v", err)
	}
	if got := chip.regs[REG_GPIO3_CONF]; got != byte(GPIOFuncFifoEmpty)<<3|byte(GPIOModeOutHighPower) {
		t.Errorf("GPIO3_CONF = %#x", got)
	}
	if chip.regs[REG_PROTOCOL2]&0x04 == 0 {
		t.Errorf("FIFO flag mux not switched to TX: PROTOCOL2 = %#x", chip.regs[REG_PROTOCOL2])
	}
	if err := r.ConfigureGPIO(4, GPIOModeIn, GPIOFuncNIRQ, false); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}

	if err := r.DisableGPIO(); err != nil {
		t.Fatalf("DisableGPIO: %v", err)
	}
	for pin := byte(0); pin < 4; pin++ {
		if chip.regs[REG_GPIO0_CONF+pin] != byte(GPIOModeIn) {
			t.Errorf("GPIO%d_CONF = %#x, want high-Z input", pin, chip.regs[REG_GPIO0_CONF+pin])
		}
	}
}

func TestShutdownPin(t *testing.T) {
	chip := newFakeChip()
	cs := &fakePin{}
	sdn := &fakePin{}
	r, err := New(chip, cs, sdn, Opts{Sleep: func(time.Duration) {}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(sdn.levels) != 1 || sdn.levels[0] != radio.High {
		t.Fatalf("New must leave the chip in shutdown, sdn levels %v", sdn.levels)
	}

	if err := r.ExitShutdown(); err != nil {
		t.Fatalf("ExitShutdown: %v", err)
	}
	if sdn.levels[len(sdn.levels)-1] != radio.Low {
		t.Errorf("sdn still high after ExitShutdown")
	}
	if err := r.EnterShutdown(); err != nil {
		t.Fatalf("EnterShutdown: %v", err)
	}
	if sdn.levels[len(sdn.levels)-1] != radio.High {
		t.Errorf("sdn low after EnterShutdown")
	}
}
