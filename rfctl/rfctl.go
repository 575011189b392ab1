// Copyright 2025 by the ttrack authors, see LICENSE file

// The rfctl package sequences the S2LP driver's primitives into the complete
// radio operations the tracker firmware needs: carrier-only transmissions for
// certification runs, timed RSSI sweeps for site surveys, and one-shot frame
// transmissions over the packet engine or the direct FIFO path.
//
// Every public operation brings the chip up from shutdown, runs, and tears
// back down to shutdown, so the radio never draws current between calls and a
// crashed previous run cannot leave the sequencer confused.
package rfctl

import (
	"fmt"
	"time"

	"github.com/ttrack/radio"
	"github.com/ttrack/radio/s2lp"
	"github.com/ttrack/radio/txstream"
)

// Params is the RF operating point for one radio operation.
type Params struct {
	Frequency  uint32 // carrier in Hz
	Modulation s2lp.Modulation
	Deviation  s2lp.MantissaExponent
	DataRate   s2lp.MantissaExponent
	Bandwidth  s2lp.MantissaExponent // RX channel filter
	PowerDbm   int                   // TX output power
}

// DefaultParams is the tracker's 868MHz uplink operating point.
func DefaultParams() Params {
	return Params{
		Frequency:  868130000,
		Modulation: s2lp.Modulation2GFSKBT1,
		Deviation:  s2lp.Fdev800Hz,
		DataRate:   s2lp.DataRate500bps,
		Bandwidth:  s2lp.RxBw2kHz1,
		PowerDbm:   14,
	}
}

// LogPrintf is a function used by the sequencer to print logging info.
type LogPrintf func(format string, v ...interface{})

// Opts contains options used when initializing a Controller.
type Opts struct {
	Logger       LogPrintf         // function to use for logging, nil disables
	Sleep        radio.Sleeper     // delay hook, nil uses time.Sleep
	Emit         func(line string) // per-sample sink for sweeps, nil discards
	SweepPeriod  time.Duration     // RSSI sampling period, default 500ms
	StateTimeout time.Duration     // per state switch, default 50ms
	FrameTimeout time.Duration     // per transmitted frame, default 5s
}

// Controller owns one S2LP and runs complete radio operations on it. Not safe
// for concurrent use; the firmware runs one RF operation at a time.
type Controller struct {
	radio        *s2lp.Radio
	log          LogPrintf
	sleep        radio.Sleeper
	emit         func(string)
	sweepPeriod  time.Duration
	stateTimeout time.Duration
	frameTimeout time.Duration
}

// New creates a Controller for the given radio.
func New(r *s2lp.Radio, opts Opts) *Controller {
	c := &Controller{
		radio:        r,
		log:          func(format string, v ...interface{}) {},
		sleep:        time.Sleep,
		emit:         func(string) {},
		sweepPeriod:  500 * time.Millisecond,
		stateTimeout: 50 * time.Millisecond,
		frameTimeout: 5 * time.Second,
	}
	if opts.Logger != nil {
		c.log = func(format string, v ...interface{}) {
			opts.Logger("rfctl: "+format, v...)
		}
	}
	if opts.Sleep != nil {
		c.sleep = opts.Sleep
	}
	if opts.Emit != nil {
		c.emit = opts.Emit
	}
	if opts.SweepPeriod > 0 {
		c.sweepPeriod = opts.SweepPeriod
	}
	if opts.StateTimeout > 0 {
		c.stateTimeout = opts.StateTimeout
	}
	if opts.FrameTimeout > 0 {
		c.frameTimeout = opts.FrameTimeout
	}
	return c
}

// Init wakes the chip from shutdown and programs the given operating point.
// On any error the chip is put back into shutdown before returning.
func (c *Controller) Init(p Params) error {
	if err := c.init(p); err != nil {
		c.Deinit()
		return err
	}
	return nil
}

func (c *Controller) init(p Params) error {
	if err := c.radio.ExitShutdown(); err != nil {
		return err
	}
	if err := c.radio.CheckDevice(); err != nil {
		return err
	}
	if err := c.radio.SetOscillator(s2lp.OscillatorQuartz); err != nil {
		return err
	}
	if err := c.radio.ConfigureChargePump(); err != nil {
		return err
	}
	if err := c.radio.DisableEquCSAntSwitch(); err != nil {
		return err
	}
	if err := c.radio.SetRFFrequency(p.Frequency); err != nil {
		return err
	}
	if err := c.radio.SetModulation(p.Modulation); err != nil {
		return err
	}
	if err := c.radio.SetFSKDeviation(p.Deviation); err != nil {
		return err
	}
	if err := c.radio.SetDataRate(p.DataRate); err != nil {
		return err
	}
	if err := c.radio.SetRxBandwidth(p.Bandwidth); err != nil {
		return err
	}
	if err := c.radio.ConfigurePA(); err != nil {
		return err
	}
	if err := c.radio.SetOutputPower(p.PowerDbm); err != nil {
		return err
	}
	if err := c.radio.ClearIRQFlags(); err != nil {
		return err
	}
	// The chip boots to READY after shutdown exit, but strobe it anyway so a
	// chip parked in STANDBY or SLEEP is brought along too.
	if err := c.radio.SendCommand(s2lp.CMD_READY); err != nil {
		return err
	}
	if err := c.radio.WaitForState(s2lp.StateReady, c.stateTimeout); err != nil {
		return err
	}
	c.log("chip up at %dHz, %ddBm", p.Frequency, p.PowerDbm)
	return nil
}

// Deinit drives the chip back into shutdown. It is best-effort and never
// fails: a dead SPI bus must not keep the firmware from cutting radio power.
func (c *Controller) Deinit() {
	_ = c.radio.SendCommand(s2lp.CMD_SABORT)
	_ = c.radio.WaitForState(s2lp.StateReady, c.stateTimeout)
	_ = c.radio.DisableGPIO()
	_ = c.radio.EnterShutdown()
	c.log("chip down")
}

// StartContinuousWave powers the chip up and transmits an unmodulated carrier
// at the given operating point until StopContinuousWave. Calling it while a
// carrier is already up is fine: the chip is torn down and brought back.
func (c *Controller) StartContinuousWave(p Params) error {
	c.Deinit()
	p.Modulation = s2lp.ModulationNone
	if err := c.Init(p); err != nil {
		return err
	}
	if err := c.startTx(); err != nil {
		c.Deinit()
		return err
	}
	c.log("carrier up at %dHz", p.Frequency)
	return nil
}

// StopContinuousWave tears the carrier down and shuts the chip off.
func (c *Controller) StopContinuousWave() {
	c.Deinit()
}

// startTx locks the synthesizer and enters TX with the TX supply setting.
func (c *Controller) startTx() error {
	if err := c.radio.ConfigureSMPS(s2lp.SmpsTx); err != nil {
		return err
	}
	if err := c.radio.SendCommand(s2lp.CMD_LOCKTX); err != nil {
		return err
	}
	if err := c.radio.SendCommand(s2lp.CMD_TX); err != nil {
		return err
	}
	return c.radio.WaitForState(s2lp.StateTx, c.stateTimeout)
}

// RSSISweep listens on the given operating point for the given duration,
// sampling the RSSI once per sweep period and emitting each sample as
// "RSSI=<n>dBm". It returns the collected samples; on error the samples
// gathered so far come back alongside it. The chip is shut down on all paths.
func (c *Controller) RSSISweep(p Params, duration time.Duration) ([]int, error) {
	c.Deinit()
	if err := c.Init(p); err != nil {
		return nil, err
	}
	defer c.Deinit()

	if err := c.radio.ConfigureSMPS(s2lp.SmpsRx); err != nil {
		return nil, err
	}
	if err := c.radio.SendCommand(s2lp.CMD_RX); err != nil {
		return nil, err
	}
	if err := c.radio.WaitForState(s2lp.StateRx, c.stateTimeout); err != nil {
		return nil, err
	}

	n := int(duration / c.sweepPeriod)
	if n < 1 {
		n = 1
	}
	samples := make([]int, 0, n)
	for i := 0; i < n; i++ {
		c.sleep(c.sweepPeriod)
		rssi, err := c.radio.ReadRSSI()
		if err != nil {
			return samples, err
		}
		samples = append(samples, rssi)
		c.emit(fmt.Sprintf("RSSI=%ddBm", rssi))
	}
	return samples, nil
}

// SendFrame transmits one payload through the packet engine: fixed length, no
// CRC, the protocol stack's preamble and sync word. The chip is brought up,
// the frame sent, and the chip shut down again.
func (c *Controller) SendFrame(p Params, payload []byte) error {
	if len(payload) == 0 || len(payload) > s2lp.FifoSize {
		return fmt.Errorf("%w: frame of %d bytes", s2lp.ErrOutOfRange, len(payload))
	}
	c.Deinit()
	if err := c.Init(p); err != nil {
		return err
	}
	defer c.Deinit()

	if err := c.setupPacket(len(payload)); err != nil {
		return err
	}
	if err := c.radio.SendCommand(s2lp.CMD_FLUSHTXFIFO); err != nil {
		return err
	}
	if err := c.radio.WriteFIFO(payload); err != nil {
		return err
	}
	if err := c.radio.ConfigureIRQ(s2lp.IRQTxDataSent, true); err != nil {
		return err
	}
	if err := c.radio.ClearIRQFlags(); err != nil {
		return err
	}
	if err := c.startTx(); err != nil {
		return err
	}
	if err := c.waitIRQ(1<<s2lp.IRQTxDataSent, c.frameTimeout); err != nil {
		return err
	}
	c.log("frame of %d bytes sent", len(payload))
	return nil
}

// setupPacket programs the packet engine for the tracker's frame format.
func (c *Controller) setupPacket(length int) error {
	if err := c.radio.SetPacketLength(uint16(length)); err != nil {
		return err
	}
	if err := c.radio.SetPreambleDetector(16, s2lp.PreamblePattern0101); err != nil {
		return err
	}
	if err := c.radio.SetSyncWord([]byte{0xB2, 0x27}, 16); err != nil {
		return err
	}
	if err := c.radio.DisableCRC(); err != nil {
		return err
	}
	return c.radio.SetTxSource(s2lp.TxSourceNormal)
}

// waitIRQ polls the latched interrupt status until one of the bits in mask
// fires or the timeout expires.
func (c *Controller) waitIRQ(mask uint32, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		flags, err := c.radio.ReadIRQFlags()
		if err != nil {
			return err
		}
		if flags&mask != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: irq %#x not seen after %v", s2lp.ErrStateTimeout, mask, timeout)
		}
		c.sleep(time.Millisecond)
	}
}

// streamChunk is the per-write size used on the direct FIFO path; small
// enough that the FIFO always has room for the next chunk at our bit rates.
const streamChunk = 48

// StreamTx transmits an arbitrarily long pre-computed modulation waveform
// through the direct FIFO path, refilling the TX FIFO from a background pump
// as the chip drains it. The chip runs in polar modulation: the streamed
// bytes drive the PA and synthesizer directly.
func (c *Controller) StreamTx(p Params, frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("%w: empty stream", s2lp.ErrOutOfRange)
	}
	c.Deinit()
	p.Modulation = s2lp.ModulationPolar
	if err := c.Init(p); err != nil {
		return err
	}
	defer c.Deinit()

	if err := c.radio.SetTxSource(s2lp.TxSourceFifo); err != nil {
		return err
	}
	if err := c.radio.SetFifoThreshold(s2lp.FifoThresholdTxEmpty, streamChunk); err != nil {
		return err
	}
	if err := c.radio.SendCommand(s2lp.CMD_FLUSHTXFIFO); err != nil {
		return err
	}

	// Preload the FIFO before entering TX so the modulator never starts on an
	// empty buffer, then refill from the pump. The radio handle is not safe
	// for concurrent use: once the pump is running it is the only user until
	// its completion flag flips.
	preload := frame
	if len(preload) > s2lp.FifoSize {
		preload = frame[:s2lp.FifoSize]
	}
	if err := c.radio.WriteFIFO(preload); err != nil {
		return err
	}
	if err := c.startTx(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.frameTimeout)

	if rest := frame[len(preload):]; len(rest) > 0 {
		str := txstream.New(txstream.SinkFunc(c.fifoSink), txstream.Opts{
			ChunkSize: streamChunk,
			Logger:    txstream.LogPrintf(c.log),
		})
		if err := str.Arm(rest); err != nil {
			return err
		}
		if err := str.Start(); err != nil {
			return err
		}
		defer str.Stop()
		for !str.IsComplete() {
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: stream of %d bytes not pumped after %v",
					s2lp.ErrStateTimeout, len(frame), c.frameTimeout)
			}
			c.sleep(time.Millisecond)
		}
		if err := str.Err(); err != nil {
			return err
		}
	}
	return c.drainFIFO(deadline)
}

// fifoSink blocks until the TX FIFO has room for the chunk, then floods it.
func (c *Controller) fifoSink(chunk []byte) error {
	for {
		used, err := c.radio.ReadRegister(s2lp.REG_TX_FIFO_STAT)
		if err != nil {
			return err
		}
		if int(used)+len(chunk) <= s2lp.FifoSize {
			break
		}
		c.sleep(500 * time.Microsecond)
	}
	return c.radio.WriteFIFO(chunk)
}

// drainFIFO waits for the modulator to clock out the last buffered bytes.
func (c *Controller) drainFIFO(deadline time.Time) error {
	for {
		used, err := c.radio.ReadRegister(s2lp.REG_TX_FIFO_STAT)
		if err != nil {
			return err
		}
		if used == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d bytes stuck in TX FIFO", s2lp.ErrStateTimeout, used)
		}
		c.sleep(time.Millisecond)
	}
}
