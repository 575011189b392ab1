// Copyright 2025 by the ttrack authors, see LICENSE file

// The txstream package pumps a prepared radio frame into a byte sink in
// fixed-size chunks from a background goroutine, mimicking the arm/start/
// complete lifecycle of a DMA channel feeding a transmit FIFO.
//
// A Streamer owns the frame buffer between Arm and Stop: the caller hands the
// buffer over when arming and gets it back from Stop, so the buffer is never
// shared while the pump goroutine is alive. Completion is exposed through a
// lock-free flag so a tight polling loop (or a pin interrupt handler) can
// check it without touching the mutex.
package txstream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Sink consumes chunks of the armed frame, blocking until the downstream FIFO
// has room. The s2lp FIFO write path is the production implementation.
type Sink interface {
	WriteChunk(p []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p []byte) error

func (f SinkFunc) WriteChunk(p []byte) error { return f(p) }

// ErrBadState is returned when an operation is invalid for the streamer's
// current lifecycle state, e.g. arming while a stream is running.
var ErrBadState = errors.New("txstream: operation invalid in current state")

// State is the streamer lifecycle state.
type State int

const (
	Idle     State = iota // no buffer armed
	Armed                 // buffer handed over, pump not started
	Running               // pump goroutine feeding the sink
	Complete              // pump finished (successfully or not)
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	}
	return "UNKNOWN"
}

// LogPrintf is a function used by the streamer to print logging info.
type LogPrintf func(format string, v ...interface{})

// Opts contains options used when initializing a Streamer.
type Opts struct {
	ChunkSize  int       // bytes per sink write, default 64
	Logger     LogPrintf // function to use for logging, nil disables
	OnComplete func()    // called once per finished pump, from the pump goroutine
}

// Streamer is a single-buffer chunk pump. Its methods are safe to call from
// one controlling goroutine; only IsComplete may be called from anywhere.
type Streamer struct {
	sink       Sink
	chunk      int
	log        LogPrintf
	onComplete func()

	mu    sync.Mutex
	state State
	buf   []byte
	err   error
	stop  chan struct{}
	wg    sync.WaitGroup

	done atomic.Bool
}

// New creates a Streamer feeding the given sink.
func New(sink Sink, opts Opts) *Streamer {
	s := &Streamer{
		sink:  sink,
		chunk: 64,
		log:   func(format string, v ...interface{}) {},
	}
	if opts.ChunkSize > 0 {
		s.chunk = opts.ChunkSize
	}
	if opts.Logger != nil {
		s.log = func(format string, v ...interface{}) {
			opts.Logger("txstream: "+format, v...)
		}
	}
	s.onComplete = opts.OnComplete
	return s
}

// State returns the current lifecycle state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm hands the frame buffer to the streamer. The caller must not touch buf
// again until Stop returns it. Arming is only valid from Idle or Complete.
func (s *Streamer) Arm(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("txstream: cannot arm an empty buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle && s.state != Complete {
		return fmt.Errorf("%w: arm in %v", ErrBadState, s.state)
	}
	s.buf = buf
	s.err = nil
	s.state = Armed
	s.done.Store(false)
	return nil
}

// Start launches the pump goroutine. Only valid from Armed.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Armed {
		return fmt.Errorf("%w: start in %v", ErrBadState, s.state)
	}
	s.state = Running
	s.stop = make(chan struct{})
	s.wg.Add(1)
	s.log("pumping %d bytes in %d-byte chunks", len(s.buf), s.chunk)
	go s.pump(s.buf, s.stop)
	return nil
}

func (s *Streamer) pump(buf []byte, stop chan struct{}) {
	defer s.wg.Done()
	var err error
	for off := 0; off < len(buf); off += s.chunk {
		select {
		case <-stop:
			err = fmt.Errorf("txstream: stopped at offset %d", off)
			s.finish(err)
			return
		default:
		}
		end := off + s.chunk
		if end > len(buf) {
			end = len(buf)
		}
		if err = s.sink.WriteChunk(buf[off:end]); err != nil {
			s.finish(fmt.Errorf("txstream: sink write at offset %d: %w", off, err))
			return
		}
	}
	s.finish(nil)
}

func (s *Streamer) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.state = Complete
	s.mu.Unlock()
	s.done.Store(true)
	if err != nil {
		s.log("stream failed: %v", err)
	}
	// Keep the callback minimal: it runs on the pump goroutine and must not
	// call back into the streamer or the radio.
	if s.onComplete != nil {
		s.onComplete()
	}
}

// IsComplete reports whether the pump has finished. It is lock-free and safe
// to call concurrently with everything else.
func (s *Streamer) IsComplete() bool { return s.done.Load() }

// Err returns the pump error, nil while running or after a clean finish.
func (s *Streamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop cancels a running pump, waits for the goroutine to exit and returns
// the frame buffer to the caller, leaving the streamer Idle. It is safe to
// call in any state; from Idle it returns nil.
func (s *Streamer) Stop() []byte {
	s.mu.Lock()
	if s.state == Running {
		close(s.stop)
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buf
	s.buf = nil
	s.stop = nil
	s.state = Idle
	s.done.Store(false)
	return buf
}
