// Copyright 2025 by the ttrack authors, see LICENSE file

package radio

import "time"

// SPI is one full-duplex connection on an SPI bus. Chip select is NOT part of
// this interface: the S2LP driver brackets every exchange with its own CS pin
// so that the select line is guaranteed to toggle exactly once per
// transaction, including on bus faults.
type SPI interface {
	// Tx clocks w out and fills r with the bytes clocked in. len(w) must
	// equal len(r).
	Tx(w, r []byte) error
	Close() error
}

// Pin is a push-pull output pin (chip select, shutdown line).
type Pin interface {
	Out(level Level) error
}

// Level is the electrical level of a Pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Sleeper is the delay hook used by blocking driver operations. Production
// code passes nil and gets time.Sleep; tests substitute their own to run the
// timing-sensitive sequences instantly.
type Sleeper func(d time.Duration)
