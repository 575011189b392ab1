// Copyright 2025 by the ttrack authors, see LICENSE file

package radio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// NewSPI opens an SPI port by name ("" for the first one) and configures it
// for the S2LP: mode 0, 8 bits, 4MHz. The returned SPI owns the port and
// releases it on Close.
func NewSPI(name string) (SPI, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("radio: cannot open SPI port %q: %w", name, err)
	}
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("radio: cannot configure SPI port %q: %w", name, err)
	}
	return &periphSPI{conn: conn, port: port}, nil
}

type periphSPI struct {
	conn spi.Conn
	port spi.PortCloser
}

func (s *periphSPI) Tx(w, r []byte) error { return s.conn.Tx(w, r) }
func (s *periphSPI) Close() error         { return s.port.Close() }

// NewPin opens a gpio pin by name and returns it as an output Pin.
func NewPin(name string) (Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("radio: cannot open pin %q", name)
	}
	return &periphPin{p}, nil
}

type periphPin struct {
	p gpio.PinIO
}

func (p *periphPin) Out(level Level) error { return p.p.Out(gpio.Level(level)) }
