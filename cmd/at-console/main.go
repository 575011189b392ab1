// Copyright 2025 by the ttrack authors, see LICENSE file

// at-console exposes the radio test operations over a serial line with a
// small AT command set, mirroring the console the tracker firmware offers
// during manufacturing test:
//
//	AT              ping, replies OK
//	AT$CW=freq,1    start an unmodulated carrier at freq Hz
//	AT$CW=freq,1,p  same with output power p dBm
//	AT$CW=0,0       stop the carrier
//	AT$RSSI=freq,s  sweep the RSSI at freq Hz for s seconds
//	AT$SF=hex       send the hex payload as one frame
//
// Replies are OK or APP_ERROR_<code>. With -port "" the console runs on stdin,
// handy on the bench.
package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"periph.io/x/host/v3"

	"github.com/ttrack/radio"
	"github.com/ttrack/radio/rfctl"
	"github.com/ttrack/radio/s2lp"
)

// Error codes sent on the console, stable for the test rig scripts.
const (
	errSyntax    = 1 // unparseable command
	errRange     = 2 // parameter out of range
	errRadio     = 3 // radio operation failed
	errBadDevice = 4 // chip probe failed
)

type console struct {
	ctl *rfctl.Controller
	w   io.Writer
	cw  bool // carrier currently up
}

func main() {
	port := flag.String("port", "/dev/ttyAMA0", "serial port, empty for stdin")
	baud := flag.Int("baud", 9600, "serial baud rate")
	spiName := flag.String("spi", "", "SPI port name")
	csPin := flag.String("cs", "GPIO8", "chip select pin name")
	sdnPin := flag.String("sdn", "GPIO25", "shutdown pin name")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatalf("cannot init host: %v", err)
	}
	spiDev, err := radio.NewSPI(*spiName)
	if err != nil {
		log.Fatal(err)
	}
	defer spiDev.Close()
	cs, err := radio.NewPin(*csPin)
	if err != nil {
		log.Fatal(err)
	}
	sdn, err := radio.NewPin(*sdnPin)
	if err != nil {
		log.Fatal(err)
	}

	var logger rfctl.LogPrintf
	if *debug {
		logger = log.Printf
	}
	r, err := s2lp.New(spiDev, cs, sdn, s2lp.Opts{Logger: s2lp.LogPrintf(logger)})
	if err != nil {
		log.Fatal(err)
	}

	var in io.Reader = os.Stdin
	var out io.Writer = os.Stdout
	if *port != "" {
		conn, err := serial.OpenPort(&serial.Config{Name: *port, Baud: *baud})
		if err != nil {
			log.Fatalf("cannot open %s: %v", *port, err)
		}
		defer conn.Close()
		in, out = conn, conn
	}

	c := &console{w: out}
	c.ctl = rfctl.New(r, rfctl.Opts{
		Logger: logger,
		Emit:   func(line string) { c.reply(line) },
	})

	log.Printf("AT console on %s", *port)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.dispatch(strings.TrimSpace(scanner.Text()))
	}
	c.ctl.Deinit()
	if err := scanner.Err(); err != nil {
		log.Fatalf("console read: %v", err)
	}
}

func (c *console) reply(line string) {
	fmt.Fprintf(c.w, "%s\r\n", line)
}

func (c *console) replyErr(code int) {
	c.reply(fmt.Sprintf("APP_ERROR_%02d", code))
}

func (c *console) dispatch(line string) {
	switch {
	case line == "":
		// ignore blank lines, test rigs send plenty
	case line == "AT":
		c.reply("OK")
	case strings.HasPrefix(line, "AT$CW="):
		c.doCW(strings.TrimPrefix(line, "AT$CW="))
	case strings.HasPrefix(line, "AT$RSSI="):
		c.doRSSI(strings.TrimPrefix(line, "AT$RSSI="))
	case strings.HasPrefix(line, "AT$SF="):
		c.doSendFrame(strings.TrimPrefix(line, "AT$SF="))
	default:
		c.replyErr(errSyntax)
	}
}

func (c *console) doCW(args string) {
	parts := strings.Split(args, ",")
	if len(parts) < 2 || len(parts) > 3 {
		c.replyErr(errSyntax)
		return
	}
	freq, err1 := strconv.ParseUint(parts[0], 10, 32)
	enable, err2 := strconv.ParseUint(parts[1], 10, 1)
	if err1 != nil || err2 != nil {
		c.replyErr(errSyntax)
		return
	}

	if enable == 0 {
		c.ctl.StopContinuousWave()
		c.cw = false
		c.reply("OK")
		return
	}
	params := rfctl.DefaultParams()
	params.Frequency = uint32(freq)
	if len(parts) == 3 {
		power, err := strconv.Atoi(parts[2])
		if err != nil {
			c.replyErr(errSyntax)
			return
		}
		params.PowerDbm = power
	}
	if err := c.ctl.StartContinuousWave(params); err != nil {
		c.cw = false
		c.replyErr(radioErrCode(err))
		return
	}
	c.cw = true
	c.reply("OK")
}

func (c *console) doRSSI(args string) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		c.replyErr(errSyntax)
		return
	}
	freq, err1 := strconv.ParseUint(parts[0], 10, 32)
	secs, err2 := strconv.ParseUint(parts[1], 10, 16)
	if err1 != nil || err2 != nil {
		c.replyErr(errSyntax)
		return
	}
	if c.cw {
		c.ctl.StopContinuousWave()
		c.cw = false
	}
	params := rfctl.DefaultParams()
	params.Frequency = uint32(freq)
	// samples are emitted as they are taken
	if _, err := c.ctl.RSSISweep(params, time.Duration(secs)*time.Second); err != nil {
		c.replyErr(radioErrCode(err))
		return
	}
	c.reply("OK")
}

func (c *console) doSendFrame(args string) {
	payload, err := hex.DecodeString(args)
	if err != nil {
		c.replyErr(errSyntax)
		return
	}
	if c.cw {
		c.ctl.StopContinuousWave()
		c.cw = false
	}
	if err := c.ctl.SendFrame(rfctl.DefaultParams(), payload); err != nil {
		c.replyErr(radioErrCode(err))
		return
	}
	c.reply("OK")
}

func radioErrCode(err error) int {
	switch {
	case errors.Is(err, s2lp.ErrOutOfRange):
		return errRange
	case errors.Is(err, s2lp.ErrBadDevice):
		return errBadDevice
	}
	return errRadio
}
