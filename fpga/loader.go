// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// Default lines used on the Novena board to configure the FPGA.
const (
	DefaultSPI  = "SPI2.0"
	DefaultProg = "GPIO135" // PROGRAM_B
	DefaultDone = "GPIO149" // DONE

	// MaxSpeed is the SPI clock used to stream bitstreams.
	MaxSpeed = 10 * physic.MegaHertz
)

const (
	chunkSize = 4096 // spidev transfer limit
	nAttempts = 10
)

var errNotDone = errors.New("fpga: DONE pin failed to go high, bad bitstream?")

// Conn is the bus a bitstream is streamed over.
// spi.Conn implements Conn.
type Conn interface {
	Tx(w, r []byte) error
}

// Loader configures an FPGA from a bitstream image.
type Loader struct {
	conn Conn
	prog gpio.PinOut
	done gpio.PinIn

	port io.Closer
	msg  *log.Logger
}

// NewLoader returns a loader streaming bitstreams over conn and using
// the prog and done lines for the configuration handshake.
func NewLoader(conn Conn, prog gpio.PinOut, done gpio.PinIn) *Loader {
	return &Loader{
		conn: conn,
		prog: prog,
		done: done,
		msg:  log.New(os.Stdout, "fpga: ", 0),
	}
}

// Open initializes the host drivers and returns a loader connected to
// the named SPI port and GPIO lines.
func Open(spiName, progName, doneName string) (*Loader, error) {
	_, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("fpga: could not initialize host drivers: %w", err)
	}

	prog := gpioreg.ByName(progName)
	if prog == nil {
		return nil, fmt.Errorf("fpga: could not find PROGRAM_B line %q", progName)
	}

	done := gpioreg.ByName(doneName)
	if done == nil {
		return nil, fmt.Errorf("fpga: could not find DONE line %q", doneName)
	}

	port, err := spireg.Open(spiName)
	if err != nil {
		return nil, fmt.Errorf("fpga: could not open SPI port %q: %w", spiName, err)
	}

	conn, err := port.Connect(MaxSpeed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("fpga: could not connect to SPI port %q: %w", spiName, err)
	}

	ldr := NewLoader(conn, prog, done)
	ldr.port = port
	return ldr, nil
}

// Close releases the SPI port, if any.
func (ldr *Loader) Close() error {
	if ldr.port == nil {
		return nil
	}
	port := ldr.port
	ldr.port = nil
	return port.Close()
}

// Load configures the FPGA with the named bitstream image.
func (ldr *Loader) Load(fname string) error {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("fpga: could not read bitstream: %w", err)
	}

	ldr.msg.Printf("loading %q (%d bytes)...", fname, len(raw))
	err = ldr.Program(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("fpga: could not load %q: %w", fname, err)
	}
	ldr.msg.Printf("loading %q... [done]", fname)
	return nil
}

// Program streams the bitstream read from r to the FPGA.
func (ldr *Loader) Program(r io.Reader) error {
	// erase the FPGA by toggling PROGRAM_B.
	err := ldr.prog.Out(gpio.Low)
	if err != nil {
		return fmt.Errorf("fpga: could not assert PROGRAM_B: %w", err)
	}
	time.Sleep(1 * time.Millisecond)

	err = ldr.prog.Out(gpio.High)
	if err != nil {
		return fmt.Errorf("fpga: could not release PROGRAM_B: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			e := ldr.conn.Tx(buf[:n], nil)
			if e != nil {
				return fmt.Errorf("fpga: could not send bitstream: %w", e)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("fpga: could not read bitstream: %w", err)
		}
	}

	// extra clock cycles to run the start-up sequence.
	err = ldr.conn.Tx(make([]byte, 8), nil)
	if err != nil {
		return fmt.Errorf("fpga: could not send start-up clocks: %w", err)
	}

	for i := 0; i < nAttempts; i++ {
		if ldr.done.Read() == gpio.High {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	return errNotDone
}
