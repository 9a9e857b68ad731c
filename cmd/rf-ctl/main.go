// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rf-ctl inspects and exercises a Novena-RF board.
//
// Usage: rf-ctl [options] <command> [args...]
//
// Commands:
//   - info:              display board identification
//   - regs:              dump registers
//   - peek ADDR:         read register at byte offset ADDR
//   - poke ADDR VALUE:   write VALUE to register at byte offset ADDR
//   - time:              display hardware time, in nanoseconds
//   - settime NS:        set hardware time, in nanoseconds
//   - bench [options]:   stream frames through the DMA channels
//   - shell:             run commands interactively
package main // import "github.com/go-lpc/novena/cmd/rf-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/novena"
	"github.com/go-lpc/novena/rf"
	"github.com/peterh/liner"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("rf-ctl: ")
	log.SetFlags(0)

	var (
		devfs = flag.String("dev", rf.DefaultDevice, "path to Novena-RF device node")
		image = flag.String("fpga", rf.DefaultImage, "path to FPGA bitstream")
		seed  = flag.Int64("seed", 1234, "seed for the bus self-tests")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: rf-ctl [options] <command> [args...]

Commands: info, regs, peek, poke, time, settime, bench, shell.

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	dev, err := rf.Open(
		rf.WithDevice(*devfs),
		rf.WithFPGAImage(*image),
		rf.WithSeed(*seed),
	)
	if err != nil {
		log.Fatalf("could not open device: %+v", err)
	}
	defer dev.Close()

	err = eval(dev, os.Stdout, flag.Args())
	if err != nil {
		_ = dev.Close()
		log.Fatalf("%+v", err)
	}
}

type device interface {
	DriverKey() string
	HardwareKey() string
	MasterClockRate() float64
	NumChannels() int
	FullDuplex() bool

	ReadRegister(addr uint32) uint32
	WriteRegister(addr uint32, v uint32)
	DumpRegisters(w io.Writer) error

	HardwareTime(what string) (int64, error)
	SetHardwareTime(ns int64, what string) error

	Acquire(ch rf.Channel, timeout time.Duration) (handle, length int, err error)
	Release(ch rf.Channel, handle, length int) error
	Buffer(ch rf.Channel, handle int) ([]byte, error)
}

var _ device = (*rf.Device)(nil)

var errQuit = errors.New("rf-ctl: quit")

func eval(dev device, w io.Writer, args []string) error {
	if len(args) == 0 {
		return nil
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "info":
		version, _ := novena.Version()
		fmt.Fprintf(w, "version:     %s\n", version)
		fmt.Fprintf(w, "driver:      %s\n", dev.DriverKey())
		fmt.Fprintf(w, "hardware:    %s\n", dev.HardwareKey())
		fmt.Fprintf(w, "clock:       %g Hz\n", dev.MasterClockRate())
		fmt.Fprintf(w, "channels:    %d\n", dev.NumChannels())
		fmt.Fprintf(w, "full-duplex: %v\n", dev.FullDuplex())
		return nil

	case "regs":
		return dev.DumpRegisters(w)

	case "peek":
		if len(args) != 1 {
			return fmt.Errorf("rf-ctl: usage: peek ADDR")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%02x: 0x%04x\n", addr, dev.ReadRegister(addr))
		return nil

	case "poke":
		if len(args) != 2 {
			return fmt.Errorf("rf-ctl: usage: poke ADDR VALUE")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		v, err := parseU32(args[1])
		if err != nil {
			return err
		}
		dev.WriteRegister(addr, v)
		return nil

	case "time":
		ns, err := dev.HardwareTime("")
		if err != nil {
			return fmt.Errorf("rf-ctl: could not read hardware time: %w", err)
		}
		fmt.Fprintf(w, "%d ns (%v)\n", ns, time.Duration(ns))
		return nil

	case "settime":
		if len(args) != 1 {
			return fmt.Errorf("rf-ctl: usage: settime NS")
		}
		ns, err := strconv.ParseInt(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("rf-ctl: could not parse time %q: %w", args[0], err)
		}
		err = dev.SetHardwareTime(ns, "")
		if err != nil {
			return fmt.Errorf("rf-ctl: could not set hardware time: %w", err)
		}
		return nil

	case "bench":
		fset := flag.NewFlagSet("bench", flag.ContinueOnError)
		fset.SetOutput(w)
		var (
			n       = fset.Int("n", 1000, "number of frames per direction")
			timeout = fset.Duration("timeout", time.Second, "acquire timeout")
			doMon   = fset.Bool("pmon", false, "enable pmon monitoring")
			freq    = fset.Duration("freq", time.Second, "pmon frequency")
		)
		err := fset.Parse(args)
		if err != nil {
			return err
		}
		if *doMon {
			stop, err := monitor(os.Stderr, *freq)
			if err != nil {
				return err
			}
			defer stop()
		}
		return bench(dev, w, *n, *timeout)

	case "shell":
		return shell(dev, w)

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("rf-ctl: unknown command %q", cmd)
	}
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("rf-ctl: could not parse %q: %w", s, err)
	}
	return uint32(v), nil
}

// parseAddr parses a register byte offset. It must be 16-bit aligned
// and inside the register window.
func parseAddr(s string) (uint32, error) {
	addr, err := parseU32(s)
	if err != nil {
		return 0, err
	}
	if addr&1 != 0 || uint64(addr)+2 > rf.RegistersSize {
		return 0, fmt.Errorf("rf-ctl: invalid register address 0x%x", addr)
	}
	return addr, nil
}

func shell(dev device, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	return repl(dev, w, func(prompt string) (string, error) {
		line, err := term.Prompt(prompt)
		if err == nil && strings.TrimSpace(line) != "" {
			term.AppendHistory(line)
		}
		return line, err
	})
}

func repl(dev device, w io.Writer, prompt func(string) (string, error)) error {
	for {
		line, err := prompt("rf> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("rf-ctl: could not read command: %w", err)
		}

		args := strings.Fields(line)
		if len(args) > 0 && args[0] == "shell" {
			fmt.Fprintf(w, "already in a shell\n")
			continue
		}

		err = eval(dev, w, args)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintf(w, "error: %+v\n", err)
		}
	}
}

// bench streams n frames out through the deframer while receiving n
// frames from the framer.
func bench(dev device, w io.Writer, n int, timeout time.Duration) error {
	var (
		grp    errgroup.Group
		start  = time.Now()
		nbytes [2]int
	)

	grp.Go(func() error {
		const ch = rf.DeframerMM2S
		for i := 0; i < n; i++ {
			h, size, err := dev.Acquire(ch, timeout)
			if err != nil {
				return fmt.Errorf("rf-ctl: could not acquire %v frame %d: %w", ch, i, err)
			}
			buf, err := dev.Buffer(ch, h)
			if err != nil {
				return fmt.Errorf("rf-ctl: could not access %v frame %d: %w", ch, i, err)
			}
			for j := range buf[:size] {
				buf[j] = byte(i + j)
			}
			err = dev.Release(ch, h, size)
			if err != nil {
				return fmt.Errorf("rf-ctl: could not release %v frame %d: %w", ch, i, err)
			}
			nbytes[0] += size
		}
		return nil
	})

	grp.Go(func() error {
		const ch = rf.FramerS2MM
		for i := 0; i < n; i++ {
			h, size, err := dev.Acquire(ch, timeout)
			if err != nil {
				return fmt.Errorf("rf-ctl: could not acquire %v frame %d: %w", ch, i, err)
			}
			buf, err := dev.Buffer(ch, h)
			if err != nil {
				return fmt.Errorf("rf-ctl: could not access %v frame %d: %w", ch, i, err)
			}
			err = dev.Release(ch, h, len(buf))
			if err != nil {
				return fmt.Errorf("rf-ctl: could not release %v frame %d: %w", ch, i, err)
			}
			nbytes[1] += size
		}
		return nil
	})

	err := grp.Wait()
	if err != nil {
		return err
	}

	delta := time.Since(start)
	for i, name := range []string{"tx", "rx"} {
		rate := float64(nbytes[i]) / delta.Seconds() / (1 << 20)
		fmt.Fprintf(w, "%s: %d frames, %d bytes in %v (%.3f MiB/s)\n",
			name, n, nbytes[i], delta, rate,
		)
	}
	return nil
}

// monitor starts monitoring the CPU and memory usage of the current process.
func monitor(w io.Writer, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("rf-ctl: could not start monitoring: %w", err)
	}
	p.W = w
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
	}, nil
}
