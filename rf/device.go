// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"text/tabwriter"

	"github.com/go-lpc/novena/internal/mmap"
	"github.com/go-lpc/novena/rf/internal/regs"
	"golang.org/x/sys/unix"
)

var (
	eimInit = func(fd uintptr) error {
		return unix.IoctlSetInt(int(fd), regs.IOCTL_EIM_INIT, 0)
	}
	mmapWindow = mmap.Map
)

// Device is an opened Novena-RF board.
type Device struct {
	msg *log.Logger
	cfg config
	rnd *rand.Rand

	mem struct {
		fd       *os.File
		regs     *mmap.Handle
		framer   *mmap.Handle
		deframer *mmap.Handle
	}

	bus  Bus
	regs pins
	dma  [nChannels]dmaChan
}

type pins struct {
	sentinel reg16
	version  reg16
	reset    reg16
	loopback reg16
	rdy      reg16

	time struct {
		lo, me, hi, ex reg16
		ctrl           reg16
	}
}

func newPins(bus Bus) pins {
	var p pins
	p.sentinel = newReg16(bus, regs.SENTINEL_ADDR)
	p.version = newReg16(bus, regs.VERSION_ADDR)
	p.reset = newReg16(bus, regs.RESET_ADDR)
	p.loopback = newReg16(bus, regs.LOOPBACK_ADDR)
	p.rdy = newReg16(bus, regs.DMA_FIFO_RDY_CTRL_ADDR)

	p.time.lo = newReg16(bus, regs.TIME_LO_ADDR)
	p.time.me = newReg16(bus, regs.TIME_ME_ADDR)
	p.time.hi = newReg16(bus, regs.TIME_HI_ADDR)
	p.time.ex = newReg16(bus, regs.TIME_EX_ADDR)
	p.time.ctrl = newReg16(bus, regs.TIME_CTRL_ADDR)
	return p
}

// Open opens the Novena-RF device, makes sure its FPGA runs the
// configured bitstream, self-tests its buses and sets up its DMA channels.
//
// On error, all the resources acquired so far are released.
func Open(opts ...Option) (dev *Device, err error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dev = &Device{
		msg: cfg.msg,
		cfg: cfg,
		rnd: rand.New(rand.NewSource(cfg.seed)),
	}

	dev.mem.fd, err = os.OpenFile(cfg.devfs, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %q: %w", ErrDeviceOpen, cfg.devfs, err)
	}
	defer func() {
		if err != nil {
			_ = dev.Close()
			dev = nil
		}
	}()

	err = eimInit(dev.mem.fd.Fd())
	if err != nil {
		return dev, fmt.Errorf("%w: could not initialize EIM bus: %w", ErrDeviceOpen, err)
	}

	dev.mem.regs, err = dev.mmap("register", regs.REGS_PAGE_NO, regs.REGS_PAGE_SIZE)
	if err != nil {
		return dev, err
	}
	dev.bus = cfg.bus(dev.mem.regs)
	dev.regs = newPins(dev.bus)

	err = dev.checkAndLoad(cfg.image)
	if err != nil {
		return dev, err
	}

	err = dev.selfTest()
	if err != nil {
		return dev, err
	}

	err = dev.SetHardwareTime(0, "")
	if err != nil {
		return dev, fmt.Errorf("rf: could not reset hardware time: %w", err)
	}

	dev.mem.framer, err = dev.mmap("framer", regs.FRAMER0_PAGE_NO, regs.FRAMER0_PAGE_SIZE)
	if err != nil {
		return dev, err
	}

	dev.mem.deframer, err = dev.mmap("deframer", regs.DEFRAMER0_PAGE_NO, regs.DEFRAMER0_PAGE_SIZE)
	if err != nil {
		return dev, err
	}

	err = dev.initDMA(dev.mem.framer, dev.mem.deframer)
	if err != nil {
		return dev, err
	}

	return dev, nil
}

func (dev *Device) mmap(name string, page, size int) (*mmap.Handle, error) {
	h, err := mmapWindow(dev.mem.fd.Fd(), regs.MapOffset(page), size)
	if err != nil {
		return nil, fmt.Errorf("%w: could not map %s window: %w", ErrDeviceOpen, name, err)
	}
	return h, nil
}

// Close unmaps all the device windows and closes the device node.
// Close is idempotent.
func (dev *Device) Close() error {
	var errs []error
	for _, h := range []**mmap.Handle{
		&dev.mem.deframer,
		&dev.mem.framer,
		&dev.mem.regs,
	} {
		if *h == nil {
			continue
		}
		err := (*h).Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("rf: could not unmap window: %w", err))
		}
		*h = nil
	}

	if dev.mem.fd != nil {
		err := dev.mem.fd.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("rf: could not close device node: %w", err))
		}
		dev.mem.fd = nil
	}

	return errors.Join(errs...)
}

// ReadRegister reads the 16-bit register at byte offset addr.
func (dev *Device) ReadRegister(addr uint32) uint32 {
	return uint32(dev.bus.Read(addr))
}

// WriteRegister writes the low 16 bits of v to the register at byte offset addr.
func (dev *Device) WriteRegister(addr uint32, v uint32) {
	dev.bus.Write(addr, uint16(v))
}

// DriverKey returns the key identifying the driver.
func (dev *Device) DriverKey() string { return "NOVENA-RF" }

// HardwareKey returns the key identifying the hardware.
func (dev *Device) HardwareKey() string { return "NOVENA" }

// NumChannels returns the number of RF channels per direction.
func (dev *Device) NumChannels() int { return 1 }

// FullDuplex returns whether RX and TX may stream simultaneously.
func (dev *Device) FullDuplex() bool { return true }

// DumpRegisters writes a human readable view of the device registers to w.
func (dev *Device) DumpRegisters(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, v := range []struct {
		name string
		addr uint32
	}{
		{"sentinel", regs.SENTINEL_ADDR},
		{"version", regs.VERSION_ADDR},
		{"loopback", regs.LOOPBACK_ADDR},
		{"time_lo", regs.TIME_LO_ADDR},
		{"time_me", regs.TIME_ME_ADDR},
		{"time_hi", regs.TIME_HI_ADDR},
		{"time_ex", regs.TIME_EX_ADDR},
		{"dma_rdy", regs.DMA_FIFO_RDY_CTRL_ADDR},
		{"mm2s_framer0_stat", regs.MM2S_FRAMER0_STAT_ADDR},
		{"s2mm_framer0_stat", regs.S2MM_FRAMER0_STAT_ADDR},
		{"mm2s_deframer0_stat", regs.MM2S_DEFRAMER0_STAT_ADDR},
		{"s2mm_deframer0_stat", regs.S2MM_DEFRAMER0_STAT_ADDR},
	} {
		fmt.Fprintf(tw, "%s:\t0x%02x\t0x%04x\n", v.name, v.addr, dev.bus.Read(v.addr))
	}

	fmt.Fprintf(tw, "\n")
	for _, ch := range Channels {
		tbl := dev.dma[ch].tbl
		if tbl == nil {
			continue
		}
		fmt.Fprintf(tw, "%v:\tavail=%d/%d\tframe=%d\n",
			ch, tbl.numAvailable(), len(tbl.slots), tbl.bytesPerFrame(),
		)
	}

	err := tw.Flush()
	if err != nil {
		return fmt.Errorf("rf: could not dump registers: %w", err)
	}
	return nil
}
