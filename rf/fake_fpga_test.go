// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/novena/fpga"
	"github.com/go-lpc/novena/internal/mmap"
	"github.com/go-lpc/novena/rf/internal/regs"
)

// fakeFPGA simulates the register side effects of the Novena-RF bitstream.
type fakeFPGA struct {
	mu   sync.Mutex
	regs [regs.REGS_PAGE_SIZE / 2]uint16

	loaded  bool   // whether a bitstream runs
	version uint16 // version of the running bitstream
	image   uint16 // version installed by load
	nloads  int
	resets  []uint16
	stuck   uint16 // loopback bits stuck at 1

	clock uint64 // device time, in ticks
	tctrl uint16 // last time control value

	ctrl [nChannels][]uint16 // values written to control registers
	fifo [nChannels][]uint16 // pending completions (byte counts)
}

func newFakeFPGA() *fakeFPGA {
	return &fakeFPGA{
		version: regs.VERSION_VALUE,
		image:   regs.VERSION_VALUE,
	}
}

var fakeChans = [nChannels]struct {
	ctrl, stat uint32
	shift      uint
}{
	FramerMM2S:   {regs.MM2S_FRAMER0_CTRL_ADDR, regs.MM2S_FRAMER0_STAT_ADDR, regs.SHIFT_RDY_MM2S_FRAMER0},
	FramerS2MM:   {regs.S2MM_FRAMER0_CTRL_ADDR, regs.S2MM_FRAMER0_STAT_ADDR, regs.SHIFT_RDY_S2MM_FRAMER0},
	DeframerMM2S: {regs.MM2S_DEFRAMER0_CTRL_ADDR, regs.MM2S_DEFRAMER0_STAT_ADDR, regs.SHIFT_RDY_MM2S_DEFRAMER0},
	DeframerS2MM: {regs.S2MM_DEFRAMER0_CTRL_ADDR, regs.S2MM_DEFRAMER0_STAT_ADDR, regs.SHIFT_RDY_S2MM_DEFRAMER0},
}

// load simulates the configuration of the FPGA: all registers are reset.
func (f *fakeFPGA) load(image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nloads++
	f.loaded = true
	f.version = f.image
	f.regs = [len(f.regs)]uint16{}
	return nil
}

func (f *fakeFPGA) Read(addr uint32) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch addr {
	case regs.SENTINEL_ADDR:
		if !f.loaded {
			return 0xffff
		}
		return regs.SENTINEL_VALUE
	case regs.VERSION_ADDR:
		if !f.loaded {
			return 0xffff
		}
		return f.version
	case regs.LOOPBACK_ADDR:
		return f.regs[addr/2] | f.stuck
	case regs.DMA_FIFO_RDY_CTRL_ADDR:
		var v uint16
		for ch, q := range f.fifo {
			if len(q) > 0 {
				v |= 1 << fakeChans[ch].shift
			}
		}
		return v
	}

	for ch, v := range fakeChans {
		if addr == v.stat {
			if len(f.fifo[ch]) == 0 {
				return 0
			}
			return f.fifo[ch][0]
		}
	}
	return f.regs[addr/2]
}

func (f *fakeFPGA) Write(addr uint32, v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch addr {
	case regs.RESET_ADDR:
		f.resets = append(f.resets, v)
		return
	case regs.TIME_CTRL_ADDR:
		rising := v &^ f.tctrl
		f.tctrl = v
		if rising&regs.TIME_LATCH_IN != 0 {
			f.regs[regs.TIME_LO_ADDR/2] = uint16(f.clock)
			f.regs[regs.TIME_ME_ADDR/2] = uint16(f.clock >> 16)
			f.regs[regs.TIME_HI_ADDR/2] = uint16(f.clock >> 32)
			f.regs[regs.TIME_EX_ADDR/2] = uint16(f.clock >> 48)
		}
		if rising&regs.TIME_LATCH_OUT != 0 {
			f.clock = uint64(f.regs[regs.TIME_LO_ADDR/2]) |
				uint64(f.regs[regs.TIME_ME_ADDR/2])<<16 |
				uint64(f.regs[regs.TIME_HI_ADDR/2])<<32 |
				uint64(f.regs[regs.TIME_EX_ADDR/2])<<48
		}
		return
	}

	for ch, c := range fakeChans {
		switch addr {
		case c.ctrl:
			f.ctrl[ch] = append(f.ctrl[ch], v)
			return
		case c.stat:
			if v == 0 && len(f.fifo[ch]) > 0 {
				f.fifo[ch] = f.fifo[ch][1:]
			}
			return
		}
	}
	f.regs[addr/2] = v
}

// complete queues a hardware completion of n bytes on channel ch.
func (f *fakeFPGA) complete(ch Channel, n uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fifo[ch] = append(f.fifo[ch], n)
}

func (f *fakeFPGA) ctrlWrites(ch Channel) []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.ctrl[ch]...)
}

func (f *fakeFPGA) resetCtrl() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctrl = [nChannels][]uint16{}
}

func (f *fakeFPGA) pending(ch Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fifo[ch])
}

// fakeBoard holds the files backing a fake Novena-RF board.
type fakeBoard struct {
	fpga  *fakeFPGA
	devfs string // fake device node
	image string // fake bitstream
	hash  uint16
}

func newFakeBoard(t *testing.T) *fakeBoard {
	t.Helper()

	orig := eimInit
	eimInit = func(fd uintptr) error { return nil }
	t.Cleanup(func() { eimInit = orig })

	var (
		tmp   = t.TempDir()
		devfs = filepath.Join(tmp, "novena_rf")
		image = filepath.Join(tmp, "novena_rf.bit")
	)

	f, err := os.Create(devfs)
	if err != nil {
		t.Fatalf("could not create fake device node: %+v", err)
	}
	defer f.Close()

	err = f.Truncate(regs.MapOffset(regs.TEST0_PAGE_NO) + regs.TEST0_PAGE_SIZE)
	if err != nil {
		t.Fatalf("could not resize fake device node: %+v", err)
	}

	err = os.WriteFile(image, []byte("novena-rf bitstream"), 0644)
	if err != nil {
		t.Fatalf("could not create fake bitstream: %+v", err)
	}

	hash, err := fpga.HashFile(image)
	if err != nil {
		t.Fatalf("could not hash fake bitstream: %+v", err)
	}

	return &fakeBoard{
		fpga:  newFakeFPGA(),
		devfs: devfs,
		image: image,
		hash:  hash,
	}
}

// preload simulates a board already running the fake bitstream.
func (brd *fakeBoard) preload() {
	brd.fpga.loaded = true
	brd.fpga.regs[regs.LOOPBACK_ADDR/2] = brd.hash
}

func (brd *fakeBoard) options(opts ...Option) []Option {
	return append([]Option{
		WithDevice(brd.devfs),
		WithLoader(LoaderFunc(brd.fpga.load)),
		WithLogger(log.New(io.Discard, "rf: ", 0)),
		WithPollInterval(100 * time.Microsecond),
		withBus(brd.fpga),
	}, opts...)
}

func (brd *fakeBoard) open(t *testing.T, opts ...Option) *Device {
	t.Helper()

	opts = append([]Option{WithFPGAImage(brd.image)}, opts...)
	dev, err := Open(brd.options(opts...)...)
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func withBus(bus Bus) Option {
	return func(cfg *config) {
		cfg.bus = func(*mmap.Handle) Bus { return bus }
	}
}
