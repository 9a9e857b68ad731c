// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"fmt"
	"io"

	"github.com/go-lpc/novena/fpga"
	"github.com/go-lpc/novena/rf/internal/regs"
)

// Loader configures the FPGA with a bitstream image.
//
// *fpga.Loader implements Loader.
type Loader interface {
	Load(image string) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(image string) error

// Load calls f(image).
func (f LoaderFunc) Load(image string) error { return f(image) }

var defaultLoader = LoaderFunc(func(image string) error {
	ldr, err := fpga.Open(fpga.DefaultSPI, fpga.DefaultProg, fpga.DefaultDone)
	if err != nil {
		return err
	}
	defer ldr.Close()

	return ldr.Load(image)
})

// checkAndLoad makes sure the FPGA runs the given image, loading it if
// the running bitstream is absent, outdated or different.
func (dev *Device) checkAndLoad(image string) error {
	hash, err := fpga.HashFile(image)
	if err != nil {
		return fmt.Errorf("rf: could not hash FPGA image: %w: %w", ErrBringup, err)
	}

	// energize the bus clock.
	_ = dev.regs.sentinel.r()

	switch {
	case dev.running(hash):
		dev.msg.Printf("FPGA image %q already loaded (hash=0x%04x)", image, hash)
	default:
		dev.msg.Printf("loading FPGA image %q (hash=0x%04x)...", image, hash)
		err = dev.cfg.loader.Load(image)
		if err != nil {
			return fmt.Errorf("rf: could not load FPGA image %q: %w: %w", image, ErrBringup, err)
		}

		if got, want := dev.regs.sentinel.r(), uint16(regs.SENTINEL_VALUE); got != want {
			return fmt.Errorf(
				"%w: FPGA sentinel check failed (got=0x%04x, want=0x%04x)",
				ErrBringup, got, want,
			)
		}

		if got, want := dev.regs.version.r(), uint16(regs.VERSION_VALUE); got != want {
			return fmt.Errorf(
				"%w: FPGA version mismatch (got=0x%04x, want=0x%04x)",
				ErrBringup, got, want,
			)
		}
		dev.msg.Printf("loading FPGA image %q... [done]", image)
	}

	dev.regs.reset.pulse(1)
	dev.regs.loopback.w(hash)

	return nil
}

// running returns whether the FPGA runs a valid bitstream tagged with hash.
func (dev *Device) running(hash uint16) bool {
	var (
		sentinel = dev.regs.sentinel.r()
		version  = dev.regs.version.r()
		loopback = dev.regs.loopback.r()
	)
	return sentinel == regs.SENTINEL_VALUE &&
		version == regs.VERSION_VALUE &&
		loopback == hash
}

const nLoopbacks = 100

func (dev *Device) selfTest() error {
	err := dev.selfTestRegisters()
	if err != nil {
		return err
	}

	err = dev.selfTestMemory()
	if err != nil {
		return err
	}

	return nil
}

func (dev *Device) selfTestRegisters() error {
	saved := dev.regs.loopback.r()
	for i := 0; i < nLoopbacks; i++ {
		want := uint16(dev.rnd.Uint32())
		dev.regs.loopback.w(want)
		got := dev.regs.loopback.r()
		if got != want {
			return fmt.Errorf(
				"%w: register loopback failed at iteration %d (got=0x%04x, want=0x%04x)",
				ErrSelfTest, i, got, want,
			)
		}
	}
	dev.regs.loopback.w(saved)
	return nil
}

func (dev *Device) selfTestMemory() error {
	win, err := mmapWindow(
		dev.mem.fd.Fd(),
		regs.MapOffset(regs.TEST0_PAGE_NO),
		regs.TEST0_PAGE_SIZE,
	)
	if err != nil {
		return fmt.Errorf("rf: could not map test window: %w: %w", ErrDeviceOpen, err)
	}
	defer win.Close()

	return dev.memLoopback(win, win.Len())
}

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

func (dev *Device) memLoopback(rw rwer, size int) error {
	want := make([]byte, size)
	_, _ = dev.rnd.Read(want)

	_, err := rw.WriteAt(want, 0)
	if err != nil {
		return fmt.Errorf("rf: could not write test window: %w: %w", ErrSelfTest, err)
	}

	got := make([]byte, size)
	_, err = rw.ReadAt(got, 0)
	if err != nil {
		return fmt.Errorf("rf: could not read test window: %w: %w", ErrSelfTest, err)
	}

	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf(
				"%w: memory loopback failed at index %d (got=0x%02x, want=0x%02x)",
				ErrSelfTest, i, got[i], want[i],
			)
		}
	}
	return nil
}
