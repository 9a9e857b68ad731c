// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/novena/internal/mmap"
	"github.com/go-lpc/novena/rf/internal/regs"
)

// Option configures a Device.
type Option func(*config)

type config struct {
	devfs  string        // device node
	image  string        // FPGA bitstream
	loader Loader        // bitstream loader, used on mismatch
	seed   int64         // self-test randomness
	poll   time.Duration // completion polling interval
	msg    *log.Logger

	bus func(h *mmap.Handle) Bus // register window backend
}

func newConfig() config {
	return config{
		devfs:  regs.DEVFS,
		image:  regs.DefaultImage,
		loader: defaultLoader,
		seed:   1234,
		poll:   time.Millisecond,
		msg:    log.New(os.Stdout, "rf: ", 0),
		bus:    newMmapBus,
	}
}

// WithDevice sets the path to the Novena-RF device node.
func WithDevice(fname string) Option {
	return func(cfg *config) {
		cfg.devfs = fname
	}
}

// WithFPGAImage sets the FPGA bitstream validated (and loaded if needed)
// when the device is opened.
func WithFPGAImage(fname string) Option {
	return func(cfg *config) {
		cfg.image = fname
	}
}

// WithLoader sets the loader used to configure the FPGA when the
// running bitstream does not match the requested image.
func WithLoader(ld Loader) Option {
	return func(cfg *config) {
		cfg.loader = ld
	}
}

// WithSeed seeds the random values used by the bus self-tests.
func WithSeed(seed int64) Option {
	return func(cfg *config) {
		cfg.seed = seed
	}
}

// WithPollInterval sets the sleep between two completion polls of Acquire.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithLogger sets the logger used by the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
