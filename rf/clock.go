// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/go-lpc/novena/rf/internal/regs"
)

const (
	clockRate = regs.LMS_CLOCK_RATE // Hz
	nsPerSec  = 1_000_000_000
)

// MasterClockRate returns the rate of the hardware clock, in Hz.
func (dev *Device) MasterClockRate() float64 {
	return clockRate
}

// HasHardwareTime returns whether the named time domain is supported.
// Only the default domain, "", is.
func (dev *Device) HasHardwareTime(what string) bool {
	return what == ""
}

// HardwareTime returns the hardware clock, in nanoseconds.
func (dev *Device) HardwareTime(what string) (int64, error) {
	if !dev.HasHardwareTime(what) {
		return 0, fmt.Errorf("%w: time domain %q", ErrUnsupported, what)
	}

	dev.regs.time.ctrl.pulse(regs.TIME_LATCH_IN)

	ticks := uint64(dev.regs.time.lo.r()) |
		uint64(dev.regs.time.me.r())<<16 |
		uint64(dev.regs.time.hi.r())<<32 |
		uint64(dev.regs.time.ex.r())<<48

	return ticksToNs(ticks), nil
}

// SetHardwareTime sets the hardware clock to ns nanoseconds.
func (dev *Device) SetHardwareTime(ns int64, what string) error {
	if !dev.HasHardwareTime(what) {
		return fmt.Errorf("%w: time domain %q", ErrUnsupported, what)
	}
	if ns < 0 {
		return fmt.Errorf("rf: invalid negative hardware time %d", ns)
	}

	ticks := nsToTicks(ns)
	dev.regs.time.lo.w(uint16(ticks))
	dev.regs.time.me.w(uint16(ticks >> 16))
	dev.regs.time.hi.w(uint16(ticks >> 32))
	dev.regs.time.ex.w(uint16(ticks >> 48))

	dev.regs.time.ctrl.pulse(regs.TIME_LATCH_OUT)
	return nil
}

// ticksToNs converts clock ticks to nanoseconds, saturating at math.MaxInt64.
func ticksToNs(ticks uint64) int64 {
	hi, lo := bits.Mul64(ticks, nsPerSec)
	if hi >= clockRate {
		return math.MaxInt64
	}
	ns, _ := bits.Div64(hi, lo, clockRate)
	if ns > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(ns)
}

func nsToTicks(ns int64) uint64 {
	hi, lo := bits.Mul64(uint64(ns), clockRate)
	ticks, _ := bits.Div64(hi, lo, nsPerSec)
	return ticks
}
