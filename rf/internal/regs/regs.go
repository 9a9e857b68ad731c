// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the Novena-RF FPGA.
package regs // import "github.com/go-lpc/novena/rf/internal/regs"

const (
	DEVFS          = "/dev/novena_rf"
	DefaultImage   = "/usr/share/novena-rf/novena_rf.bit"
	IOCTL_EIM_INIT = 0x4e00 // _IO('N', 0)
)

// memory windows, selected by the mmap offset of the device node.
const (
	MAP_PAGE_SHIFT = 16

	REGS_PAGE_NO      = 0
	FRAMER0_PAGE_NO   = 1
	DEFRAMER0_PAGE_NO = 2
	TEST0_PAGE_NO     = 3

	REGS_PAGE_SIZE      = 0x1000
	FRAMER0_PAGE_SIZE   = 0x8000
	DEFRAMER0_PAGE_SIZE = 0x8000
	TEST0_PAGE_SIZE     = 0x1000
)

// MapOffset returns the mmap offset selecting the given window.
func MapOffset(page int) int64 {
	return int64(page) << MAP_PAGE_SHIFT
}

// frame layout of the framer (RX) and deframer (TX) windows.
const (
	FRAMER0_NUM_FRAMES   = 8
	FRAMER0_FRAME_SIZE   = 0x800
	DEFRAMER0_NUM_FRAMES = 8
	DEFRAMER0_FRAME_SIZE = 0x800

	FRAMER0_MM2S_BASE   = 0x0000
	FRAMER0_S2MM_BASE   = 0x4000
	DEFRAMER0_MM2S_BASE = 0x0000
	DEFRAMER0_S2MM_BASE = 0x4000
)

// register byte offsets (16-bit words).
const (
	SENTINEL_ADDR = 0x00 // fixed value, bitstream present (R)
	VERSION_ADDR  = 0x02 // bitstream revision (R)
	RESET_ADDR    = 0x04 // internal reset, pulse 1 then 0 (W)
	LOOPBACK_ADDR = 0x06 // scratch register, holds the loaded image hash (RW)

	TIME_LO_ADDR   = 0x08 // time ticks [15:0] (RW)
	TIME_ME_ADDR   = 0x0a // time ticks [31:16] (RW)
	TIME_HI_ADDR   = 0x0c // time ticks [47:32] (RW)
	TIME_EX_ADDR   = 0x0e // time ticks [63:48] (RW)
	TIME_CTRL_ADDR = 0x10 // time latch control (W)

	DMA_FIFO_RDY_CTRL_ADDR = 0x12 // per-channel completion ready bits (R)

	MM2S_FRAMER0_CTRL_ADDR   = 0x20 // start/end offsets (W)
	MM2S_FRAMER0_STAT_ADDR   = 0x22 // completion pop (W)
	S2MM_FRAMER0_CTRL_ADDR   = 0x24 // start offset (W)
	S2MM_FRAMER0_STAT_ADDR   = 0x26 // received bytes (R), completion pop (W)
	MM2S_DEFRAMER0_CTRL_ADDR = 0x28 // start/end offsets (W)
	MM2S_DEFRAMER0_STAT_ADDR = 0x2a // completion pop (W)
	S2MM_DEFRAMER0_CTRL_ADDR = 0x2c // start offset (W)
	S2MM_DEFRAMER0_STAT_ADDR = 0x2e // received bytes (R), completion pop (W)
)

const (
	SENTINEL_VALUE = 0x5628
	VERSION_VALUE  = 0x0003
)

// bits of TIME_CTRL_ADDR.
const (
	TIME_LATCH_OUT = 1 << 0 // commit time registers into the device clock
	TIME_LATCH_IN  = 1 << 1 // snapshot the device clock into time registers
)

// bit positions in DMA_FIFO_RDY_CTRL_ADDR.
const (
	SHIFT_RDY_S2MM_FRAMER0   = 1
	SHIFT_RDY_MM2S_FRAMER0   = 3
	SHIFT_RDY_S2MM_DEFRAMER0 = 5
	SHIFT_RDY_MM2S_DEFRAMER0 = 7
)

// LMS_CLOCK_RATE is the master clock rate, in Hz.
const LMS_CLOCK_RATE = 30720000
