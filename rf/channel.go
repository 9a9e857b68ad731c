// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"fmt"
	"time"

	"github.com/go-lpc/novena/internal/mmap"
	"github.com/go-lpc/novena/rf/internal/regs"
)

// dmaChan binds a DMA channel to its frame table and registers.
type dmaChan struct {
	tbl  *sgTable
	ctrl reg16  // start/end offsets
	stat reg16  // completion byte count and acknowledge
	rdy  uint16 // ready bit in the shared ready-status register
}

func (dev *Device) initDMA(framer, deframer *mmap.Handle) error {
	layout := [nChannels]struct {
		win   *mmap.Handle
		base  int
		n     int
		size  int
		ctrl  uint32
		stat  uint32
		shift uint
	}{
		FramerMM2S: {
			framer, regs.FRAMER0_MM2S_BASE, regs.FRAMER0_NUM_FRAMES, regs.FRAMER0_FRAME_SIZE,
			regs.MM2S_FRAMER0_CTRL_ADDR, regs.MM2S_FRAMER0_STAT_ADDR, regs.SHIFT_RDY_MM2S_FRAMER0,
		},
		FramerS2MM: {
			framer, regs.FRAMER0_S2MM_BASE, regs.FRAMER0_NUM_FRAMES, regs.FRAMER0_FRAME_SIZE,
			regs.S2MM_FRAMER0_CTRL_ADDR, regs.S2MM_FRAMER0_STAT_ADDR, regs.SHIFT_RDY_S2MM_FRAMER0,
		},
		DeframerMM2S: {
			deframer, regs.DEFRAMER0_MM2S_BASE, regs.DEFRAMER0_NUM_FRAMES, regs.DEFRAMER0_FRAME_SIZE,
			regs.MM2S_DEFRAMER0_CTRL_ADDR, regs.MM2S_DEFRAMER0_STAT_ADDR, regs.SHIFT_RDY_MM2S_DEFRAMER0,
		},
		DeframerS2MM: {
			deframer, regs.DEFRAMER0_S2MM_BASE, regs.DEFRAMER0_NUM_FRAMES, regs.DEFRAMER0_FRAME_SIZE,
			regs.S2MM_DEFRAMER0_CTRL_ADDR, regs.S2MM_DEFRAMER0_STAT_ADDR, regs.SHIFT_RDY_S2MM_DEFRAMER0,
		},
	}

	for _, ch := range Channels {
		v := layout[ch]
		dev.dma[ch] = dmaChan{
			tbl:  newSGTable(v.win.Slice(0, v.win.Len()), v.base, v.n, v.size),
			ctrl: newReg16(dev.bus, v.ctrl),
			stat: newReg16(dev.bus, v.stat),
			rdy:  1 << v.shift,
		}
	}

	// hand all receive frames to hardware.
	for _, ch := range Channels {
		if ch.IsWrite() {
			continue
		}
		for {
			h, n, ok := dev.TryAcquire(ch)
			if !ok {
				break
			}
			err := dev.Release(ch, h, n)
			if err != nil {
				return fmt.Errorf("rf: could not prime %v frame %d: %w", ch, h, err)
			}
		}
	}

	return nil
}

func (dev *Device) channel(ch Channel) (*dmaChan, error) {
	if !ch.valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannel, ch)
	}
	dma := &dev.dma[ch]
	if dma.tbl == nil {
		return nil, fmt.Errorf("rf: DMA channel %v not initialized", ch)
	}
	return dma, nil
}

// Acquire returns the next frame available on the channel, waiting up
// to timeout for a hardware completion.
//
// For write channels, the frame is free to be filled and its length
// is the frame capacity. For read channels, the frame holds length
// received bytes.
// Acquire returns -1, 0, ErrTimeout when no frame became available.
func (dev *Device) Acquire(ch Channel, timeout time.Duration) (handle, length int, err error) {
	dma, err := dev.channel(ch)
	if err != nil {
		return -1, 0, err
	}

	deadline := time.Now().Add(timeout)
	for {
		dev.drain(ch, dma)
		if dma.tbl.numAvailable() > 0 {
			break
		}
		time.Sleep(dev.cfg.poll)
		if time.Now().After(deadline) {
			return -1, 0, ErrTimeout
		}
	}

	handle, length = dma.tbl.acquireHead()
	return handle, length, nil
}

// TryAcquire is like Acquire but never waits.
func (dev *Device) TryAcquire(ch Channel) (handle, length int, ok bool) {
	dma, err := dev.channel(ch)
	if err != nil {
		return -1, 0, false
	}

	dev.drain(ch, dma)
	handle, length = dma.tbl.acquireHead()
	return handle, length, handle >= 0
}

// DrainCompletions consumes all the hardware completions pending on the
// channel and returns how many were applied to its frame table.
func (dev *Device) DrainCompletions(ch Channel) int {
	dma, err := dev.channel(ch)
	if err != nil {
		return 0
	}
	return dev.drain(ch, dma)
}

func (dev *Device) drain(ch Channel, dma *dmaChan) int {
	n := 0
	for dev.regs.rdy.r()&dma.rdy != 0 {
		amount := dma.tbl.bytesPerFrame()
		if !ch.IsWrite() {
			amount = int(dma.stat.r())
			if size := dma.tbl.bytesPerFrame(); amount > size {
				dev.msg.Printf("%v completion of %d bytes truncated to %d", ch, amount, size)
				amount = size
			}
		}
		err := dma.tbl.markTailAvailable(amount)
		if err != nil {
			dev.msg.Printf("dropping %v completion: %+v", ch, err)
		} else {
			n++
		}
		dma.stat.w(0)
	}
	return n
}

// Release hands an acquired frame back to hardware.
//
// For write channels, length bytes of the frame are transmitted.
// For read channels, the whole frame is offered for reception.
func (dev *Device) Release(ch Channel, handle, length int) error {
	dma, err := dev.channel(ch)
	if err != nil {
		return err
	}

	if length < 0 || length > dma.tbl.bytesPerFrame() {
		return fmt.Errorf(
			"%w: %d bytes for %v frames of %d bytes",
			ErrInvalidLength, length, ch, dma.tbl.bytesPerFrame(),
		)
	}

	err = dma.tbl.markReleased(handle)
	if err != nil {
		return fmt.Errorf("rf: could not release %v frame: %w", ch, err)
	}

	beg := dma.tbl.offsetFromFrameNum(handle)
	dma.ctrl.w(uint16(beg))
	if ch.IsWrite() {
		dma.ctrl.w(uint16(beg + length))
	}
	return nil
}

// Buffer returns the memory of an acquired frame.
//
// The returned slice aliases device memory and is only valid until the
// frame is released.
func (dev *Device) Buffer(ch Channel, handle int) ([]byte, error) {
	dma, err := dev.channel(ch)
	if err != nil {
		return nil, err
	}
	if !dma.tbl.inFlight(handle) {
		return nil, fmt.Errorf("%w: %v frame %d is not in flight", ErrInvalidHandle, ch, handle)
	}
	return dma.tbl.buffFromFrameNum(handle), nil
}
