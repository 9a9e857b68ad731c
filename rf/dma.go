// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"fmt"
)

type slotState uint8

const (
	slotFree     slotState = iota // available to the host
	slotInFlight                  // handed to the host, not yet released
	slotPending                   // released to hardware, awaiting completion
)

func (st slotState) String() string {
	switch st {
	case slotFree:
		return "free"
	case slotInFlight:
		return "in-flight"
	case slotPending:
		return "pending"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(st))
	}
}

type sgSlot struct {
	state slotState
	len   int // valid bytes
}

// sgTable is a set of equal-size frames laid out contiguously in a
// mapped window, starting at a base offset.
//
// Free frames are handed out in the order they became free.
// Completions apply to released frames in the order they were released,
// the order in which hardware receives their control writes.
// sgTable is not safe for concurrent use.
type sgTable struct {
	mem   []byte // whole mapped window
	base  int    // offset of the first frame in mem
	size  int    // bytes per frame
	slots []sgSlot

	free    fifo // frames available to the host
	pending fifo // frames released to hardware
}

func newSGTable(mem []byte, base, nframes, size int) *sgTable {
	if base < 0 || nframes <= 0 || size <= 0 || base+nframes*size > len(mem) {
		panic(fmt.Errorf(
			"rf: invalid frame table layout (base=0x%x, frames=%d, size=0x%x, window=0x%x)",
			base, nframes, size, len(mem),
		))
	}

	tbl := &sgTable{
		mem:     mem,
		base:    base,
		size:    size,
		slots:   make([]sgSlot, nframes),
		free:    newFIFO(nframes),
		pending: newFIFO(nframes),
	}
	for i := range tbl.slots {
		tbl.slots[i].len = size
		tbl.free.push(i)
	}
	return tbl
}

func (tbl *sgTable) numAvailable() int {
	return tbl.free.len()
}

func (tbl *sgTable) bytesPerFrame() int {
	return tbl.size
}

// acquireHead hands the oldest free frame to the host.
// It returns -1 when no frame is free.
func (tbl *sgTable) acquireHead() (handle, length int) {
	if tbl.free.len() == 0 {
		return -1, 0
	}
	handle = tbl.free.pop()
	slot := &tbl.slots[handle]
	slot.state = slotInFlight
	return handle, slot.len
}

// markReleased hands an in-flight frame back to hardware.
func (tbl *sgTable) markReleased(handle int) error {
	if !tbl.inFlight(handle) {
		return fmt.Errorf("%w: frame %d is not in flight", ErrInvalidHandle, handle)
	}
	tbl.slots[handle].state = slotPending
	tbl.pending.push(handle)
	return nil
}

// markTailAvailable completes the oldest released frame with n valid bytes.
// Invalid completions leave the table unchanged.
func (tbl *sgTable) markTailAvailable(n int) error {
	if tbl.pending.len() == 0 {
		return fmt.Errorf("%w: no frame pending", ErrInvalidCompletion)
	}
	handle := tbl.pending.peek()
	if n < 0 || n > tbl.size {
		return fmt.Errorf(
			"%w: frame %d completed with %d bytes (max=%d)",
			ErrInvalidCompletion, handle, n, tbl.size,
		)
	}

	_ = tbl.pending.pop()
	slot := &tbl.slots[handle]
	slot.state = slotFree
	slot.len = n
	tbl.free.push(handle)
	return nil
}

// offsetFromFrameNum returns the offset of a frame within the mapped window.
func (tbl *sgTable) offsetFromFrameNum(handle int) int {
	return tbl.base + handle*tbl.size
}

// buffFromFrameNum returns the memory of a frame, without copying.
func (tbl *sgTable) buffFromFrameNum(handle int) []byte {
	beg := tbl.offsetFromFrameNum(handle)
	end := beg + tbl.size
	return tbl.mem[beg:end:end]
}

func (tbl *sgTable) inFlight(handle int) bool {
	return 0 <= handle && handle < len(tbl.slots) &&
		tbl.slots[handle].state == slotInFlight
}

// fifo is a fixed-capacity queue of frame handles.
type fifo struct {
	buf []int
	beg int
	n   int
}

func newFIFO(n int) fifo {
	return fifo{buf: make([]int, n)}
}

func (q *fifo) len() int { return q.n }

func (q *fifo) push(v int) {
	if q.n == len(q.buf) {
		panic("rf: frame queue overflow")
	}
	q.buf[(q.beg+q.n)%len(q.buf)] = v
	q.n++
}

func (q *fifo) peek() int { return q.buf[q.beg] }

func (q *fifo) pop() int {
	v := q.buf[q.beg]
	q.beg = (q.beg + 1) % len(q.buf)
	q.n--
	return v
}
