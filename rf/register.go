// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"github.com/go-lpc/novena/internal/mmap"
)

// Bus is a window of 16-bit registers.
//
// Addresses are byte offsets into the window.
// Accesses reach the hardware in program order, without caching.
// A non-responding bus hangs; it is never reported as an error.
type Bus interface {
	Read(addr uint32) uint16
	Write(addr uint32, v uint16)
}

type mmapBus struct {
	h *mmap.Handle
}

func newMmapBus(h *mmap.Handle) Bus {
	return &mmapBus{h: h}
}

func (bus *mmapBus) Read(addr uint32) uint16 {
	return bus.h.Uint16(int64(addr))
}

func (bus *mmapBus) Write(addr uint32, v uint16) {
	bus.h.PutUint16(int64(addr), v)
}

// NewMemBus returns an in-memory register window of size bytes.
func NewMemBus(size int) Bus {
	return &mmapBus{h: mmap.HandleFrom(make([]byte, size))}
}

type reg16 struct {
	r func() uint16
	w func(v uint16)
}

func newReg16(bus Bus, addr uint32) reg16 {
	return reg16{
		r: func() uint16 {
			return bus.Read(addr)
		},
		w: func(v uint16) {
			bus.Write(addr, v)
		},
	}
}

// pulse sets then clears the bits of mask.
func (reg reg16) pulse(mask uint16) {
	reg.w(mask)
	reg.w(0)
}

var (
	_ Bus = (*mmapBus)(nil)
)
