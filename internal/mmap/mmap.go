// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides access to memory-mapped windows of a device node.
package mmap // import "github.com/go-lpc/novena/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped window.
type Handle struct {
	data []byte
	mmap bool // whether data must be munmap'd on close
}

// Map maps size bytes of the file descriptor fd, starting at offset,
// as a shared read/write window.
func Map(fd uintptr, offset int64, size int) (*Handle, error) {
	data, err := unix.Mmap(
		int(fd), offset, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map window (off=0x%x, size=%d): %w", offset, size, err)
	}
	if data == nil || len(data) != size {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(data))
	}
	h := &Handle{data: data, mmap: true}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// HandleFrom wraps an already allocated memory region.
// Closing the returned handle does not release data.
func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if !h.mmap {
		return nil
	}
	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

// Slice returns the n bytes starting at off, without copying.
func (h *Handle) Slice(off, n int) []byte {
	return h.data[off : off+n : off+n]
}

// Uint16 loads the 16-bit word at byte offset off.
//
// The load is a single aligned access that is never merged with,
// cached across or reordered relative to other Uint16/PutUint16 calls.
//
//go:noinline
func (h *Handle) Uint16(off int64) uint16 {
	p := h.word(off)
	return *p
}

// PutUint16 stores v at byte offset off.
//
// The store is a single aligned access that is never merged with,
// cached across or reordered relative to other Uint16/PutUint16 calls.
//
//go:noinline
func (h *Handle) PutUint16(off int64, v uint16) {
	p := h.word(off)
	*p = v
}

func (h *Handle) word(off int64) *uint16 {
	if off&1 != 0 {
		panic(fmt.Errorf("mmap: unaligned 16-bit access at 0x%x", off))
	}
	_ = h.data[off+1] // bounds check
	return (*uint16)(unsafe.Pointer(&h.data[off]))
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
