// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/novena/internal/mmap"

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	h := HandleFrom([]byte{0, 1, 2, 3})

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	if got, want := h.Slice(1, 1)[0], byte(1); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}
	if got, want := h.Len(), 0; got != want {
		t.Fatalf("invalid len after close: got=%d, want=%d", got, want)
	}
}

func TestUint16(t *testing.T) {
	h := HandleFrom(make([]byte, 8))
	defer h.Close()

	h.PutUint16(2, 0xbeef)
	h.PutUint16(6, 0x1234)

	if got, want := h.Uint16(2), uint16(0xbeef); got != want {
		t.Fatalf("invalid word: got=0x%x, want=0x%x", got, want)
	}
	if got, want := h.Uint16(6), uint16(0x1234); got != want {
		t.Fatalf("invalid word: got=0x%x, want=0x%x", got, want)
	}
	if got, want := h.Uint16(0), uint16(0); got != want {
		t.Fatalf("invalid word: got=0x%x, want=0x%x", got, want)
	}

	func() {
		defer func() {
			e := recover()
			if e == nil {
				t.Fatalf("expected a panic on unaligned access")
			}
		}()
		_ = h.Uint16(3)
	}()

	func() {
		defer func() {
			e := recover()
			if e == nil {
				t.Fatalf("expected a panic on out-of-bounds access")
			}
		}()
		h.PutUint16(8, 1)
	}()
}

func TestSlice(t *testing.T) {
	raw := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	h := HandleFrom(raw)
	defer h.Close()

	sli := h.Slice(2, 4)
	if got, want := sli, []byte{2, 3, 4, 5}; !bytes.Equal(got, want) {
		t.Fatalf("invalid slice: got=%v, want=%v", got, want)
	}
	if got, want := cap(sli), 4; got != want {
		t.Fatalf("invalid slice capacity: got=%d, want=%d", got, want)
	}

	sli[0] = 42
	if got, want := raw[2], byte(42); got != want {
		t.Fatalf("slice does not alias handle memory: got=%d, want=%d", got, want)
	}
}

func TestMap(t *testing.T) {
	const (
		page = 4096
		size = 2 * page
	)

	f, err := os.Create(filepath.Join(t.TempDir(), "dev.mem"))
	if err != nil {
		t.Fatalf("could not create fake device file: %+v", err)
	}
	defer f.Close()

	err = f.Truncate(3 * page)
	if err != nil {
		t.Fatalf("could not resize fake device file: %+v", err)
	}

	h, err := Map(f.Fd(), page, size)
	if err != nil {
		t.Fatalf("could not map window: %+v", err)
	}

	if got, want := h.Len(), size; got != want {
		t.Fatalf("invalid window size: got=%d, want=%d", got, want)
	}

	h.PutUint16(0, 0xcafe)
	_, err = h.WriteAt([]byte("hello"), 16)
	if err != nil {
		t.Fatalf("could not write to window: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not unmap window: %+v", err)
	}

	buf := make([]byte, 2)
	_, err = f.ReadAt(buf, page)
	if err != nil {
		t.Fatalf("could not read back file: %+v", err)
	}
	if got, want := uint16(buf[0])|uint16(buf[1])<<8, uint16(0xcafe); got != want {
		t.Fatalf("invalid word in file: got=0x%x, want=0x%x", got, want)
	}

	buf = make([]byte, 5)
	_, err = f.ReadAt(buf, page+16)
	if err != nil {
		t.Fatalf("could not read back file: %+v", err)
	}
	if got, want := string(buf), "hello"; got != want {
		t.Fatalf("invalid data in file: got=%q, want=%q", got, want)
	}

	_, err = Map(^uintptr(0), 0, page)
	if err == nil {
		t.Fatalf("expected an error mapping an invalid fd")
	}
}
