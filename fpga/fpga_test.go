// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func TestHash(t *testing.T) {
	v, err := Hash(strings.NewReader("123456789"))
	if err != nil {
		t.Fatalf("could not hash bitstream: %+v", err)
	}
	if got, want := v, uint16(0x29b1); got != want {
		t.Fatalf("invalid hash: got=0x%x, want=0x%x", got, want)
	}

	fname := filepath.Join(t.TempDir(), "image.bit")
	err = os.WriteFile(fname, []byte("123456789"), 0644)
	if err != nil {
		t.Fatalf("could not create bitstream: %+v", err)
	}

	v, err = HashFile(fname)
	if err != nil {
		t.Fatalf("could not hash bitstream file: %+v", err)
	}
	if got, want := v, uint16(0x29b1); got != want {
		t.Fatalf("invalid hash: got=0x%x, want=0x%x", got, want)
	}

	_, err = HashFile(filepath.Join(t.TempDir(), "not-there.bit"))
	if err == nil {
		t.Fatalf("expected an error hashing a missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("invalid error: %+v", err)
	}
}

type fakeConn struct {
	buf  bytes.Buffer
	ntx  int
	fail error
}

func (c *fakeConn) Tx(w, r []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.ntx++
	c.buf.Write(w)
	return nil
}

func newTestLoader(conn Conn, done gpio.Level) (*Loader, *gpiotest.Pin) {
	prog := &gpiotest.Pin{N: "PROG", L: gpio.High}
	ldr := NewLoader(conn, prog, &gpiotest.Pin{N: "DONE", L: done})
	ldr.msg = log.New(io.Discard, "fpga: ", 0)
	return ldr, prog
}

func TestLoader(t *testing.T) {
	raw := bytes.Repeat([]byte{0xaa, 0x99, 0x55, 0x66}, 2*chunkSize/4+3)
	fname := filepath.Join(t.TempDir(), "image.bit")
	err := os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not create bitstream: %+v", err)
	}

	t.Run("ok", func(t *testing.T) {
		var conn fakeConn
		ldr, prog := newTestLoader(&conn, gpio.High)
		defer ldr.Close()

		err := ldr.Load(fname)
		if err != nil {
			t.Fatalf("could not load bitstream: %+v", err)
		}

		if got, want := prog.Read(), gpio.High; got != want {
			t.Fatalf("PROGRAM_B left asserted: got=%v, want=%v", got, want)
		}

		// 3 data chunks + start-up clocks.
		if got, want := conn.ntx, 4; got != want {
			t.Fatalf("invalid number of transfers: got=%d, want=%d", got, want)
		}

		got := conn.buf.Bytes()
		if !bytes.Equal(got[:len(raw)], raw) {
			t.Fatalf("invalid bitstream payload")
		}
		if got, want := len(got), len(raw)+8; got != want {
			t.Fatalf("invalid payload size: got=%d, want=%d", got, want)
		}
	})

	t.Run("not-done", func(t *testing.T) {
		var conn fakeConn
		ldr, _ := newTestLoader(&conn, gpio.Low)

		err := ldr.Load(fname)
		if !errors.Is(err, errNotDone) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, errNotDone)
		}
	})

	t.Run("tx-error", func(t *testing.T) {
		conn := fakeConn{fail: io.ErrClosedPipe}
		ldr, _ := newTestLoader(&conn, gpio.High)

		err := ldr.Load(fname)
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, io.ErrClosedPipe)
		}
	})

	t.Run("missing-image", func(t *testing.T) {
		var conn fakeConn
		ldr, _ := newTestLoader(&conn, gpio.High)

		err := ldr.Load(filepath.Join(t.TempDir(), "not-there.bit"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("invalid error: %+v", err)
		}
		if conn.ntx != 0 {
			t.Fatalf("bitstream sent for a missing image")
		}
	})
}
