// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpga hashes and loads FPGA bitstream images.
//
// Images are streamed over a SPI bus in slave-serial mode, framed by a
// pulse of the (active-low) PROGRAM_B line; the DONE line reports a
// successful configuration.
package fpga // import "github.com/go-lpc/novena/fpga"

import (
	"fmt"
	"io"
	"os"

	"github.com/go-lpc/novena/internal/crc16"
)

// Hash returns the 16-bit content hash of the bitstream read from r.
func Hash(r io.Reader) (uint16, error) {
	h := crc16.New(nil)
	_, err := io.Copy(h, r)
	if err != nil {
		return 0, fmt.Errorf("fpga: could not hash bitstream: %w", err)
	}
	return h.Sum16(), nil
}

// HashFile returns the 16-bit content hash of the named bitstream image.
func HashFile(fname string) (uint16, error) {
	f, err := os.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("fpga: could not open bitstream: %w", err)
	}
	defer f.Close()

	v, err := Hash(f)
	if err != nil {
		return 0, fmt.Errorf("fpga: could not hash %q: %w", fname, err)
	}
	return v, nil
}
