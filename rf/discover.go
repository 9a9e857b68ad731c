// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"github.com/go-lpc/novena/rf/internal/regs"
)

const (
	// DefaultDevice is the device node of the Novena-RF board.
	DefaultDevice = regs.DEVFS

	// DefaultImage is the bitstream run when none is requested.
	DefaultImage = regs.DefaultImage

	// RegistersSize is the size in bytes of the register window.
	RegistersSize = regs.REGS_PAGE_SIZE
)

// Find returns the description of the Novena-RF board.
//
// The board sits on the fixed EIM bus of the Novena: there is nothing
// to enumerate and exactly one description is always returned, holding
// args and the driver/hardware identification.
func Find(args map[string]string) []map[string]string {
	desc := make(map[string]string, len(args)+2)
	for k, v := range args {
		desc[k] = v
	}
	desc["driver"] = "novena-rf"
	desc["hardware"] = "novena"
	return []map[string]string{desc}
}

// Make opens the device described by args.
//
// The "fpga" key holds the bitstream image to run, DefaultImage otherwise.
func Make(args map[string]string, opts ...Option) (*Device, error) {
	image := DefaultImage
	if v, ok := args["fpga"]; ok && v != "" {
		image = v
	}
	return Open(append([]Option{WithFPGAImage(image)}, opts...)...)
}
