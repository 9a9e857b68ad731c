// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rf drives the Novena-RF SDR front-end board.
//
// A Device validates (and, when needed, loads) the FPGA bitstream,
// self-tests the register and memory buses, exposes raw register
// access, the hardware clock and four scatter-gather DMA channels
// moving sample frames between host memory and the FPGA fabric.
//
// Completions are not interrupt-driven: they are drained from a shared
// ready-status register by polling, either explicitly with
// DrainCompletions or implicitly by TryAcquire and Acquire.
//
// A given channel must be driven by a single goroutine at a time.
// Different channels are independent and may be driven concurrently.
package rf // import "github.com/go-lpc/novena/rf"

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceOpen reports a failure to open, configure or map the device node.
	ErrDeviceOpen = errors.New("rf: device open failure")

	// ErrBringup reports a bitstream that could not be validated after loading.
	ErrBringup = errors.New("rf: FPGA bring-up failure")

	// ErrSelfTest reports a register or memory loopback mismatch.
	ErrSelfTest = errors.New("rf: self-test failure")

	// ErrTimeout reports an acquire that found no available frame before its deadline.
	ErrTimeout = errors.New("rf: DMA acquire timeout")

	// ErrInvalidHandle reports a frame handle that is out of range or not in flight.
	ErrInvalidHandle = errors.New("rf: invalid DMA frame handle")

	// ErrInvalidCompletion reports a hardware completion that matches no pending frame.
	ErrInvalidCompletion = errors.New("rf: invalid DMA completion")

	// ErrInvalidLength reports a release length larger than a frame.
	ErrInvalidLength = errors.New("rf: invalid DMA frame length")

	// ErrInvalidChannel reports an unknown DMA channel.
	ErrInvalidChannel = errors.New("rf: invalid DMA channel")

	// ErrUnsupported reports a request for an unsupported time domain.
	ErrUnsupported = errors.New("rf: unsupported")
)

// Channel identifies one of the four unidirectional DMA channels.
type Channel int

const (
	FramerMM2S   Channel = iota // host to framer fabric
	FramerS2MM                  // framer fabric to host (RX samples)
	DeframerMM2S                // host to deframer fabric (TX samples)
	DeframerS2MM                // deframer fabric to host
)

const nChannels = 4

// Channels lists all the DMA channels.
var Channels = [nChannels]Channel{
	FramerMM2S,
	FramerS2MM,
	DeframerMM2S,
	DeframerS2MM,
}

func (ch Channel) String() string {
	switch ch {
	case FramerMM2S:
		return "framer-mm2s"
	case FramerS2MM:
		return "framer-s2mm"
	case DeframerMM2S:
		return "deframer-mm2s"
	case DeframerS2MM:
		return "deframer-s2mm"
	default:
		return fmt.Sprintf("Channel(%d)", int(ch))
	}
}

// IsWrite returns whether the host supplies the data moved by the channel.
func (ch Channel) IsWrite() bool {
	return ch == FramerMM2S || ch == DeframerMM2S
}

func (ch Channel) valid() bool {
	return 0 <= ch && ch < nChannels
}
