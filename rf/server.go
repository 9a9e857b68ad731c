// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq"
	"golang.org/x/sync/errgroup"
)

// Server exposes a Device as a TDAQ process.
//
// Received frames of the framer are published on an output end-point,
// frames read from an input end-point are transmitted by the deframer.
type Server struct {
	opts []Option
	open func(opts ...Option) (*Device, error)

	image   string
	timeout time.Duration // acquire timeout of the pumps

	mu   sync.Mutex
	dev  *Device
	stop context.CancelFunc // stops the running pumps, if any
	wg   sync.WaitGroup     // running pumps

	rx chan []byte
	tx chan []byte

	nrx atomic.Int64
	ntx atomic.Int64
}

// NewServer returns a TDAQ server for the device configured with opts.
func NewServer(opts ...Option) *Server {
	return &Server{
		opts:    opts,
		open:    Open,
		image:   DefaultImage,
		timeout: 100 * time.Millisecond,
	}
}

// OnConfig reads the FPGA image to run from the request, if any.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		srv.image = dec.ReadStr()
	}
	ctx.Msg.Infof("FPGA image: %q", srv.image)
	return nil
}

// OnInit opens the device.
func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.init()
	if err != nil {
		ctx.Msg.Errorf("could not initialize device: %+v", err)
		return err
	}
	return nil
}

// OnReset closes the device.
func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return srv.close()
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	srv.mu.Lock()
	dev := srv.dev
	srv.mu.Unlock()
	if dev == nil {
		return fmt.Errorf("rf: device not initialized")
	}
	srv.nrx.Store(0)
	srv.ntx.Store(0)
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf(
		"received /stop command... -> rx=%d, tx=%d",
		srv.nrx.Load(), srv.ntx.Load(),
	)
	return nil
}

// OnQuit closes the device.
func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.close()
}

// RX publishes the next received frame.
func (srv *Server) RX(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.rx:
		dst.Body = data
	}
	return nil
}

// TX queues a frame for transmission.
func (srv *Server) TX(ctx tdaq.Context, src tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		return nil
	case srv.tx <- src.Body:
	}
	return nil
}

// Run pumps frames between the device and the TDAQ end-points until
// the run is stopped.
func (srv *Server) Run(ctx tdaq.Context) error {
	err := srv.run(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not run device: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) init() error {
	err := srv.close()
	if err != nil {
		return err
	}

	opts := append([]Option{WithFPGAImage(srv.image)}, srv.opts...)
	dev, err := srv.open(opts...)
	if err != nil {
		return fmt.Errorf("rf: could not open device: %w", err)
	}
	srv.mu.Lock()
	srv.dev = dev
	srv.rx = make(chan []byte, 1024)
	srv.tx = make(chan []byte, 1024)
	srv.mu.Unlock()
	return nil
}

// close stops the running pumps, if any, then closes the device.
func (srv *Server) close() error {
	srv.mu.Lock()
	dev := srv.dev
	srv.dev = nil
	if srv.stop != nil {
		srv.stop()
		srv.stop = nil
	}
	srv.mu.Unlock()

	srv.wg.Wait()

	if dev == nil {
		return nil
	}
	return dev.Close()
}

func (srv *Server) run(ctx context.Context) error {
	srv.mu.Lock()
	dev := srv.dev
	if dev == nil {
		srv.mu.Unlock()
		return fmt.Errorf("rf: device not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	srv.stop = cancel
	srv.wg.Add(1)
	srv.mu.Unlock()

	defer srv.wg.Done()
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return srv.recv(ctx, dev)
	})
	grp.Go(func() error {
		return srv.send(ctx, dev)
	})
	return grp.Wait()
}

// recv forwards frames received by the framer to the rx queue.
// Frames are dropped when the queue is full.
func (srv *Server) recv(ctx context.Context, dev *Device) error {
	const ch = FramerS2MM
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		h, n, err := dev.Acquire(ch, srv.timeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return fmt.Errorf("rf: could not acquire %v frame: %w", ch, err)
		}

		buf, err := dev.Buffer(ch, h)
		if err != nil {
			return fmt.Errorf("rf: could not access %v frame: %w", ch, err)
		}
		data := make([]byte, n)
		copy(data, buf)

		err = dev.Release(ch, h, len(buf))
		if err != nil {
			return fmt.Errorf("rf: could not release %v frame: %w", ch, err)
		}

		select {
		case srv.rx <- data:
			srv.nrx.Add(1)
		default:
		}
	}
}

// send transmits the frames of the tx queue through the deframer.
func (srv *Server) send(ctx context.Context, dev *Device) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-srv.tx:
			err := srv.write(ctx, dev, data)
			if err != nil {
				return err
			}
			srv.ntx.Add(1)
		}
	}
}

// write transmits data, split over as many deframer frames as needed.
func (srv *Server) write(ctx context.Context, dev *Device, data []byte) error {
	const ch = DeframerMM2S
	for len(data) > 0 {
		h, n, err := dev.Acquire(ch, srv.timeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			return fmt.Errorf("rf: could not acquire %v frame: %w", ch, err)
		}

		buf, err := dev.Buffer(ch, h)
		if err != nil {
			return fmt.Errorf("rf: could not access %v frame: %w", ch, err)
		}
		m := copy(buf[:n], data)

		err = dev.Release(ch, h, m)
		if err != nil {
			return fmt.Errorf("rf: could not release %v frame: %w", ch, err)
		}
		data = data[m:]
	}
	return nil
}
