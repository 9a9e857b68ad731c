// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rf-srv starts a TDAQ server driving a Novena-RF board.
//
// Frames received by the board are published on the "/rx" end-point,
// frames read from the "/tx" end-point are transmitted by the board.
package main // import "github.com/go-lpc/novena/cmd/rf-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/novena/rf"
)

func main() {
	cmd := flags.New()

	dev := rf.NewServer(
		rf.WithLogger(log.New(os.Stdout, "rf-srv: ", 0)),
	)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/rx", dev.RX)
	srv.InputHandle("/tx", dev.TX)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
