// Command xrdcl wires process-wide Env import, log setup, and a
// postmaster.PostMaster instance, then exits: the readline shells
// (xrdfs/xrdcp) this runtime would back are an explicit Non-goal, so
// this entrypoint only proves init/finalize wiring, not a CLI.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xrootd-go/xrdcl/client"
	"github.com/xrootd-go/xrdcl/cmn"
	"github.com/xrootd-go/xrdcl/cmn/nlog"
	"github.com/xrootd-go/xrdcl/env"
	"github.com/xrootd-go/xrdcl/postmaster"
	"github.com/xrootd-go/xrdcl/stream"
)

var (
	build     string
	buildtime string

	url     string
	pingTmo time.Duration
)

func init() {
	flag.StringVar(&url, "url", "", "root://host[:port] to ping during init (optional)")
	flag.DurationVar(&pingTmo, "timeout", 10*time.Second, "init ping timeout")
}

func printVer() {
	fmt.Printf("xrdcl %s (build %s)\n", build, buildtime)
}

func importEnv() {
	connWindow := cmn.Rom.ConnectionWindow()
	if env.Default.ImportInt("XRD_CONNECTIONWINDOW") {
		connWindow = time.Duration(env.Default.IntDefault("XRD_CONNECTIONWINDOW", 0)) * time.Second
	}
	connRetry := cmn.Rom.ConnectionRetry()
	if env.Default.ImportInt("XRD_CONNECTIONRETRY") {
		connRetry = env.Default.IntDefault("XRD_CONNECTIONRETRY", connRetry)
	}
	errWindow := cmn.Rom.StreamErrorWindow()
	if env.Default.ImportInt("XRD_STREAMERRORWINDOW") {
		errWindow = time.Duration(env.Default.IntDefault("XRD_STREAMERRORWINDOW", 0)) * time.Second
	}
	subStreams := cmn.Rom.SubStreamsPerChannel()
	if env.Default.ImportInt("XRD_SUBSTREAMSPERCHANNEL") {
		subStreams = env.Default.IntDefault("XRD_SUBSTREAMSPERCHANNEL", subStreams)
	}
	tmoRes := cmn.Rom.TimeoutResolution()
	if env.Default.ImportInt("XRD_TIMEOUTRESOLUTION") {
		tmoRes = time.Duration(env.Default.IntDefault("XRD_TIMEOUTRESOLUTION", 0)) * time.Second
	}
	cmn.Rom.Snapshot(connWindow, connRetry, errWindow, subStreams, tmoRes)
}

func installSignalHandler(pm *postmaster.PostMaster) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("xrdcl: signal received, finalizing %d channel(s)", pm.ChannelCount())
		nlog.Flush()
		os.Exit(0)
	}()
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	flag.Parse()
	importEnv()

	pm := postmaster.New(stream.Config{
		ConnectionWindow:  cmn.Rom.ConnectionWindow(),
		ConnectionRetry:   cmn.Rom.ConnectionRetry(),
		StreamErrorWindow: cmn.Rom.StreamErrorWindow(),
		SubStreamCount:    cmn.Rom.SubStreamsPerChannel(),
	})
	installSignalHandler(pm)

	if url != "" {
		fs, err := client.NewFileSystem(url, client.FileOpts{Transport: pm, DefaultTimeout: pingTmo})
		if err != nil {
			nlog.Errorf("xrdcl: invalid -url %q: %v", url, err)
		} else if err := fs.Ping(pingTmo); err != nil {
			nlog.Warningf("xrdcl: init ping to %s failed: %v", url, err)
		} else {
			nlog.Infof("xrdcl: init ping to %s ok", url)
		}
	}

	nlog.Infof("xrdcl initialized, %d channel(s) active", pm.ChannelCount())
	nlog.Flush()
}
