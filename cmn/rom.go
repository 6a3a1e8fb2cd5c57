// Package cmn provides constants and the process-wide read-mostly
// timeout/policy snapshot shared by stream, postmaster, and cache.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// readMostly caches the handful of Env-derived knobs that stream.Stream
// consults on every Send/Tick, so the hot path never re-parses an Env
// string. Set once at startup through Rom.Snapshot (cmd/xrdcl's
// importEnv), matching the teacher's cmn/rom.go idiom of
// reducing repeated global-config lookups on a hot path.
type readMostly struct {
	connectionWindow   time.Duration // XRD_CONNECTIONWINDOW
	connectionRetry    int           // XRD_CONNECTIONRETRY
	streamErrorWindow  time.Duration // XRD_STREAMERRORWINDOW
	subStreamsPerChan  int           // XRD_SUBSTREAMSPERCHANNEL
	timeoutResolution  time.Duration // XRD_TIMEOUTRESOLUTION
}

var Rom readMostly

func init() {
	Rom.connectionWindow = 30 * time.Second
	Rom.connectionRetry = 3
	Rom.streamErrorWindow = 90 * time.Second
	Rom.subStreamsPerChan = 1
	Rom.timeoutResolution = time.Second
}

// Snapshot is the writer side: plain field writes, called once at
// startup by cmd/xrdcl after it imports the recognized env keys.
func (rom *readMostly) Snapshot(connWindow time.Duration, connRetry int, errWindow time.Duration, subStreams int, tmoRes time.Duration) {
	rom.connectionWindow = connWindow
	rom.connectionRetry = connRetry
	rom.streamErrorWindow = errWindow
	rom.subStreamsPerChan = subStreams
	rom.timeoutResolution = tmoRes
}

func (rom *readMostly) ConnectionWindow() time.Duration  { return rom.connectionWindow }
func (rom *readMostly) ConnectionRetry() int              { return rom.connectionRetry }
func (rom *readMostly) StreamErrorWindow() time.Duration { return rom.streamErrorWindow }
func (rom *readMostly) SubStreamsPerChannel() int         { return rom.subStreamsPerChan }
func (rom *readMostly) TimeoutResolution() time.Duration  { return rom.timeoutResolution }
