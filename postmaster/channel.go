// Package postmaster owns the process-wide endpoint map: one Channel
// per URL, aggregating its Stream and ref-counting its holders so the
// last release removes it from the map (spec §4.8).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package postmaster

import (
	"sync/atomic"

	"github.com/xrootd-go/xrdcl/cmn/nlog"
	"github.com/xrootd-go/xrdcl/stream"
)

// ConnectHandler / ConnErrHandler are the channel event callbacks
// NotifyConnectHandler/NotifyConnErrHandler dispatch to.
type ConnectHandler func(hostID string)
type ConnErrHandler func(hostID string, err error)

// Channel is one per endpoint URL: a Stream plus the list of
// registered event handlers. Ref-counted — the creator reference taken
// at creation, plus one per PostMaster call in progress, keeps it in
// the PostMaster's map; the last release only removes it from that
// map: its Stream's sockets are not closed and no disconnect is
// reported there. Grounded on the teacher's
// `transport/bundle.Streams` (one bundle per destination node, torn
// down on Smap resync when no longer referenced).
type Channel struct {
	hostID string
	s      *stream.Stream
	refs   int64

	connectHandlers []ConnectHandler
	connErrHandlers []ConnErrHandler
}

func newChannel(hostID string, cfg stream.Config) *Channel {
	return &Channel{hostID: hostID, s: stream.New(hostID, cfg)}
}

func (c *Channel) Stream() *stream.Stream { return c.s }

func (c *Channel) HostID() string { return c.hostID }

// hold/release implement the ref-count; PostMaster is the only caller.
func (c *Channel) hold() { atomic.AddInt64(&c.refs, 1) }

// release returns true when the caller was the last reference.
func (c *Channel) release() bool { return atomic.AddInt64(&c.refs, -1) == 0 }

func (c *Channel) refCount() int64 { return atomic.LoadInt64(&c.refs) }

func (c *Channel) onConnect() {
	for _, h := range c.connectHandlers {
		h(c.hostID)
	}
}

func (c *Channel) onConnErr(err error) {
	nlog.TInfof(nlog.TopicPostMaster, "%s: connect error: %v", c.hostID, err)
	for _, h := range c.connErrHandlers {
		h(c.hostID, err)
	}
}
