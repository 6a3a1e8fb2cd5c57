// Package client is the public File/FileSystem surface (spec §4.10):
// a synchronous and asynchronous API built directly on msghandler and
// postmaster, with no further protocol logic of its own.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd-go/xrdcl/msghandler"
	"github.com/xrootd-go/xrdcl/postmaster"
	"github.com/xrootd-go/xrdcl/wire"
)

// Response is the synchronous counterpart of wire.Result: the same
// (status, body, host-list) triple, collapsed to a single Go error for
// callers who don't need the error-kind taxonomy.
type Response struct {
	Body  []byte
	Hosts []string
}

// AsyncHandle is returned by every *Async call; Wait blocks until the
// handler reaches a terminal state, exactly the semaphore the sync
// wrappers block on internally.
type AsyncHandle struct {
	done chan wire.Result
}

func (h *AsyncHandle) Wait() (Response, error) {
	r := <-h.done
	return toResponse(r)
}

// WaitTimeout is Wait bounded by d; on expiry it returns
// errOperationExpired without consuming the eventual result (the
// handler's own deadline will still fire and release resources).
func (h *AsyncHandle) WaitTimeout(d time.Duration) (Response, error) {
	select {
	case r := <-h.done:
		return toResponse(r)
	case <-time.After(d):
		return Response{}, errOperationExpired
	}
}

func toResponse(r wire.Result) (Response, error) {
	if r.Ok() {
		return Response{Body: r.Body, Hosts: r.Hosts}, nil
	}
	return Response{Hosts: r.Hosts}, resultError(r)
}

func resultError(r wire.Result) error {
	if r.Err != nil {
		return errors.Wrap(r.Err, r.Kind.String())
	}
	return errors.New(r.Kind.String())
}

var errOperationExpired = errors.New("xrdcl/client: operation expired")

// transport is the Post Master handle every File/FileSystem submits
// through; NewFile/NewFileSystem default it to postmaster.Default and
// tests substitute their own via FileOpts.Transport.
type transport struct {
	pm *postmaster.PostMaster
}

// resolveHost rewrites a URL to a redirect target's host:port, keeping
// path/opaque/path-params unchanged — every File/FileSystem redirect
// closure is built from this.
func resolveHost(u wire.URL, newHostID string) wire.URL {
	host, port, err := splitHostID(newHostID)
	if err != nil {
		return u
	}
	u.Host, u.Port = host, port
	return u
}

// submitAsync builds a msghandler.Handler wrapping req/op, registers
// its completion on a buffered channel, and sends it through the Post
// Master — the one primitive both the sync and async surfaces of File
// and FileSystem are built from (spec §5: "submitting the async call
// and blocking a caller-owned semaphore on the completion handler").
// When opts.Redirect is nil, submitAsync installs its own redirect
// closure that resends through the exact same Handler so a server
// redirect never orphans the caller's completion channel — msghandler
// itself cannot build this closure because it must not import
// postmaster (the dependency direction these packages follow).
func (t transport) submitAsync(url wire.URL, req *wire.Message, op wire.Opcode, deadline time.Time, opts msghandler.Opts) *AsyncHandle {
	h := &AsyncHandle{done: make(chan wire.Result, 1)}

	var handler *msghandler.Handler
	if opts.Redirect == nil {
		opts.Redirect = func(newHostID string, resendReq *wire.Message) error {
			return t.pm.Send(resolveHost(url, newHostID), resendReq, handler, op, deadline)
		}
	}
	handler = msghandler.New(req, op, url.HostID(), func(r wire.Result) {
		h.done <- r
	}, opts)
	if err := t.pm.Send(url, req, handler, op, deadline); err != nil {
		h.done <- wire.Result{Outcome: wire.OutcomeError, Kind: wire.ErrConnection, Err: err}
	}
	return h
}

// submitSync is submitAsync followed immediately by Wait — the
// synchronous call path every File/FileSystem method not explicitly
// suffixed Async uses.
func (t transport) submitSync(url wire.URL, req *wire.Message, op wire.Opcode, deadline time.Time, opts msghandler.Opts) (Response, error) {
	return t.submitAsync(url, req, op, deadline, opts).Wait()
}

func buildRequest(specific [16]byte, body []byte) *wire.Message {
	hdr := wire.ReqHeader{Specific: specific, BodyLen: uint32(len(body))}
	msg := wire.NewMessage(wire.SizeReqHdr + len(body))
	msg.Write(hdr.Marshal())
	msg.Write(body)
	return msg
}

func deadlineFrom(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
