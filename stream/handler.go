package stream

import "github.com/xrootd-go/xrdcl/wire"

// Handler is the subset of MsgHandler's contract the Stream layer
// drives directly (spec §4.7 step 5-7); msghandler.Handler implements
// this interface. Kept here, not in msghandler, so stream never
// imports msghandler and creates a cycle — msghandler is the one that
// depends downward on stream/wire, not the reverse.
type Handler interface {
	// OnReadyToSend is called just before the message is written to
	// the wire, letting the handler stamp final per-send state (e.g.
	// a session-id snapshot).
	OnReadyToSend(msg *wire.Message)
	// OnStatusReady delivers a terminal or interim wire.Result to the
	// handler as the Stream observes it.
	OnStatusReady(msg *wire.Message, result wire.Result)
	// Process hands the handler a fully-framed response: the wire
	// status that headed it and its body. Returning true means the
	// handler fully consumed it and its SID should be released; false
	// means more reads for the same SID are expected (oksofar/partial
	// chunking, or a raw stream still draining).
	Process(msg *wire.Message, status wire.Status, body []byte) (done bool)
	// WantsRawMode reports whether the handler streams response bodies
	// to a raw-mode sink (large pgread/readv payloads); the Stream then
	// hands Process a private copy of each framed body instead of a
	// slice of its shared read buffer.
	WantsRawMode() bool
	// OnFatalError is the escalation path for step 7: unrecoverable
	// socket failure with no peer sub-stream to fall back to.
	OnFatalError(err error)
}
