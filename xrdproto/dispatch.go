package xrdproto

import (
	"time"

	"github.com/xrootd-go/xrdcl/wire"
)

// Digested is the bitmask MessageReceived returns, telling the Stream
// what to do with a just-framed message without the caller needing to
// special-case protocol-internal opcodes itself (spec §4.6).
type Digested uint8

const (
	// Digest means the transport fully consumed msg (e.g. an attn
	// response) and the Stream must not look it up by SID at all.
	Digest Digested = 1 << iota
	// RequestClose means the message signals the peer wants the
	// sub-stream torn down after this message (e.g. a bind response
	// that failed irrecoverably).
	RequestClose
)

// ChannelData is whatever policy-relevant state MultiplexSubStream,
// IsStreamTTLElapsed, and IsStreamBroken need about the owning
// Channel, without xrdproto importing the stream/postmaster packages
// and creating an import cycle.
type ChannelData struct {
	SubStreamCount  int
	PreferParallel  bool // open/read-heavy connections prefer a second sub-stream
	ConnectionWindow time.Duration
	StreamErrorWindow time.Duration
}

// MessageReceived inspects a fully-framed response and decides whether
// the Stream should hand it to the waiting MsgHandler at all, per
// §4.6: `attn` unsolicited-response notifications are absorbed here so
// ordinary handler dispatch never sees them.
func MessageReceived(status wire.Status, _ ChannelData) Digested {
	switch status {
	case wire.StAttn:
		return Digest
	default:
		return 0
	}
}

// MultiplexSubStream picks the (up, down) sub-stream indices a request
// should use. Sub-stream 0 is always the control path; a second
// sub-stream is only offered once the channel has more than one
// connected and the opcode is one that benefits from parallelism
// (reads are the common case — writes must stay ordered on one path
// to preserve write-ordering semantics).
func MultiplexSubStream(op wire.Opcode, cd ChannelData) (up, down int) {
	if cd.SubStreamCount <= 1 || !cd.PreferParallel {
		return 0, 0
	}
	switch op {
	case wire.OpRead, wire.OpReadV, wire.OpPgRead:
		return 0, 1
	default:
		return 0, 0
	}
}

// IsStreamTTLElapsed reports whether an idle sub-stream has sat unused
// longer than the channel's configured connection window — the signal
// that drives ForceDisconnect when out-queues are all empty (§4.6,
// §4 step 8).
func IsStreamTTLElapsed(idle time.Duration, cd ChannelData) bool {
	return cd.ConnectionWindow > 0 && idle >= cd.ConnectionWindow
}

// IsStreamBroken reports whether an idle sub-stream has gone silent
// long enough that it should be treated as failed (distinct from TTL:
// this fires even when requests are still queued on it).
func IsStreamBroken(idle time.Duration, cd ChannelData) bool {
	return cd.StreamErrorWindow > 0 && idle >= cd.StreamErrorWindow
}
