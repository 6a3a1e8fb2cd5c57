package stream

import (
	"github.com/xrootd-go/xrdcl/wire"
	"github.com/xrootd-go/xrdcl/xrdnet"
)

type SubStreamStatus int

const (
	Disconnected SubStreamStatus = iota
	Connecting
	Connected
)

func (s SubStreamStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// outItem is one queued outgoing request awaiting its turn to be
// written, paired with the handler that will be notified as the send
// progresses.
type outItem struct {
	msg     *wire.Message
	handler Handler
}

// SubStream is one of a Stream's N parallel paths over the same
// endpoint: its own socket, its own out-queue, its own connect state.
// Sub-stream 0 is always the control path (spec §3).
type SubStream struct {
	index  int
	sock   *xrdnet.Socket
	status SubStreamStatus
	outQ   []outItem
}

func newSubStream(index int) *SubStream {
	return &SubStream{index: index}
}

func (ss *SubStream) enqueue(item outItem) {
	ss.outQ = append(ss.outQ, item)
}

func (ss *SubStream) popFront() (outItem, bool) {
	if len(ss.outQ) == 0 {
		return outItem{}, false
	}
	item := ss.outQ[0]
	ss.outQ = ss.outQ[1:]
	return item, true
}

func (ss *SubStream) drain() []outItem {
	items := ss.outQ
	ss.outQ = nil
	return items
}

func (ss *SubStream) empty() bool { return len(ss.outQ) == 0 }
