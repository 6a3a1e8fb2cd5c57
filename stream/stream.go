package stream

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd-go/xrdcl/cmn/metrics"
	"github.com/xrootd-go/xrdcl/cmn/nlog"
	"github.com/xrootd-go/xrdcl/wire"
	"github.com/xrootd-go/xrdcl/xrdnet"
	"github.com/xrootd-go/xrdcl/xrdproto"
)

var (
	ErrInvalidSession = errors.New("xrdcl/stream: session id mismatch")
	ErrNoAddresses    = errors.New("xrdcl/stream: address resolution returned nothing")
)

// Config bundles the per-endpoint tunables of spec §4.7 item 2, read
// once at Initialize from cmn.Rom / env.Resolved by the caller
// (postmaster), not by Stream itself.
type Config struct {
	ConnectionWindow  time.Duration
	ConnectionRetry   int
	StreamErrorWindow time.Duration
	SubStreamCount    int
	PreferParallel    bool
}

// globalSessionCounter backs the process-global monotonically
// increasing session-id of spec §4.7 item 9: every successful
// sub-stream-0 connect, across every Stream, bumps it once.
var globalSessionCounter int64

// Stream is one per (Channel, endpoint): the multiplexed, reconnecting
// connection with N sub-streams. Grounded on the teacher's
// `transport.streamBase`/`bundle.Streams` shape (a ref-counted,
// reconnecting per-target connection abstraction), generalized from
// AIStore's single HTTP PUT stream to N raw TCP sub-streams.
type Stream struct {
	lock Lock
	tag  int64 // stable identity for Lock's recursion check

	hostID string
	cfg    Config

	subs      []*SubStream
	inQueue   map[wire.SID]inEntry
	sidPool   *wire.SIDManager
	sessionID int64

	addrs      []net.Addr
	addrIdx    int
	retries    int
	windowOpen time.Time

	lastActivity time.Time
}

type inEntry struct {
	handler  Handler
	deadline time.Time
}

func New(hostID string, cfg Config) *Stream {
	s := &Stream{
		hostID:  hostID,
		cfg:     cfg,
		inQueue: make(map[wire.SID]inEntry),
		sidPool: wire.NewSIDManager(),
	}
	s.tag = nextStreamTag()
	n := cfg.SubStreamCount
	if n < 1 {
		n = 1
	}
	s.subs = make([]*SubStream, n)
	for i := range s.subs {
		s.subs[i] = newSubStream(i)
	}
	return s
}

// Initialize resolves addresses and connects sub-stream 0, per
// §4.7 items 1-2.
func (s *Stream) Initialize() error {
	s.lock.Lock(s.tag)
	defer s.lock.Unlock(s.tag)
	return s.connectSub0Locked()
}

func (s *Stream) resolveLocked() error {
	host, _, err := net.SplitHostPort(s.hostID)
	if err != nil {
		host = s.hostID
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return errors.Wrapf(ErrNoAddresses, "host %s", s.hostID)
	}
	s.addrs = s.addrs[:0]
	for _, a := range addrs {
		s.addrs = append(s.addrs, &net.TCPAddr{IP: net.ParseIP(a)})
	}
	s.addrIdx = 0
	s.windowOpen = time.Now()
	return nil
}

func (s *Stream) connectSub0Locked() error {
	if s.sessionID != 0 {
		metrics.StreamReconnects.Inc()
	}
	if len(s.addrs) == 0 {
		if err := s.resolveLocked(); err != nil {
			return err
		}
	}
	if time.Since(s.windowOpen) > s.cfg.StreamErrorWindow && s.cfg.StreamErrorWindow > 0 {
		s.retries = 0
		if err := s.resolveLocked(); err != nil {
			return err
		}
	}
	for s.retries < s.cfg.ConnectionRetry || s.cfg.ConnectionRetry <= 0 {
		sock, err := xrdnet.Connect("tcp", s.hostID, s.cfg.ConnectionWindow)
		if err == nil {
			s.subs[0].sock = sock
			s.subs[0].status = Connecting
			atomic.AddInt64(&globalSessionCounter, 1)
			s.sessionID = atomic.LoadInt64(&globalSessionCounter)
			s.subs[0].status = Connected
			s.lastActivity = time.Now()
			nlog.TInfof(nlog.TopicStream, "%s: sub-stream 0 connected, session=%d", s.hostID, s.sessionID)
			return nil
		}
		s.retries++
		s.addrIdx++
		if s.cfg.ConnectionRetry > 0 && s.retries >= s.cfg.ConnectionRetry {
			return errors.Wrapf(err, "xrdcl/stream: exhausted %d connect retries to %s", s.retries, s.hostID)
		}
	}
	return errors.Errorf("xrdcl/stream: unable to connect to %s", s.hostID)
}

// connectPeers creates and connects sub-streams 1..N-1 once sub-stream
// 0 is up, per §4.7 item 3. A peer that fails to connect has its
// (empty, since nothing was ever enqueued on it yet) queue merged back
// into sub-stream 0 and is dropped from rotation by being left
// Disconnected; MultiplexSubStream naturally stops offering it once
// PreferParallel policy sees status != Connected (enforced by the
// caller, since ChannelData is policy-only and doesn't reach in here).
func (s *Stream) connectPeers() {
	for i := 1; i < len(s.subs); i++ {
		ss := s.subs[i]
		sock, err := xrdnet.Connect("tcp", s.hostID, s.cfg.ConnectionWindow)
		if err != nil {
			nlog.TInfof(nlog.TopicStream, "%s: peer sub-stream %d failed to connect: %v", s.hostID, i, err)
			s.mergeIntoSub0(ss)
			continue
		}
		ss.sock = sock
		ss.status = Connected
	}
}

func (s *Stream) mergeIntoSub0(ss *SubStream) {
	for _, item := range ss.drain() {
		s.subs[0].enqueue(item)
	}
	ss.status = Disconnected
}

// Send implements §4.7 item 4: validate session, pick sub-streams via
// the transport hook, enqueue, and enable write readiness (signaled
// here by returning so the caller's Poller can observe the socket is
// writable; this package does not itself register with a Poller since
// ownership of that wiring belongs to postmaster/Channel).
func (s *Stream) Send(msg *wire.Message, h Handler, op wire.Opcode, deadline time.Time) error {
	s.lock.Lock(s.tag)
	defer s.lock.Unlock(s.tag)

	if msg.SessionID != 0 && msg.SessionID != s.sessionID {
		return ErrInvalidSession
	}
	cd := xrdproto.ChannelData{
		SubStreamCount:    len(s.subs),
		PreferParallel:    s.cfg.PreferParallel,
		ConnectionWindow:  s.cfg.ConnectionWindow,
		StreamErrorWindow: s.cfg.StreamErrorWindow,
	}
	_, down := xrdproto.MultiplexSubStream(op, cd)
	if down >= len(s.subs) || s.subs[down].status != Connected {
		down = 0
	}
	s.subs[down].enqueue(outItem{msg: msg, handler: h})
	return nil
}

// flushWriteReady drains one queued item from sub-stream k and writes
// it, implementing §4.7 item 5. Returns false when the queue is empty
// (caller should disable write readiness).
func (s *Stream) flushWriteReady(k int) bool {
	s.lock.Lock(s.tag)
	defer s.lock.Unlock(s.tag)

	ss := s.subs[k]
	item, ok := ss.popFront()
	if !ok {
		return false
	}
	sid, err := s.sidPool.Alloc()
	if err != nil {
		item.handler.OnFatalError(err)
		return !ss.empty()
	}
	msg := item.msg
	msg.SessionID = s.sessionID
	msg.SetHeaderSID(sid)
	s.inQueue[sid] = inEntry{handler: item.handler, deadline: s.deadlineOrDefault()}
	item.handler.OnReadyToSend(msg)
	if _, err := ss.sock.Send(msg.Bytes()); err != nil {
		s.sidPool.Release(sid)
		delete(s.inQueue, sid)
		item.handler.OnFatalError(err)
		return !ss.empty()
	}
	item.handler.OnStatusReady(msg, wire.Result{Outcome: wire.OutcomeOk})
	return !ss.empty()
}

func (s *Stream) deadlineOrDefault() time.Time {
	if s.cfg.ConnectionWindow > 0 {
		return time.Now().Add(s.cfg.ConnectionWindow)
	}
	return time.Time{}
}

// onRead implements §4.7 item 6: frame, consult MessageReceived, then
// dispatch by SID.
func (s *Stream) onRead(buf []byte) {
	h, n, err := xrdproto.GetHeader(buf)
	if err != nil || n == 0 {
		return
	}
	body, ok := xrdproto.GetBody(h, buf[n:])
	if !ok {
		return
	}
	cd := xrdproto.ChannelData{SubStreamCount: len(s.subs)}
	if xrdproto.MessageReceived(h.Status, cd)&xrdproto.Digest != 0 {
		return
	}
	s.lock.Lock(s.tag)
	entry, ok := s.inQueue[h.SID]
	s.lock.Unlock(s.tag)
	if !ok {
		nlog.TInfof(nlog.TopicStream, "%s: response for unknown sid %d dropped", s.hostID, h.SID)
		return
	}
	// Raw-mode handlers (large reads/readv/pgread, §4.9's StreamRaw
	// path) hand body straight to a caller-owned ChunkSink rather than
	// copying it into partialChunks first; buf is the poller's shared
	// per-socket read buffer and gets reused on the very next read, so
	// a chunk headed for a sink that might outlive this call must be
	// copied here instead of passed by reference into shared memory.
	if entry.handler.WantsRawMode() {
		body = append([]byte(nil), body...)
		nlog.TInfof(nlog.TopicStream, "%s: sid %d streaming %d raw bytes", s.hostID, h.SID, len(body))
	}
	msg := wire.WrapMessage(body)
	msg.SessionID = s.sessionID
	if entry.handler.Process(msg, h.Status, body) {
		s.lock.Lock(s.tag)
		delete(s.inQueue, h.SID)
		s.sidPool.Release(h.SID)
		s.lock.Unlock(s.tag)
	}
}

// onSocketError implements §4.7 item 7.
func (s *Stream) onSocketError(k int, err error) {
	s.lock.Lock(s.tag)
	defer s.lock.Unlock(s.tag)

	ss := s.subs[k]
	ss.status = Disconnected
	if k != 0 {
		s.mergeIntoSub0(ss)
		return
	}
	for sid, entry := range s.inQueue {
		delete(s.inQueue, sid)
		// A response for sid may still be in flight on the wire when the
		// socket dies; Orphan keeps it out of the free pool so a stray
		// late reply can't collide with a freshly-issued request reusing
		// the same sid after reconnect (§3's orphan-across-reconnect
		// requirement).
		s.sidPool.Orphan(sid)
		entry.handler.OnFatalError(err)
	}
}

// Tick drives TTL/broken detection (§4.7 item 8); callers invoke it
// periodically (e.g. from xtask.TaskManager).
func (s *Stream) Tick(now time.Time, forceDisconnect func(sessionID int64)) {
	s.lock.Lock(s.tag)
	idle := now.Sub(s.lastActivity)
	allEmpty := true
	for _, ss := range s.subs {
		if !ss.empty() {
			allEmpty = false
			break
		}
	}
	cd := xrdproto.ChannelData{ConnectionWindow: s.cfg.ConnectionWindow, StreamErrorWindow: s.cfg.StreamErrorWindow}
	ttl := allEmpty && xrdproto.IsStreamTTLElapsed(idle, cd)
	broken := !ttl && xrdproto.IsStreamBroken(idle, cd)
	session := s.sessionID
	s.lock.Unlock(s.tag)

	if ttl && forceDisconnect != nil {
		forceDisconnect(session)
		return
	}
	if broken {
		s.ForceError(wire.StError, true, session)
	}
}

// ForceConnect re-establishes sub-stream 0 (and peers) outside the
// normal connect-on-send path, e.g. after an explicit PostMaster
// request.
func (s *Stream) ForceConnect() error {
	s.lock.Lock(s.tag)
	defer s.lock.Unlock(s.tag)
	if err := s.connectSub0Locked(); err != nil {
		return err
	}
	s.connectPeers()
	return nil
}

// ForceError fails every in-flight handler with status, used both for
// broken-stream escalation and for externally-triggered resets.
// hush suppresses the fatal-error log line for routine teardown.
func (s *Stream) ForceError(status wire.Status, hush bool, session int64) {
	s.lock.Lock(s.tag)
	entries := s.inQueue
	s.inQueue = make(map[wire.SID]inEntry)
	s.lock.Unlock(s.tag)

	if !hush {
		nlog.TInfof(nlog.TopicStream, "%s: forcing error %s on %d in-flight handlers", s.hostID, status, len(entries))
	}
	for sid, e := range entries {
		s.sidPool.Release(sid)
		e.handler.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeError, Kind: wire.ErrConnection})
	}
}

type QueryField int

const (
	QueryIPAddr QueryField = iota
	QueryHostName
	QueryIPStack
)

// Query reports transport-level facts about the stream without
// exposing its internals, per §4.7's `Query(IpAddr|HostName|IpStack)`.
func (s *Stream) Query(field QueryField) (string, bool) {
	s.lock.Lock(s.tag)
	defer s.lock.Unlock(s.tag)
	switch field {
	case QueryHostName:
		return s.hostID, true
	case QueryIPAddr:
		if len(s.addrs) == 0 {
			return "", false
		}
		return s.addrs[s.addrIdx%len(s.addrs)].String(), true
	default:
		return "", false
	}
}

func (s *Stream) SessionID() int64 { return atomic.LoadInt64(&s.sessionID) }

// CanCollapse reports whether otherHost resolves to an address set
// that intersects this stream's own resolved addresses — the check
// spec §4.9 requires before treating a redirect back toward the
// origin (e.g. after TPC negotiation) as a no-op rather than a fresh
// channel hop.
func (s *Stream) CanCollapse(otherHost string) bool {
	s.lock.Lock(s.tag)
	mine := append([]net.Addr{}, s.addrs...)
	s.lock.Unlock(s.tag)

	host, _, err := net.SplitHostPort(otherHost)
	if err != nil {
		host = otherHost
	}
	theirs, err := net.LookupHost(host)
	if err != nil {
		return false
	}
	set := make(map[string]bool, len(mine))
	for _, a := range mine {
		if tcp, ok := a.(*net.TCPAddr); ok {
			set[tcp.IP.String()] = true
		}
	}
	for _, a := range theirs {
		if set[a] {
			return true
		}
	}
	return false
}

var (
	streamIDMu  sync.Mutex
	streamIDSeq int64
)

// nextStreamTag hands out a process-unique identity for Lock's
// recursion check, avoiding a dependency on goroutine ids or the
// unsafe package.
func nextStreamTag() int64 {
	streamIDMu.Lock()
	defer streamIDMu.Unlock()
	streamIDSeq++
	return streamIDSeq
}
