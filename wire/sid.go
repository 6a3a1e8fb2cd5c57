package wire

import (
	"sync"

	"github.com/pkg/errors"
)

// SID is the 2-byte stream id correlating a response with its request,
// spec §3. 0 means "any session" when it tags a Message, never a live
// allocation.
type SID uint16

var ErrSIDExhausted = errors.New("xrdcl/wire: stream-id pool exhausted")

// SIDManager is a per-Stream pool: allocated before send, released on
// every terminal MsgHandler transition (§4.9), including after the last
// redirect. An SID whose response never arrives before a stream failure
// is tracked as "orphaned" so a subsequent reconnect never hands the
// numeric value to a new request that a late response could be
// confused with (§3).
type SIDManager struct {
	mu       sync.Mutex
	next     SID
	free     []SID
	inUse    map[SID]struct{}
	orphaned map[SID]struct{}
}

func NewSIDManager() *SIDManager {
	return &SIDManager{
		next:     1, // 0 reserved for "any session"
		inUse:    make(map[SID]struct{}),
		orphaned: make(map[SID]struct{}),
	}
}

// Alloc returns a fresh SID, preferring a released one (LIFO, to keep the
// working set small) over bumping the high-water mark.
func (m *SIDManager) Alloc() (SID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sid SID
	if n := len(m.free); n > 0 {
		sid = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		if m.next == 0 {
			return 0, errors.WithStack(ErrSIDExhausted)
		}
		sid = m.next
		m.next++
	}
	delete(m.orphaned, sid)
	m.inUse[sid] = struct{}{}
	return sid, nil
}

// Release returns sid to the free list. Releasing an unknown or already
// free SID is a no-op (terminal transitions can race a stream reset).
func (m *SIDManager) Release(sid SID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inUse[sid]; !ok {
		return
	}
	delete(m.inUse, sid)
	m.free = append(m.free, sid)
}

// Orphan marks sid as "in flight across a reconnect, response may never
// arrive" — it stays out of the free list until the manager is Reset
// (Release ignores an orphaned SID), so a stray late response cannot be
// matched to a freshly-allocated, unrelated request.
func (m *SIDManager) Orphan(sid SID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inUse, sid)
	m.orphaned[sid] = struct{}{}
}

// Reset drops every allocation (used/free/orphaned) and starts counting
// from 1 again; called when a Stream tears down for good.
func (m *SIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = 1
	m.free = nil
	m.inUse = make(map[SID]struct{})
	m.orphaned = make(map[SID]struct{})
}

func (m *SIDManager) InUseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inUse)
}
