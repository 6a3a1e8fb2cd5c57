package postmaster

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd-go/xrdcl/stream"
	"github.com/xrootd-go/xrdcl/wire"
)

// PostMaster is the process-wide singleton owning the hostId->Channel
// map (spec §4.8). Grounded on the teacher's `transport/bundle.Streams`
// being one-per-destination and collectively registered with a single
// process-wide collector (`gc`, see DESIGN.md's postmaster.PostMaster entry) —
// PostMaster plays that same "one well-known owner of the per-endpoint
// connection set" role, generalized to own Channels instead of raw
// HTTP stream bundles.
type PostMaster struct {
	mu       sync.Mutex
	channels map[string]*Channel
	cfg      stream.Config
}

func New(cfg stream.Config) *PostMaster {
	return &PostMaster{channels: make(map[string]*Channel), cfg: cfg}
}

// Default is the process-wide instance most callers use; tests
// construct their own via New to stay isolated.
var Default = New(stream.Config{
	ConnectionWindow:  30 * time.Second,
	ConnectionRetry:   3,
	StreamErrorWindow: 90 * time.Second,
	SubStreamCount:    1,
})

// getOrCreate returns the Channel for hostID, creating it on demand
// with a fresh reference held for the caller. A newly created Channel
// also carries a creator reference, so it stays in the map after the
// call that created it returns.
func (pm *PostMaster) getOrCreate(hostID string) *Channel {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	c, ok := pm.channels[hostID]
	if !ok {
		c = newChannel(hostID, pm.cfg)
		c.hold() // creator reference
		pm.channels[hostID] = c
	}
	c.hold()
	return c
}

// Send resolves url's Channel (creating and connecting it if needed),
// forwarding to its Stream's Send.
func (pm *PostMaster) Send(url wire.URL, msg *wire.Message, h stream.Handler, op wire.Opcode, deadline time.Time) error {
	c := pm.getOrCreate(url.HostID())
	defer pm.releaseChannel(c)

	if c.Stream().SessionID() == 0 {
		if err := c.Stream().Initialize(); err != nil {
			c.onConnErr(err)
			return errors.Wrapf(err, "xrdcl/postmaster: connect %s", url.HostID())
		}
		c.onConnect()
	}
	return c.Stream().Send(msg, h, op, deadline)
}

func (pm *PostMaster) releaseChannel(c *Channel) {
	if !c.release() {
		return
	}
	pm.mu.Lock()
	if cur, ok := pm.channels[c.HostID()]; ok && cur == c && c.refCount() == 0 {
		delete(pm.channels, c.HostID())
	}
	pm.mu.Unlock()
}

// ForceReconnect tears down and re-establishes the channel's stream,
// e.g. after an external signal that the peer restarted.
func (pm *PostMaster) ForceReconnect(url wire.URL) error {
	c := pm.getOrCreate(url.HostID())
	defer pm.releaseChannel(c)
	c.Stream().ForceError(wire.StError, true, c.Stream().SessionID())
	return c.Stream().ForceConnect()
}

// ForceDisconnect destroys the Channel named by hostID if its session
// still matches sessionID (a stale caller's disconnect request for an
// already-reconnected channel is a no-op), per §4 step 8.
func (pm *PostMaster) ForceDisconnect(hostID string, sessionID int64) {
	pm.mu.Lock()
	c, ok := pm.channels[hostID]
	pm.mu.Unlock()
	if !ok || c.Stream().SessionID() != sessionID {
		return
	}
	c.Stream().ForceError(wire.StError, true, sessionID)
	pm.mu.Lock()
	if cur, ok := pm.channels[hostID]; ok && cur == c {
		delete(pm.channels, hostID)
	}
	pm.mu.Unlock()
}

func (pm *PostMaster) NotifyConnectHandler(url wire.URL, h ConnectHandler) {
	c := pm.getOrCreate(url.HostID())
	defer pm.releaseChannel(c)
	c.connectHandlers = append(c.connectHandlers, h)
}

func (pm *PostMaster) NotifyConnErrHandler(url wire.URL, h ConnErrHandler) {
	c := pm.getOrCreate(url.HostID())
	defer pm.releaseChannel(c)
	c.connErrHandlers = append(c.connErrHandlers, h)
}

// QueryTransport exposes Stream.Query for a live channel without
// handing the caller the Channel/Stream types directly.
func (pm *PostMaster) QueryTransport(url wire.URL, field stream.QueryField) (string, bool) {
	pm.mu.Lock()
	c, ok := pm.channels[url.HostID()]
	pm.mu.Unlock()
	if !ok {
		return "", false
	}
	return c.Stream().Query(field)
}

func (pm *PostMaster) ChannelCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.channels)
}
