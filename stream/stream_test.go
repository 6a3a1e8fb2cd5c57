package stream_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/stream"
	"github.com/xrootd-go/xrdcl/wire"
)

type fakeHandler struct {
	mu        sync.Mutex
	ready     int
	statuses  []wire.Result
	processed int
	fatal     error
}

func (h *fakeHandler) OnReadyToSend(*wire.Message) {
	h.mu.Lock()
	h.ready++
	h.mu.Unlock()
}
func (h *fakeHandler) OnStatusReady(_ *wire.Message, r wire.Result) {
	h.mu.Lock()
	h.statuses = append(h.statuses, r)
	h.mu.Unlock()
}
func (h *fakeHandler) Process(*wire.Message, wire.Status, []byte) bool {
	h.mu.Lock()
	h.processed++
	h.mu.Unlock()
	return true
}
func (h *fakeHandler) WantsRawMode() bool { return false }
func (h *fakeHandler) OnFatalError(err error) {
	h.mu.Lock()
	h.fatal = err
	h.mu.Unlock()
}

func TestLockBasicExclusion(t *testing.T) {
	l := stream.NewLock()
	var n int
	done := make(chan struct{})
	l.Lock(1)
	go func() {
		l.Lock(2)
		n++
		l.Unlock(2)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, n)
	l.Unlock(1)
	<-done
	require.Equal(t, 1, n)
}

func TestLockRecursiveSameTag(t *testing.T) {
	l := stream.NewLock()
	l.Lock(7)
	l.Lock(7) // must not deadlock
	l.Unlock(7)
	l.Unlock(7)
}

func TestLockSubStreamShortCircuitsWhenClosing(t *testing.T) {
	l := stream.NewLock()
	l.AddClosing(2)
	isClosing := l.LockSubStream(1, 2)
	require.True(t, isClosing)

	l.RemoveClosing(2)
	isClosing = l.LockSubStream(1, 2)
	require.False(t, isClosing)
	l.Unlock(1)
}

func TestLockCallbackRunsOnRelease(t *testing.T) {
	l := stream.NewLock()
	l.Lock(1)
	ran := make(chan struct{})
	isClosing := l.LockCallback(func() { close(ran) })
	require.False(t, isClosing)
	l.Unlock(1)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestLockCallbackBailsWhenAnotherPending(t *testing.T) {
	l := stream.NewLock()
	l.Lock(1)
	first := l.LockCallback(func() {})
	require.False(t, first)
	second := l.LockCallback(func() {})
	require.True(t, second)
	l.Unlock(1)
}

func TestStreamSendRejectsStaleSession(t *testing.T) {
	s := stream.New("127.0.0.1:0", stream.Config{ConnectionWindow: time.Second, ConnectionRetry: 1, SubStreamCount: 1})
	msg := wire.NewMessage(16)
	msg.SessionID = 999
	h := &fakeHandler{}
	err := s.Send(msg, h, wire.OpOpen, time.Now().Add(time.Second))
	require.ErrorIs(t, err, stream.ErrInvalidSession)
}

func TestStreamInitializeAndSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	s := stream.New(ln.Addr().String(), stream.Config{
		ConnectionWindow: 2 * time.Second,
		ConnectionRetry:  3,
		SubStreamCount:   1,
	})
	require.NoError(t, s.Initialize())
	<-accepted
	require.NotZero(t, s.SessionID())

	msg := wire.NewMessage(16)
	h := &fakeHandler{}
	require.NoError(t, s.Send(msg, h, wire.OpOpen, time.Now().Add(time.Second)))
}
