package postmaster_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/postmaster"
	"github.com/xrootd-go/xrdcl/stream"
	"github.com/xrootd-go/xrdcl/wire"
)

type fakeHandler struct{}

func (fakeHandler) OnReadyToSend(*wire.Message)                         {}
func (fakeHandler) OnStatusReady(*wire.Message, wire.Result)            {}
func (fakeHandler) Process(*wire.Message, wire.Status, []byte) bool    { return true }
func (fakeHandler) WantsRawMode() bool                                 { return false }
func (fakeHandler) OnFatalError(error)                                  {}

func TestPostMasterSendConnectsOnDemand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			buf := make([]byte, 256)
			_, _ = c.Read(buf)
		}
	}()

	pm := postmaster.New(stream.Config{
		ConnectionWindow: 2 * time.Second,
		ConnectionRetry:  3,
		SubStreamCount:   1,
	})
	url, err := wire.ParseURL("root://" + ln.Addr().String() + "/foo")
	require.NoError(t, err)

	msg := wire.NewMessage(16)
	require.NoError(t, pm.Send(url, msg, fakeHandler{}, wire.OpOpen, time.Now().Add(time.Second)))
	require.Equal(t, 1, pm.ChannelCount())
}

func TestPostMasterNotifyHandlersRegister(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	pm := postmaster.New(stream.Config{ConnectionWindow: time.Second, ConnectionRetry: 1, SubStreamCount: 1})
	url, err := wire.ParseURL("root://" + ln.Addr().String() + "/foo")
	require.NoError(t, err)

	connected := make(chan string, 1)
	pm.NotifyConnectHandler(url, func(hostID string) { connected <- hostID })

	msg := wire.NewMessage(16)
	require.NoError(t, pm.Send(url, msg, fakeHandler{}, wire.OpOpen, time.Now().Add(time.Second)))

	select {
	case h := <-connected:
		require.Equal(t, url.HostID(), h)
	case <-time.After(time.Second):
		t.Fatal("connect handler never fired")
	}
}
