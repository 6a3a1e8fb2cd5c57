package xrdnet_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/xrdnet"
)

func listenOnce(t *testing.T) (addr string, accepted chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted = make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		_ = ln.Close()
	}()
	return ln.Addr().String(), accepted
}

func TestSocketSendRecv(t *testing.T) {
	addr, accepted := listenOnce(t)
	sock, err := xrdnet.Connect("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer sock.Close()

	srv := <-accepted
	defer srv.Close()

	n, err := sock.Send([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = srv.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestSocketSendAfterCloseFails(t *testing.T) {
	addr, accepted := listenOnce(t)
	sock, err := xrdnet.Connect("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	srv := <-accepted
	defer srv.Close()

	require.NoError(t, sock.Close())
	_, err = sock.Send([]byte("x"))
	require.ErrorIs(t, err, xrdnet.ErrSocketClosed)
}

func TestPollerDeliversEvents(t *testing.T) {
	addr, accepted := listenOnce(t)
	sock, err := xrdnet.Connect("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer sock.Close()

	srv := <-accepted
	defer srv.Close()

	p := xrdnet.NewPoller(50 * time.Millisecond)
	go p.Run()
	defer p.Stop()

	p.Add("h1", sock)
	defer p.Remove("h1")

	_, err = srv.Write([]byte("pong"))
	require.NoError(t, err)

	select {
	case ev := <-p.Events():
		require.Equal(t, "h1", ev.ID)
		require.NoError(t, ev.Event.Err)
		require.Equal(t, "pong", string(ev.Event.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poller event")
	}
}
