package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/wire"
)

func TestBuildRequestFramesHeaderAndBody(t *testing.T) {
	body := []byte("hello")
	msg := buildRequest([16]byte{}, body)
	hdr, err := wire.UnmarshalReqHeader(msg.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(len(body)), hdr.BodyLen)
	require.Equal(t, body, msg.Bytes()[wire.SizeReqHdr:])
}

func TestDeadlineFromZeroIsNoDeadline(t *testing.T) {
	require.True(t, deadlineFrom(0).IsZero())
	require.False(t, deadlineFrom(time.Second).IsZero())
}

func TestResolveHostRewritesHostAndPortOnly(t *testing.T) {
	u, err := wire.ParseURL("root://origin.example:1094/foo/bar")
	require.NoError(t, err)
	redirected := resolveHost(u, "new.example:2094")
	require.Equal(t, "new.example", redirected.Host)
	require.Equal(t, 2094, redirected.Port)
	require.Equal(t, "/foo/bar", redirected.Path)
}

func TestToResponseOkAndError(t *testing.T) {
	resp, err := toResponse(wire.Result{Outcome: wire.OutcomeOk, Body: []byte("x"), Hosts: []string{"h1"}})
	require.NoError(t, err)
	require.Equal(t, []byte("x"), resp.Body)

	_, err = toResponse(wire.Result{Outcome: wire.OutcomeError, Kind: wire.ErrServer})
	require.Error(t, err)
}

func TestAsyncHandleWaitTimeoutExpires(t *testing.T) {
	h := &AsyncHandle{done: make(chan wire.Result)}
	_, err := h.WaitTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, errOperationExpired)
}

func TestAsyncHandleWaitDeliversResult(t *testing.T) {
	h := &AsyncHandle{done: make(chan wire.Result, 1)}
	h.done <- wire.Result{Outcome: wire.OutcomeOk, Body: []byte("ok")}
	resp, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), resp.Body)
}
