package xrdproto_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/wire"
	"github.com/xrootd-go/xrdcl/xrdproto"
)

func TestHandShakeFullSequence(t *testing.T) {
	var state xrdproto.HandShakeData

	out, outcome := xrdproto.HandShake(&state, nil)
	require.Equal(t, xrdproto.HSRetry, outcome)
	require.NotEmpty(t, out)

	initialReply := make([]byte, 8)
	initialReply[7] = 1 // fake protocol version
	out, outcome = xrdproto.HandShake(&state, initialReply)
	require.Equal(t, xrdproto.HSRetry, outcome)
	require.NotEmpty(t, out) // protocol request

	okResp := wire.RespHeader{Status: wire.StOk}.Marshal()
	out, outcome = xrdproto.HandShake(&state, okResp)
	require.Equal(t, xrdproto.HSRetry, outcome)
	require.NotEmpty(t, out) // login request

	out, outcome = xrdproto.HandShake(&state, okResp)
	require.Equal(t, xrdproto.HSOk, outcome)
	require.Nil(t, out)
	require.NotZero(t, state.SessionID())
	require.NoError(t, state.Err())
}

func TestHandShakeLoginFailure(t *testing.T) {
	var state xrdproto.HandShakeData
	xrdproto.HandShake(&state, nil)
	xrdproto.HandShake(&state, make([]byte, 8))
	xrdproto.HandShake(&state, wire.RespHeader{Status: wire.StOk}.Marshal())

	errResp := wire.RespHeader{Status: wire.StError}.Marshal()
	_, outcome := xrdproto.HandShake(&state, errResp)
	require.Equal(t, xrdproto.HSError, outcome)
	require.Error(t, state.Err())
}

func TestGetHeaderNeedsMoreBytes(t *testing.T) {
	h, n, err := xrdproto.GetHeader([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, h)
}

func TestGetHeaderAndBody(t *testing.T) {
	body := []byte("hello")
	hdr := wire.RespHeader{SID: 5, Status: wire.StOk, BodyLen: uint32(len(body))}
	buf := append(hdr.Marshal(), body...)

	h, n, err := xrdproto.GetHeader(buf)
	require.NoError(t, err)
	require.Equal(t, wire.SizeRespHdr, n)

	got, ok := xrdproto.GetBody(h, buf[n:])
	require.True(t, ok)
	require.Equal(t, body, got)
}

func TestMessageReceivedDigestsAttn(t *testing.T) {
	d := xrdproto.MessageReceived(wire.StAttn, xrdproto.ChannelData{})
	require.NotZero(t, d&xrdproto.Digest)

	d = xrdproto.MessageReceived(wire.StOk, xrdproto.ChannelData{})
	require.Zero(t, d&xrdproto.Digest)
}

func TestMultiplexSubStreamPicksSecondForReads(t *testing.T) {
	cd := xrdproto.ChannelData{SubStreamCount: 2, PreferParallel: true}
	up, down := xrdproto.MultiplexSubStream(wire.OpRead, cd)
	require.Equal(t, 0, up)
	require.Equal(t, 1, down)

	up, down = xrdproto.MultiplexSubStream(wire.OpWrite, cd)
	require.Equal(t, 0, up)
	require.Equal(t, 0, down)
}

func TestStreamTTLAndBroken(t *testing.T) {
	cd := xrdproto.ChannelData{ConnectionWindow: time.Second, StreamErrorWindow: 2 * time.Second}
	require.False(t, xrdproto.IsStreamTTLElapsed(500*time.Millisecond, cd))
	require.True(t, xrdproto.IsStreamTTLElapsed(1500*time.Millisecond, cd))
	require.False(t, xrdproto.IsStreamBroken(1500*time.Millisecond, cd))
	require.True(t, xrdproto.IsStreamBroken(3*time.Second, cd))
}
