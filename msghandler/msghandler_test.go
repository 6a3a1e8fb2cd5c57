package msghandler_test

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/cksum"
	"github.com/xrootd-go/xrdcl/msghandler"
	"github.com/xrootd-go/xrdcl/wire"
)

func statusKindBody(kind wire.StatusKind, rest []byte) []byte {
	out := make([]byte, 2+len(rest))
	binary.BigEndian.PutUint16(out[:2], uint16(kind))
	copy(out[2:], rest)
	return out
}

func newHandler(t *testing.T, opts msghandler.Opts) (*msghandler.Handler, *[]wire.Result) {
	var results []wire.Result
	req := wire.NewMessage(wire.SizeReqHdr)
	req.Write(wire.ReqHeader{}.Marshal())
	h := msghandler.New(req, wire.OpRead, "host1:1094", func(r wire.Result) {
		results = append(results, r)
	}, opts)
	require.Equal(t, msghandler.Issued, h.State())
	return h, &results
}

func TestOkCompletesImmediately(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StOk, []byte("payload"))
	require.True(t, done)
	require.Equal(t, msghandler.Done, h.State())
	require.Len(t, *results, 1)
	require.True(t, (*results)[0].Ok())
	require.Equal(t, []byte("payload"), (*results)[0].Body)
}

func TestOkSoFarBuffersThenAssemblesOnOk(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StOkSoFar, []byte("part1"))
	require.False(t, done)
	require.Equal(t, msghandler.AwaitMore, h.State())
	require.Empty(t, *results)

	done = h.Process(nil, wire.StOk, []byte("part2"))
	require.True(t, done)
	require.Len(t, *results, 1)
	require.Equal(t, []byte("part1part2"), (*results)[0].Body)
}

func TestErrorStatusIsTerminal(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StError, []byte("no such file"))
	require.True(t, done)
	require.Equal(t, msghandler.Failed, h.State())
	require.Len(t, *results, 1)
	require.False(t, (*results)[0].Ok())
	require.Equal(t, wire.ErrServer, (*results)[0].Kind)
}

func TestWaitTransitionsToSnoozingWithoutTaskManager(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	secs := []byte{0, 0, 0, 0} // 0-second wait, no task manager configured
	done := h.Process(nil, wire.StWait, secs)
	require.False(t, done)
	require.Equal(t, msghandler.Snoozing, h.State())
	require.Empty(t, *results)
}

func TestRedirectWithoutRedirectFuncFails(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StRedirect, []byte("other.example:1094"))
	require.True(t, done)
	require.Len(t, *results, 1)
	require.Equal(t, wire.OutcomeFatal, (*results)[0].Outcome)
	require.Equal(t, wire.ErrConfiguration, (*results)[0].Kind)
}

func TestRedirectInvokesRedirectFuncAndTracksHosts(t *testing.T) {
	var redirectedTo string
	opts := msghandler.Opts{
		Redirect: func(newHostID string, _ *wire.Message) error {
			redirectedTo = newHostID
			return nil
		},
	}
	h, results := newHandler(t, opts)
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StRedirect, []byte("other.example:1094"))
	require.True(t, done)
	require.Equal(t, "other.example:1094", redirectedTo)
	require.Equal(t, "other.example:1094", h.EffectiveHostID())
	require.Empty(t, *results) // redirect did not fail, so no terminal delivery yet
}

func TestRedirectBudgetExhausted(t *testing.T) {
	opts := msghandler.Opts{
		MaxRedirects: 1,
		Redirect: func(string, *wire.Message) error {
			return nil
		},
	}
	h, results := newHandler(t, opts)
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	h.Process(nil, wire.StRedirect, []byte("a:1"))
	h.Process(nil, wire.StRedirect, []byte("b:1"))
	require.Len(t, *results, 1)
	require.Equal(t, wire.OutcomeFatal, (*results)[0].Outcome)
}

func TestTickExpiresPastDeadline(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.SetDeadline(time.Now().Add(-time.Second))

	h.Tick(time.Now())
	require.Equal(t, msghandler.Failed, h.State())
	require.Len(t, *results, 1)
	require.Equal(t, wire.ErrOperationExpired, (*results)[0].Kind)
}

func TestTickDoesNotExpireWhileFenced(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})
	h.SetDeadline(time.Now().Add(-time.Second))

	h.Process(nil, wire.StOkSoFar, []byte("partial"))
	h.Tick(time.Now())
	require.Equal(t, msghandler.AwaitMore, h.State())
	require.Empty(t, *results)
}

func TestOnFatalErrorDeliversOnce(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{})
	h.OnReadyToSend(wire.NewMessage(0))

	h.OnFatalError(require.AnError)
	h.OnFatalError(require.AnError) // second call after terminal must be a no-op
	require.Len(t, *results, 1)
	require.Equal(t, wire.OutcomeFatal, (*results)[0].Outcome)
}

func TestChecksumMatchCompletes(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{WantChecksum: true, ChecksumAlgo: "crc32c"})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	payload := []byte("some file contents")
	done := h.Process(nil, wire.StOkSoFar, payload)
	require.False(t, done)

	acc, err := cksum.New("crc32c")
	require.NoError(t, err)
	acc.Update(payload)
	resp := wire.ChecksumResp{Algo: "crc32c", Hex: hex.EncodeToString(acc.Final())}.Marshal()
	done = h.Process(nil, wire.StStatus, statusKindBody(wire.KindChecksumResp, resp))
	require.True(t, done)
	require.Equal(t, msghandler.Done, h.State())
	require.Len(t, *results, 1)
	require.True(t, (*results)[0].Ok())
}

func TestChecksumMismatchFails(t *testing.T) {
	h, results := newHandler(t, msghandler.Opts{WantChecksum: true, ChecksumAlgo: "crc32c"})
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StOkSoFar, []byte("some file contents"))
	require.False(t, done)

	resp := wire.ChecksumResp{Algo: "crc32c", Hex: "deadbeef"}.Marshal()
	done = h.Process(nil, wire.StStatus, statusKindBody(wire.KindChecksumResp, resp))
	require.True(t, done)
	require.Equal(t, msghandler.Failed, h.State())
	require.Len(t, *results, 1)
	require.False(t, (*results)[0].Ok())
	require.Equal(t, wire.ErrChecksum, (*results)[0].Kind)
}

func TestWantsRawModeReflectsOpts(t *testing.T) {
	h, _ := newHandler(t, msghandler.Opts{})
	require.False(t, h.WantsRawMode())

	h2, _ := newHandler(t, msghandler.Opts{RawMode: func(wire.Opcode) (msghandler.ChunkSink, bool) {
		return nil, false
	}})
	require.False(t, h2.WantsRawMode())

	h3, _ := newHandler(t, msghandler.Opts{RawMode: func(wire.Opcode) (msghandler.ChunkSink, bool) {
		return func([]byte) error { return nil }, true
	}})
	require.True(t, h3.WantsRawMode())
}

func TestRawModeStreamsChunksToSink(t *testing.T) {
	var chunks [][]byte
	opts := msghandler.Opts{RawMode: func(wire.Opcode) (msghandler.ChunkSink, bool) {
		return func(b []byte) error {
			chunks = append(chunks, append([]byte(nil), b...))
			return nil
		}, true
	}}
	h, results := newHandler(t, opts)
	h.OnReadyToSend(wire.NewMessage(0))
	h.OnStatusReady(nil, wire.Result{Outcome: wire.OutcomeOk})

	done := h.Process(nil, wire.StOkSoFar, []byte("part1"))
	require.False(t, done)
	require.Equal(t, msghandler.StreamRaw, h.State())
	require.Empty(t, *results)

	done = h.Process(nil, wire.StOk, []byte("part2"))
	require.True(t, done)
	require.Equal(t, msghandler.Done, h.State())
	require.Len(t, *results, 1)
	require.True(t, (*results)[0].Ok())
	require.Empty(t, (*results)[0].Body)
	require.Equal(t, [][]byte{[]byte("part1"), []byte("part2")}, chunks)
}
