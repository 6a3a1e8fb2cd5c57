package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrootd-go/xrdcl/wire"
)

func TestReqHeaderRoundTrip(t *testing.T) {
	h := wire.ReqHeader{SID: 7, Opcode: wire.OpOpen, BodyLen: 123}
	copy(h.Specific[:], []byte("hello"))
	b := h.Marshal()
	require.Len(t, b, wire.SizeReqHdr)

	got, err := wire.UnmarshalReqHeader(b)
	require.NoError(t, err)
	require.Equal(t, h.SID, got.SID)
	require.Equal(t, h.Opcode, got.Opcode)
	require.Equal(t, h.BodyLen, got.BodyLen)
	require.Equal(t, h.Specific, got.Specific)
}

func TestRespHeaderRoundTrip(t *testing.T) {
	h := wire.RespHeader{SID: 99, Status: wire.StOkSoFar, BodyLen: 4096}
	b := h.Marshal()
	got, err := wire.UnmarshalRespHeader(b)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestRespHeaderRejectsOversizedLen(t *testing.T) {
	h := wire.RespHeader{BodyLen: wire.MaxBodyLen + 1}
	_, err := wire.UnmarshalRespHeader(h.Marshal())
	require.Error(t, err)
}

func TestRespHeaderTooShort(t *testing.T) {
	_, err := wire.UnmarshalRespHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, wire.ErrCorruptedHeader)
}

func TestSIDManagerNoDoubleAlloc(t *testing.T) {
	m := wire.NewSIDManager()
	seen := make(map[wire.SID]bool)
	for i := 0; i < 100; i++ {
		sid, err := m.Alloc()
		require.NoError(t, err)
		require.False(t, seen[sid], "sid %d allocated twice concurrently", sid)
		seen[sid] = true
	}
	require.Equal(t, 100, m.InUseCount())
}

func TestSIDManagerReuseAfterRelease(t *testing.T) {
	m := wire.NewSIDManager()
	sid, _ := m.Alloc()
	m.Release(sid)
	require.Equal(t, 0, m.InUseCount())
	sid2, _ := m.Alloc()
	require.Equal(t, sid, sid2)
}

func TestSIDManagerOrphanSurvivesReconnect(t *testing.T) {
	m := wire.NewSIDManager()
	sid, _ := m.Alloc()
	m.Orphan(sid)
	require.Equal(t, 0, m.InUseCount())
	// a fresh alloc should not hand back the orphaned id while it's
	// still pending, since the free list never received it
	for i := 0; i < 5; i++ {
		got, _ := m.Alloc()
		require.NotEqual(t, sid, got)
	}
}

func TestReadVRoundTrip(t *testing.T) {
	chunks := []wire.ReadVChunk{
		{FHandle: 1, RLen: 4096, Offset: 0},
		{FHandle: 1, RLen: 4096, Offset: 1 << 20},
		{FHandle: 2, RLen: 1024, Offset: 4 << 20},
	}
	b := wire.MarshalReadV(chunks)
	got := wire.UnmarshalReadV(b)
	require.Equal(t, chunks, got)
}

func TestSplitPgReadReply(t *testing.T) {
	page := make([]byte, wire.PgReadPageSize)
	for i := range page {
		page[i] = byte(i)
	}
	body := append(append([]byte{}, page...), 0, 0, 0, 1)
	data, crcs := wire.SplitPgReadReply(body)
	require.Equal(t, page, data)
	require.Equal(t, []uint32{1}, crcs)
}

func TestParseURL(t *testing.T) {
	u, err := wire.ParseURL("root://host1.example.com:1999/foo/bar?cks.type=adler32")
	require.NoError(t, err)
	require.Equal(t, "host1.example.com:1999", u.HostID())
	require.Equal(t, "/foo/bar", u.Path)
	v, ok := u.QueryParam("cks.type")
	require.True(t, ok)
	require.Equal(t, "adler32", v)
}

func TestParseURLDefaultPort(t *testing.T) {
	u, err := wire.ParseURL("root://host1.example.com/foo")
	require.NoError(t, err)
	require.Equal(t, wire.DefaultPort, u.Port)
}
