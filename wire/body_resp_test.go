package wire_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/wire"
)

func TestOpenRespRoundTrip(t *testing.T) {
	want := wire.OpenResp{FHandle: 7, Size: 1 << 20}
	// open replies aren't marshalled client-side; simulate the server
	// wire bytes directly: fhandle[4] + size[8].
	b := make([]byte, 12)
	b[3] = 7
	b[11] = 0 // size filled below
	b[4] = byte(want.Size >> 56)
	b[5] = byte(want.Size >> 48)
	b[6] = byte(want.Size >> 40)
	b[7] = byte(want.Size >> 32)
	b[8] = byte(want.Size >> 24)
	b[9] = byte(want.Size >> 16)
	b[10] = byte(want.Size >> 8)
	b[11] = byte(want.Size)

	got, err := wire.UnmarshalOpenResp(b)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestOpenRespTooShort(t *testing.T) {
	_, err := wire.UnmarshalOpenResp([]byte{0, 0})
	require.Error(t, err)
}

func TestStatInfoRoundTrip(t *testing.T) {
	want := wire.StatInfo{Size: 4096, Flags: wire.StatFlagDir, ModTime: time.Now().Unix()}
	got, err := wire.UnmarshalStatInfo(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDirListRoundTrip(t *testing.T) {
	entries := []wire.DirEntry{
		{Name: "a.txt", Stat: wire.StatInfo{Size: 10, Flags: 0, ModTime: 100}},
		{Name: "sub", Stat: wire.StatInfo{Size: 0, Flags: wire.StatFlagDir, ModTime: 200}},
	}
	got := wire.UnmarshalDirList(wire.MarshalDirList(entries))
	require.Equal(t, entries, got)
}

func TestDirListEmpty(t *testing.T) {
	require.Empty(t, wire.UnmarshalDirList(nil))
}
