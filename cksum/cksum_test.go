package cksum_test

import (
	"bytes"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/cksum"
)

func computeCRC32(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

func TestCombineCRC32MatchesWholeBuffer(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	b := make([]byte, 5000)
	r.Read(b)
	want := computeCRC32(b)

	for _, k := range []int{0, 1, 17, 2500, 4999, 5000} {
		crc1 := computeCRC32(b[:k])
		crc2 := computeCRC32(b[k:])
		got := cksum.CombineCRC32(crc1, crc2, int64(len(b)-k))
		require.Equalf(t, want, got, "split at k=%d", k)
	}
}

func TestCalcFileCRC32(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	got, err := cksum.CalcFile(bytes.NewReader(data), "crc32")
	require.NoError(t, err)
	var want [4]byte
	v := computeCRC32(data)
	want[0] = byte(v >> 24)
	want[1] = byte(v >> 16)
	want[2] = byte(v >> 8)
	want[3] = byte(v)
	require.Equal(t, want[:], got)
}

func TestVerifyFileMismatch(t *testing.T) {
	data := []byte("abc")
	err := cksum.VerifyFile(bytes.NewReader(data), "crc32", []byte{0, 0, 0, 0})
	require.ErrorIs(t, err, cksum.ErrChecksumMismatch)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := cksum.New("sha512")
	require.ErrorIs(t, err, cksum.ErrUnknownAlgorithm)
}

func TestRegisterCustomAlgorithm(t *testing.T) {
	cksum.Register("always-zero", func() cksum.Accumulator {
		return zeroAccumulator{}
	})
	acc, err := cksum.New("always-zero")
	require.NoError(t, err)
	acc.Update([]byte("anything"))
	require.Equal(t, []byte{0}, acc.Final())
}

type zeroAccumulator struct{}

func (zeroAccumulator) Update([]byte)    {}
func (zeroAccumulator) Final() []byte    { return []byte{0} }
func (zeroAccumulator) Reset()           {}
func (zeroAccumulator) Name() string     { return "always-zero" }
