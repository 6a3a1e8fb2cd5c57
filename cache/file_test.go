package cache_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/cache"
)

// fakeSource is a deterministic in-memory upstream: byte i of the
// logical file is i mod 251, so any range's expected content is
// computable without storing the whole file twice.
type fakeSource struct {
	size  int64
	reads int
}

func (f *fakeSource) ReadAt(p []byte, off int64) (int, error) {
	f.reads++
	for i := range p {
		p[i] = byte((off + int64(i)) % 251)
	}
	return len(p), nil
}

func (f *fakeSource) ReadV(vecs []cache.IOVec) error {
	for _, v := range vecs {
		if _, err := f.ReadAt(v.Dst, v.Off); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) Stat() (int64, error) { return f.size, nil }
func (f *fakeSource) Close() error         { return nil }

func expect(off, n int64) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((off + int64(i)) % 251)
	}
	return out
}

func TestFileReadAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{size: 5 << 20}
	budget := cache.NewBudget(64 << 20)

	f, err := cache.OpenFile(filepath.Join(dir, "obj"), src, budget, 1<<20, true)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 3<<20)
	n, err := f.Read(512*1024, int64(len(buf)), buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, expect(512*1024, int64(len(buf))), buf)

	// every block touched by the range must now be marked complete.
	require.True(t, f.Info().IsBlockComplete(0))
	require.True(t, f.Info().IsBlockComplete(3))
}

func TestFileIdleForTracksLastAccess(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{size: 1 << 20}
	budget := cache.NewBudget(64 << 20)

	f, err := cache.OpenFile(filepath.Join(dir, "obj"), src, budget, 1<<20, true)
	require.NoError(t, err)
	defer f.Close()

	require.Zero(t, f.IdleFor())

	buf := make([]byte, 4096)
	_, err = f.Read(0, int64(len(buf)), buf)
	require.NoError(t, err)
	require.NotZero(t, f.IdleFor())
}

func TestFileReadServesFromDiskAfterBlockEviction(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{size: 2 << 20}
	budget := cache.NewBudget(64 << 20)

	f, err := cache.OpenFile(filepath.Join(dir, "obj2"), src, budget, 256<<10, true)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 256<<10)
	_, err = f.Read(0, int64(len(buf)), buf)
	require.NoError(t, err)
	firstReads := src.reads

	buf2 := make([]byte, 256<<10)
	n, err := f.Read(0, int64(len(buf2)), buf2)
	require.NoError(t, err)
	require.Equal(t, len(buf2), n)
	require.Equal(t, buf, buf2)
	// a fully cached block must not touch the upstream again.
	require.Equal(t, firstReads, src.reads)
}

func TestFileReadV(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{size: 8 << 20}
	budget := cache.NewBudget(64 << 20)

	f, err := cache.OpenFile(filepath.Join(dir, "obj3"), src, budget, 1<<20, false)
	require.NoError(t, err)
	defer f.Close()

	b0 := make([]byte, 4096)
	b1 := make([]byte, 4096)
	b2 := make([]byte, 4096)
	n, err := f.ReadV([]cache.IOVec{
		{Off: 0, Dst: b0},
		{Off: 1 << 20, Dst: b1},
		{Off: 4 << 20, Dst: b2},
	})
	require.NoError(t, err)
	require.Equal(t, 4096*3, n)
	require.Equal(t, expect(0, 4096), b0)
	require.Equal(t, expect(1<<20, 4096), b1)
	require.Equal(t, expect(4<<20, 4096), b2)

	require.True(t, f.Info().IsBlockComplete(0))
	require.True(t, f.Info().IsBlockComplete(1))
	require.True(t, f.Info().IsBlockComplete(4))
}

func TestBudgetExhaustionFallsThroughToDirect(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{size: 4 << 20}
	budget := cache.NewBudget(1) // too small to ever reserve a block

	f, err := cache.OpenFile(filepath.Join(dir, "obj4"), src, budget, 1<<20, false)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 1<<20)
	n, err := f.Read(0, int64(len(buf)), buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, expect(0, int64(len(buf))), buf)
	// never reserved RAM, so the block must not have been persisted.
	require.False(t, f.Info().IsBlockComplete(0))
}
