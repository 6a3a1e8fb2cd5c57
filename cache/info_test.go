package cache_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/cache"
)

func TestInfoSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.cinfo")

	info, existed, err := cache.Open(path)
	require.NoError(t, err)
	require.False(t, existed)

	fresh := cache.NewInfo(1<<20, 3<<20+17)
	info.BlockSize, info.FileSize, info.BlockCount, info.Bitmap = fresh.BlockSize, fresh.FileSize, fresh.BlockCount, fresh.Bitmap
	require.Equal(t, int64(4), info.BlockCount) // ceil((3<<20+17)/1<<20)

	require.NoError(t, info.SetBlockComplete(0))
	require.NoError(t, info.SetBlockComplete(2))
	require.NoError(t, info.WriteIOStatDetach(cache.AccessRecord{
		AppendTime: time.Now().Add(-time.Hour),
		DetachTime: time.Now(),
		BytesRead:  4096,
		Hits:       3,
		Miss:       1,
	}))
	require.NoError(t, info.Close())

	reopened, existed, err := cache.Open(path)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, int64(1<<20), reopened.BlockSize)
	require.Equal(t, int64(4), reopened.BlockCount)
	require.True(t, reopened.IsBlockComplete(0))
	require.False(t, reopened.IsBlockComplete(1))
	require.True(t, reopened.IsBlockComplete(2))
	require.False(t, reopened.IsComplete())
	require.False(t, reopened.LatestAccessTime().IsZero())
}

func TestInfoIsCompleteWhenAllBitsSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.cinfo")
	info, _, err := cache.Open(path)
	require.NoError(t, err)
	defer info.Close()

	fresh := cache.NewInfo(100, 250)
	info.BlockSize, info.FileSize, info.BlockCount, info.Bitmap = fresh.BlockSize, fresh.FileSize, fresh.BlockCount, fresh.Bitmap
	require.Equal(t, int64(3), info.BlockCount)

	for i := int64(0); i < info.BlockCount; i++ {
		require.NoError(t, info.SetBlockComplete(i))
	}
	require.True(t, info.IsComplete())
}
