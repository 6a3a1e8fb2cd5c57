package env_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrootd-go/xrdcl/env"
)

func TestPutGet(t *testing.T) {
	e := env.New()
	require.True(t, e.PutInt("k", 1))
	v, ok := e.GetInt("k")
	require.True(t, ok)
	require.Equal(t, 1, v)

	// overwrite allowed for a plain Put
	require.True(t, e.PutInt("k", 2))
	v, _ = e.GetInt("k")
	require.Equal(t, 2, v)
}

func TestImportWinsOverPut(t *testing.T) {
	os.Setenv("XRDCL_TEST_KEY", "42")
	defer os.Unsetenv("XRDCL_TEST_KEY")

	e := env.New()
	require.True(t, e.ImportInt("XRDCL_TEST_KEY"))
	v, _ := e.GetInt("XRDCL_TEST_KEY")
	require.Equal(t, 42, v)

	// Put on an imported key is a no-op and reports false
	require.False(t, e.PutInt("XRDCL_TEST_KEY", 7))
	v, _ = e.GetInt("XRDCL_TEST_KEY")
	require.Equal(t, 42, v)
}

func TestImportMissing(t *testing.T) {
	e := env.New()
	require.False(t, e.ImportInt("XRDCL_DOES_NOT_EXIST"))
	require.False(t, e.ImportString("XRDCL_DOES_NOT_EXIST"))
}

func TestResolveDefaults(t *testing.T) {
	e := env.New()
	r := e.Resolve()
	require.Equal(t, 30, r.ConnectionWindowSec)
	require.Equal(t, 3, r.ConnectionRetry)
	require.Equal(t, env.NetworkStackAuto, r.NetworkStack)
}
