package client

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopi-dev/kopi/src/notify"
	"github.com/kopi-dev/kopi/src/server"
)

// newTestPair starts a real server over an httptest server rooted at its own temp workspace, and
// returns a Client pointed at it, rooted at a separate temp workspace of its own.
func newTestPair(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	srv := server.New(t.TempDir(), notify.New())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	c := New(ts.URL, t.TempDir())
	require.NoError(t, c.Connect())
	return c, ts
}

func TestConnectNegotiatesCapabilities(t *testing.T) {
	c, _ := newTestPair(t)
	assert.True(t, c.Capabilities().DeltaSyncSupported)
	assert.True(t, c.Capabilities().GitSyncSupported)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	c, _ := newTestPair(t)
	local := filepath.Join(c.Workspace, "a.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello world\n"), 0644))

	fp, err := c.Put(local, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world\n")), fp.Size)

	entries, err := c.List("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	dest := filepath.Join(t.TempDir(), "pulled.txt")
	require.NoError(t, c.Get("a.txt", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(got))
}

func TestPutTwiceSendsDeltaOnSecondWrite(t *testing.T) {
	c, _ := newTestPair(t)
	local := filepath.Join(c.Workspace, "a.txt")
	require.NoError(t, os.WriteFile(local, []byte("one block of text here\n"), 0644))
	_, err := c.Put(local, "a.txt")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(local, []byte("one block of text HERE\n"), 0644))
	fp, err := c.Put(local, "a.txt")
	require.NoError(t, err)
	assert.NotEmpty(t, fp.WholeDigest)

	dest := filepath.Join(t.TempDir(), "pulled.txt")
	require.NoError(t, c.Get("a.txt", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "one block of text HERE\n", string(got))
}

func TestSyncWorkspaceWalksTree(t *testing.T) {
	c, _ := newTestPair(t)
	require.NoError(t, os.MkdirAll(filepath.Join(c.Workspace, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Workspace, "top.txt"), []byte("top\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(c.Workspace, "sub", "nested.txt"), []byte("nested\n"), 0644))

	require.NoError(t, c.SyncWorkspace())

	entries, err := c.List("sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "nested.txt", entries[0].Name)
}

func TestGitInitAndSyncPatch(t *testing.T) {
	c, _ := newTestPair(t)
	require.NoError(t, c.GitInit(false))
	require.NoError(t, c.RemoteInit(false))

	require.NoError(t, os.WriteFile(filepath.Join(c.Workspace, "tracked.txt"), []byte("v1\n"), 0644))

	result, err := c.SyncPatch()
	require.NoError(t, err)
	assert.NotEmpty(t, result.Commit)

	status, err := c.RemoteStatus()
	require.NoError(t, err)
	assert.False(t, status.HasPendingConflicts)
}

func TestRunCommandReturnsOutput(t *testing.T) {
	c, _ := newTestPair(t)
	result, err := c.RunCommand("echo hi", t.TempDir(), nil, 5e9, 1e7, 3e9)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hi")
}

func TestDisconnectPersistsCache(t *testing.T) {
	c, _ := newTestPair(t)
	local := filepath.Join(c.Workspace, "a.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello\n"), 0644))
	_, err := c.Put(local, "a.txt")
	require.NoError(t, err)

	require.NoError(t, c.Disconnect())
	assert.FileExists(t, c.cachePath())
}
