package patchsync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/notify"
)

func TestClientInitAndStatus(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir)
	require.NoError(t, c.Init(false))

	status, err := c.Status()
	require.NoError(t, err)
	assert.False(t, status.HasPendingChanges)
	assert.NotEmpty(t, status.LastSyncCommit)
}

func TestBuildBundleNoChanges(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir)
	require.NoError(t, c.Init(false))

	bundle, err := c.BuildBundle()
	require.NoError(t, err)
	assert.True(t, bundle.Empty())
}

func TestPatchRoundTrip(t *testing.T) {
	clientDir := t.TempDir()
	serverDir := t.TempDir()

	client := NewClient(clientDir)
	require.NoError(t, client.Init(false))
	server := NewServer(serverDir, notify.New())
	require.NoError(t, server.InitRemote(false))

	require.NoError(t, os.WriteFile(filepath.Join(clientDir, "a.txt"), []byte("1\n"), 0644))

	bundle, err := client.BuildBundle()
	require.NoError(t, err)
	assert.False(t, bundle.Empty())
	assert.Contains(t, bundle.UntrackedPaths, "a.txt")

	result, err := server.ApplyBundle(bundle)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Commit)
	assert.Empty(t, result.Conflicts)

	got, err := os.ReadFile(filepath.Join(serverDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(got))

	_, err = client.Advance("synced")
	require.NoError(t, err)
	status, err := client.Status()
	require.NoError(t, err)
	assert.False(t, status.HasPendingChanges)
}

func TestApplyBundleConflict(t *testing.T) {
	clientDir := t.TempDir()
	serverDir := t.TempDir()

	client := NewClient(clientDir)
	require.NoError(t, client.Init(false))
	server := NewServer(serverDir, notify.New())
	require.NoError(t, server.InitRemote(false))

	// Establish a.txt on both sides at the same starting point.
	require.NoError(t, os.WriteFile(filepath.Join(clientDir, "a.txt"), []byte("0\n"), 0644))
	bundle, err := client.BuildBundle()
	require.NoError(t, err)
	_, err = server.ApplyBundle(bundle)
	require.NoError(t, err)
	_, err = client.Advance("initial sync")
	require.NoError(t, err)

	// Independently modify server's copy, bypassing sync.
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "a.txt"), []byte("2\n"), 0644))
	_, err = server.repo.CommitSyncPoint("server-side change")
	require.NoError(t, err)

	// Client changes its copy and builds a bundle against its own last sync point.
	require.NoError(t, os.WriteFile(filepath.Join(clientDir, "a.txt"), []byte("3\n"), 0644))
	bundle2, err := client.BuildBundle()
	require.NoError(t, err)

	result, err := server.ApplyBundle(bundle2)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConflict)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "a.txt", result.Conflicts[0].Path)
	assert.Equal(t, "2\n", string(result.Conflicts[0].RemoteCurrentBytes))

	resolutions := []core.Resolution{{Path: "a.txt", Choice: core.ResolveMerged, MergedBytes: []byte("12\n")}}
	commit, remaining, err := server.Resolve(resolutions)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.NotEmpty(t, commit)

	got, err := os.ReadFile(filepath.Join(serverDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "12\n", string(got))
}

func TestCleanDiscardsChanges(t *testing.T) {
	dir := t.TempDir()
	server := NewServer(dir, notify.New())
	require.NoError(t, server.InitRemote(false))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0644))

	require.NoError(t, server.Clean())
	_, err := os.Stat(filepath.Join(dir, "dirty.txt"))
	assert.True(t, os.IsNotExist(err))
}
