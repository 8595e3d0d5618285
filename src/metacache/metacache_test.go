package metacache

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopi-dev/kopi/src/core"
)

func TestRefreshLocalRecomputesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0644))

	c := New()
	fp1, err := c.RefreshLocal(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fp1.Size)

	// Touch with new content and a forced mtime bump so the accelerator can't short-circuit.
	require.NoError(t, os.WriteFile(path, []byte("two-longer\n"), 0644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	fp2, err := c.RefreshLocal(path)
	require.NoError(t, err)
	assert.NotEqual(t, fp1.WholeDigest, fp2.WholeDigest)
}

func TestRefreshLocalSkipsRedigestWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable\n"), 0644))

	c := New()
	fp1, err := c.RefreshLocal(path)
	require.NoError(t, err)
	fp2, err := c.RefreshLocal(path)
	require.NoError(t, err)
	assert.Same(t, fp1, fp2)
}

func TestRefreshLocalMissingFile(t *testing.T) {
	c := New()
	_, err := c.RefreshLocal(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateRemoteAndGet(t *testing.T) {
	c := New()
	fp := &core.FileFingerprint{Path: "a.txt", WholeDigest: "abc", Size: 3}
	c.UpdateRemote("a.txt", fp)
	got, ok := c.GetRemote("a.txt")
	require.True(t, ok)
	assert.Equal(t, "abc", got.WholeDigest)
}

func TestPruneRemotePrefixMatchAlone(t *testing.T) {
	c := New()
	c.UpdateRemote("sub/a.txt", &core.FileFingerprint{WholeDigest: "1"})
	c.UpdateRemote("other/b.txt", &core.FileFingerprint{WholeDigest: "2"})
	prefix := "sub/"
	c.Prune(nil, &prefix)
	_, ok := c.GetRemote("sub/a.txt")
	assert.False(t, ok, "remote entries are dropped by prefix match alone")
	_, ok = c.GetRemote("other/b.txt")
	assert.True(t, ok)
}

func TestPruneLocalOnlyDropsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.txt")
	stays := filepath.Join(dir, "stays.txt")
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(stays, []byte("y"), 0644))

	c := New()
	_, err := c.RefreshLocal(gone)
	require.NoError(t, err)
	_, err = c.RefreshLocal(stays)
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	c.Prune(&dir, nil)

	_, ok := c.GetLocal(gone)
	assert.False(t, ok, "a local entry for a file that no longer exists is dropped")
	_, ok = c.GetLocal(stays)
	assert.True(t, ok, "a local entry whose file still exists survives a prefix match")
}

func TestPruneNilPrefixSkipsSide(t *testing.T) {
	c := New()
	c.UpdateRemote("a.txt", &core.FileFingerprint{WholeDigest: "1"})
	c.Prune(nil, nil)
	_, ok := c.GetRemote("a.txt")
	assert.True(t, ok, "a nil prefix leaves that side untouched")
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.json")
	remotePath := filepath.Join(dir, "remote.json")

	c := New()
	c.UpdateRemote("a.txt", &core.FileFingerprint{WholeDigest: "abc", Size: 3})
	require.NoError(t, c.Flush(localPath, remotePath))

	loaded := New()
	require.NoError(t, loaded.Load(localPath, remotePath))
	fp, ok := loaded.GetRemote("a.txt")
	require.True(t, ok)
	assert.Equal(t, "abc", fp.WholeDigest)
}

func TestLoadRejectsMismatchedBlockSize(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.json")
	remotePath := filepath.Join(dir, "remote.json")
	require.NoError(t, os.WriteFile(localPath, []byte(`{"block_size":1,"entries":{"a.txt":{"fingerprint":{"whole_digest":"x"},"mtime":0,"size":0}}}`), 0644))
	require.NoError(t, os.WriteFile(remotePath, []byte(`{"block_size":`+strconv.Itoa(core.BlockSize)+`,"entries":{}}`), 0644))

	c := New()
	require.NoError(t, c.Load(localPath, remotePath))
	_, ok := c.GetLocal("a.txt")
	assert.False(t, ok, "cache written under a different block size must be discarded")
}
