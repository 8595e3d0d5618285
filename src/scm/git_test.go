package scm

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "git", "init")
	run(t, dir, "git", "config", "user.email", "test@kopi.dev")
	run(t, dir, "git", "config", "user.name", "kopi test")
	return New(dir)
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestInitCreatesSyncPoint(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.Init(false))
	commit, _, err := r.LastSyncPoint()
	require.NoError(t, err)
	assert.NotEmpty(t, commit)
}

func TestIsDirty(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.Init(false))
	dirty, err := r.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "a.txt"), []byte("1\n"), 0644))
	dirty, err = r.IsDirty()
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestCommitSyncPointAndDiff(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.Init(false))
	base, err := r.HeadCommit()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "a.txt"), []byte("1\n"), 0644))
	diffText, err := r.Diff(base)
	require.NoError(t, err)
	assert.Empty(t, diffText) // untracked files don't show up in `git diff`

	require.NoError(t, r.Add())
	diffText, err = r.Diff(base)
	require.NoError(t, err)
	assert.Contains(t, diffText, "a.txt")

	commit, err := r.CommitSyncPoint("add a.txt")
	require.NoError(t, err)
	assert.NotEqual(t, base, commit)

	lastSync, _, err := r.LastSyncPoint()
	require.NoError(t, err)
	assert.Equal(t, commit, lastSync)
}

func TestCommitReachable(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.Init(false))
	commit, err := r.HeadCommit()
	require.NoError(t, err)
	assert.True(t, r.CommitReachable(commit))
	assert.False(t, r.CommitReachable("0000000000000000000000000000000000000000"))
}

func TestTouchedPaths(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.Init(false))
	base, err := r.HeadCommit()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "a.txt"), []byte("1\n"), 0644))
	require.NoError(t, r.Add())
	diffText, err := r.Diff(base)
	require.NoError(t, err)

	paths, err := TouchedPaths(diffText)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, paths)
}
