package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopi-dev/kopi/src/core"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestFingerprintSmallFile(t *testing.T) {
	path := writeTemp(t, []byte("hello\n"))
	fp, err := Fingerprint(path)
	require.NoError(t, err)
	assert.EqualValues(t, 6, fp.Size)
	assert.Len(t, fp.Blocks, 1)
	sum := md5.Sum([]byte("hello\n"))
	assert.Equal(t, hex.EncodeToString(sum[:]), fp.WholeDigest)
	assert.Equal(t, fp.WholeDigest, fp.Blocks[0])
}

func TestFingerprintMultiBlock(t *testing.T) {
	content := bytes.Repeat([]byte{'a'}, 10000)
	path := writeTemp(t, content)
	fp, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, 3, fp.NumBlocks())
	assert.Len(t, fp.Blocks, 3)
	last := content[2*core.BlockSize:]
	lastSum := md5.Sum(last)
	assert.Equal(t, hex.EncodeToString(lastSum[:]), fp.Blocks[2])
}

func TestFingerprintDeterministic(t *testing.T) {
	content := []byte("deterministic content")
	p1 := writeTemp(t, content)
	p2 := writeTemp(t, content)
	fp1, err := Fingerprint(p1)
	require.NoError(t, err)
	fp2, err := Fingerprint(p2)
	require.NoError(t, err)
	assert.Equal(t, fp1.WholeDigest, fp2.WholeDigest)
	assert.Equal(t, fp1.Blocks, fp2.Blocks)
}

func TestFingerprintNotFound(t *testing.T) {
	_, err := Fingerprint(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFingerprintNotRegular(t *testing.T) {
	dir := t.TempDir()
	_, err := Fingerprint(dir)
	assert.ErrorIs(t, err, core.ErrNotRegular)
}

func TestFingerprintEmptyFile(t *testing.T) {
	path := writeTemp(t, []byte{})
	fp, err := Fingerprint(path)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fp.Size)
	assert.Len(t, fp.Blocks, 0)
}
