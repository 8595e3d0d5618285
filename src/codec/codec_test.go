package codec

import (
	"bytes"
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

func TestEncodeDecodeNone(t *testing.T) {
	plan := &core.DeltaPlan{Kind: core.DeltaNone, Size: 6, WholeDigest: "abc"}
	payload, err := Encode(plan, "/nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "none", payload.DeltaType)
	assert.Empty(t, payload.Content)
	assert.Empty(t, payload.Blocks)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, core.DeltaNone, decoded.Kind)
}

func TestEncodeDecodeFullRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{'a'}, 10000)
	path := writeTemp(t, content)
	plan := &core.DeltaPlan{Kind: core.DeltaFull, Size: int64(len(content)), WholeDigest: "whole"}

	payload, err := Encode(plan, path)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Content)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, core.DeltaFull, decoded.Kind)
	assert.Equal(t, content, decoded.Content)
}

func TestEncodeDecodePartialRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{'a'}, 10000)
	copy(content[core.BlockSize:], bytes.Repeat([]byte{'b'}, core.BlockSize))
	path := writeTemp(t, content)
	plan := &core.DeltaPlan{
		Kind:        core.DeltaPartial,
		Size:        int64(len(content)),
		WholeDigest: "whole",
		Blocks:      map[int][]byte{1: nil},
	}

	payload, err := Encode(plan, path)
	require.NoError(t, err)
	require.Contains(t, payload.Blocks, "1")

	decoded, err := Decode(payload)
	require.NoError(t, err)
	require.Contains(t, decoded.Blocks, 1)
	assert.Equal(t, content[core.BlockSize:2*core.BlockSize], decoded.Blocks[1])
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(&Payload{DeltaType: "bogus"})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}
