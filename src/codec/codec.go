// Package codec implements the block transport codec: the wire encoding of a core.DeltaPlan
// (spec.md §4.4). A DeltaPlan only records *which* blocks changed; this package is where the
// actual bytes get read off disk and packed into (or unpacked from) the JSON-friendly payload
// that travels over HTTP.
package codec

import (
	"encoding/base64"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/core"
)

// Payload is the wire form of a core.DeltaPlan. Block indices are string-keyed so the map
// survives round-tripping through JSON implementations that don't support integer object keys.
type Payload struct {
	DeltaType string            `json:"delta_type"`
	FullHash  string            `json:"full_hash"`
	Size      int64             `json:"size"`
	Content   string            `json:"content,omitempty"`
	Blocks    map[string]string `json:"blocks,omitempty"`
}

// Encode reads whatever bytes plan.Kind requires from localPath and packs them into a Payload.
// For DeltaNone no bytes are read at all; for DeltaFull the whole file is read; for DeltaPartial
// only the blocks named in plan.Blocks are read, each from its index*BlockSize offset.
func Encode(plan *core.DeltaPlan, localPath string) (*Payload, error) {
	payload := &Payload{
		DeltaType: string(plan.Kind),
		FullHash:  plan.WholeDigest,
		Size:      plan.Size,
	}
	switch plan.Kind {
	case core.DeltaNone:
		return payload, nil
	case core.DeltaFull:
		content, err := os.ReadFile(localPath)
		if err != nil {
			return nil, errors.Wrap(core.ErrIoError, err.Error())
		}
		payload.Content = base64.StdEncoding.EncodeToString(content)
		return payload, nil
	case core.DeltaPartial:
		blocks, err := readBlocks(localPath, plan.Blocks)
		if err != nil {
			return nil, err
		}
		payload.Blocks = blocks
		return payload, nil
	default:
		return nil, errors.Wrapf(core.ErrUnsupported, "unknown delta kind %q", plan.Kind)
	}
}

func readBlocks(localPath string, indices map[int][]byte) (map[string]string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	defer f.Close()

	out := make(map[string]string, len(indices))
	buf := make([]byte, core.BlockSize)
	for index := range indices {
		n, err := f.ReadAt(buf, int64(index)*core.BlockSize)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrap(core.ErrIoError, err.Error())
		}
		out[strconv.Itoa(index)] = base64.StdEncoding.EncodeToString(buf[:n])
	}
	return out, nil
}

// Decode turns a wire Payload back into a core.DeltaPlan with actual block bytes populated,
// ready for fileservice.ApplyDelta to overlay onto the server's copy of the file.
func Decode(payload *Payload) (*core.DeltaPlan, error) {
	plan := &core.DeltaPlan{
		Kind:        core.DeltaKind(payload.DeltaType),
		Size:        payload.Size,
		WholeDigest: payload.FullHash,
	}
	switch plan.Kind {
	case core.DeltaNone:
		return plan, nil
	case core.DeltaFull:
		content, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return nil, errors.Wrap(core.ErrIoError, err.Error())
		}
		plan.Content = content
		return plan, nil
	case core.DeltaPartial:
		blocks := make(map[int][]byte, len(payload.Blocks))
		for key, encoded := range payload.Blocks {
			index, err := strconv.Atoi(key)
			if err != nil {
				return nil, errors.Wrapf(core.ErrIoError, "invalid block index %q", key)
			}
			bytes, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, errors.Wrap(core.ErrIoError, err.Error())
			}
			blocks[index] = bytes
		}
		plan.Blocks = blocks
		return plan, nil
	default:
		return nil, errors.Wrapf(core.ErrUnsupported, "unknown delta type %q", payload.DeltaType)
	}
}
