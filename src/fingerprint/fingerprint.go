// Package fingerprint implements the content-addressed store view: given a file path, it
// produces the FileFingerprint that is the fundamental currency of block-delta sync.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/pkg/xattr"

	"github.com/kopi-dev/kopi/src/core"
)

// xattrName is where a fast-path cached digest is stashed on filesystems that support extended
// attributes, mirroring the teacher's PathHasher fast path (src/fs/hash.go).
const xattrName = "user.kopi.fingerprint"

// Fingerprint reads path once, streaming, and returns its FileFingerprint: a whole-file MD5
// digest plus one MD5 digest per core.BlockSize window (spec.md §4.1). It fails with
// core.ErrNotFound for a missing path, core.ErrNotRegular for a directory or special file, or
// core.ErrIoError for any other read failure.
func Fingerprint(path string) (*core.FileFingerprint, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if !info.Mode().IsRegular() {
		return nil, core.ErrNotRegular
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	defer f.Close()

	whole := md5.New()
	blocks := map[int]string{}
	buf := make([]byte, core.BlockSize)
	var size int64
	for index := 0; ; index++ {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			whole.Write(buf[:n])
			block := md5.Sum(buf[:n])
			blocks[index] = hex.EncodeToString(block[:])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr == io.ErrUnexpectedEOF {
			break // short final block; already hashed above
		}
		if readErr != nil {
			return nil, errors.Wrap(core.ErrIoError, readErr.Error())
		}
	}

	fp := &core.FileFingerprint{
		Path:        path,
		Mtime:       float64(info.ModTime().UnixNano()) / 1e9,
		Size:        size,
		WholeDigest: hex.EncodeToString(whole.Sum(nil)),
		Blocks:      blocks,
	}
	if fp.NumBlocks() != len(fp.Blocks) {
		return nil, errors.Wrapf(core.ErrIoError, "block count mismatch for %s: got %d, want %d", path, len(fp.Blocks), fp.NumBlocks())
	}
	storeXattrHint(path, fp.WholeDigest, info)
	return fp, nil
}

// storeXattrHint best-effort caches the whole-file digest as an extended attribute so a
// future call can skip re-reading the file if mtime+size still match (see TryXattrHint).
// Failures are silently ignored: this is purely an optional fast path, never authoritative.
func storeXattrHint(path, digest string, info os.FileInfo) {
	hint := fmt.Sprintf("%d:%d:%s", info.ModTime().UnixNano(), info.Size(), digest)
	_ = xattr.Set(path, xattrName, []byte(hint))
}

// TryXattrHint returns a cached whole-file digest from the xattr fast path if one exists and
// the file's current mtime/size still match it, without re-reading the file content. It never
// covers the block digests and is never treated as authoritative - callers still need a
// fingerprint() of their own when they need block-level granularity. src/metacache does not
// call it: RefreshLocal makes its own mtime/size comparison.
func TryXattrHint(path string) (digest string, ok bool) {
	b, err := xattr.Get(path, xattrName)
	if err != nil {
		return "", false
	}
	info, err := os.Lstat(path)
	if err != nil {
		return "", false
	}
	var mtimeNanos, size int64
	var stored string
	if _, err := fmt.Sscanf(string(b), "%d:%d:%s", &mtimeNanos, &size, &stored); err != nil {
		return "", false
	}
	if mtimeNanos != info.ModTime().UnixNano() || size != info.Size() {
		return "", false
	}
	return stored, true
}
