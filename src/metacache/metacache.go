// Package metacache implements the metadata cache: the in-memory (and persisted) record of
// FileFingerprints for both the local workspace and the server's last-known remote state.
//
// The cache uses mtime only as an accelerator to decide whether a local path needs re-digesting;
// the digest itself is always the authority (spec.md §9). Persistence is a single JSON document
// per side, written atomically via a temp file + rename, mirroring the teacher's dirCache.Store
// rename-into-place discipline (src/cache/dir_cache.go).
package metacache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/fingerprint"
)

// entry is what actually gets persisted per path: the fingerprint plus the stat-derived fields
// used to decide whether a re-digest is warranted.
type entry struct {
	Fingerprint *core.FileFingerprint `json:"fingerprint"`
	Mtime       float64               `json:"mtime"`
	Size        int64                 `json:"size"`
}

// document is the on-disk shape of a persisted cache half.
type document struct {
	BlockSize int              `json:"block_size"`
	Entries   map[string]entry `json:"entries"`
}

// Cache holds both sides of the metadata cache a single workspace root needs: what the local
// filesystem is known to contain, and what the remote was last confirmed to hold.
type Cache struct {
	mutex  sync.RWMutex
	local  map[string]entry
	remote map[string]entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{local: map[string]entry{}, remote: map[string]entry{}}
}

// GetLocal returns the cached local fingerprint for path, if any.
func (c *Cache) GetLocal(path string) (*core.FileFingerprint, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	e, ok := c.local[path]
	if !ok {
		return nil, false
	}
	return e.Fingerprint, true
}

// GetRemote returns the last-known remote fingerprint for path, if any.
func (c *Cache) GetRemote(path string) (*core.FileFingerprint, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	e, ok := c.remote[path]
	if !ok {
		return nil, false
	}
	return e.Fingerprint, true
}

// RefreshLocal re-digests path only if its current mtime or size differ from what's cached;
// otherwise it returns the cached fingerprint untouched. This is the "mtime as accelerator, not
// authority" rule from spec.md §9: a matching mtime short-circuits the re-digest, but the digest
// itself, once computed, is what every comparison downstream actually trusts.
func (c *Cache) RefreshLocal(path string) (*core.FileFingerprint, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.mutex.Lock()
			delete(c.local, path)
			c.mutex.Unlock()
			return nil, core.ErrNotFound
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9

	c.mutex.RLock()
	cached, ok := c.local[path]
	c.mutex.RUnlock()
	if ok && cached.Mtime == mtime && cached.Size == info.Size() {
		return cached.Fingerprint, nil
	}

	fp, err := fingerprint.Fingerprint(path)
	if err != nil {
		return nil, err
	}
	c.mutex.Lock()
	c.local[path] = entry{Fingerprint: fp, Mtime: mtime, Size: fp.Size}
	c.mutex.Unlock()
	return fp, nil
}

// UpdateRemote records fp as the server's current known state for path, typically called after
// a successful write_full/apply_delta/batch_sync response primes the client's remote-view cache.
func (c *Cache) UpdateRemote(path string, fp *core.FileFingerprint) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.remote[path] = entry{Fingerprint: fp, Mtime: fp.Mtime, Size: fp.Size}
}

// Prune drops entries under the given prefixes (spec.md §4.2). A nil prefix skips that side
// entirely. A local entry is removed only if the file it names no longer exists on disk - a
// matching prefix alone isn't enough, since the cache entry might just be for a file the caller
// hasn't touched recently. A remote entry is removed by prefix match alone, since the client has
// no cheap way to probe whether the server still holds it.
func (c *Cache) Prune(localPrefix, remotePrefix *string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if localPrefix != nil {
		for path := range c.local {
			if !strings.HasPrefix(path, *localPrefix) {
				continue
			}
			if _, err := os.Lstat(path); os.IsNotExist(err) {
				delete(c.local, path)
			}
		}
	}
	if remotePrefix != nil {
		for path := range c.remote {
			if strings.HasPrefix(path, *remotePrefix) {
				delete(c.remote, path)
			}
		}
	}
}

// Flush persists both cache halves to localPath and remotePath, each written atomically via a
// temp file in the same directory followed by a rename.
func (c *Cache) Flush(localPath, remotePath string) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if err := writeDocument(localPath, c.local); err != nil {
		return err
	}
	return writeDocument(remotePath, c.remote)
}

// Load reads both cache halves back from disk, discarding either that carries a mismatched
// block_size header (spec.md §9: changing BlockSize invalidates every cached fingerprint).
func (c *Cache) Load(localPath, remotePath string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	local, err := readDocument(localPath)
	if err != nil {
		return err
	}
	remote, err := readDocument(remotePath)
	if err != nil {
		return err
	}
	c.local = local
	c.remote = remote
	return nil
}

func writeDocument(path string, entries map[string]entry) error {
	doc := document{BlockSize: core.BlockSize, Entries: entries}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".metacache-*.tmp")
	if err != nil {
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	return nil
}

func readDocument(path string) (map[string]entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]entry{}, nil
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if doc.BlockSize != core.BlockSize {
		// A cache written under a different block size cannot be trusted for delta planning;
		// start cold rather than risk corrupt overlays.
		return map[string]entry{}, nil
	}
	if doc.Entries == nil {
		return map[string]entry{}, nil
	}
	return doc.Entries, nil
}
