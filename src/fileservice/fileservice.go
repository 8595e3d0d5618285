// Package fileservice implements the remote file service (spec.md §4.5): the server-side
// mutation and fingerprinting operations that both sync modes share - list, read, write_full,
// apply_delta and batch_sync.
package fileservice

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/fingerprint"
	"github.com/kopi-dev/kopi/src/notify"
)

// Service roots every operation at Root and publishes file_changed events onto Bus as a side
// effect of every mutation.
type Service struct {
	Root string
	Bus  *notify.Bus
}

// New returns a Service rooted at root, publishing change events to bus.
func New(root string, bus *notify.Bus) *Service {
	return &Service{Root: root, Bus: bus}
}

func (s *Service) resolve(path string) string {
	return filepath.Join(s.Root, filepath.Clean("/"+path))
}

// List returns the direct children of dir. It is not recursive.
func (s *Service) List(dir string) ([]core.DirEntry, error) {
	full := s.resolve(dir)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if !info.IsDir() {
		return nil, core.ErrNotADirectory
	}
	children, err := os.ReadDir(full)
	if err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	entries := make([]core.DirEntry, 0, len(children))
	for _, child := range children {
		childInfo, err := child.Info()
		if err != nil {
			continue
		}
		entryType := "file"
		if child.IsDir() {
			entryType = "directory"
		}
		entry := core.DirEntry{
			Name: child.Name(),
			Path: filepath.Join(dir, child.Name()),
			Type: entryType,
		}
		if !child.IsDir() {
			size := childInfo.Size()
			entry.Size = &size
		}
		modTime := childInfo.ModTime()
		entry.LastModified = &modTime
		entries = append(entries, entry)
	}
	return entries, nil
}

// Mkdir creates dir and any missing parents.
func (s *Service) Mkdir(dir string) error {
	full := s.resolve(dir)
	if err := os.MkdirAll(full, 0755); err != nil {
		return errors.Wrap(core.ErrIoError, err.Error())
	}
	s.publishChanged(dir, "mkdir")
	return nil
}

// ReadResult is the return shape of Read.
type ReadResult struct {
	Bytes        []byte
	LastModified time.Time
	Fingerprint  *core.FileFingerprint
}

// Read returns the full content and fingerprint of path.
func (s *Service) Read(path string) (*ReadResult, error) {
	full := s.resolve(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if info.IsDir() {
		return nil, core.ErrIsDirectory
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	fp, err := fingerprint.Fingerprint(full)
	if err != nil {
		return nil, err
	}
	fp.Path = path
	return &ReadResult{Bytes: content, LastModified: info.ModTime(), Fingerprint: fp}, nil
}

// WriteFull overwrites path with content, creating parent directories as needed. If
// expectedDigest is non-empty, the write is verified against it (ErrChecksumMismatch on
// mismatch) before being accepted.
func (s *Service) WriteFull(path string, content []byte, expectedDigest string) (*core.FileFingerprint, error) {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if err := os.WriteFile(full, content, 0644); err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	fp, err := fingerprint.Fingerprint(full)
	if err != nil {
		return nil, err
	}
	fp.Path = path
	if expectedDigest != "" && fp.WholeDigest != expectedDigest {
		return nil, core.ErrChecksumMismatch
	}
	s.publishChanged(path, "write")
	return fp, nil
}

// ApplyDelta applies plan to path per its Kind: a no-op for DeltaNone, a full overwrite for
// DeltaFull, or a block overlay for DeltaPartial. DeltaPartial requires path to already exist
// (ErrNoBase otherwise) and never shrinks the file - the planner is responsible for never
// emitting a DeltaPartial that would require that (spec.md §9); this still defends the
// invariant at the boundary in case a malformed plan arrives from a non-conforming client.
func (s *Service) ApplyDelta(path string, plan *core.DeltaPlan) (*core.FileFingerprint, error) {
	switch plan.Kind {
	case core.DeltaNone:
		full := s.resolve(path)
		if fp, ok := s.tryFingerprint(full, path); ok {
			return fp, nil
		}
		return nil, core.ErrNotFound
	case core.DeltaFull:
		return s.WriteFull(path, plan.Content, plan.WholeDigest)
	case core.DeltaPartial:
		return s.applyBlocks(path, plan)
	default:
		return nil, errors.Wrapf(core.ErrUnsupported, "unknown delta kind %q", plan.Kind)
	}
}

func (s *Service) tryFingerprint(full, path string) (*core.FileFingerprint, bool) {
	fp, err := fingerprint.Fingerprint(full)
	if err != nil {
		return nil, false
	}
	fp.Path = path
	return fp, true
}

func (s *Service) applyBlocks(path string, plan *core.DeltaPlan) (*core.FileFingerprint, error) {
	full := s.resolve(path)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNoBase
		}
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}

	if plan.Size < info.Size() {
		// The block-overlay protocol cannot express shrinkage; the planner is supposed to
		// escalate these to DeltaFull instead (spec.md §9), so seeing one here means a
		// non-conforming client. Refuse rather than silently truncating.
		return nil, errors.Wrap(core.ErrShrinkViaDelta, "delta would shrink the file")
	}

	f, err := os.OpenFile(full, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	defer f.Close()

	for index, block := range plan.Blocks {
		offset := int64(index) * core.BlockSize
		if _, err := f.WriteAt(block, offset); err != nil {
			return nil, errors.Wrap(core.ErrIoError, err.Error())
		}
	}
	if err := f.Truncate(plan.Size); err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(core.ErrIoError, err.Error())
	}

	fp, err := fingerprint.Fingerprint(full)
	if err != nil {
		return nil, err
	}
	fp.Path = path
	if fp.Size < info.Size() {
		return nil, errors.Wrap(core.ErrShrinkViaDelta, "applied delta shrank the file")
	}
	s.publishChanged(path, "write")
	return fp, nil
}

// BatchResult is the per-item outcome of a BatchSync call.
type BatchResult struct {
	Path        string
	Fingerprint *core.FileFingerprint
	Err         error
}

// BatchItem is one path/plan pair submitted to BatchSync.
type BatchItem struct {
	Path string
	Plan *core.DeltaPlan
}

// BatchSync applies each item's plan in submission order. Each item succeeds or fails
// independently; a failure does not abort the remaining items.
func (s *Service) BatchSync(items []BatchItem) []BatchResult {
	results := make([]BatchResult, 0, len(items))
	for _, item := range items {
		fp, err := s.ApplyDelta(item.Path, item.Plan)
		results = append(results, BatchResult{Path: item.Path, Fingerprint: fp, Err: err})
	}
	return results
}

func (s *Service) publishChanged(path, action string) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(notify.NewFileChanged(path, action))
}
