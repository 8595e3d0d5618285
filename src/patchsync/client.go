// Package patchsync implements the patch-sync engine (spec.md §4.6): git-based sync keyed off a
// "sync point" - a commit carrying SyncMarker in its message - rather than a ref namespace,
// following original_source/src/git_sync.py's marker-grep approach.
package patchsync

import (
	"os"
	"path/filepath"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/scm"
)

// Client drives the patch-sync engine from the workspace that originates changes.
type Client struct {
	repo *scm.Repo
}

// NewClient returns a Client rooted at path.
func NewClient(path string) *Client {
	return &Client{repo: scm.New(path)}
}

// Init ensures a repository exists at the client's root, creating one (with a default ignore
// list and an initial sync-point commit) if absent. force discards any existing repository.
func (c *Client) Init(force bool) error {
	return c.repo.Init(force)
}

// Advance commits everything currently in the working tree as a new local sync point, meant to
// be called once a round trip against the server has been confirmed successful so the next
// BuildBundle call diffs only the changes made since.
func (c *Client) Advance(message string) (string, error) {
	return c.repo.CommitSyncPoint(message)
}

// Status reports the client-visible sync state.
type Status struct {
	LastSyncCommit    string
	HasPendingChanges bool
	ChangedPaths      []string
	UntrackedPaths    []string
}

// Status returns the current sync status relative to the last sync point.
func (c *Client) Status() (*Status, error) {
	commit, _, err := c.repo.LastSyncPoint()
	if err != nil {
		return nil, err
	}
	changed, untracked, err := c.repo.ChangedPaths(commit)
	if err != nil {
		return nil, err
	}
	return &Status{
		LastSyncCommit:    commit,
		HasPendingChanges: len(changed) > 0 || len(untracked) > 0,
		ChangedPaths:      changed,
		UntrackedPaths:    untracked,
	}, nil
}

// BuildBundle locates the last sync point and produces the PatchBundle of everything changed
// since it: a unified diff for tracked changes, plus the raw content of untracked files (which
// `git diff` never shows). Returns a bundle with Empty() true if there is nothing to sync.
func (c *Client) BuildBundle() (*core.PatchBundle, error) {
	baseCommit, _, err := c.repo.LastSyncPoint()
	if err != nil {
		return nil, err
	}
	diffText, err := c.repo.Diff(baseCommit)
	if err != nil {
		return nil, err
	}
	_, untracked, err := c.repo.ChangedPaths(baseCommit)
	if err != nil {
		return nil, err
	}

	bundle := &core.PatchBundle{
		BaseCommit:     baseCommit,
		PatchText:      diffText,
		UntrackedPaths: untracked,
	}
	// `git diff` never shows untracked files at all, text or binary, so their content has to
	// travel separately in the bundle regardless of whether a trial-read would call them binary
	// (original_source/src/git_sync.py only forwards the ones that fail a text trial-read, which
	// silently drops new text files from the sync - carrying every untracked file here avoids
	// that gap).
	for _, path := range untracked {
		content, err := os.ReadFile(filepath.Join(c.repo.Root, path))
		if err != nil {
			continue // file vanished between status() and build; best-effort per untracked file
		}
		bundle.BinaryFiles = append(bundle.BinaryFiles, core.BinaryFile{Path: path, Bytes: content})
	}
	return bundle, nil
}
