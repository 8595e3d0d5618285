// Package scm wraps the on-disk version-control tool used by the patch-sync engine. Git is
// invoked strictly as a black-box subprocess whose textual output is parsed - per spec.md §1,
// the core never embeds a git implementation of its own.
package scm

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/go-diff/diff"
	"gopkg.in/op/go-logging.v1"

	"github.com/kopi-dev/kopi/src/core"
)

var log = logging.MustGetLogger("scm")

// SyncMarker is appended to the message of every commit the patch-sync engine creates as a sync
// point, and is how both client and server locate sync points again later: by scanning commit
// messages rather than by a ref namespace (original_source/src/git_sync.py: self.sync_marker).
const SyncMarker = "[KOPI-SYNC-POINT]"

var defaultIgnore = []string{".kopi-sync-state.json", ".kopi-cache.json", ".kopi-cache-remote.json"}

// Repo wraps a git working tree rooted at Root. All operations shell out to the git binary
// found on $PATH; nothing here parses git's internal object format.
type Repo struct {
	Root string
}

// New returns a Repo rooted at root. It does not itself verify that a repository exists there.
func New(root string) *Repo {
	return &Repo{Root: root}
}

func (r *Repo) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Root
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return out.String(), errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// Exists reports whether a git repository is already present at r.Root.
func (r *Repo) Exists() bool {
	_, err := r.git("rev-parse", "--git-dir")
	return err == nil
}

// Init creates a repository at r.Root if one is not already present and, unless the repository
// already holds a sync point, writes a default ignore list and creates an initial sync-point
// commit. If force is true, any existing repository is
// discarded first (its .git directory removed) and recreated from scratch.
func (r *Repo) Init(force bool) error {
	if force {
		if _, err := r.git("rev-parse", "--git-dir"); err == nil {
			if err := removeGitDir(r.Root); err != nil {
				return err
			}
		}
	}
	if r.Exists() {
		if _, _, err := r.LastSyncPoint(); err == nil {
			return nil
		}
	} else if _, err := r.git("init"); err != nil {
		return err
	}
	if err := r.writeDefaultIgnore(); err != nil {
		return err
	}
	if _, err := r.git("add", "-A"); err != nil {
		return err
	}
	if _, err := r.CommitAllowEmpty("initial sync point " + SyncMarker); err != nil {
		return err
	}
	return nil
}

func (r *Repo) writeDefaultIgnore() error {
	existing, _ := readFile(r.Root + "/.gitignore")
	lines := map[string]bool{}
	for _, l := range strings.Split(existing, "\n") {
		lines[l] = true
	}
	var add []string
	for _, l := range defaultIgnore {
		if !lines[l] {
			add = append(add, l)
		}
	}
	if len(add) == 0 {
		return nil
	}
	content := existing
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(add, "\n") + "\n"
	return writeFile(r.Root+"/.gitignore", content)
}

// IsDirty reports whether the working tree has any uncommitted changes (staged, unstaged, or
// untracked).
func (r *Repo) IsDirty() (bool, error) {
	out, err := r.git("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// HeadCommit returns the current HEAD commit id.
func (r *Repo) HeadCommit() (string, error) {
	out, err := r.git("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitReachable reports whether commit is a valid, reachable object in this repository.
func (r *Repo) CommitReachable(commit string) bool {
	_, err := r.git("cat-file", "-e", commit+"^{commit}")
	return err == nil
}

// LastSyncPoint returns the most recent commit whose message contains SyncMarker, along with
// its commit time. It is the sole mechanism for locating a sync point (spec.md §4.6) - never a
// branch or tag namespace.
func (r *Repo) LastSyncPoint() (commit string, at time.Time, err error) {
	out, err := r.git("log", "--grep="+SyncMarker, "--fixed-strings", "--format=%H %ct", "-1")
	if err != nil {
		return "", time.Time{}, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", time.Time{}, core.ErrNotFound
	}
	parts := strings.SplitN(out, " ", 2)
	commit = parts[0]
	if len(parts) == 2 {
		var epoch int64
		fmt.Sscanf(parts[1], "%d", &epoch)
		at = time.Unix(epoch, 0).UTC()
	}
	return commit, at, nil
}

// ChangedPaths returns files that differ between fromCommit and the working tree, plus
// (separately) untracked files, matching the status() contract of spec.md §4.6.
func (r *Repo) ChangedPaths(fromCommit string) (changed []string, untracked []string, err error) {
	out, err := r.git("diff", "--name-only", fromCommit)
	if err != nil {
		return nil, nil, err
	}
	changed = splitNonEmpty(out)
	out, err = r.git("ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, nil, err
	}
	untracked = splitNonEmpty(out)
	return changed, untracked, nil
}

// Diff returns the unified textual diff between fromCommit and the current working tree.
func (r *Repo) Diff(fromCommit string) (string, error) {
	out, err := r.git("diff", "--no-color", fromCommit, "--")
	if err != nil {
		return "", err
	}
	return out, nil
}

// CheckApply dry-runs applying patchText without touching the working tree, returning nil if it
// would apply cleanly.
func (r *Repo) CheckApply(patchText string) error {
	return r.applyWith(patchText, "--check")
}

// Apply applies patchText to the working tree.
func (r *Repo) Apply(patchText string) error {
	return r.applyWith(patchText)
}

func (r *Repo) applyWith(patchText string, extraArgs ...string) error {
	if strings.TrimSpace(patchText) == "" {
		return nil
	}
	args := append([]string{"apply"}, extraArgs...)
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Root
	cmd.Stdin = strings.NewReader(patchText)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(core.ErrConflict, "git apply: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Add stages the given paths (or all paths, if none given).
func (r *Repo) Add(paths ...string) error {
	args := append([]string{"add"}, paths...)
	if len(paths) == 0 {
		args = append(args, "-A")
	}
	_, err := r.git(args...)
	return err
}

// Commit creates a commit with the given message, failing if there is nothing staged.
func (r *Repo) Commit(message string) (string, error) {
	if _, err := r.git("commit", "-m", message); err != nil {
		return "", err
	}
	return r.HeadCommit()
}

// CommitAllowEmpty is as Commit but succeeds even if nothing changed, used for the initial
// sync-point commit.
func (r *Repo) CommitAllowEmpty(message string) (string, error) {
	if _, err := r.git("commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return r.HeadCommit()
}

// CommitSyncPoint stages everything currently in the working tree and commits it with message,
// appending the sync marker so LastSyncPoint can find it again.
func (r *Repo) CommitSyncPoint(message string) (string, error) {
	if err := r.Add(); err != nil {
		return "", err
	}
	return r.CommitAllowEmpty(strings.TrimSpace(message) + " " + SyncMarker)
}

// Reset discards all uncommitted changes, returning the tree to HEAD.
func (r *Repo) Reset() error {
	if _, err := r.git("reset", "--hard", "HEAD"); err != nil {
		return err
	}
	_, err := r.git("clean", "-fd")
	return err
}

// ReadFileAt returns the content of path as it exists in commit.
func (r *Repo) ReadFileAt(commit, path string) ([]byte, error) {
	cmd := exec.Command("git", "show", commit+":"+path)
	cmd.Dir = r.Root
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(core.ErrNotFound, "%s at %s", path, commit)
	}
	return out, nil
}

// TouchedPaths parses a unified diff and returns the set of paths it touches, used to build
// ConflictEntries and to publish file_changed events for an applied PatchBundle.
func TouchedPaths(patchText string) ([]string, error) {
	if strings.TrimSpace(patchText) == "" {
		return nil, nil
	}
	fds, err := diff.ParseMultiFileDiff([]byte(patchText))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(fds))
	for _, fd := range fds {
		paths = append(paths, strings.TrimPrefix(fd.NewName, "b/"))
	}
	return paths, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
