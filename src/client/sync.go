package client

import (
	"errors"
	"time"

	"github.com/kopi-dev/kopi/src/core"
	"github.com/kopi-dev/kopi/src/patchsync"
)

// GitInit ensures the client's local repository exists, creating it (with an initial sync-point
// commit) if force or no repository is present yet.
func (c *Client) GitInit(force bool) error {
	return c.patch.Init(force)
}

// GitStatus reports the client's patch-sync state relative to its last local sync point.
func (c *Client) GitStatus() (*patchsync.Status, error) {
	return c.patch.Status()
}

// RemoteStatus fetches the server's sync-point state.
func (c *Client) RemoteStatus() (*patchsync.ServerStatus, error) {
	var status patchsync.ServerStatus
	if err := c.getJSON("/api/v1/sync/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SyncResult is the outcome of a patch-sync round trip: either the server accepted the bundle
// and advanced to Commit, or it reports Conflicts that need GitResolve before another round
// trip can proceed (spec.md §4.6: the server refuses a further bundle while conflicts are
// outstanding).
type SyncResult struct {
	Commit    string               `json:"commit,omitempty"`
	Conflicts []core.ConflictEntry `json:"conflicts,omitempty"`
}

// SyncPatch builds a bundle of everything changed since the client's last local sync point,
// sends it to the server, and - on a clean apply - advances both the client's and (implicitly,
// via the server's own commit) the server's sync point. A conflict response leaves the client's
// sync point untouched so the same bundle can be rebuilt against a fresh Advance once resolved.
func (c *Client) SyncPatch() (*SyncResult, error) {
	bundle, err := c.patch.BuildBundle()
	if err != nil {
		return nil, err
	}
	if bundle.Empty() {
		return &SyncResult{}, nil
	}

	var result SyncResult
	if err := c.postJSON("/api/v1/sync/patch", bundle, &result); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return &result, err
		}
		return nil, err
	}
	if _, err := c.patch.Advance("synced with remote"); err != nil {
		return nil, err
	}
	return &result, nil
}

// GitResolve submits resolutions for the server's outstanding conflicts. Once every conflict is
// resolved the server commits and reports a new sync point; a partial resolution reports what
// remains instead.
func (c *Client) GitResolve(resolutions []core.Resolution) (*SyncResult, error) {
	req := struct {
		Resolutions []core.Resolution `json:"resolutions"`
	}{resolutions}
	var out struct {
		Commit    string               `json:"commit,omitempty"`
		Remaining []core.ConflictEntry `json:"remaining_conflicts,omitempty"`
	}
	if err := c.postJSON("/api/v1/sync/resolve", req, &out); err != nil {
		return nil, err
	}
	return &SyncResult{Commit: out.Commit, Conflicts: out.Remaining}, nil
}

// RemoteConflicts fetches the server's currently outstanding conflict set.
func (c *Client) RemoteConflicts() ([]core.ConflictEntry, error) {
	var out struct {
		Conflicts []core.ConflictEntry `json:"conflicts"`
	}
	if err := c.getJSON("/api/v1/sync/conflicts", &out); err != nil {
		return nil, err
	}
	return out.Conflicts, nil
}

// RemoteInit asks the server to create its own repository (the symmetric counterpart of
// GitInit), for the case where the two workspaces are being paired for the first time.
func (c *Client) RemoteInit(force bool) error {
	req := struct {
		Force bool `json:"force"`
	}{force}
	return c.postJSON("/api/v1/sync/init", req, nil)
}

// CommandResult is a submitted command's terminal outcome.
type CommandResult struct {
	ID         string            `json:"id"`
	State      core.CommandState `json:"state"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	StartTime  *time.Time        `json:"start_time,omitempty"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	Output     string            `json:"output"`
	IsComplete bool              `json:"is_complete"`
}

// RunCommand submits commandLine for remote execution and polls until it reaches a terminal
// state or pollTimeout elapses, then fetches its output. There is no cancellation endpoint on
// the wire (spec.md §5): once submitted, a command runs to completion or its own timeout
// server-side regardless of whether the caller stops polling.
func (c *Client) RunCommand(commandLine, workingDir string, env map[string]string, timeout, pollInterval, pollTimeout time.Duration) (*CommandResult, error) {
	var submitted struct {
		ID string `json:"id"`
	}
	req := struct {
		CommandLine    string            `json:"command_line"`
		WorkingDir     string            `json:"working_directory"`
		EnvOverrides   map[string]string `json:"env_overrides,omitempty"`
		TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
	}{commandLine, workingDir, env, timeout.Seconds()}
	if err := c.postJSON("/api/v1/commands", req, &submitted); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(pollTimeout)
	var status struct {
		ID        string            `json:"id"`
		State     core.CommandState `json:"state"`
		ExitCode  *int              `json:"exit_code,omitempty"`
		StartTime *time.Time        `json:"start_time,omitempty"`
		EndTime   *time.Time        `json:"end_time,omitempty"`
	}
	for {
		if err := c.getJSON("/api/v1/commands/"+submitted.ID, &status); err != nil {
			return nil, err
		}
		if status.State.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			return nil, core.ErrTimeout
		}
		time.Sleep(pollInterval)
	}

	var out struct {
		ID         string `json:"id"`
		Output     string `json:"output"`
		IsComplete bool   `json:"is_complete"`
	}
	if err := c.getJSON("/api/v1/commands/"+submitted.ID+"/output", &out); err != nil {
		return nil, err
	}
	return &CommandResult{
		ID:         submitted.ID,
		State:      status.State,
		ExitCode:   status.ExitCode,
		StartTime:  status.StartTime,
		EndTime:    status.EndTime,
		Output:     out.Output,
		IsComplete: out.IsComplete,
	}, nil
}
