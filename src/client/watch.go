package client

import (
	"path/filepath"

	"github.com/kopi-dev/kopi/src/watch"
)

// Watch starts a background filesystem watcher over the workspace root and pushes each settled
// change straight to the server, the continuous counterpart to a one-shot SyncWorkspace. The
// returned Watcher's Close stops it; callers should still call Disconnect afterward to flush the
// metadata cache refreshed along the way.
func (c *Client) Watch() (*watch.Watcher, error) {
	return watch.New(c.Workspace, func(rel string) {
		if isIgnoredPath(rel) {
			return
		}
		full := filepath.Join(c.Workspace, rel)
		if _, err := c.cache.RefreshLocal(full); err != nil {
			// A vanished file is a legitimate debounce outcome (create-then-delete within the
			// window); nothing to push.
			return
		}
		if _, err := c.Put(full, rel); err != nil {
			log.Warning("watch: failed to sync %s: %s", rel, err)
		}
	})
}
