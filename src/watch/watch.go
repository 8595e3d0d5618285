// Package watch implements the client-side workspace watcher: it recursively watches a sync
// root for filesystem events and feeds them to the metadata cache's mtime-accelerated refresh,
// debouncing bursts of events the way a save-triggered rebuild would.
package watch

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	cmap "github.com/streamrail/concurrent-map"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("watch")

const debounceInterval = 50 * time.Millisecond

// OnChange is called once per settled batch of changes to path.
type OnChange func(path string)

// Watcher watches a workspace root and reports changed file paths via its OnChange callback.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	dirs     cmap.ConcurrentMap
	onChange OnChange
}

// New starts watching root and every directory beneath it, calling onChange whenever a file
// settles after a burst of writes. Directories created after New is called are picked up lazily
// as their parent's create event arrives.
func New(root string, onChange OnChange) (*Watcher, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: root, watcher: fsw, dirs: cmap.New(), onChange: onChange}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: a directory vanishing mid-walk shouldn't abort the watch
		}
		if !info.IsDir() {
			return nil
		}
		if w.dirs.Has(path) {
			return nil
		}
		w.dirs.Set(path, struct{}{})
		if err := w.watcher.Add(path); err != nil {
			log.Warning("Failed to watch %s: %s", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("Watch error: %s", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	info, err := os.Stat(event.Name)
	if err == nil && info.IsDir() && (event.Op&fsnotify.Create != 0) {
		if err := w.addTree(event.Name); err != nil {
			log.Warning("Failed to extend watch under %s: %s", event.Name, err)
		}
		return
	}

	// Debounce: drain any further events for this path within the window before notifying, so a
	// chain of writes against the same file settles into a single callback.
outer:
	for {
		select {
		case next, ok := <-w.watcher.Events:
			if !ok {
				break outer
			}
			if next.Name != event.Name {
				w.handle(next)
				continue
			}
			event = next
		case <-time.After(debounceInterval):
			break outer
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	w.onChange(rel)
}
