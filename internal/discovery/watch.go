package discovery

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	runnererrors "github.com/standardbeagle/taut/internal/errors"
	"github.com/standardbeagle/taut/internal/types"
)

// OnChange is invoked with a fresh Item Set each time a debounced batch of
// filesystem events settles.
type OnChange func([]types.TestItem, []runnererrors.DiscoveryWarning)

// Watch re-runs the walker against roots whenever a file under them
// changes, debouncing bursts of fsnotify events before triggering a
// re-scan so a fast sequence of saves collapses into one re-run. This
// supports a runner fast enough to live in an edit-test loop; it is
// additive and never required for a single discovery pass.
func (w *Walker) Watch(ctx context.Context, roots []string, debounce time.Duration, onChange OnChange) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := addWatchesRecursive(watcher, root, w.Exclude); err != nil {
			return err
		}
	}

	d := &watchDebouncer{debounce: debounce}
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			d.trigger(func() {
				items, warnings := w.Walk(roots)
				onChange(items, warnings)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = err // best-effort: a watch-stream error doesn't abort the session
		}
	}
}

// addWatchesRecursive registers every non-excluded directory under root
// with the fsnotify watcher.
func addWatchesRecursive(watcher *fsnotify.Watcher, root string, exclude []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." {
			if (&Walker{Exclude: exclude}).matchesAny(exclude, filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(path)
	})
}

// watchDebouncer coalesces a burst of events into one trailing callback
// (time.AfterFunc reset on every new event).
type watchDebouncer struct {
	mu       sync.Mutex
	debounce time.Duration
	timer    *time.Timer
}

func (d *watchDebouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := d.debounce
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	d.timer = time.AfterFunc(delay, fn)
}

func (d *watchDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
