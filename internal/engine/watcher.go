package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SentinelName is the file whose appearance in the data directory asks the
// engine for an immediate sync. Other processes (shortcuts, cron, a second
// CLI invocation) touch this file instead of talking to the daemon
// directly.
const SentinelName = "sync.request"

// sentinelWatcher watches the data directory for the sync sentinel.
type sentinelWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// WatchSyncRequests starts watching the data directory. Each sentinel
// appearance removes the file and runs one immediate sync. Stops when ctx
// is cancelled or the engine closes.
func (e *Engine) WatchSyncRequests(ctx context.Context) error {
	if e.watcher != nil {
		return fmt.Errorf("sync request watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(e.cfg.DataDir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch data directory %s: %w", e.cfg.DataDir, err)
	}

	w := &sentinelWatcher{
		watcher: fsw,
		done:    make(chan struct{}),
		running: true,
	}
	e.watcher = w

	sentinel := filepath.Join(e.cfg.DataDir, SentinelName)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Name != sentinel {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if err := os.Remove(sentinel); err != nil && !os.IsNotExist(err) {
					e.logger.Printf("WARNING: failed to remove sync sentinel: %v", err)
				}
				e.logger.Printf("Sync requested via sentinel file")
				if err := e.RequestImmediateSync(ctx); err != nil {
					e.logger.Printf("Sentinel-triggered sync failed: %v", err)
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				e.logger.Printf("WARNING: watcher error: %v", err)
			}
		}
	}()

	return nil
}

// RequestSyncFile touches the sentinel in dataDir so a running engine in
// another process picks it up.
func RequestSyncFile(dataDir string) error {
	path := filepath.Join(dataDir, SentinelName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write sync sentinel: %w", err)
	}
	return f.Close()
}

func (w *sentinelWatcher) stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}
