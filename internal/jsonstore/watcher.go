package jsonstore

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// debounceDelay is how long a file must be quiet before a change is reported.
// Editors and atomic renames generate bursts of events per logical change.
const debounceDelay = 300 * time.Millisecond

// Watcher reports external edits to the per-user JSON documents so the
// in-memory cache can invalidate. Changes are debounced per file and
// rate-limited overall; notifications carry the affected username.
type Watcher struct {
	watcher *fsnotify.Watcher
	changes chan string
	limiter *rate.Limiter

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher watches the store's data directory.
func NewWatcher(store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		changes: make(chan string, 16),
		// A burst of external edits still yields at most a few reloads/sec
		limiter: rate.NewLimiter(rate.Limit(4), 4),
		closeCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Changes returns the channel of usernames whose documents changed on disk.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	debounce := make(map[string]*time.Timer)
	var debounceMu sync.Mutex

	for {
		select {
		case <-w.closeCh:
			debounceMu.Lock()
			for _, timer := range debounce {
				timer.Stop()
			}
			debounceMu.Unlock()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			debounceMu.Lock()
			if timer, exists := debounce[event.Name]; exists {
				timer.Stop()
			}
			name := event.Name
			debounce[name] = time.AfterFunc(debounceDelay, func() {
				w.notify(name)
				debounceMu.Lock()
				delete(debounce, name)
				debounceMu.Unlock()
			})
			debounceMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			storeLog.Warn("json_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) notify(path string) {
	if !w.limiter.Allow() {
		storeLog.Debug("json_watcher_rate_limited", slog.String("path", path))
		return
	}

	username := strings.TrimSuffix(filepath.Base(path), ".json")

	// Non-blocking send (drop if channel full)
	select {
	case w.changes <- username:
	default:
		storeLog.Debug("json_watcher_channel_full", slog.String("user", username))
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
