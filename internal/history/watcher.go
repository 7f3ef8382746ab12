package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chatvault/chatvault/internal/logging"
)

var watcherLog = logging.ForComponent(logging.CompStorage)

// StorageWatcher monitors the backing store for external changes by polling
// its last-modified timestamp. Polling is deliberate: it works identically
// for the SQLite and JSON backends and is immune to the filesystem-event
// reliability problems of network and virtualized filesystems.
type StorageWatcher struct {
	store     Store
	reloadCh  chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	// lastModified tracks the last seen modification timestamp
	lastModified int64
	modMu        sync.RWMutex

	// Tracks when this process saved, to ignore self-triggered changes
	lastSaveTime time.Time
	saveMu       sync.RWMutex
}

// ignoreWindow is the time window after NotifySave during which changes are
// ignored. Must be > pollInterval so the first poll after a self-save always
// falls within the window.
const ignoreWindow = 3 * time.Second

// pollInterval is how often we check for external changes.
const pollInterval = 2 * time.Second

// NewStorageWatcher creates a watcher over the store's change timestamp.
func NewStorageWatcher(store Store) *StorageWatcher {
	lastMod, _ := store.LastModified()

	return &StorageWatcher{
		store:        store,
		lastModified: lastMod,
		reloadCh:     make(chan struct{}, 1), // Buffered to prevent blocking
		closeCh:      make(chan struct{}),
	}
}

// Start begins polling for changes (non-blocking).
func (sw *StorageWatcher) Start() {
	go sw.pollLoop()
}

func (sw *StorageWatcher) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.closeCh:
			return
		case <-ticker.C:
			sw.checkAndNotify()
		}
	}
}

func (sw *StorageWatcher) checkAndNotify() {
	ts, err := sw.store.LastModified()
	if err != nil {
		watcherLog.Debug("watcher_poll_failed", slog.String("error", err.Error()))
		return
	}

	sw.modMu.Lock()
	changed := ts > sw.lastModified
	if changed {
		sw.lastModified = ts
	}
	sw.modMu.Unlock()

	if !changed {
		return
	}

	sw.saveMu.RLock()
	lastSave := sw.lastSaveTime
	sw.saveMu.RUnlock()

	if time.Since(lastSave) < ignoreWindow {
		watcherLog.Debug("watcher_ignoring_own_save")
		return
	}

	watcherLog.Debug("watcher_store_changed", slog.Int64("timestamp", ts))

	// Non-blocking send (drop if channel full)
	select {
	case sw.reloadCh <- struct{}{}:
	default:
		watcherLog.Debug("watcher_reload_channel_full")
	}
}

// ReloadChannel returns the channel that signals when a reload is needed.
func (sw *StorageWatcher) ReloadChannel() <-chan struct{} {
	return sw.reloadCh
}

// NotifySave marks the current time so the watcher can ignore the change the
// caller is about to write.
func (sw *StorageWatcher) NotifySave() {
	sw.saveMu.Lock()
	sw.lastSaveTime = time.Now()
	sw.saveMu.Unlock()
}

// TriggerReload sends a reload signal manually, e.g. after a CLI command
// modified the store out of band.
func (sw *StorageWatcher) TriggerReload() {
	if ts, err := sw.store.LastModified(); err == nil {
		sw.modMu.Lock()
		sw.lastModified = ts
		sw.modMu.Unlock()
	}

	select {
	case sw.reloadCh <- struct{}{}:
	default:
	}
}

// Close stops polling. Safe to call multiple times.
func (sw *StorageWatcher) Close() {
	sw.closeOnce.Do(func() {
		close(sw.closeCh)
	})
}
