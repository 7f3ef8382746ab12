package history

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/chatvault/chatvault/internal/logging"
)

var cacheLog = logging.ForComponent(logging.CompCache)

// ChangeEvent announces that a user's cached state changed. Consumers call
// Snapshot to get the refreshed mapping.
type ChangeEvent struct {
	Username string
	ChatID   string
}

// Cache is the in-memory view of chat records, keyed by username then chat
// id. All mutations write through to the store before updating memory, so
// the cache never holds state the store has not accepted.
//
// A Cache is an explicit instance; construct one with NewCache and share it
// by reference. Safe for concurrent use.
type Cache struct {
	store Store

	mu    sync.RWMutex
	users map[string]map[string]*ChatRecord

	// loads collapses concurrent reloads of the same user into one store read
	loads singleflight.Group

	changes chan ChangeEvent

	// watcher, when attached, is told about our own saves so its polling
	// does not echo them back as external changes
	watcher *StorageWatcher
}

// NewCache creates an empty cache backed by store.
func NewCache(store Store) *Cache {
	return &Cache{
		store:   store,
		users:   make(map[string]map[string]*ChatRecord),
		changes: make(chan ChangeEvent, 16),
	}
}

// AttachWatcher registers the storage watcher notified before each save.
func (c *Cache) AttachWatcher(w *StorageWatcher) {
	c.watcher = w
}

// Changes returns the channel of cache change events. Events are dropped,
// not blocked on, when the consumer falls behind.
func (c *Cache) Changes() <-chan ChangeEvent {
	return c.changes
}

// Load reads a user's records from the store into the cache, replacing any
// cached state for that user. Corrupt records are skipped with a warning.
// On store failure the user's cached state is reset to empty and the error
// is returned wrapped in ErrStoreUnavailable.
//
// Loading the same user twice in a row yields identical state; concurrent
// loads of one user collapse into a single store read.
func (c *Cache) Load(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is empty", ErrValidation)
	}

	_, err, _ := c.loads.Do(username, func() (interface{}, error) {
		records, err := c.store.LoadUser(username)
		if err != nil {
			c.mu.Lock()
			c.users[username] = make(map[string]*ChatRecord)
			c.mu.Unlock()
			cacheLog.Warn("load_failed",
				slog.String("user", username),
				slog.String("error", err.Error()))
			return nil, err
		}

		byID := make(map[string]*ChatRecord, len(records))
		for _, rec := range records {
			if err := validateRecord(rec); err != nil {
				cacheLog.Warn("record_skipped",
					slog.String("user", username),
					slog.String("error", err.Error()))
				continue
			}
			rec.Username = username
			byID[rec.ChatID] = rec
		}

		c.mu.Lock()
		c.users[username] = byID
		c.mu.Unlock()

		cacheLog.Debug("user_loaded",
			slog.String("user", username),
			slog.Int("chats", len(byID)))
		return nil, nil
	})
	return err
}

// ensureLoaded loads a user on first touch. Cached users are not re-read;
// explicit Load is the reload path.
func (c *Cache) ensureLoaded(username string) {
	c.mu.RLock()
	_, ok := c.users[username]
	c.mu.RUnlock()
	if !ok {
		_ = c.Load(username)
	}
}

// Snapshot returns a deep copy of a user's chats. The user is loaded on
// first access; an unknown or failed-to-load user yields an empty snapshot.
func (c *Cache) Snapshot(username string) Snapshot {
	c.ensureLoaded(username)

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(Snapshot, len(c.users[username]))
	for id, rec := range c.users[username] {
		snap[id] = rec.Clone()
	}
	return snap
}

// Get returns a copy of one chat record, or false if it does not exist.
func (c *Cache) Get(username, chatID string) (*ChatRecord, bool) {
	c.ensureLoaded(username)

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.users[username][chatID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// AppendMessage appends one message to a chat and persists the result.
//
// An empty chatID creates a new chat. A chatID that does not resolve also
// creates a new chat under that id; callers with stale ids keep working and
// the divergence surfaces in listings rather than as a hard failure. New
// chats get a display name derived from the message text, falling back to a
// generated name.
//
// Returns a copy of the updated record.
func (c *Cache) AppendMessage(username, chatID, role, text string) (*ChatRecord, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrValidation)
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is empty", ErrValidation)
	}

	c.ensureLoaded(username)

	c.mu.Lock()
	byID, ok := c.users[username]
	if !ok {
		byID = make(map[string]*ChatRecord)
		c.users[username] = byID
	}

	now := time.Now()
	rec, exists := byID[chatID]
	created := chatID == "" || !exists
	if created {
		if chatID == "" {
			chatID = uuid.NewString()
		}
		name := DeriveChatName(text)
		if name == "" {
			name = GenerateUniqueChatName(byID)
		}
		rec = &ChatRecord{
			ChatID:      chatID,
			Username:    username,
			DisplayName: name,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	updated := rec.Clone()
	updated.History = append(updated.History, &Message{Role: role, Text: text, CreatedAt: now})
	updated.UpdatedAt = now

	// Write through while holding the lock: memory only advances once the
	// store has accepted the record, and concurrent appends serialize.
	if err := c.persist(updated); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	byID[chatID] = updated.Clone()
	c.mu.Unlock()

	if created {
		cacheLog.Info("chat_created",
			slog.String("user", username),
			slog.String("chat", chatID),
			slog.String("name", updated.DisplayName))
	}
	c.notify(username, chatID)
	return updated, nil
}

// ClearHistory empties a chat's history while keeping its identity and
// display name. Clearing a missing chat is a no-op.
func (c *Cache) ClearHistory(username, chatID string) error {
	c.ensureLoaded(username)

	c.mu.Lock()
	rec, ok := c.users[username][chatID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	updated := rec.Clone()
	updated.History = nil
	updated.UpdatedAt = time.Now()

	if err := c.persist(updated); err != nil {
		c.mu.Unlock()
		return err
	}
	c.users[username][chatID] = updated.Clone()
	c.mu.Unlock()

	cacheLog.Info("history_cleared",
		slog.String("user", username),
		slog.String("chat", chatID))
	c.notify(username, chatID)
	return nil
}

// Rename sets a chat's display name after validation.
func (c *Cache) Rename(username, chatID, name string) error {
	if err := ValidateDisplayName(name); err != nil {
		return err
	}

	c.ensureLoaded(username)

	c.mu.Lock()
	rec, ok := c.users[username][chatID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, chatID)
	}
	updated := rec.Clone()
	updated.DisplayName = strings.TrimSpace(name)
	updated.UpdatedAt = time.Now()

	if err := c.persist(updated); err != nil {
		c.mu.Unlock()
		return err
	}
	c.users[username][chatID] = updated.Clone()
	c.mu.Unlock()

	cacheLog.Info("chat_renamed",
		slog.String("user", username),
		slog.String("chat", chatID),
		slog.String("name", updated.DisplayName))
	c.notify(username, chatID)
	return nil
}

// Delete removes a chat from the cache and the store. Deleting a missing
// chat is a no-op.
func (c *Cache) Delete(username, chatID string) error {
	c.ensureLoaded(username)

	c.mu.Lock()
	_, existed := c.users[username][chatID]
	if c.watcher != nil {
		c.watcher.NotifySave()
	}
	if err := c.store.DeleteChat(username, chatID); err != nil {
		c.mu.Unlock()
		return err
	}
	delete(c.users[username], chatID)
	c.mu.Unlock()

	if existed {
		cacheLog.Info("chat_deleted",
			slog.String("user", username),
			slog.String("chat", chatID))
		c.notify(username, chatID)
	}
	return nil
}

func (c *Cache) persist(rec *ChatRecord) error {
	if c.watcher != nil {
		c.watcher.NotifySave()
	}
	return c.store.SaveChat(rec)
}

func (c *Cache) notify(username, chatID string) {
	select {
	case c.changes <- ChangeEvent{Username: username, ChatID: chatID}:
	default:
		cacheLog.Debug("change_channel_full", slog.String("user", username))
	}
}
