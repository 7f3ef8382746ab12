package history

import (
	"fmt"
	"log/slog"

	"github.com/chatvault/chatvault/internal/jsonstore"
)

// JSONStore adapts jsonstore.Store to the Store interface. Each save rewrites
// the owning user's whole document; chats are small enough that diffing is
// not worth the complexity.
type JSONStore struct {
	store *jsonstore.Store
}

// NewJSONStore wraps a jsonstore rooted at its data directory.
func NewJSONStore(store *jsonstore.Store) *JSONStore {
	return &JSONStore{store: store}
}

// Dir returns the backing data directory.
func (s *JSONStore) Dir() string {
	return s.store.Dir()
}

// Docs exposes the underlying document store, e.g. for filesystem watching.
func (s *JSONStore) Docs() *jsonstore.Store {
	return s.store
}

func (s *JSONStore) LoadUser(username string) ([]*ChatRecord, error) {
	doc, err := s.store.LoadUser(username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	records := make([]*ChatRecord, 0, len(doc.Chats))
	for _, chat := range doc.Chats {
		if chat == nil || chat.ChatID == "" {
			storeLog.Warn("json_chat_skipped",
				slog.String("user", username),
				slog.String("reason", "missing chat id"))
			continue
		}
		rec := &ChatRecord{
			ChatID:      chat.ChatID,
			Username:    username,
			DisplayName: chat.DisplayName,
			CreatedAt:   chat.CreatedAt,
			UpdatedAt:   chat.UpdatedAt,
		}
		for _, m := range chat.History {
			if m == nil {
				continue
			}
			rec.History = append(rec.History, &Message{
				Role:      m.Role,
				Text:      m.Text,
				CreatedAt: m.CreatedAt,
			})
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *JSONStore) SaveChat(rec *ChatRecord) error {
	doc, err := s.store.LoadUser(rec.Username)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	chat := &jsonstore.ChatDoc{
		ChatID:      rec.ChatID,
		DisplayName: rec.DisplayName,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for _, m := range rec.History {
		chat.History = append(chat.History, &jsonstore.MessageDoc{
			Role:      m.Role,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}

	replaced := false
	for i, existing := range doc.Chats {
		if existing != nil && existing.ChatID == rec.ChatID {
			doc.Chats[i] = chat
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Chats = append(doc.Chats, chat)
	}

	if err := s.store.SaveUser(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *JSONStore) DeleteChat(username, chatID string) error {
	doc, err := s.store.LoadUser(username)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	kept := doc.Chats[:0]
	found := false
	for _, chat := range doc.Chats {
		if chat != nil && chat.ChatID == chatID {
			found = true
			continue
		}
		kept = append(kept, chat)
	}
	if !found {
		return nil
	}
	doc.Chats = kept

	if err := s.store.SaveUser(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *JSONStore) LastModified() (int64, error) {
	return s.store.LastModified()
}

func (s *JSONStore) Close() error {
	return nil
}
