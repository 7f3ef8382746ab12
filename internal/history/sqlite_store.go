package history

import (
	"fmt"
	"log/slog"

	"github.com/chatvault/chatvault/internal/histdb"
	"github.com/chatvault/chatvault/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStorage)

// SQLiteStore adapts histdb.DB to the Store interface, converting between
// chat records and database rows.
type SQLiteStore struct {
	db *histdb.DB
}

// NewSQLiteStore wraps an opened, migrated database.
func NewSQLiteStore(db *histdb.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// DB exposes the underlying database for migration tooling.
func (s *SQLiteStore) DB() *histdb.DB {
	return s.db
}

func (s *SQLiteStore) LoadUser(username string) ([]*ChatRecord, error) {
	chats, msgs, err := s.db.LoadUserChats(username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	records := make([]*ChatRecord, 0, len(chats))
	for _, row := range chats {
		rec := &ChatRecord{
			ChatID:      row.ChatID,
			Username:    row.Username,
			DisplayName: row.DisplayName,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		}
		for _, m := range msgs[row.ChatID] {
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

func (s *SQLiteStore) SaveChat(rec *ChatRecord) error {
	row := &histdb.ChatRow{
		ChatID:      rec.ChatID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}

	msgs := make([]histdb.MessageRow, 0, len(rec.History))
	for _, m := range rec.History {
		msgs = append(msgs, histdb.MessageRow{
			ChatID:    rec.ChatID,
			Role:      m.Role,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}

	if err := s.db.SaveChat(row, msgs); err != nil {
		return fmt.Errorf("%w: save chat %s: %v", ErrStoreUnavailable, rec.ChatID, err)
	}
	if err := s.db.Touch(); err != nil {
		storeLog.Warn("touch_failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(username, chatID string) error {
	if err := s.db.DeleteChat(chatID); err != nil {
		return fmt.Errorf("%w: delete chat %s: %v", ErrStoreUnavailable, chatID, err)
	}
	if err := s.db.Touch(); err != nil {
		storeLog.Warn("touch_failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *SQLiteStore) LastModified() (int64, error) {
	return s.db.LastModified()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
