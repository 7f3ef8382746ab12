package histdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// jsonUserDoc mirrors jsonstore.UserDoc for migration (avoids circular import).
type jsonUserDoc struct {
	Username  string         `json:"username"`
	Chats     []*jsonChatDoc `json:"chats"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// jsonChatDoc mirrors jsonstore.ChatDoc for migration.
type jsonChatDoc struct {
	ChatID      string            `json:"chat_id"`
	DisplayName string            `json:"display_name"`
	History     []*jsonMessageDoc `json:"history"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// jsonMessageDoc mirrors jsonstore.MessageDoc for migration.
type jsonMessageDoc struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// MigrateFromJSON imports every per-user JSON document under dir into the
// database. Returns the number of users and chats migrated. Individual
// malformed documents are skipped, not fatal; the caller decides whether to
// rename the source directory afterwards.
func MigrateFromJSON(dir string, db *DB) (int, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read json dir: %w", err)
	}

	nUsers, nChats := 0, 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}

		var doc jsonUserDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if doc.Username == "" {
			// Fall back to the file name for documents written before the
			// username field existed.
			doc.Username = strings.TrimSuffix(e.Name(), ".json")
		}

		migrated := 0
		for _, chat := range doc.Chats {
			if chat == nil || chat.ChatID == "" {
				continue
			}

			row := &ChatRow{
				ChatID:      chat.ChatID,
				Username:    doc.Username,
				DisplayName: chat.DisplayName,
				CreatedAt:   chat.CreatedAt,
				UpdatedAt:   chat.UpdatedAt,
			}
			if row.CreatedAt.IsZero() {
				row.CreatedAt = time.Now()
			}
			if row.UpdatedAt.Before(row.CreatedAt) {
				row.UpdatedAt = row.CreatedAt
			}

			msgs := make([]MessageRow, 0, len(chat.History))
			for _, m := range chat.History {
				if m == nil {
					continue
				}
				at := m.CreatedAt
				if at.IsZero() {
					at = row.UpdatedAt
				}
				msgs = append(msgs, MessageRow{
					ChatID:    chat.ChatID,
					Role:      m.Role,
					Text:      m.Text,
					CreatedAt: at,
				})
			}

			if err := db.SaveChat(row, msgs); err != nil {
				return nUsers, nChats, fmt.Errorf("migrate chat %s: %w", chat.ChatID, err)
			}
			migrated++
		}

		if migrated > 0 {
			nUsers++
			nChats += migrated
		}
	}

	_ = db.Touch()
	return nUsers, nChats, nil
}
