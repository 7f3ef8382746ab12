package histdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// DB wraps a SQLite database holding chat records.
// Thread-safe for concurrent use from multiple goroutines within one process.
// WAL mode + busy timeout keep an out-of-process reader from blocking writes.
type DB struct {
	db *sql.DB
}

// ChatRow is one chat's metadata row.
type ChatRow struct {
	ChatID      string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MessageRow is one message row, ordered by Seq within a chat.
type MessageRow struct {
	ChatID    string
	Seq       int
	Role      string
	Text      string
	CreatedAt time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("histdb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("histdb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("histdb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("histdb: busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("histdb: foreign keys: %w", err)
	}

	return &DB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (d *DB) Close() error {
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.db.Close()
}

// SQL returns the underlying sql.DB for advanced use cases (e.g., testing).
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (d *DB) Migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("histdb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("histdb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS chats (
			chat_id      TEXT PRIMARY KEY,
			username     TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("histdb: create chats: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chats_username ON chats(username)
	`); err != nil {
		return fmt.Errorf("histdb: index chats: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			chat_id    TEXT    NOT NULL,
			seq        INTEGER NOT NULL,
			role       TEXT    NOT NULL,
			text       TEXT    NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (chat_id, seq)
		)
	`); err != nil {
		return fmt.Errorf("histdb: create messages: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("histdb: set schema version: %w", err)
	}

	return tx.Commit()
}

// IsEmpty returns true if the chats table has no rows.
func (d *DB) IsEmpty() (bool, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM chats").Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// --- Chat CRUD ---

// SaveChat upserts a chat row and replaces its messages in one transaction.
// Replacing rather than diffing keeps clears and renames trivially correct.
func (d *DB) SaveChat(chat *ChatRow, msgs []MessageRow) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO chats (chat_id, username, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, chat.ChatID, chat.Username, chat.DisplayName, chat.CreatedAt.Unix(), chat.UpdatedAt.Unix()); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE chat_id = ?", chat.ChatID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (chat_id, seq, role, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range msgs {
		if _, err := stmt.Exec(chat.ChatID, i+1, m.Role, m.Text, m.CreatedAt.Unix()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadUserChats returns all chat rows for a username and their messages
// in chronological (seq) order.
func (d *DB) LoadUserChats(username string) ([]*ChatRow, map[string][]MessageRow, error) {
	rows, err := d.db.Query(`
		SELECT chat_id, username, display_name, created_at, updated_at
		FROM chats WHERE username = ? ORDER BY updated_at DESC
	`, username)
	if err != nil {
		return nil, nil, fmt.Errorf("histdb: load chats: %w", err)
	}
	defer rows.Close()

	var chats []*ChatRow
	for rows.Next() {
		c := &ChatRow{}
		var createdUnix, updatedUnix int64
		if err := rows.Scan(&c.ChatID, &c.Username, &c.DisplayName, &createdUnix, &updatedUnix); err != nil {
			return nil, nil, err
		}
		c.CreatedAt = time.Unix(createdUnix, 0)
		c.UpdatedAt = time.Unix(updatedUnix, 0)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	msgs := make(map[string][]MessageRow)
	for _, c := range chats {
		chatMsgs, err := d.loadMessages(c.ChatID)
		if err != nil {
			return nil, nil, err
		}
		msgs[c.ChatID] = chatMsgs
	}

	return chats, msgs, nil
}

func (d *DB) loadMessages(chatID string) ([]MessageRow, error) {
	rows, err := d.db.Query(`
		SELECT chat_id, seq, role, text, created_at
		FROM messages WHERE chat_id = ? ORDER BY seq ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("histdb: load messages: %w", err)
	}
	defer rows.Close()

	var result []MessageRow
	for rows.Next() {
		var m MessageRow
		var createdUnix int64
		if err := rows.Scan(&m.ChatID, &m.Seq, &m.Role, &m.Text, &createdUnix); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdUnix, 0)
		result = append(result, m)
	}
	return result, rows.Err()
}

// DeleteChat removes a chat and its messages. Deleting a nonexistent chat
// is a no-op.
func (d *DB) DeleteChat(chatID string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chats WHERE chat_id = ?", chatID); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (d *DB) SetMeta(key, value string) error {
	_, err := d.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// --- Change Detection ---

// Touch updates a metadata timestamp that other processes can poll to detect changes.
func (d *DB) Touch() error {
	return d.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata.
func (d *DB) LastModified() (int64, error) {
	val, err := d.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
