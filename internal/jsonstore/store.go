package jsonstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatvault/chatvault/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStorage)

// UserDoc is the on-disk JSON document holding one user's chats.
type UserDoc struct {
	Username  string     `json:"username"`
	Chats     []*ChatDoc `json:"chats"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChatDoc is one chat inside a UserDoc.
type ChatDoc struct {
	ChatID      string        `json:"chat_id"`
	DisplayName string        `json:"display_name"`
	History     []*MessageDoc `json:"history"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// MessageDoc is one message inside a ChatDoc.
type MessageDoc struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Store persists one JSON document per user under a data directory.
// Writes use the tmp + fsync + rename pattern so a crash mid-write never
// leaves a truncated document behind.
type Store struct {
	dir string
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("jsonstore: mkdir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory this store writes to.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) userPath(username string) string {
	// filepath.Base guards against usernames smuggling path separators
	return filepath.Join(s.dir, filepath.Base(username)+".json")
}

// LoadUser reads a user's document. A missing file is an empty document,
// not an error.
func (s *Store) LoadUser(username string) (*UserDoc, error) {
	data, err := os.ReadFile(s.userPath(username))
	if err != nil {
		if os.IsNotExist(err) {
			return &UserDoc{Username: username}, nil
		}
		return nil, fmt.Errorf("jsonstore: read %s: %w", username, err)
	}

	var doc UserDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jsonstore: parse %s: %w", username, err)
	}
	if doc.Username == "" {
		doc.Username = username
	}
	return &doc, nil
}

// SaveUser writes a user's document atomically.
func (s *Store) SaveUser(doc *UserDoc) error {
	doc.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonstore: marshal %s: %w", doc.Username, err)
	}

	path := s.userPath(doc.Username)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("jsonstore: write temp: %w", err)
	}
	if err := syncFile(tmpPath); err != nil {
		storeLog.Warn("json_fsync_failed", slog.String("error", err.Error()))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("jsonstore: finalize write: %w", err)
	}

	return nil
}

// DeleteUser removes a user's document. Missing files are a no-op.
func (s *Store) DeleteUser(username string) error {
	err := os.Remove(s.userPath(username))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("jsonstore: delete %s: %w", username, err)
	}
	return nil
}

// LastModified returns the newest document mtime in the directory as
// UnixNano, or 0 if the directory is empty. Every save rewrites a file, so
// mtimes double as the change-detection timestamp.
func (s *Store) LastModified() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	var newest int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if ts := info.ModTime().UnixNano(); ts > newest {
			newest = ts
		}
	}
	return newest, nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
