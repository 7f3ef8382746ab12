package history

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Message roles. Anything else in a stored record marks it corrupt.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxDisplayNameLen is the rune limit for chat display names.
const MaxDisplayNameLen = 64

// Sentinel errors for the operations in this package. Callers match with
// errors.Is and decide how loudly to surface them.
var (
	// ErrValidation marks rejected input (bad role, bad display name, empty ids).
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable marks a backing-store failure. The in-memory state
	// stays serviceable; the write or reload that hit it did not happen.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCorruptRecord marks a stored record that fails shape validation.
	// Corrupt records are skipped on load, never returned.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrNotFound marks an operation referencing a chat that does not exist.
	ErrNotFound = errors.New("chat not found")
)

// Message is one utterance in a chat, ordered by position in the history.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatRecord is one chat's metadata plus its full message history.
type ChatRecord struct {
	ChatID      string     `json:"chat_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	History     []*Message `json:"history"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Snapshot is a point-in-time copy of one user's chats keyed by chat id.
// Mutating a snapshot never touches cache state.
type Snapshot map[string]*ChatRecord

// SortedByRecency returns the snapshot's records newest-first, with chat id
// as the tie-breaker so equal timestamps still order deterministically.
func (s Snapshot) SortedByRecency() []*ChatRecord {
	recs := make([]*ChatRecord, 0, len(s))
	for _, rec := range s {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ChatID < recs[j].ChatID
	})
	return recs
}

// Clone deep-copies the record so snapshot holders can't reach cache state.
func (r *ChatRecord) Clone() *ChatRecord {
	cp := *r
	cp.History = make([]*Message, len(r.History))
	for i, m := range r.History {
		mc := *m
		cp.History[i] = &mc
	}
	return &cp
}

// LastMessage returns the newest message, or nil for an empty history.
func (r *ChatRecord) LastMessage() *Message {
	if len(r.History) == 0 {
		return nil
	}
	return r.History[len(r.History)-1]
}

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// ValidateDisplayName rejects names that are empty after trimming, exceed
// the rune limit, or contain control characters or path separators.
func ValidateDisplayName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: display name is empty", ErrValidation)
	}
	if len([]rune(trimmed)) > MaxDisplayNameLen {
		return fmt.Errorf("%w: display name exceeds %d characters", ErrValidation, MaxDisplayNameLen)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: display name contains control characters", ErrValidation)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("%w: display name contains path separators", ErrValidation)
		}
	}
	return nil
}

// validateRecord checks a loaded record's shape. Failures mean the record is
// corrupt and must be skipped, not that the load as a whole fails.
func validateRecord(r *ChatRecord) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrCorruptRecord)
	}
	if strings.TrimSpace(r.ChatID) == "" {
		return fmt.Errorf("%w: missing chat id", ErrCorruptRecord)
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return fmt.Errorf("%w: chat %s updated before created", ErrCorruptRecord, r.ChatID)
	}
	for i, m := range r.History {
		if m == nil {
			return fmt.Errorf("%w: chat %s message %d is nil", ErrCorruptRecord, r.ChatID, i)
		}
		if !ValidRole(m.Role) {
			return fmt.Errorf("%w: chat %s message %d has role %q", ErrCorruptRecord, r.ChatID, i, m.Role)
		}
	}
	return nil
}

// Store persists chat records for the cache. Both the SQLite and the JSON
// document backends implement it.
type Store interface {
	// LoadUser returns every chat record for a username. An unknown user is
	// an empty slice, not an error.
	LoadUser(username string) ([]*ChatRecord, error)

	// SaveChat upserts one record, metadata and full history.
	SaveChat(rec *ChatRecord) error

	// DeleteChat removes a record. Deleting a missing chat is a no-op.
	DeleteChat(username, chatID string) error

	// LastModified returns a monotonically increasing change timestamp
	// (UnixNano) that bumps on every write, for external-change polling.
	LastModified() (int64, error)

	// Close releases backend resources.
	Close() error
}
