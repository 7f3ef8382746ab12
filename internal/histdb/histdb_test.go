package histdb

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testChat(id, user string) *ChatRow {
	now := time.Now().Truncate(time.Second)
	return &ChatRow{
		ChatID:      id,
		Username:    user,
		DisplayName: "test chat",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	// Open and write
	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveChat(testChat("chat-1", "alice"), nil); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	db1.Close()

	// Reopen and verify
	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	chats, _, err := db2.LoadUserChats("alice")
	if err != nil {
		t.Fatalf("LoadUserChats: %v", err)
	}
	if len(chats) != 1 || chats[0].ChatID != "chat-1" {
		t.Fatalf("expected chat-1 to survive reopen, got %+v", chats)
	}
}

func TestSaveChatReplacesMessages(t *testing.T) {
	db := newTestDB(t)
	chat := testChat("chat-1", "alice")

	msgs := []MessageRow{
		{Role: "user", Text: "first", CreatedAt: chat.CreatedAt},
		{Role: "assistant", Text: "second", CreatedAt: chat.CreatedAt},
	}
	if err := db.SaveChat(chat, msgs); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	// Saving with fewer messages replaces, not appends
	if err := db.SaveChat(chat, msgs[:1]); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	_, loaded, err := db.LoadUserChats("alice")
	if err != nil {
		t.Fatalf("LoadUserChats: %v", err)
	}
	got := loaded["chat-1"]
	if len(got) != 1 {
		t.Fatalf("expected 1 message after replace, got %d", len(got))
	}
	if got[0].Text != "first" || got[0].Seq != 1 {
		t.Errorf("unexpected message: %+v", got[0])
	}
}

func TestLoadUserChatsIsolation(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveChat(testChat("chat-a", "alice"), nil); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if err := db.SaveChat(testChat("chat-b", "bob"), nil); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	chats, _, err := db.LoadUserChats("alice")
	if err != nil {
		t.Fatalf("LoadUserChats: %v", err)
	}
	if len(chats) != 1 || chats[0].ChatID != "chat-a" {
		t.Fatalf("alice should only see her own chats, got %+v", chats)
	}
}

func TestDeleteChat(t *testing.T) {
	db := newTestDB(t)
	chat := testChat("chat-1", "alice")
	if err := db.SaveChat(chat, []MessageRow{{Role: "user", Text: "hi", CreatedAt: chat.CreatedAt}}); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	if err := db.DeleteChat("chat-1"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	chats, _, err := db.LoadUserChats("alice")
	if err != nil {
		t.Fatalf("LoadUserChats: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("expected no chats after delete, got %d", len(chats))
	}

	// Deleting again is a no-op
	if err := db.DeleteChat("chat-1"); err != nil {
		t.Fatalf("second DeleteChat: %v", err)
	}
}

func TestIsEmpty(t *testing.T) {
	db := newTestDB(t)

	empty, err := db.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("fresh database should be empty")
	}

	if err := db.SaveChat(testChat("chat-1", "alice"), nil); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	empty, err = db.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Error("database with a chat should not be empty")
	}
}

func TestTouchAndLastModified(t *testing.T) {
	db := newTestDB(t)

	before, err := db.LastModified()
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}

	if err := db.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	after, err := db.LastModified()
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if after <= before {
		t.Errorf("Touch should advance timestamp: before=%d after=%d", before, after)
	}
}

func TestMetaRoundtrip(t *testing.T) {
	db := newTestDB(t)

	if v, err := db.GetMeta("missing"); err != nil || v != "" {
		t.Fatalf("GetMeta(missing) = %q, %v", v, err)
	}
	if err := db.SetMeta("k", "v1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := db.SetMeta("k", "v2"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	if v, err := db.GetMeta("k"); err != nil || v != "v2" {
		t.Fatalf("GetMeta(k) = %q, %v", v, err)
	}
}
