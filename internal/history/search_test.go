package history

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/jsonstore"
)

func newTestEngine(t *testing.T) (*Engine, *Cache) {
	t.Helper()
	js, err := jsonstore.New(filepath.Join(t.TempDir(), "chats"))
	if err != nil {
		t.Fatalf("jsonstore.New: %v", err)
	}
	cache := NewCache(NewJSONStore(js))
	return NewEngine(cache, DefaultSearchSettings()), cache
}

func seedChat(t *testing.T, cache *Cache, texts ...string) *ChatRecord {
	t.Helper()
	var rec *ChatRecord
	var err error
	chatID := ""
	for _, text := range texts {
		rec, err = cache.AppendMessage("alice", chatID, RoleUser, text)
		if err != nil {
			t.Fatalf("AppendMessage(%q): %v", text, err)
		}
		chatID = rec.ChatID
	}
	return rec
}

func TestEmptyQueryStatus(t *testing.T) {
	engine, _ := newTestEngine(t)

	for _, q := range []string{"", "   ", "\t\n"} {
		results, status := engine.Search("alice", q)
		if status != StatusNoQuery {
			t.Errorf("Search(%q) status = %q, want %q", q, status, StatusNoQuery)
		}
		if len(results) != 0 {
			t.Errorf("Search(%q) returned %d results, want 0", q, len(results))
		}
	}
}

func TestNoResultsStatus(t *testing.T) {
	engine, cache := newTestEngine(t)
	seedChat(t, cache, "completely unrelated content")

	results, status := engine.Search("alice", "qqqqxxxx")
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
	if status != "No results for 'qqqqxxxx'" {
		t.Errorf("status = %q", status)
	}
}

func TestResultCountStatus(t *testing.T) {
	engine, cache := newTestEngine(t)
	seedChat(t, cache, "deploy checklist for the staging cluster")
	seedChat(t, cache, "how do I deploy the website")

	results, status := engine.Search("alice", "deploy")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if status != "2 results for 'deploy'" {
		t.Errorf("status = %q", status)
	}
}

func TestShortQueryUsesSubstringMatching(t *testing.T) {
	engine, cache := newTestEngine(t)
	seedChat(t, cache, "vpn setup instructions for the field team")

	// Two runes: below the fuzzy limit, must still find the chat
	results, _ := engine.Search("alice", "vp")
	if len(results) != 1 {
		t.Fatalf("expected short query to match, got %d results", len(results))
	}
	if results[0].Score <= 0.9 {
		t.Errorf("match at position 0 should score near 1.0, got %f", results[0].Score)
	}
	if results[0].Role != RoleUser {
		t.Errorf("result role = %q", results[0].Role)
	}
}

func TestSubstringScoreDecaysWithPosition(t *testing.T) {
	engine, cache := newTestEngine(t)
	early := seedChat(t, cache, "ok here is some filler text before it")
	late := seedChat(t, cache, "some filler then ok")

	results, _ := engine.Search("alice", "ok")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChatID != early.ChatID || results[1].ChatID != late.ChatID {
		t.Errorf("earlier match should rank first: %+v", results)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores should decay with position: %f vs %f",
			results[0].Score, results[1].Score)
	}
}

func TestSubstringThresholdExcludesLateMatches(t *testing.T) {
	engine, cache := newTestEngine(t)

	// Match in the last tenth of the message scores below the 0.1 floor
	text := strings.Repeat("aaaa ", 19) + "zz"
	seedChat(t, cache, text)

	results, _ := engine.Search("alice", "zz")
	if len(results) != 0 {
		t.Errorf("expected sub-threshold match to be excluded, got %d results with score %f",
			len(results), results[0].Score)
	}
}

func TestThreeRuneQueryUsesFuzzyMatching(t *testing.T) {
	engine, cache := newTestEngine(t)
	seedChat(t, cache, "the quick brown fox")

	// "fxo" is no substring of the message; at exactly three runes the
	// fuzzy path takes over and the transposition still clears 0.6
	results, _ := engine.Search("alice", "fxo")
	if len(results) != 1 {
		t.Fatalf("expected fuzzy match for 3-rune query, got %d results", len(results))
	}
	if results[0].Score < 0.6 {
		t.Errorf("score = %f, want >= 0.6", results[0].Score)
	}
}

func TestFuzzyMatchesTypo(t *testing.T) {
	engine, cache := newTestEngine(t)
	rec := seedChat(t, cache, "can you help me with python?")

	results, _ := engine.Search("alice", "pythn")
	if len(results) != 1 {
		t.Fatalf("expected typo query to match, got %d results", len(results))
	}
	if results[0].ChatID != rec.ChatID {
		t.Errorf("matched wrong chat: %s", results[0].ChatID)
	}
	if results[0].Score < 0.6 {
		t.Errorf("score = %f, want >= 0.6", results[0].Score)
	}
	if !strings.Contains(results[0].Excerpt, "python") {
		t.Errorf("excerpt should contain the matched word, got %q", results[0].Excerpt)
	}
}

func TestFuzzyThresholdExcludesWeakMatches(t *testing.T) {
	engine, cache := newTestEngine(t)
	seedChat(t, cache, "quarterly budget review meeting")

	results, _ := engine.Search("alice", "kubernetes")
	if len(results) != 0 {
		t.Errorf("expected no results for unrelated query, got %d", len(results))
	}
}

func TestQueryNormalization(t *testing.T) {
	engine, cache := newTestEngine(t)
	seedChat(t, cache, "PYTHON packaging question")

	results, status := engine.Search("alice", "  Python  ")
	if len(results) != 1 {
		t.Fatalf("expected case-insensitive match, got %d results", len(results))
	}
	if status != "1 results for 'python'" {
		t.Errorf("status should use the normalized query, got %q", status)
	}
}

func TestSearchFindsFreshAppend(t *testing.T) {
	engine, cache := newTestEngine(t)

	rec, err := cache.AppendMessage("alice", "", RoleUser, "migrate the billing database")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	results, _ := engine.Search("alice", "billing")
	if len(results) != 1 || results[0].ChatID != rec.ChatID {
		t.Fatalf("search should see a just-appended message, got %+v", results)
	}
}

func TestSearchDeterminism(t *testing.T) {
	engine, cache := newTestEngine(t)
	for i := 0; i < 5; i++ {
		seedChat(t, cache, fmt.Sprintf("deploy notes revision %d", i))
	}

	first, firstStatus := engine.Search("alice", "deploy")
	for i := 0; i < 3; i++ {
		again, againStatus := engine.Search("alice", "deploy")
		if againStatus != firstStatus {
			t.Fatalf("status changed between runs: %q vs %q", firstStatus, againStatus)
		}
		if len(again) != len(first) {
			t.Fatalf("result count changed between runs: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j].ChatID != first[j].ChatID || again[j].Score != first[j].Score {
				t.Fatalf("run %d result %d differs: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestEqualScoresOrderByChatID(t *testing.T) {
	engine, cache := newTestEngine(t)

	// Identical content and timestamps: only the chat id can break the tie
	now := time.Now()
	store := cache.store
	for _, id := range []string{"chat-b", "chat-a", "chat-c"} {
		err := store.SaveChat(&ChatRecord{
			ChatID:      id,
			Username:    "alice",
			DisplayName: "dup",
			History:     []*Message{{Role: RoleUser, Text: "identical content", CreatedAt: now}},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			t.Fatalf("SaveChat(%s): %v", id, err)
		}
	}

	results, _ := engine.Search("alice", "identical")
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"chat-a", "chat-b", "chat-c"}
	for i, id := range want {
		if results[i].ChatID != id {
			t.Errorf("result %d = %s, want %s", i, results[i].ChatID, id)
		}
	}
}

func TestEveryPassingMessageIsAResult(t *testing.T) {
	engine, cache := newTestEngine(t)
	rec := seedChat(t, cache,
		"unrelated opening message",
		"deploy the service today",
		"deploy it again tomorrow")

	results, status := engine.Search("alice", "deploy")
	if len(results) != 2 {
		t.Fatalf("two passing messages in one chat should yield two results, got %d", len(results))
	}
	if status != "2 results for 'deploy'" {
		t.Errorf("status = %q", status)
	}
	for _, r := range results {
		if r.ChatID != rec.ChatID {
			t.Errorf("wrong chat: %s", r.ChatID)
		}
	}

	// Equal scores in one chat order by message position
	if results[0].MessageIndex != 1 || results[1].MessageIndex != 2 {
		t.Errorf("expected message indexes 1 and 2, got %d and %d",
			results[0].MessageIndex, results[1].MessageIndex)
	}
	if !strings.Contains(results[0].Excerpt, "today") {
		t.Errorf("first result should excerpt the earlier message, got %q", results[0].Excerpt)
	}
}

func TestTitleSearch(t *testing.T) {
	engine, cache := newTestEngine(t)
	rec := seedChat(t, cache, "anything at all really")
	if err := cache.Rename("alice", rec.ChatID, "expense report help"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	seedChat(t, cache, "different content entirely")

	results := engine.TitleSearch("alice", "expense")
	if len(results) != 1 {
		t.Fatalf("expected 1 title match, got %d", len(results))
	}
	if results[0].ChatID != rec.ChatID {
		t.Errorf("matched wrong chat: %s", results[0].ChatID)
	}

	if got := engine.TitleSearch("alice", ""); got != nil {
		t.Errorf("empty title query should return nil, got %+v", got)
	}
}

func TestSimilarityRatio(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"abc", "abc", 1},
		{"pythn", "python", 10.0 / 11.0},
	}
	for _, c := range cases {
		got := similarityRatio([]rune(c.a), []rune(c.b))
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("similarityRatio(%q, %q) = %f, want %f", c.a, c.b, got, c.want)
		}
	}

	// Symmetry
	ab := similarityRatio([]rune("kitten"), []rune("sitting"))
	ba := similarityRatio([]rune("sitting"), []rune("kitten"))
	if ab != ba {
		t.Errorf("ratio should be symmetric: %f vs %f", ab, ba)
	}
}

func TestSnippetAround(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	got := snippetAround(text, 40, 5, 3)
	if !strings.Contains(got, "theta") {
		t.Errorf("snippet should contain the match, got %q", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("interior snippet should be marked with ellipses, got %q", got)
	}

	if got := snippetAround("short", 0, 5, 40); got != "short" {
		t.Errorf("whole-text snippet should have no ellipses, got %q", got)
	}
}
