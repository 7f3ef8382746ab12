package history

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/chatvault/chatvault/internal/logging"
)

var searchLog = logging.ForComponent(logging.CompSearch)

// StatusNoQuery is the status returned for an empty or whitespace query.
const StatusNoQuery = "no active query"

// SearchSettings tunes the hybrid matcher. Zero values are replaced by the
// defaults below.
type SearchSettings struct {
	// SubstringThreshold is the minimum position-weighted score a substring
	// match must reach (default 0.1).
	SubstringThreshold float64

	// FuzzyThreshold is the minimum similarity ratio a fuzzy match must
	// reach (default 0.6).
	FuzzyThreshold float64

	// ShortQueryLimit is the query length (in runes) below which substring
	// matching is used instead of fuzzy matching (default 3).
	ShortQueryLimit int

	// SnippetWindow is the number of runes of context kept on each side of
	// a match in excerpts (default 40).
	SnippetWindow int
}

// DefaultSearchSettings returns the standard thresholds.
func DefaultSearchSettings() SearchSettings {
	return SearchSettings{
		SubstringThreshold: 0.1,
		FuzzyThreshold:     0.6,
		ShortQueryLimit:    3,
		SnippetWindow:      40,
	}
}

func (s SearchSettings) withDefaults() SearchSettings {
	def := DefaultSearchSettings()
	if s.SubstringThreshold <= 0 {
		s.SubstringThreshold = def.SubstringThreshold
	}
	if s.FuzzyThreshold <= 0 {
		s.FuzzyThreshold = def.FuzzyThreshold
	}
	if s.ShortQueryLimit <= 0 {
		s.ShortQueryLimit = def.ShortQueryLimit
	}
	if s.SnippetWindow <= 0 {
		s.SnippetWindow = def.SnippetWindow
	}
	return s
}

// SearchResult is one passing message. A chat with several passing messages
// yields several results; MessageIndex is the message's position in the
// chat's history.
type SearchResult struct {
	ChatID       string    `json:"chat_id"`
	DisplayName  string    `json:"display_name"`
	Excerpt      string    `json:"excerpt"`
	Role         string    `json:"role"`
	Score        float64   `json:"score"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageIndex int       `json:"message_index"`
}

// Engine runs searches over a user's cached chats.
type Engine struct {
	cache    *Cache
	settings SearchSettings
}

// NewEngine creates an engine over cache with the given settings.
func NewEngine(cache *Cache, settings SearchSettings) *Engine {
	return &Engine{cache: cache, settings: settings.withDefaults()}
}

// Search runs a hybrid keyword/fuzzy search over every message of every chat
// the user owns and returns one result per passing message plus a
// human-readable status line.
//
// The query is lowercased and trimmed. Queries shorter than the short-query
// limit use position-weighted substring matching; longer queries use a
// similarity ratio against the message and its word windows, so near-miss
// spellings still match. Results order by score, then recency, then chat id,
// then message position, so repeated runs are byte-identical.
func (e *Engine) Search(username, query string) ([]SearchResult, string) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, StatusNoQuery
	}

	started := time.Now()

	// Defensive reload so results reflect what the store holds, not a view
	// that predates another process's writes.
	_ = e.cache.Load(username)
	snap := e.cache.Snapshot(username)

	substringMode := len([]rune(q)) < e.settings.ShortQueryLimit
	searchLog.Debug("search_started",
		slog.String("user", username),
		slog.Bool("substring_mode", substringMode))

	var results []SearchResult
	for _, rec := range snap {
		results = append(results, e.matchMessages(rec, q, substringMode)...)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		if results[i].ChatID != results[j].ChatID {
			return results[i].ChatID < results[j].ChatID
		}
		return results[i].MessageIndex < results[j].MessageIndex
	})

	logging.Aggregate(logging.CompSearch, "search_query",
		slog.String("user", username),
		slog.Int("results", len(results)),
		slog.Int64("elapsed_us", time.Since(started).Microseconds()))

	if len(results) == 0 {
		return nil, fmt.Sprintf("No results for '%s'", q)
	}
	return results, fmt.Sprintf("%d results for '%s'", len(results), q)
}

// matchMessages scores every message in a chat and returns a result for
// each one that clears the active threshold.
func (e *Engine) matchMessages(rec *ChatRecord, q string, substringMode bool) []SearchResult {
	var out []SearchResult
	for i, msg := range rec.History {
		var score float64
		var excerpt string
		var ok bool
		if substringMode {
			score, excerpt, ok = e.substringScore(msg.Text, q)
		} else {
			score, excerpt, ok = e.fuzzyScore(msg.Text, q)
		}
		if !ok {
			continue
		}
		out = append(out, SearchResult{
			ChatID:       rec.ChatID,
			DisplayName:  rec.DisplayName,
			Excerpt:      excerpt,
			Role:         msg.Role,
			Score:        score,
			UpdatedAt:    rec.UpdatedAt,
			MessageIndex: i,
		})
	}
	return out
}

// substringScore weights a substring hit by how early it appears: a match at
// the start of the message scores 1.0, decaying linearly with position.
func (e *Engine) substringScore(text, q string) (float64, string, bool) {
	lower := strings.ToLower(text)
	byteIdx := strings.Index(lower, q)
	if byteIdx == -1 {
		return 0, "", false
	}

	pos := byteIndexToRuneIndex(lower, byteIdx)
	length := len([]rune(lower))
	if length < 1 {
		length = 1
	}
	score := 1 - float64(pos)/float64(length)
	if score < e.settings.SubstringThreshold {
		return 0, "", false
	}

	excerpt := snippetAround(text, pos, len([]rune(q)), e.settings.SnippetWindow)
	return score, excerpt, true
}

// fuzzyScore computes the best similarity ratio between the query and the
// whole message or any window of as many consecutive words as the query
// has. Word windows let a one-word query like "pythn" score against
// "python" inside a long message instead of being diluted by its length.
func (e *Engine) fuzzyScore(text, q string) (float64, string, bool) {
	lower := strings.ToLower(text)
	qRunes := []rune(q)

	best := similarityRatio(qRunes, []rune(lower))
	bestStart := 0
	bestLen := len([]rune(lower))

	words, offsets := splitWords(lower)
	k := len(strings.Fields(q))
	if k < 1 {
		k = 1
	}
	for i := 0; i+k <= len(words); i++ {
		window := strings.Join(words[i:i+k], " ")
		if r := similarityRatio(qRunes, []rune(window)); r > best {
			best = r
			bestStart = offsets[i]
			bestLen = len([]rune(window))
		}
	}

	if best < e.settings.FuzzyThreshold {
		return 0, "", false
	}

	excerpt := snippetAround(text, bestStart, bestLen, e.settings.SnippetWindow)
	return best, excerpt, true
}

// TitleSearch matches the query against display names only, using ranked
// subsequence matching. Useful for jump-to-chat flows where the user
// remembers part of a name but not its contents.
func (e *Engine) TitleSearch(username, query string) []SearchResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}

	snap := e.cache.Snapshot(username)
	recs := make([]*ChatRecord, 0, len(snap))
	for _, rec := range snap {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ChatID < recs[j].ChatID })

	matches := fuzzy.FindFrom(q, chatTitleSource(recs))

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		rec := recs[m.Index]
		results = append(results, SearchResult{
			ChatID:      rec.ChatID,
			DisplayName: rec.DisplayName,
			Excerpt:     rec.DisplayName,
			Score:       float64(m.Score),
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	return results
}

// chatTitleSource adapts a record slice to fuzzy.Source.
type chatTitleSource []*ChatRecord

func (s chatTitleSource) String(i int) string { return s[i].DisplayName }
func (s chatTitleSource) Len() int            { return len(s) }

// similarityRatio is a symmetric similarity in [0, 1]: twice the length of
// the longest common subsequence over the combined length. Identical
// strings score 1.0; disjoint strings score 0.
func similarityRatio(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Rolling single-row LCS table
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(b)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

// splitWords returns a string's words and each word's starting rune offset.
func splitWords(s string) ([]string, []int) {
	var words []string
	var offsets []int

	runes := []rune(s)
	start := -1
	for i, r := range runes {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if start >= 0 {
				words = append(words, string(runes[start:i]))
				offsets = append(offsets, start)
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, string(runes[start:]))
		offsets = append(offsets, start)
	}
	return words, offsets
}

// snippetAround extracts a rune-safe excerpt centered on a match, expanded
// to word boundaries, with ellipses marking trimmed sides.
func snippetAround(text string, matchStart, matchLen, window int) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}

	start := matchStart - window
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + window
	if end > len(runes) {
		end = len(runes)
	}

	for start > 0 && runes[start-1] != ' ' && runes[start-1] != '\n' {
		start--
	}
	for end < len(runes) && runes[end] != ' ' && runes[end] != '\n' {
		end++
	}

	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// byteIndexToRuneIndex converts a byte offset in s to a rune offset.
func byteIndexToRuneIndex(s string, byteIdx int) int {
	runeIdx := 0
	for i := range s {
		if i >= byteIdx {
			break
		}
		runeIdx++
	}
	return runeIdx
}
