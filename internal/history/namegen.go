package history

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// adjectives for auto-generated chat names (nature/weather themed)
var adjectives = []string{
	"amber", "ancient", "arctic", "autumn", "azure",
	"blazing", "bold", "bright", "bronze", "calm",
	"cedar", "clear", "coastal", "cool", "coral",
	"cosmic", "crimson", "crystal", "dappled", "dawn",
	"deep", "desert", "drifting", "dusky", "eager",
	"emerald", "fading", "fern", "fierce", "floral",
	"foggy", "forest", "frosty", "gentle", "gilded",
	"glacial", "gleaming", "golden", "granite", "hazy",
	"hidden", "hollow", "hushed", "icy", "indigo",
	"iron", "ivory", "jade", "keen", "lapis",
	"leafy", "light", "lively", "lunar", "marble",
	"meadow", "misty", "molten", "mossy", "nimble",
	"noble", "northern", "obsidian", "opal", "pale",
	"pearly", "pine", "polar", "prairie", "quartz",
	"quiet", "radiant", "rapid", "risen", "rocky",
	"rosy", "ruby", "rustic", "sandy", "scarlet",
	"shadow", "shining", "silent", "silver", "slate",
	"smoky", "solar", "spring", "starry", "steady",
	"stone", "stormy", "sunlit", "swift", "tawny",
	"thorny", "tidal", "topaz", "twilight", "verdant",
	"violet", "vivid", "wandering", "warm", "wild",
	"windy", "woven", "young", "zephyr",
}

// nouns for auto-generated chat names (animals/nature themed)
var nouns = []string{
	"badger", "bear", "birch", "bison", "brook",
	"canyon", "cedar", "cliff", "cloud", "condor",
	"coral", "cougar", "crane", "creek", "crow",
	"delta", "dove", "dune", "eagle", "elm",
	"falcon", "fern", "finch", "fjord", "flower",
	"forest", "fox", "frost", "garden", "glacier",
	"grove", "gull", "harbor", "hawk", "heron",
	"hill", "hollow", "horizon", "island", "ivy",
	"jay", "juniper", "lake", "lark", "leaf",
	"lily", "lotus", "lynx", "maple", "marsh",
	"meadow", "mesa", "moon", "moss", "oak",
	"ocean", "orchid", "osprey", "otter", "owl",
	"palm", "panther", "peak", "pebble", "pine",
	"plover", "pond", "quail", "rain", "raven",
	"reef", "ridge", "river", "robin", "sage",
	"salmon", "shore", "sky", "sparrow", "spruce",
	"star", "stone", "storm", "stream", "summit",
	"swallow", "thistle", "thorn", "tide", "trail",
	"tulip", "valley", "vine", "wave", "willow",
	"wolf", "wren", "yarrow", "yew",
}

// stopWords are skipped when deriving a display name from a first message.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"can": true, "could": true, "would": true, "should": true,
	"please": true, "hi": true, "hello": true, "hey": true,
	"i": true, "you": true, "me": true, "my": true, "to": true,
	"of": true, "for": true, "in": true, "on": true, "do": true,
	"does": true, "what": true, "how": true, "with": true,
}

// maxDerivedNameRunes caps names derived from message text well below the
// hard display-name limit so excerpts stay readable in listings.
const maxDerivedNameRunes = 32

// GenerateChatName returns a random "adjective-noun" name.
func GenerateChatName() string {
	adj := adjectives[cryptoRandInt(len(adjectives))]
	noun := nouns[cryptoRandInt(len(nouns))]
	return adj + "-" + noun
}

// GenerateUniqueChatName generates a name that doesn't collide with existing
// display names in the snapshot. Retries up to 10 times, then falls back to
// appending a timestamp.
func GenerateUniqueChatName(existing Snapshot) string {
	taken := make(map[string]bool, len(existing))
	for _, rec := range existing {
		taken[rec.DisplayName] = true
	}

	for i := 0; i < 10; i++ {
		name := GenerateChatName()
		if !taken[name] {
			return name
		}
	}

	return fmt.Sprintf("%s-%d", GenerateChatName(), time.Now().Unix())
}

// DeriveChatName builds a display name from a chat's first message: the
// leading significant words, minus filler, trimmed to a rune budget. Returns
// "" when the text yields nothing usable, in which case callers fall back to
// a generated name.
func DeriveChatName(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))

	var kept []string
	runes := 0
	for _, word := range fields {
		cleaned := strings.Trim(word, ".,!?;:\"'()[]{}")
		if cleaned == "" {
			continue
		}
		if stopWords[strings.ToLower(cleaned)] {
			continue
		}
		wlen := len([]rune(cleaned))
		if runes > 0 && runes+1+wlen > maxDerivedNameRunes {
			break
		}
		if runes == 0 && wlen > maxDerivedNameRunes {
			cleaned = string([]rune(cleaned)[:maxDerivedNameRunes])
			wlen = maxDerivedNameRunes
		}
		if runes > 0 {
			runes++
		}
		kept = append(kept, cleaned)
		runes += wlen
		if len(kept) >= 5 {
			break
		}
	}

	name := strings.Join(kept, " ")
	if ValidateDisplayName(name) != nil {
		return ""
	}
	return name
}

// cryptoRandInt returns a cryptographically random int in [0, max).
func cryptoRandInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// Fallback to timestamp-based selection if crypto/rand fails
		return int(time.Now().UnixNano() % int64(max))
	}
	return int(n.Int64())
}
