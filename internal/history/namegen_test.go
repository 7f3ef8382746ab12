package history

import (
	"strings"
	"testing"
)

func TestDeriveChatName(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Can you help me with python?", "help python"},
		{"how do I set up the VPN", "set up VPN"},
		{"expense report question", "expense report question"},
		{"", ""},
		{"   ", ""},
		{"hi hello please", ""},
		{"...!!!", ""},
	}
	for _, c := range cases {
		if got := DeriveChatName(c.text); got != c.want {
			t.Errorf("DeriveChatName(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestDeriveChatNameRespectsRuneBudget(t *testing.T) {
	got := DeriveChatName("supercalifragilisticexpialidocious considerations regarding deployment")
	if got == "" {
		t.Fatal("expected a derived name")
	}
	if n := len([]rune(got)); n > maxDerivedNameRunes {
		t.Errorf("derived name is %d runes, cap is %d: %q", n, maxDerivedNameRunes, got)
	}
	if err := ValidateDisplayName(got); err != nil {
		t.Errorf("derived name should validate: %v", err)
	}
}

func TestGenerateChatName(t *testing.T) {
	for i := 0; i < 20; i++ {
		name := GenerateChatName()
		parts := strings.Split(name, "-")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			t.Fatalf("expected adjective-noun, got %q", name)
		}
		if err := ValidateDisplayName(name); err != nil {
			t.Fatalf("generated name should validate: %v", err)
		}
	}
}

func TestGenerateUniqueChatName(t *testing.T) {
	existing := Snapshot{
		"c1": &ChatRecord{ChatID: "c1", DisplayName: "amber-fox"},
	}
	name := GenerateUniqueChatName(existing)
	if name == "" {
		t.Fatal("expected a name")
	}
	if name == "amber-fox" {
		t.Error("should avoid a taken name")
	}
}
