package main

import (
	"flag"
	"reflect"
	"testing"
)

func newTestFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("user", "", "")
	fs.Bool("json", false, "")
	fs.Bool("quiet", false, "")
	return fs
}

func TestNormalizeArgsMovesTrailingFlags(t *testing.T) {
	fs := newTestFlagSet()
	got := normalizeArgs(fs, []string{"some", "query", "--json"})
	want := []string{"--json", "some", "query"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeArgs = %v, want %v", got, want)
	}
}

func TestNormalizeArgsKeepsFlagValues(t *testing.T) {
	fs := newTestFlagSet()
	got := normalizeArgs(fs, []string{"deploy", "--user", "alice", "--json"})
	want := []string{"--user", "alice", "--json", "deploy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeArgs = %v, want %v", got, want)
	}
}

func TestNormalizeArgsDoubleDash(t *testing.T) {
	fs := newTestFlagSet()
	got := normalizeArgs(fs, []string{"--json", "--", "--not-a-flag"})
	want := []string{"--json", "--not-a-flag"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeArgs = %v, want %v", got, want)
	}
}

func TestNormalizeArgsEqualsForm(t *testing.T) {
	fs := newTestFlagSet()
	got := normalizeArgs(fs, []string{"query", "--user=alice"})
	want := []string{"--user=alice", "query"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeArgs = %v, want %v", got, want)
	}
}

func TestTruncateID(t *testing.T) {
	if got := TruncateID("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("TruncateID = %q", got)
	}
	if got := TruncateID("short"); got != "short" {
		t.Errorf("TruncateID = %q", got)
	}
}
