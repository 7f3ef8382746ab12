package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestForComponentBeforeInit(t *testing.T) {
	// Component loggers created before Init must not panic and must pick up
	// the real handler once Init runs
	log := ForComponent(CompCache)
	log.Info("pre_init_event")

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	log.Info("post_init_event")

	data, err := os.ReadFile(filepath.Join(dir, "chatvault.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "post_init_event") {
		t.Error("event logged after Init should reach the log file")
	}
	if !strings.Contains(string(data), `"component":"cache"`) {
		t.Error("component attribute missing from log output")
	}
	if strings.Contains(string(data), "pre_init_event") {
		t.Error("pre-Init event should have been discarded")
	}
}

func TestInitLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	log := ForComponent(CompStorage)
	log.Debug("too_quiet")
	log.Warn("loud_enough")

	data, err := os.ReadFile(filepath.Join(dir, "chatvault.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "too_quiet") {
		t.Error("debug event should be filtered at warn level")
	}
	if !strings.Contains(string(data), "loud_enough") {
		t.Error("warn event missing")
	}
}

func TestDumpRingBuffer(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info"})
	defer Shutdown()

	Logger().Info("ring_event")

	dumpPath := filepath.Join(dir, "crash.log")
	if err := DumpRingBuffer(dumpPath); err != nil {
		t.Fatalf("DumpRingBuffer: %v", err)
	}
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if !strings.Contains(string(data), "ring_event") {
		t.Error("ring buffer dump should contain recent events")
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(16)
	for i := 0; i < 10; i++ {
		rb.Write([]byte("0123456789"))
	}

	// 100 bytes written into a 16-byte buffer: only the stream's tail survives
	got := string(rb.Bytes())
	if got != "4567890123456789" {
		t.Errorf("ring buffer tail = %q", got)
	}
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte("abcdefghijklmnop"))
	if got := string(rb.Bytes()); got != "ijklmnop" {
		t.Errorf("oversized write should keep its tail, got %q", got)
	}
}

func TestAggregatorRollup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 30)
	agg.Record(CompSearch, "search_query", slog.Int("results", 3))
	agg.Record(CompSearch, "search_query", slog.Int("results", 7))
	agg.flush()

	out := buf.String()
	if !strings.Contains(out, "event_rollup") {
		t.Fatalf("flush should emit a rollup line, got %q", out)
	}
	if !strings.Contains(out, `"count":2`) {
		t.Errorf("rollup should count both records, got %q", out)
	}
	if !strings.Contains(out, `"results":7`) {
		t.Errorf("rollup should carry the newest fields, got %q", out)
	}
}
