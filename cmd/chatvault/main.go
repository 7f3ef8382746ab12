package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/histdb"
	"github.com/chatvault/chatvault/internal/history"
	"github.com/chatvault/chatvault/internal/jsonstore"
	"github.com/chatvault/chatvault/internal/logging"
)

const Version = "0.3.0"

// jsonDirName is the subdirectory holding per-user JSON documents.
const jsonDirName = "chats"

// dbFileName is the SQLite database file name.
const dbFileName = "history.db"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		fmt.Printf("chatvault v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	case "append":
		handleAppend(os.Args[2:])
	case "search":
		handleSearch(os.Args[2:])
	case "titles":
		handleTitles(os.Args[2:])
	case "list", "ls":
		handleList(os.Args[2:])
	case "show":
		handleShow(os.Args[2:])
	case "rename", "mv":
		handleRename(os.Args[2:])
	case "clear":
		handleClear(os.Args[2:])
	case "delete", "rm":
		handleDelete(os.Args[2:])
	case "import":
		handleImport(os.Args[2:])
	case "watch":
		handleWatch(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`chatvault - chat history cache and search

Usage:
  chatvault append --user <name> [--chat <id>] [--role user|assistant] <text>
  chatvault search --user <name> <query>
  chatvault titles --user <name> <query>
  chatvault list --user <name>
  chatvault show --user <name> <chat-id>
  chatvault rename --user <name> <chat-id> <new name>
  chatvault clear --user <name> <chat-id>
  chatvault delete --user <name> <chat-id>
  chatvault import --dir <json-dir>
  chatvault watch --user <name>
  chatvault config init
  chatvault version

Flags:
  --json    machine-readable output
  --quiet   suppress non-error output
  --user    owner of the chats (or set CHATVAULT_USER)
`)
}

// appEnv bundles the wired-up application for one CLI invocation.
type appEnv struct {
	cfg    *config.Config
	store  history.Store
	cache  *history.Cache
	engine *history.Engine
}

// openEnv loads config, initializes logging, and opens the configured
// storage backend.
func openEnv() (*appEnv, error) {
	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	dir := cfg.Storage.DataDir
	if dir == "" {
		var err error
		dir, err = config.Dir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logging.Init(logging.Config{
		LogDir:     dir,
		Level:      cfg.Logs.Level,
		Format:     cfg.Logs.Format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		MaxAgeDays: cfg.Logs.RetentionDays,
		Compress:   cfg.Logs.Compress,
	})

	store, err := openStore(cfg, dir)
	if err != nil {
		return nil, err
	}

	cache := history.NewCache(store)
	engine := history.NewEngine(cache, history.SearchSettings{
		SubstringThreshold: cfg.Search.SubstringThreshold,
		FuzzyThreshold:     cfg.Search.FuzzyThreshold,
		ShortQueryLimit:    cfg.Search.ShortQueryLimit,
		SnippetWindow:      cfg.Search.SnippetWindow,
	})

	return &appEnv{cfg: cfg, store: store, cache: cache, engine: engine}, nil
}

func openStore(cfg *config.Config, dir string) (history.Store, error) {
	if cfg.Storage.Backend == config.BackendJSON {
		js, err := jsonstore.New(filepath.Join(dir, jsonDirName))
		if err != nil {
			return nil, err
		}
		return history.NewJSONStore(js), nil
	}

	db, err := histdb.Open(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	// One-time import of a pre-SQLite JSON directory. The source is renamed
	// afterwards so the import never runs twice.
	jsonDir := filepath.Join(dir, jsonDirName)
	if empty, err := db.IsEmpty(); err == nil && empty {
		if _, statErr := os.Stat(jsonDir); statErr == nil {
			users, chats, migErr := histdb.MigrateFromJSON(jsonDir, db)
			if migErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: JSON import incomplete: %v\n", migErr)
			} else if chats > 0 {
				_ = os.Rename(jsonDir, jsonDir+".migrated")
				fmt.Fprintf(os.Stderr, "Imported %d chats for %d users from %s\n",
					chats, users, jsonDir)
			}
		}
	}

	return history.NewSQLiteStore(db), nil
}

func (e *appEnv) Close() {
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: close store: %v\n", err)
	}
	logging.Shutdown()
}

// resolveUser returns the --user flag value or the CHATVAULT_USER fallback.
func resolveUser(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if env := os.Getenv("CHATVAULT_USER"); env != "" {
		return env, true
	}
	return "", false
}

// errCode maps package errors to stable CLI error codes.
func errCode(err error) string {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, history.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, history.ErrStoreUnavailable):
		return ErrCodeStoreUnavailable
	default:
		return ErrCodeInvalidOperation
	}
}

func handleAppend(args []string) {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	chat := fs.String("chat", "", "Chat id (empty creates a new chat)")
	role := fs.String("role", history.RoleUser, "Message role: user or assistant")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	text := strings.Join(fs.Args(), " ")

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	rec, err := env.cache.AppendMessage(username, *chat, *role, text)
	if err != nil {
		output.Error(err.Error(), errCode(err))
		os.Exit(1)
	}

	output.Success(
		fmt.Sprintf("appended to %s (%s)", rec.DisplayName, TruncateID(rec.ChatID)),
		map[string]interface{}{
			"success":      true,
			"chat_id":      rec.ChatID,
			"display_name": rec.DisplayName,
			"messages":     len(rec.History),
		})
}

func handleSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	results, status := env.engine.Search(username, query)

	var sb strings.Builder
	sb.WriteString(status + "\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("%s %s (%s) [%.2f] %s\n",
			bulletSymbol, r.DisplayName, TruncateID(r.ChatID), r.Score, r.Excerpt))
	}

	output.Print(sb.String(), map[string]interface{}{
		"status":  status,
		"results": results,
	})
}

func handleTitles(args []string) {
	fs := flag.NewFlagSet("titles", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	results := env.engine.TitleSearch(username, query)

	var sb strings.Builder
	if len(results) == 0 {
		sb.WriteString(fmt.Sprintf("No matching titles for '%s'\n", query))
	}
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("%s %s (%s)\n",
			bulletSymbol, r.DisplayName, TruncateID(r.ChatID)))
	}

	output.Print(sb.String(), map[string]interface{}{"results": results})
}

func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	if err := env.cache.Load(username); err != nil {
		output.Error(err.Error(), errCode(err))
		os.Exit(1)
	}
	snap := env.cache.Snapshot(username)

	recs := snap.SortedByRecency()

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMSGS\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			TruncateID(rec.ChatID), rec.DisplayName, len(rec.History),
			rec.UpdatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()

	output.Print(sb.String(), map[string]interface{}{
		"user":  username,
		"chats": recs,
	})
}

func handleShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		output.Error("chat id required", ErrCodeValidation)
		os.Exit(1)
	}
	chatID := fs.Arg(0)

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	rec, found := env.cache.Get(username, chatID)
	if !found {
		output.Error(fmt.Sprintf("chat not found: %s", chatID), ErrCodeNotFound)
		os.Exit(1)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s)\n", rec.DisplayName, rec.ChatID))
	for _, m := range rec.History {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, m.Text))
	}

	output.Print(sb.String(), rec)
}

func handleRename(args []string) {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	if fs.NArg() < 2 {
		output.Error("usage: rename <chat-id> <new name>", ErrCodeValidation)
		os.Exit(1)
	}
	chatID := fs.Arg(0)
	name := strings.Join(fs.Args()[1:], " ")

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	if err := env.cache.Rename(username, chatID, name); err != nil {
		output.Error(err.Error(), errCode(err))
		os.Exit(1)
	}

	output.Success(fmt.Sprintf("renamed %s to %q", TruncateID(chatID), name),
		map[string]interface{}{"success": true, "chat_id": chatID, "display_name": name})
}

func handleClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		output.Error("chat id required", ErrCodeValidation)
		os.Exit(1)
	}
	chatID := fs.Arg(0)

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	if err := env.cache.ClearHistory(username, chatID); err != nil {
		output.Error(err.Error(), errCode(err))
		os.Exit(1)
	}

	output.Success(fmt.Sprintf("cleared history of %s", TruncateID(chatID)),
		map[string]interface{}{"success": true, "chat_id": chatID})
}

func handleDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		output.Error("chat id required", ErrCodeValidation)
		os.Exit(1)
	}
	chatID := fs.Arg(0)

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	if err := env.cache.Delete(username, chatID); err != nil {
		output.Error(err.Error(), errCode(err))
		os.Exit(1)
	}

	output.Success(fmt.Sprintf("deleted %s", TruncateID(chatID)),
		map[string]interface{}{"success": true, "chat_id": chatID})
}

func handleImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("dir", "", "Directory of per-user JSON documents")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	quiet := fs.Bool("quiet", false, "Suppress output")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, *quiet)
	if *dir == "" {
		output.Error("--dir is required", ErrCodeValidation)
		os.Exit(1)
	}

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	sqliteStore, ok := env.store.(*history.SQLiteStore)
	if !ok {
		output.Error("import requires the sqlite backend", ErrCodeInvalidOperation)
		os.Exit(1)
	}

	users, chats, err := histdb.MigrateFromJSON(*dir, sqliteStore.DB())
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}

	output.Success(fmt.Sprintf("imported %d chats for %d users", chats, users),
		map[string]interface{}{"success": true, "users": users, "chats": chats})
}

// handleWatch follows a user's chats until interrupted, reloading on
// external store changes and printing every change event. For the JSON
// backend it additionally reacts to filesystem events on the document
// directory.
func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	user := fs.String("user", "", "Chat owner")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	fs.Parse(normalizeArgs(fs, args))

	output := NewCLIOutput(*jsonOut, false)
	username, ok := resolveUser(*user)
	if !ok {
		output.Error("--user is required (or set CHATVAULT_USER)", ErrCodeValidation)
		os.Exit(1)
	}

	env, err := openEnv()
	if err != nil {
		output.Error(err.Error(), ErrCodeStoreUnavailable)
		os.Exit(1)
	}
	defer env.Close()

	watcher := history.NewStorageWatcher(env.store)
	env.cache.AttachWatcher(watcher)
	watcher.Start()
	defer watcher.Close()

	var fsEvents <-chan string
	if js, ok := env.store.(*history.JSONStore); ok {
		if fw, err := jsonstore.NewWatcher(js.Docs()); err == nil {
			fsEvents = fw.Changes()
			defer fw.Close()
		}
	}

	if err := env.cache.Load(username); err != nil {
		output.Error(err.Error(), errCode(err))
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Watching chats for %s (Ctrl-C to stop)\n", username)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			return
		case <-watcher.ReloadChannel():
			if err := env.cache.Load(username); err != nil {
				continue
			}
			printWatchEvent(output, "store_changed", username, "", len(env.cache.Snapshot(username)))
		case changed, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if changed != username {
				continue
			}
			if err := env.cache.Load(username); err != nil {
				continue
			}
			printWatchEvent(output, "file_changed", username, "", len(env.cache.Snapshot(username)))
		case ev := <-env.cache.Changes():
			printWatchEvent(output, "cache_changed", ev.Username, ev.ChatID, len(env.cache.Snapshot(ev.Username)))
		}
	}
}

func printWatchEvent(output *CLIOutput, kind, username, chatID string, chats int) {
	human := fmt.Sprintf("%s %s user=%s chats=%d\n", bulletSymbol, kind, username, chats)
	output.Print(human, map[string]interface{}{
		"event": kind,
		"user":  username,
		"chat":  chatID,
		"chats": chats,
	})
}

func handleConfig(args []string) {
	if len(args) < 1 || args[0] != "init" {
		fmt.Fprintln(os.Stderr, "usage: chatvault config init")
		os.Exit(1)
	}

	path, err := config.Path()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config already exists: %s\n", path)
		os.Exit(1)
	}

	cfg, _ := config.Load()
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s wrote %s\n", successSymbol, path)
}
