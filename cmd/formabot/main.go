// Package main is the formabot CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fstsettat/formabot/internal/cache"
	"github.com/fstsettat/formabot/internal/cli"
	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/indexer"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/search"
	"github.com/fstsettat/formabot/internal/server"
	"github.com/fstsettat/formabot/internal/watcher"
	"github.com/fstsettat/formabot/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/etc/formabot/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists, and a missing default file falls
// back to config.Default. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; real environment variables still win over it.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "serve":
		runServe()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "clear-cache":
		runClearCache()
	case "version", "--version", "-v":
		fmt.Printf("formabot version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config and logger for a subcommand.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func mustComponents(cfg *config.Config, logger *zap.Logger) *Components {
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return components
}

func parseFormat(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", s)
		os.Exit(1)
		return ""
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dir := fs.String("dir", "", "documents directory (default from config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if *dir != "" {
		cfg.Data.DocumentsDir = *dir
	}
	components := mustComponents(cfg, logger)
	defer components.Close()

	ctx, cancel := signalContext()
	defer cancel()
	res, err := components.Ingest(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		if errors.Is(err, indexer.ErrLocked) {
			fmt.Fprintf(os.Stderr, "Another ingestion is running. Remove %s if it crashed.\n",
				filepath.Join(cfg.Store.Dir, indexer.LockFileName))
		}
		os.Exit(1)
	}
	if err := cli.WriteRunResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// buildQuery joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = answer in-process)")
	asJSON := fs.Bool("json", false, "print the full response as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: formabot ask [flags] <question>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuery(fs.Args())
	if question == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := cli.OutputText
	if *asJSON {
		format = cli.OutputJSON
	}

	var resp *search.Response
	if *serverURL != "" {
		var out search.Response
		if err := postJSON(*serverURL+"/api/v1/ask", map[string]string{"question": question}, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		resp = &out
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		components := mustComponents(cfg, logger)
		defer components.Close()
		ctx, cancel := signalContext()
		defer cancel()
		resp = components.Engine.Ask(ctx, question)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search in-process)")
	k := fs.Int("k", 10, "number of results")
	formation := fs.String("formation", "", "restrict results to a formation id")
	minScore := fs.Float64("min-score", 0, "minimum similarity score")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: formabot search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := &models.SearchQuery{
		Query:       buildQuery(fs.Args()),
		K:           *k,
		FormationID: *formation,
		MinScore:    *minScore,
	}
	if query.Query == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	var results []models.ScoredPassage
	if *serverURL != "" {
		var out struct {
			Results []models.ScoredPassage `json:"results"`
		}
		if err := postJSON(*serverURL+"/api/v1/search", query, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		results = out.Results
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		components := mustComponents(cfg, logger)
		defer components.Close()
		var err error
		if results, err = components.Engine.Search(context.Background(), query); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			if errors.Is(err, search.ErrNoIndex) {
				fmt.Fprintln(os.Stderr, "Run `formabot ingest` first.")
			}
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, query.Query, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "re-ingest when watched directories change")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	components := mustComponents(cfg, logger)
	defer components.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if *watch {
		w := newWatcher(cfg, components, logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Engine, components, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// watchDirectories returns the configured watch roots, or the documents
// directory when none are configured.
func watchDirectories(cfg *config.Config) []string {
	if len(cfg.Watch.Directories) > 0 {
		return cfg.Watch.Directories
	}
	return []string{cfg.Data.DocumentsDir}
}

func newWatcher(cfg *config.Config, components *Components, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(
		watchDirectories(cfg),
		cfg.Watch.Extensions,
		func(ctx context.Context, root string) {
			res, err := components.IngestDir(ctx, root)
			if err != nil {
				logger.Warn("re-ingest failed", zap.String("root", root), zap.Error(err))
				return
			}
			logger.Info("re-ingest finished",
				zap.String("root", root),
				zap.Int("processed", res.Processed),
				zap.Int("store_size", res.StoreSize))
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
	)
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	initial := fs.Bool("initial", true, "run one ingestion before watching")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	components := mustComponents(cfg, logger)
	defer components.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if *initial {
		for _, dir := range watchDirectories(cfg) {
			if _, err := components.IngestDir(ctx, dir); err != nil {
				logger.Warn("initial ingest failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	}
	w := newWatcher(cfg, components, logger)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	logger.Info("watching", zap.Strings("directories", w.Directories()))
	<-ctx.Done()
	w.Stop()
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local state)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status *server.Status
	if *serverURL != "" {
		var err error
		if status, err = statusViaHTTP(*serverURL); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		components := mustComponents(cfg, logger)
		defer components.Close()
		var err error
		if status, err = components.Status(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runClearCache() {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	olderThan := fs.Int("older-than", -1, "only remove artifacts older than N days (default: all)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, false)
	defer logger.Sync()
	contentCache, err := cache.New(cfg.Cache.Dir, cache.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		os.Exit(1)
	}
	var days *int
	if *olderThan >= 0 {
		days = olderThan
	}
	n, err := contentCache.Clear(days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Clear cache failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d cache files from %s\n", n, contentCache.Dir())
}

func postJSON(url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func statusViaHTTP(serverURL string) (*server.Status, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var status server.Status
	if err := decodeResponse(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`formabot - Question answering over FST Settat program documents

Usage:
  formabot ingest [flags]            Extract, chunk, embed, and index the documents
  formabot ask [flags] <question>    Answer a question about a formation
  formabot search [flags] <query>    Search indexed passages
  formabot serve [flags]             Start the HTTP API
  formabot watch [flags]             Re-ingest when documents change
  formabot status [flags]            Show index, catalog, and cache status
  formabot clear-cache [flags]       Remove cache artifacts
  formabot version                   Show version
  formabot help                      Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then /etc/formabot/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --dir string       Documents directory (default from config)
  --output string    Output format: text or json (default: text)

Ask Flags:
  --json             Print the full response as JSON
  --server string    Ask a running server instead of answering in-process

Search Flags:
  --k int            Number of results (default: 10, max: 100)
  --formation string Restrict results to a formation id
  --min-score float  Minimum similarity score
  --server string    Query a running server instead of searching in-process
  --output string    Output format: text or json (default: text)

Serve Flags:
  --watch            Re-ingest when watched directories change

Watch Flags:
  --initial          Run one ingestion before watching (default: true)

Clear-cache Flags:
  --older-than int   Only remove artifacts older than N days

Examples:
  formabot ingest --dir ./data/documents
  formabot ask "Quelles sont les conditions d'admission au MST RSI ?"
  formabot ask --json What are the career prospects for marketing digital?
  formabot search --formation MST_RSI_FST_SETTAT modules semestre 1
  formabot serve --watch
  formabot status --output json
  formabot clear-cache --older-than 30`)
}
