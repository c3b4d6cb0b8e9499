package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/skeops/diwatch/internal/api"
	"github.com/skeops/diwatch/internal/command"
	"github.com/skeops/diwatch/internal/config"
	"github.com/skeops/diwatch/internal/debounce"
	"github.com/skeops/diwatch/internal/dispatch"
	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/fleet"
	"github.com/skeops/diwatch/internal/journal"
	"github.com/skeops/diwatch/internal/lock"
	"github.com/skeops/diwatch/internal/log"
	"github.com/skeops/diwatch/internal/status"
	"github.com/skeops/diwatch/internal/storage"
	"github.com/skeops/diwatch/internal/transport"
	"github.com/skeops/diwatch/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "fleet":
		return runFleetNoun(args)

	// Root alias.
	case "start":
		return runStart(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runFleetNoun(args []string) int {
	if len(args) < 1 {
		printFleetNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printFleetNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "import":
		return runFleetImport(actionArgs)
	case "list":
		return runFleetList(actionArgs)
	case "help":
		printFleetNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown fleet action: %s\n", action)
		return 1
	}
}

// --- ACTIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("diwatch starting", "version", version, "config", path)

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "diwatch.pid")
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	var directory dispatch.Directory
	switch cfg.Fleet.Source {
	case "csv":
		directory = fleet.NewCSVDirectory(cfg.Fleet.CSVPath, cfg.Fleet.Tag)
		logger.Info("fleet source: csv", "path", cfg.Fleet.CSVPath, "tag", cfg.Fleet.Tag)
	case "sqlite":
		directory = fleet.NewSQLiteDirectory(db, cfg.Fleet.Tag)
		logger.Info("fleet source: sqlite", "tag", cfg.Fleet.Tag)
	}

	channel, err := command.NewChirpStack(cfg.ChirpStack.Server, cfg.ChirpStack.APIToken,
		cfg.Dispatch.FPort, cfg.Dispatch.Confirmed)
	if err != nil {
		logger.Error("failed to create command channel", "server", cfg.ChirpStack.Server, "error", err)
		return 1
	}
	defer channel.Close()

	hub := events.NewHub(256)
	journalStore := journal.New(db)

	engine := dispatch.NewEngine(dispatch.Config{
		Payloads:       cfg.PayloadBytes,
		ConcurrencyCap: cfg.Dispatch.ConcurrencyCap,
		PerCallTimeout: cfg.Dispatch.PerCallTimeout,
	}, directory, channel, journalStore, hub)

	// Validated at load time; the zero value would arm a broken watchdog.
	safe, ok := status.Parse(cfg.Watchdog.DefaultSafe)
	if !ok {
		logger.Error("invalid watchdog.default_safe", "value", cfg.Watchdog.DefaultSafe)
		return 1
	}

	watchdog := debounce.New(cfg.Watchdog.Window, safe, engine, hub)
	ingestor := status.NewIngestor(cfg.Source.DevEUI, watchdog, hub)
	subscriber := transport.New(cfg.MQTT, cfg.Source.StatusField, ingestor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	watchdog.Start(ctx)

	go func() {
		if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("mqtt: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, watchdog, journalStore, directory, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("api server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("diwatch running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	cancel()
	watchdog.Close()
	engine.Close(shutdownGrace)

	logger.Info("diwatch stopped")
	return exitCode
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8385", "Base URL of the diwatch ops API")
	apiKey := fs.String("key", "", "API key (defaults to $DIWATCH_API_KEY)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("DIWATCH_API_KEY")
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "No API key provided (use --key or $DIWATCH_API_KEY)")
		return 1
	}

	p := tea.NewProgram(tui.New(strings.TrimRight(*apiURL, "/"), key))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch console failed: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration check PASSED: %s\n", path)
	fmt.Printf("  source:    %s (%s)\n", cfg.Source.DevEUI, cfg.Source.StatusField)
	fmt.Printf("  watchdog:  %s window, safe=%s\n", cfg.Watchdog.Window, cfg.Watchdog.DefaultSafe)
	fmt.Printf("  dispatch:  cap=%d, per_call_timeout=%s\n", cfg.Dispatch.ConcurrencyCap, cfg.Dispatch.PerCallTimeout)
	fmt.Printf("  fleet:     %s (tag=%s)\n", cfg.Fleet.Source, cfg.Fleet.Tag)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}

	checksumPath, err := config.GenerateChecksums(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Config locked: %s\n", checksumPath)
	return 0
}

func runFleetImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	csvPath := fs.String("csv", "", "Path to fleet CSV (defaults to fleet.csv_path)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	source := *csvPath
	if source == "" {
		source = cfg.Fleet.CSVPath
	}
	if source == "" {
		fmt.Fprintln(os.Stderr, "No CSV path provided (use --csv or fleet.csv_path)")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	n, err := fleet.ImportCSV(ctx, db, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	fmt.Printf("Imported %d fleet members from %s\n", n, source)
	return 0
}

func runFleetList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var directory dispatch.Directory
	switch cfg.Fleet.Source {
	case "csv":
		directory = fleet.NewCSVDirectory(cfg.Fleet.CSVPath, cfg.Fleet.Tag)
	case "sqlite":
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
			return 1
		}
		defer db.Close()
		directory = fleet.NewSQLiteDirectory(db, cfg.Fleet.Tag)
	}

	members, err := directory.ListMembers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list fleet: %v\n", err)
		return 1
	}

	fmt.Printf("Fleet members (tag=%s): %d\n", cfg.Fleet.Tag, len(members))
	for _, m := range members {
		fmt.Printf("  %s\n", m)
	}
	return 0
}

// --- VERSION ---

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: diwatch version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("diwatch %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version: strings.TrimSpace(version),
		Commit:  "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- HELPERS ---

func loadConfig(configPath string) (*config.Config, string, error) {
	path := configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- HELP TEXT ---

func printUsage() {
	fmt.Print(`diwatch - Digital input watchdog and fleet command dispatcher

Usage:
  diwatch <noun> <action> [flags]

System Commands:
  system start      Start the daemon in foreground
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate configuration and integrity
  config lock       Authorize current config (update integrity hash)

Fleet Commands:
  fleet import      Import fleet CSV into the state database
  fleet list        Show dispatch targets

General:
  version           Show version information
  help              Show this help message

Use 'diwatch <noun> help' for resource-specific flags.
`)
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: diwatch system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: diwatch config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printFleetNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: diwatch fleet <action> [flags]")
	fmt.Fprintln(w, "Actions: import, list")
}

func printSystemStartHelp() {
	fmt.Print(`Usage: diwatch system start [--config <path>]

Starts the daemon: subscribes to the MQTT uplink stream, debounces the
source's status through the watchdog, and dispatches downlink commands to
the fleet on every status event or watchdog expiry.
`)
}

func printSystemWatchHelp() {
	fmt.Print(`Usage: diwatch system watch [--api <url>] [--key <api-key>]

Opens the monitoring console against a running daemon's ops API.
The API key may also be supplied via $DIWATCH_API_KEY.
`)
}
