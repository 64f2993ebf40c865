// Package main is the entry point for the retrace debugger shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/retrace/internal/assist"
	"github.com/dshills/retrace/internal/config"
	"github.com/dshills/retrace/internal/event"
	"github.com/dshills/retrace/internal/logging"
	"github.com/dshills/retrace/internal/protocol"
	"github.com/dshills/retrace/internal/script"
	"github.com/dshills/retrace/internal/session"
	"github.com/dshills/retrace/internal/source"
	"github.com/dshills/retrace/internal/state"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const initializeTimeout = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Prefix: "retrace",
	})

	if cfg.RecordingID == "" {
		fmt.Fprintf(os.Stderr, "Error: no recording id (use -recording or set recording_id in the config)\n")
		return 1
	}

	// Telemetry is opt-in; the debugger works without either endpoint.
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, logger)
		defer shutdownMetricsServer(srv)
	}
	if cfg.TraceExport {
		stopTracing, err := initTracing()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer stopTracing()
	}

	// Live log-level changes while the shell is running.
	if opts.configPath != "" {
		watcher, err := config.WatchFile(opts.configPath, logger, func(next config.Config) {
			logger.SetLevel(logging.ParseLevel(next.LogLevel))
		})
		if err != nil {
			logger.Warn("config watch disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	dialCtx, cancelDial := context.WithTimeout(context.Background(), initializeTimeout)
	defer cancelDial()

	transport, err := dialService(dialCtx, cfg.ServiceURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	client := protocol.NewClient(transport)

	bus := event.NewBus()
	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithPrecache(cfg.Precache.Enabled, cfg.Precache.Depth),
	}

	if cfg.ScriptPath != "" {
		adjuster, err := script.Load(cfg.ScriptPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			client.Close()
			return 1
		}
		defer adjuster.Close()
		sessOpts = append(sessOpts, session.WithAdjuster(adjuster))
	}

	if cfg.CacheDir != "" {
		store, err := source.OpenStore(source.StoreConfig{
			Path:      filepath.Join(cfg.CacheDir, "sources"),
			Recording: cfg.RecordingID,
		})
		if err != nil {
			logger.Warn("source cache disabled: %v", err)
		} else {
			defer store.Close()
			sessOpts = append(sessOpts, session.WithContentsStore(store))
		}
	}

	coord := session.New(client, bus, sessOpts...)
	defer coord.Close()

	stateStore, stateDoc := openState(cfg, logger)
	if stateDoc != nil {
		installPersistedState(coord, bus, stateDoc)
	}

	explainer := openAssist(cfg, logger)

	shell := newShell(coord, shellConfig{
		explainer: explainer,
		store:     stateStore,
		doc:       stateDoc,
		logger:    logger,
		out:       os.Stdout,
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		fmt.Fprintln(os.Stderr, "\ninterrupted")
		shell.saveState()
		coord.Close()
		os.Exit(130)
	}()

	initCtx, cancelInit := context.WithTimeout(context.Background(), initializeTimeout)
	defer cancelInit()

	if err := coord.Initialize(initCtx, cfg.RecordingID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open recording %s: %v\n", cfg.RecordingID, err)
		return 1
	}

	pos := coord.Position()
	fmt.Printf("retrace %s attached to recording %s\n", version, cfg.RecordingID)
	fmt.Printf("paused at the recording endpoint, point %s (%.1fms)\n", pos.Point, pos.Time)
	fmt.Println("type 'help' for commands")

	if err := shell.run(context.Background(), os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	shell.saveState()
	return 0
}

// loadConfig layers the config file, environment, and finally any
// explicitly set flags.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	for name := range opts.set {
		switch name {
		case "service-url":
			cfg.ServiceURL = opts.serviceURL
		case "recording", "r":
			cfg.RecordingID = opts.recording
		case "log-level":
			cfg.LogLevel = opts.logLevel
		case "state":
			cfg.StatePath = opts.statePath
		case "script":
			cfg.ScriptPath = opts.scriptPath
		case "cache-dir":
			cfg.CacheDir = opts.cacheDir
		case "metrics-addr":
			cfg.MetricsAddr = opts.metricsAddr
		case "trace":
			cfg.TraceExport = opts.trace
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// dialService picks the transport from the URL scheme. Websocket URLs
// go through the websocket transport; anything else is treated as a
// plain TCP address with length-prefixed framing.
func dialService(ctx context.Context, url string) (protocol.Transport, error) {
	switch {
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return protocol.DialWebSocket(ctx, url)
	case strings.HasPrefix(url, "tcp://"):
		return protocol.NewSocketTransport(strings.TrimPrefix(url, "tcp://"))
	default:
		return protocol.NewSocketTransport(url)
	}
}

// openState resolves the state file location and loads it. With no
// explicit path and no cache dir, persistence stays off.
func openState(cfg config.Config, logger *logging.Logger) (*state.Store, *state.Document) {
	path := cfg.StatePath
	if path == "" && cfg.CacheDir != "" {
		path = filepath.Join(cfg.CacheDir, "state", cfg.RecordingID+".yaml")
	}
	if path == "" {
		return nil, nil
	}

	store := state.NewStore(path)
	doc, err := store.Load()
	if err != nil {
		logger.Warn("state persistence disabled: %v", err)
		return nil, nil
	}
	return store, doc
}

// installPersistedState re-applies saved breakpoints and source
// preferences as their sources get registered. Remote placements run on
// their own goroutines; a notification handler must never wait for a
// response on the connection that delivered the notification.
func installPersistedState(coord *session.Coordinator, bus *event.Bus, doc *state.Document) {
	_, _ = bus.SubscribeFunc(event.TopicSourceAdded, func(_ context.Context, ev event.Event) error {
		added, ok := ev.Payload.(event.SourceAdded)
		if !ok {
			return nil
		}

		for _, preferred := range doc.PreferredSources {
			if preferred == added.SourceID {
				coord.PreferSource(protocol.SourceID(added.SourceID), true)
			}
		}

		for _, bp := range doc.Breakpoints {
			if bp.URL == "" || bp.URL != added.URL {
				continue
			}
			// Placing via the corresponding-id set keeps pretty-printed
			// twins collapsed onto their minified source.
			for _, id := range coord.Sources().CorrespondingIDs(bp.URL) {
				if string(id) != added.SourceID {
					continue
				}
				loc := protocol.Location{SourceID: id, Line: bp.Line, Column: bp.Column}
				go coord.SetBreakpoint(context.Background(), loc, bp.Condition)
			}
		}
		return nil
	})
}

// openAssist builds the explainer when a provider is configured and
// its key is available. Failures only disable the explain command.
func openAssist(cfg config.Config, logger *logging.Logger) *assist.Explainer {
	if cfg.Assist.Provider == "" {
		return nil
	}

	provider, err := assist.New(context.Background(), assist.Options{
		Provider:  cfg.Assist.Provider,
		Model:     cfg.Assist.Model,
		APIKeyEnv: cfg.Assist.APIKeyEnv,
	})
	switch {
	case errors.Is(err, assist.ErrNotConfigured):
		logger.Debug("assist disabled: %v", err)
		return nil
	case err != nil:
		logger.Warn("assist unavailable: %v", err)
		return nil
	}
	return assist.NewExplainer(provider)
}

type options struct {
	configPath  string
	serviceURL  string
	recording   string
	logLevel    string
	statePath   string
	scriptPath  string
	cacheDir    string
	metricsAddr string
	trace       bool

	set map[string]bool
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.serviceURL, "service-url", "", "Recording service URL (ws://, wss://, or tcp address)")
	flag.StringVar(&opts.recording, "recording", "", "Recording id to debug")
	flag.StringVar(&opts.recording, "r", "", "Recording id to debug (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.statePath, "state", "", "Path to the persisted breakpoint state file")
	flag.StringVar(&opts.scriptPath, "script", "", "Path to a Lua warp adjustment script")
	flag.StringVar(&opts.cacheDir, "cache-dir", "", "Directory for the on-disk source cache")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Listen address for Prometheus metrics (e.g. :9464)")
	flag.BoolVar(&opts.trace, "trace", false, "Export traces to stdout")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Retrace - time-travel debugger shell\n\n")
		fmt.Fprintf(os.Stderr, "Usage: retrace [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  retrace -r rec-1234                 Debug a recording\n")
		fmt.Fprintf(os.Stderr, "  retrace -c retrace.toml             Use a config file\n")
		fmt.Fprintf(os.Stderr, "  retrace -r rec-1234 -trace          Export spans to stdout\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Retrace %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	return opts
}
