// Zeke is a household voice-command agent.
//
// It periodically scans conversation transcripts for wake-word commands
// ("Hey Zeke, remind me to..."), parses them into structured actions,
// and executes them: reminders, grocery and task lists, outbound SMS,
// calendar events, and web searches. An admin HTTP API exposes the
// command ledger, runtime settings, and a live event stream.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	zeke serve                    Start the agent and admin API
//	zeke scan                     Run a single transcript scan and exit
//	zeke init [dir]               Initialize a working directory with defaults
//	zeke import-contacts <file>   Import contacts from a vCard file
//	zeke version                  Print version and build information
//	zeke -o json version          Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/zekehq/zeke-agent/internal/agent"
	"github.com/zekehq/zeke-agent/internal/api"
	"github.com/zekehq/zeke-agent/internal/buildinfo"
	"github.com/zekehq/zeke-agent/internal/calendar"
	"github.com/zekehq/zeke-agent/internal/config"
	"github.com/zekehq/zeke-agent/internal/contacts"
	"github.com/zekehq/zeke-agent/internal/events"
	"github.com/zekehq/zeke-agent/internal/exec"
	"github.com/zekehq/zeke-agent/internal/health"
	"github.com/zekehq/zeke-agent/internal/household"
	"github.com/zekehq/zeke-agent/internal/ledger"
	"github.com/zekehq/zeke-agent/internal/llm"
	"github.com/zekehq/zeke-agent/internal/notify"
	"github.com/zekehq/zeke-agent/internal/parser"
	"github.com/zekehq/zeke-agent/internal/reminders"
	"github.com/zekehq/zeke-agent/internal/search"
	"github.com/zekehq/zeke-agent/internal/settings"
	"github.com/zekehq/zeke-agent/internal/tools"
	"github.com/zekehq/zeke-agent/internal/transcripts"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the zeke command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface is small enough that manual parsing is clearer
// than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "scan":
		return runScan(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "import-contacts":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: zeke import-contacts <file.vcf>")
		}
		return runImportContacts(stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Zeke - Household Voice-Command Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: zeke [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                   Start the agent and admin API")
	fmt.Fprintln(w, "  scan                    Run a single transcript scan and exit")
	fmt.Fprintln(w, "  init [dir]              Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  import-contacts <file>  Import contacts from a vCard file")
	fmt.Fprintln(w, "  version                 Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/zeke/config.yaml, /etc/zeke/config.yaml")
	return nil
}

// stores bundles the SQLite-backed state opened under the data
// directory, so serve and scan share one setup path.
type stores struct {
	contacts  *contacts.Store
	household *household.Store
	reminders *reminders.Store
	ledger    *ledger.Store
	settings  *settings.Store
}

func (s *stores) Close() {
	s.settings.Close()
	s.ledger.Close()
	s.reminders.Close()
	s.household.Close()
	s.contacts.Close()
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	contactStore, err := contacts.NewStore(filepath.Join(cfg.DataDir, "contacts.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open contacts database: %w", err)
	}

	hh, err := household.NewStore(filepath.Join(cfg.DataDir, "household.db"), logger)
	if err != nil {
		contactStore.Close()
		return nil, fmt.Errorf("open household database: %w", err)
	}

	remStore, err := reminders.NewStore(filepath.Join(cfg.DataDir, "reminders.db"))
	if err != nil {
		hh.Close()
		contactStore.Close()
		return nil, fmt.Errorf("open reminders database: %w", err)
	}

	led, err := ledger.NewStore(filepath.Join(cfg.DataDir, "ledger.db"))
	if err != nil {
		remStore.Close()
		hh.Close()
		contactStore.Close()
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	seed := settings.Settings{
		Enabled:             cfg.Agent.Enabled,
		LookbackHours:       cfg.Agent.LookbackHours,
		ScanIntervalMinutes: cfg.Agent.ScanIntervalMinutes,
		AutoExecute:         cfg.Agent.AutoExecute,
		RequireApprovalSMS:  cfg.Agent.RequireApprovalSMS,
		NotifyOnExecution:   cfg.Agent.NotifyOnExecution,
	}
	set, err := settings.NewStore(filepath.Join(cfg.DataDir, "settings.db"), seed)
	if err != nil {
		led.Close()
		remStore.Close()
		hh.Close()
		contactStore.Close()
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	return &stores{
		contacts:  contactStore,
		household: hh,
		reminders: remStore,
		ledger:    led,
		settings:  set,
	}, nil
}

// buildParser selects the command parser from config. "rule" is the
// default: deterministic, no network. "llm" routes commands through
// Ollama with the rule parser's contact directory. The returned probe
// is non-nil only when the parser has a backend worth health-checking.
func buildParser(cfg *config.Config, contactStore *contacts.Store, logger *slog.Logger) (parser.Parser, health.ProbeFunc, error) {
	switch cfg.Parser.Provider {
	case "", "rule":
		return parser.NewRuleParser(contactStore, logger), nil, nil
	case "llm":
		model := cfg.Parser.Model
		if model == "" {
			return nil, nil, fmt.Errorf("parser.model is required when parser.provider is llm")
		}
		client := llm.NewOllamaClient(cfg.Parser.OllamaURL)
		return parser.NewLLMParser(client, model, contactStore, logger), client.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown parser provider %q (expected rule or llm)", cfg.Parser.Provider)
	}
}

// buildNotifier returns the SMS gateway when configured, else a no-op.
func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.SMS.URL == "" {
		logger.Warn("sms gateway not configured - messages and reminders will not be delivered")
		return notify.Noop{}
	}
	return notify.NewSMSGateway(cfg.SMS.URL, cfg.SMS.Token, cfg.SMS.From, cfg.SMS.AdminPhone, logger)
}

// buildToolDeps assembles the optional tool collaborators from config.
// Missing pieces leave nil fields; the corresponding tools report a
// clear failure instead of crashing.
func buildToolDeps(cfg *config.Config, st *stores, notifier notify.Notifier, remSvc *reminders.Service, logger *slog.Logger) (tools.Deps, error) {
	deps := tools.Deps{
		Notifier:  notifier,
		Household: st.household,
		Reminders: remSvc,
	}

	if cfg.Calendar.URL != "" {
		cal, err := calendar.NewClient(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password, cfg.Calendar.Calendar, logger)
		if err != nil {
			return deps, fmt.Errorf("configure caldav client: %w", err)
		}
		deps.Calendar = cal
	} else {
		logger.Info("calendar not configured - schedule_event disabled")
	}

	if cfg.Search.URL != "" {
		mgr := search.NewManager("searxng")
		mgr.Register(search.NewSearXNG(cfg.Search.URL))
		deps.Search = mgr
	} else {
		logger.Info("search not configured - search_info disabled")
	}

	return deps, nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"transcripts_url", cfg.Transcripts.URL,
		"parser", cfg.Parser.Provider,
	)
	logger.Info(buildinfo.String())

	if cfg.Transcripts.URL == "" {
		return fmt.Errorf("transcripts.url is required")
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Contacts ---
	// Optional one-shot vCard import on boot. Idempotent: existing
	// contacts are updated, not duplicated.
	if cfg.ContactsVCF != "" {
		n, err := st.contacts.ImportVCF(cfg.ContactsVCF)
		if err != nil {
			logger.Error("contact import failed", "path", cfg.ContactsVCF, "error", err)
		} else {
			logger.Info("contacts imported", "path", cfg.ContactsVCF, "count", n)
		}
	}

	// --- Notification channels ---
	notifier := buildNotifier(cfg, logger)

	var publisher *notify.MQTTPublisher
	if cfg.MQTT.Enabled {
		publisher = notify.NewMQTTPublisher(
			cfg.MQTT.BrokerURL, cfg.MQTT.Username, cfg.MQTT.Password,
			cfg.MQTT.Topic, cfg.MQTT.ClientID, logger,
		)
		if err := publisher.Start(ctx); err != nil {
			logger.Error("mqtt publisher failed to start", "error", err)
			publisher = nil
		}
	}

	// --- Reminder delivery ---
	// Replays persisted reminders on boot: overdue ones past the grace
	// window go to missed, the rest are re-armed.
	remSvc := reminders.NewService(st.reminders, notifier, logger)
	if err := remSvc.Start(ctx); err != nil {
		return fmt.Errorf("start reminder service: %w", err)
	}
	defer remSvc.Stop()

	// --- Command pipeline ---
	cmdParser, parserProbe, err := buildParser(cfg, st.contacts, logger)
	if err != nil {
		return err
	}

	toolDeps, err := buildToolDeps(cfg, st, notifier, remSvc, logger)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(toolDeps, logger)
	router := exec.NewRouter(registry, cfg.Tools.Allowed, logger)
	logger.Info("tools registered", "names", registry.Names(), "allowed", cfg.Tools.Allowed)

	bus := events.New()
	source := transcripts.NewClient(cfg.Transcripts.URL, cfg.Transcripts.APIKey, logger)

	// --- Dependency health ---
	// Background reachability checks for the external services the
	// pipeline leans on. Outages show up in /health, never stop the
	// scan loop.
	monitor := health.NewMonitor(logger)
	defer monitor.Stop()
	monitor.Watch(ctx, "transcripts", func(pCtx context.Context) error {
		_, err := source.ListSegments(pCtx, time.Now())
		return err
	}, health.Schedule{})
	if parserProbe != nil {
		monitor.Watch(ctx, "ollama", parserProbe, health.Schedule{})
	}

	var pub agent.ExecutionPublisher
	if publisher != nil {
		pub = publisher
	}
	ag := agent.New(agent.Deps{
		Source:    source,
		Parser:    cmdParser,
		Ledger:    st.ledger,
		Settings:  st.settings,
		Router:    router,
		Notifier:  notifier,
		Publisher: pub,
		Bus:       bus,
	}, logger)

	// --- Admin API ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Agent:     ag,
		Ledger:    st.ledger,
		Settings:  st.settings,
		Reminders: remSvc,
		Contacts:  st.contacts,
		Household: st.household,
		Bus:       bus,
		Monitor:   monitor,
	}, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go ag.Run(ctx)

	go func() {
		<-ctx.Done()

		// Publish MQTT offline status before disconnecting.
		if publisher != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := publisher.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	// Blocks until the server is shut down (via context cancellation
	// or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Zeke stopped")
	return nil
}

// runScan boots a minimal pipeline, runs a single transcript scan, and
// prints the result as JSON. Useful for cron-style operation and for
// smoke-testing a config without starting the server.
func runScan(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level, cfg.LogFormat)
	logger.Info("config loaded", "path", cfgPath)

	if cfg.Transcripts.URL == "" {
		return fmt.Errorf("transcripts.url is required")
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier := buildNotifier(cfg, logger)
	remSvc := reminders.NewService(st.reminders, notifier, logger)
	if err := remSvc.Start(ctx); err != nil {
		return fmt.Errorf("start reminder service: %w", err)
	}
	defer remSvc.Stop()

	cmdParser, _, err := buildParser(cfg, st.contacts, logger)
	if err != nil {
		return err
	}
	toolDeps, err := buildToolDeps(cfg, st, notifier, remSvc, logger)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(toolDeps, logger)

	ag := agent.New(agent.Deps{
		Source:   transcripts.NewClient(cfg.Transcripts.URL, cfg.Transcripts.APIKey, logger),
		Parser:   cmdParser,
		Ledger:   st.ledger,
		Settings: st.settings,
		Router:   exec.NewRouter(registry, cfg.Tools.Allowed, logger),
		Notifier: notifier,
	}, logger)

	result, err := ag.Scan(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runImportContacts imports a vCard file into the contact directory.
func runImportContacts(stdout io.Writer, configPath, vcfPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, slog.LevelWarn, cfg.LogFormat)

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.contacts.ImportVCF(vcfPath)
	if err != nil {
		return fmt.Errorf("import %s: %w", vcfPath, err)
	}
	fmt.Fprintf(stdout, "imported %d contacts from %s\n", n, vcfPath)
	return nil
}

// defaultConfigYAML is written by `zeke init`. Every section is present
// so a new deployment only has to fill in endpoints and credentials.
const defaultConfigYAML = `# Zeke configuration
listen:
  address: ""
  port: 8080

data_dir: data
log_level: info
log_format: text

# Conversation recorder serving transcript segments.
transcripts:
  url: ""
  api_key: "${ZEKE_TRANSCRIPTS_KEY}"

# Command parser: "rule" (deterministic, no network) or "llm" (Ollama).
parser:
  provider: rule
  ollama_url: ""
  model: ""

# Outbound SMS gateway. Leave url empty to disable delivery.
sms:
  url: ""
  token: "${ZEKE_SMS_TOKEN}"
  from: ""
  admin_phone: ""

# Optional MQTT broker for execution notifications.
mqtt:
  enabled: false
  broker_url: ""
  username: ""
  password: ""
  topic: zeke/commands
  client_id: zeke-agent

# Optional CalDAV target for schedule_event commands.
calendar:
  url: ""
  username: ""
  password: ""
  calendar: ""

# Optional SearXNG metasearch endpoint for search_info commands.
search:
  url: ""

# Optional vCard file imported into the contact directory on boot.
contacts_vcf: ""

tools:
  allowed: ["*"]

# Seeds the runtime settings row on first run. After that, the admin
# API is authoritative.
agent:
  enabled: true
  lookback_hours: 4
  scan_interval_minutes: 15
  auto_execute: true
  require_approval_for_sms: true
  notify_on_execution: true
`

// runInit creates a working directory with a default config file.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	fmt.Fprintf(stdout, "initialized %s\n", dir)
	fmt.Fprintf(stdout, "edit %s, then run: zeke serve -config %s\n", cfgPath, cfgPath)
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
