// Gatehouse is a guarded conversational web application.
//
// Every turn passes through a two-stage input guardrail and an action
// arbitration pipeline before a reply is generated, and the whole
// exchange is kept in a bounded persistent history. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	gatehouse serve     Start the web server
//	gatehouse version   Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guardedchat/gatehouse/internal/action"
	"github.com/guardedchat/gatehouse/internal/audit"
	"github.com/guardedchat/gatehouse/internal/buildinfo"
	"github.com/guardedchat/gatehouse/internal/config"
	"github.com/guardedchat/gatehouse/internal/gemini"
	"github.com/guardedchat/gatehouse/internal/guardrail"
	"github.com/guardedchat/gatehouse/internal/history"
	"github.com/guardedchat/gatehouse/internal/turn"
	"github.com/guardedchat/gatehouse/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the gatehouse command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime (cancelling it triggers graceful shutdown), stdout/stderr
// receive all output, and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on package-level
// globals (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

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
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve", "":
		return runServe(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "help":
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Gatehouse - Guarded Conversational Web App")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: gatehouse [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the web server (default)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./gatehouse.yaml, ~/.config/gatehouse/gatehouse.yaml, /etc/gatehouse/gatehouse.yaml")
	return nil
}

// runServe is the primary operating mode: loads config, opens the
// history and audit stores, connects to the completion service, wires
// the turn pipeline, starts the web server, and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Gatehouse",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"text_model", cfg.Gemini.TextModel,
		"vision_model", cfg.Gemini.VisionModel,
		"max_turns", cfg.History.MaxTurns,
	)

	// --- Stores ---
	hist := history.NewStore(cfg.History.File, cfg.History.MaxTurns, logger)
	logger.Info("history store opened", "file", cfg.History.File, "entries", hist.Len())

	auditStore, err := audit.NewStore(cfg.AuditDB, logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	// --- Completion service ---
	client, err := gemini.NewGoogleClient(ctx, cfg.Gemini.APIKey, logger)
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		// Startup continues; the guardrail fails closed until the
		// service is reachable.
		logger.Warn("completion service unreachable at startup", "error", err)
	}

	// --- Turn pipeline ---
	guard := guardrail.New(client, cfg.Gemini.TextModel, cfg.Gemini.VisionModel, auditStore, logger)
	policy := action.NewPolicy(auditStore, logger)
	executor := action.NewExecutor(auditStore, logger)
	orch := turn.New(guard, client, hist, policy, executor,
		cfg.Gemini.TextModel, cfg.Gemini.VisionModel, logger)

	server := web.NewServer(cfg.Listen.Address, cfg.Listen.Port, orch, hist, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Gatehouse stopped")
	return nil
}

// newLogger creates a structured text logger writing to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig locates and parses the YAML configuration file.
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
