package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/engine/claude"
	"github.com/takopihq/takopi/internal/engine/codex"
	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/runtime"
	"github.com/takopihq/takopi/internal/telegram"
	"github.com/takopihq/takopi/internal/telemetry"
)

func setupLogging() {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

func isInteractive() bool {
	if os.Getenv("TAKOPI_NO_INTERACTIVE") != "" {
		return false
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// displayPath shortens a path under the home directory to ~/….
func displayPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if rel, err := filepath.Rel(home, path); err == nil && !strings.HasPrefix(rel, "..") {
		return "~/" + rel
	}
	return path
}

func buildRunners() []engine.Runner {
	return []engine.Runner{codex.New(), claude.New()}
}

func engineCommandIDs() []model.EngineID {
	ids := make([]model.EngineID, 0, 2)
	for _, r := range buildRunners() {
		ids = append(ids, r.ID())
	}
	return ids
}

// loadConfig loads the config, offering onboarding when it is missing
// and a TTY is attached.
func loadConfig() (*config.Config, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	if flagOnboard {
		if !isInteractive() {
			return nil, errors.New("--onboard requires a TTY")
		}
		if err := runOnboardWizard(path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) && !flagOnboard && isInteractive() {
		fmt.Printf("no config at %s; starting the setup wizard.\n", displayPath(path))
		if werr := runOnboardWizard(path); werr != nil {
			return nil, werr
		}
		cfg, err = config.Load(path)
	}
	if errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("missing takopi config at %s (run `takopi --onboard`)", displayPath(path))
	}
	return cfg, err
}

// runBridge starts the Telegram bridge. engineOverride, when set by an
// engine subcommand, replaces the configured default engine.
func runBridge(engineOverride string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	transport := cfg.Transport
	if flagTransport != "" {
		transport = flagTransport
	}
	if transport == "" {
		transport = "telegram"
	}
	if transport != "telegram" {
		return fmt.Errorf("unknown transport %q (available: telegram)", transport)
	}

	runners := buildRunners()
	defaultID := model.EngineID(engineOverride)
	if defaultID == "" {
		defaultID = model.EngineID(cfg.DefaultEngine)
	}
	if defaultID == "" {
		defaultID = codex.EngineID
	}
	router, err := engine.NewRouter(defaultID, runners...)
	if err != nil {
		return err
	}
	entry, err := router.EntryForEngine(defaultID)
	if err != nil {
		return err
	}
	if !entry.Available {
		return fmt.Errorf("default engine %q unavailable: %s", defaultID, entry.Issue)
	}

	engineIDs := make([]string, 0, len(runners))
	for _, r := range runners {
		engineIDs = append(engineIDs, string(r.ID()))
	}
	if err := cfg.Validate(engineIDs); err != nil {
		return err
	}

	lock, err := config.AcquireLock(cfg.Path, cfg.Transports.Telegram.BotToken)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("telemetry.shutdown_failed", "error", err)
		}
	}()

	rt := runtime.New(router, cfg)
	bridge, err := telegram.NewBridge(rt, telegram.Options{
		FinalNotify: flagFinalNotify,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}

	slog.Info("bridge.starting", "engine", defaultID, "config", displayPath(cfg.Path), "version", Version)
	err = bridge.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("shutdown.interrupted")
		return errInterrupted
	}
	return err
}
