// Command headspace is the long-lived HTTP service: the dashboard API, the
// hook receiver, the SSE stream, and every periodic sweep that does not
// need to tail a JSONL transcript (priority scoring, summarisation, pane
// reconciliation). Transcript tailing itself lives in the separate
// headspace-watcher process; see cmd/headspace-watcher.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/samotage/claude-headspace-sub003/pkg/api"
	"github.com/samotage/claude-headspace-sub003/pkg/apicall"
	"github.com/samotage/claude-headspace-sub003/pkg/broadcaster"
	"github.com/samotage/claude-headspace-sub003/pkg/card"
	"github.com/samotage/claude-headspace-sub003/pkg/cleanup"
	"github.com/samotage/claude-headspace-sub003/pkg/config"
	"github.com/samotage/claude-headspace-sub003/pkg/correlator"
	"github.com/samotage/claude-headspace-sub003/pkg/database"
	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/exceptionreporter"
	"github.com/samotage/claude-headspace-sub003/pkg/guardrail"
	"github.com/samotage/claude-headspace-sub003/pkg/hookreceiver"
	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
	"github.com/samotage/claude-headspace-sub003/pkg/lock"
	"github.com/samotage/claude-headspace-sub003/pkg/oracle"
	"github.com/samotage/claude-headspace-sub003/pkg/personacontent"
	"github.com/samotage/claude-headspace-sub003/pkg/priority"
	"github.com/samotage/claude-headspace-sub003/pkg/procmonitor"
	"github.com/samotage/claude-headspace-sub003/pkg/reaper"
	"github.com/samotage/claude-headspace-sub003/pkg/remotetoken"
	"github.com/samotage/claude-headspace-sub003/pkg/session"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
	"github.com/samotage/claude-headspace-sub003/pkg/summary"
	"github.com/samotage/claude-headspace-sub003/pkg/terminal"
	"github.com/samotage/claude-headspace-sub003/pkg/voiceauth"
)

var errWatcherNotAlive = errors.New("headspace-watcher heartbeat is absent or stale")

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.DevConsole {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// noopIntervalSwitcher satisfies hookreceiver.IntervalSwitcher in this
// process. The transcript watcher that actually owns a polling interval
// runs in the separate headspace-watcher process and re-derives its own
// cadence from its own sweep loop rather than reacting to this service's
// hook traffic.
type noopIntervalSwitcher struct{}

func (noopIntervalSwitcher) SetInterval(time.Duration) {}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("error closing database client", "error", err)
		}
	}()
	db := dbClient.DB()

	agents := store.NewAgentStore(db)
	projects := store.NewProjectStore(db)
	personas := store.NewPersonaStore(db)
	roles := store.NewRoleStore(db)
	objectives := store.NewObjectiveStore(db)
	activity := store.NewActivityStore(db)
	commands := store.NewCommandStore(db)
	turns := store.NewTurnStore(db)
	handoffs := store.NewHandoffStore(db)
	inferenceCalls := store.NewInferenceCallStore(db)
	apiCallLogs := store.NewAPICallLogStore(db)

	registry := session.NewRegistry()
	locks := lock.New(db)
	events := eventwriter.New(db, cfg.EventSystem.RetryInitialDelay, cfg.EventSystem.RetryMaxElapsedTime)
	sanitiser := guardrail.NewSanitiser(cfg.Guardrail)

	corr := correlator.New(db, locks, agents, commands, turns, events, sanitiser,
		cfg.Correlator.DedupeWindow, cfg.Correlator.DedupeCap, cfg.Correlator.RateMax, cfg.Correlator.RateWindow)

	bridge := terminal.New("", cfg.TmuxBridge.SpawnTimeout)

	guardrails := guardrail.NewDocumentProvider(cfg.Guardrail.DocumentPath)
	personaContent := personacontent.New(cfg.Personas.Root)

	lifecycleCtl := lifecycle.New(projects, agents, personas, handoffs, bridge, events,
		personaContent, guardrails, cfg.TmuxBridge.ReplBinary, cfg.TmuxBridge.InjectKeyDelay)

	rpr := reaper.New(registry, agents, bridge, lifecycleCtl, events,
		cfg.Reaper.StaleThreshold, cfg.Reaper.SweepInterval, cfg.Reaper.MaxConsecutiveFailures)

	hooks := hookreceiver.New(registry, projects, agents, corr, events, noopIntervalSwitcher{},
		cfg.FileWatcher.HookActiveInterval, cfg.FileWatcher.PollInterval, cfg.FileWatcher.ActiveWindow)

	oc := oracle.New(oracle.Config{
		Endpoint:  cfg.Oracle.Endpoint,
		Model:     cfg.Oracle.Model,
		Timeout:   cfg.Oracle.Timeout,
		APIKeyEnv: cfg.Oracle.APIKeyEnv,
		CacheTTL:  cfg.Oracle.CacheTTL,
	}, inferenceCalls)

	priorityScorer := priority.New(objectives, agents, commands, projects, oc, events, cfg.Priority.SweepInterval)
	summariser := summary.New(turns, commands, inferenceCalls, projects, agents, oc, cfg.Summary.SweepInterval, cfg.Summary.BatchSize)

	bc := broadcaster.New(cfg.SSE.SubscriberBufferSize, cfg.SSE.HeartbeatInterval)
	remoteTokens := remotetoken.New()
	voiceAuth := voiceauth.New(voiceauth.Config{
		Token:             cfg.VoiceBridge.Token,
		LocalhostBypass:   cfg.VoiceBridge.LocalhostBypass,
		RequestsPerMinute: cfg.VoiceBridge.RequestsPerMinute,
	}, logger)
	apiCallLogger := apicall.New(apiCallLogs, events, cfg.APICallLogging.PathPrefixes, sanitiser, logger)
	cardBuilder := card.New(agents, commands, projects, turns, time.Duration(cfg.Dashboard.StaleProcessingSeconds)*time.Second)

	exceptions := exceptionreporter.New(exceptionreporter.Config{
		Enabled:         cfg.ExceptionReporting.Enabled,
		WebhookURL:      cfg.ExceptionReporting.Endpoint,
		WebhookSecret:   cfg.ExceptionReporting.WebhookSecret,
		Timeout:         cfg.ExceptionReporting.Timeout,
		RateLimitPerSec: float64(cfg.ExceptionReporting.RequestsPerMinute) / 60,
	}, &exceptionreporter.HTTPSink{
		URL:    cfg.ExceptionReporting.Endpoint,
		Secret: cfg.ExceptionReporting.WebhookSecret,
		Client: &http.Client{Timeout: cfg.ExceptionReporting.Timeout},
	}, logger)

	watcherHealth := procmonitor.NewChecker(
		filepath.Join(*configDir, "headspace-watcher.pid"),
		filepath.Join(*configDir, "headspace-watcher.heartbeat"),
		3*cfg.FileWatcher.PollInterval)

	server := api.New(api.Deps{
		Config: cfg,
		DB:     db,
		Log:    logger,

		Agents:     agents,
		Projects:   projects,
		Personas:   personas,
		Roles:      roles,
		Objectives: objectives,
		Activity:   activity,

		Cards:        cardBuilder,
		Lifecycle:    lifecycleCtl,
		RemoteTokens: remoteTokens,
		Broadcaster:  bc,
		HookReceiver: hooks,
		VoiceAuth:    voiceAuth,
		APICallLog:   apiCallLogger,
		Events:       events,
		LockManager:  locks,
		Reaper:       rpr,

		WatcherHealth: watcherHealth,
	})

	retentionSweep := cleanup.New(&cfg.Retention, agents, events)

	rpr.Start(ctx)
	priorityScorer.Start(ctx)
	summariser.Start(ctx)
	retentionSweep.Start(ctx)

	if exceptions.IsConfigured() {
		logger.Info("exception reporting enabled", "endpoint", cfg.ExceptionReporting.Endpoint)
		go watchWatcherHealth(ctx, watcherHealth, exceptions, cfg.FileWatcher.PollInterval)
	}

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	logger.Info("starting headspace", "addr", addr, "config_dir", *configDir)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(addr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server exited", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}

	retentionSweep.Stop()
	summariser.Stop()
	priorityScorer.Stop()
	rpr.Stop()
}

// watchWatcherHealth polls the headspace-watcher process's heartbeat file
// and forwards a not-alive verdict to the exception reporter — a gap in
// transcript tailing has no other signal an operator would otherwise see
// short of staring at the dashboard for a card that stops updating.
func watchWatcherHealth(ctx context.Context, checker *procmonitor.Checker, reporter *exceptionreporter.Reporter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasAlive := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := checker.Check()
			if !status.Alive && wasAlive {
				reporter.Report(errWatcherNotAlive, "headspace-watcher", "warning", map[string]any{
					"pid_file_present": status.PIDFilePresent,
					"last_beat":        status.LastBeat,
				})
			}
			wasAlive = status.Alive
		}
	}
}
