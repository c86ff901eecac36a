// Command headspace-watcher is the long-lived transcript-tailing process:
// it rebuilds its own session registry from storage, tails every active
// session's JSONL transcript, and correlates every discovered turn against
// the owning agent's command state. It is a separate OS process from
// cmd/headspace because pkg/session.Registry is in-memory and therefore
// unshareable across a process boundary; see DESIGN.md's "Watcher process
// session registry" decision for the full reasoning.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/samotage/claude-headspace-sub003/pkg/config"
	"github.com/samotage/claude-headspace-sub003/pkg/correlator"
	"github.com/samotage/claude-headspace-sub003/pkg/database"
	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/guardrail"
	"github.com/samotage/claude-headspace-sub003/pkg/lock"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/procmonitor"
	"github.com/samotage/claude-headspace-sub003/pkg/session"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
	"github.com/samotage/claude-headspace-sub003/pkg/watcher"
)

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

// registrySyncer rebuilds registry membership from storage on a ticker —
// the private, in-process substitute for sharing cmd/headspace's own
// registry across the process boundary.
type registrySyncer struct {
	registry *session.Registry
	agents   *store.AgentStore
	projects *store.ProjectStore
	log      *slog.Logger
}

func (s *registrySyncer) sync(ctx context.Context) {
	active, err := s.agents.Active(ctx)
	if err != nil {
		s.log.Error("list active agents failed", "error", err)
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(active))
	for _, a := range active {
		seen[a.SessionUUID] = struct{}{}

		if _, err := s.registry.Get(a.SessionUUID); err == nil {
			continue // already registered, leave its JSONL path/offset alone
		}

		project, err := s.projects.GetByID(ctx, a.ProjectID)
		if err != nil {
			s.log.Error("resolve project for active agent failed", "agent_id", a.ID, "error", err)
			continue
		}
		s.registry.Register(a.SessionUUID, project.Path, project.Path)
	}

	for _, sess := range s.registry.All() {
		if _, ok := seen[sess.SessionUUID]; !ok {
			s.registry.Unregister(sess.SessionUUID)
		}
	}
}

func (s *registrySyncer) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// turnCorrelator adapts a discovered transcript turn into a correlator
// call, resolving the agent/project the same way pkg/hookreceiver resolves
// them for actively-pushed hook payloads.
type turnCorrelator struct {
	agents *store.AgentStore
	corr   *correlator.Correlator
	log    *slog.Logger
}

func (t *turnCorrelator) handle(turn watcher.ParsedTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent, err := t.agents.GetBySessionUUID(ctx, turn.SessionUUID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			t.log.Error("resolve agent for transcript turn failed", "session_uuid", turn.SessionUUID, "error", err)
		}
		return
	}

	actor := models.Actor(turn.Actor)
	intent := models.IntentProgress
	if actor == models.ActorUser {
		intent = models.IntentCommand
	}

	_, err = t.corr.Correlate(ctx, correlator.Input{
		AgentID:         agent.ID,
		ProjectID:       agent.ProjectID,
		Actor:           actor,
		Intent:          intent,
		Text:            turn.Text,
		Timestamp:       turn.Timestamp,
		TimestampSource: models.TimestampSourceJSONL,
		JSONLEntryHash:  correlator.ContentHash(actor, turn.Text),
	})
	if err != nil {
		t.log.Error("correlate transcript turn failed", "agent_id", agent.ID, "error", err)
	}
}

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
	commands := store.NewCommandStore(db)
	turns := store.NewTurnStore(db)

	registry := session.NewRegistry()
	locks := lock.New(db)
	events := eventwriter.New(db, cfg.EventSystem.RetryInitialDelay, cfg.EventSystem.RetryMaxElapsedTime)
	sanitiser := guardrail.NewSanitiser(cfg.Guardrail)
	corr := correlator.New(db, locks, agents, commands, turns, events, sanitiser,
		cfg.Correlator.DedupeWindow, cfg.Correlator.DedupeCap, cfg.Correlator.RateMax, cfg.Correlator.RateWindow)

	registrySync := &registrySyncer{registry: registry, agents: agents, projects: projects, log: logger}
	registrySync.sync(ctx) // populate before the first poll so session discovery has sessions to find

	tc := &turnCorrelator{agents: agents, corr: corr, log: logger}
	w := watcher.New(registry, cfg.FileWatcher.ProjectsRoot, cfg.FileWatcher.PollInterval, cfg.FileWatcher.DebounceWindow, tc.handle)

	monitor := procmonitor.New(
		filepath.Join(*configDir, "headspace-watcher.pid"),
		filepath.Join(*configDir, "headspace-watcher.heartbeat"),
		cfg.FileWatcher.PollInterval)
	if err := monitor.Start(ctx); err != nil {
		logger.Error("failed to start liveness monitor", "error", err)
		os.Exit(1)
	}

	logger.Info("starting headspace-watcher", "projects_root", cfg.FileWatcher.ProjectsRoot, "config_dir", *configDir)

	w.Start(ctx)
	go registrySync.run(ctx, cfg.Reaper.SweepInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	w.Stop()
	monitor.Stop()
}
