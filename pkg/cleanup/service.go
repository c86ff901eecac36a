// Package cleanup runs the background data-retention sweep.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/config"
	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// Service periodically enforces retention policies:
//   - Deletes ended agents past their retention window (cascading to their
//     commands, turns, and handoff row)
//   - Deletes event rows past their own, longer-lived, retention window
//
// Both operations are idempotent and safe to run from multiple instances.
type Service struct {
	config *config.RetentionConfig
	agents *store.AgentStore
	events *eventwriter.Writer

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Service.
func New(cfg *config.RetentionConfig, agents *store.AgentStore, events *eventwriter.Writer) *Service {
	return &Service{
		config: cfg,
		agents: agents,
		events: events,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"agent_retention", s.config.AgentRetention,
		"event_retention", s.config.EventRetention,
		"interval", s.config.SweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldAgents(ctx)
	s.deleteOldEvents(ctx)
}

func (s *Service) deleteOldAgents(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.AgentRetention)
	count, err := s.agents.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention: delete old agents failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: deleted old agents", "count", count)
	}
}

func (s *Service) deleteOldEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EventRetention)
	count, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: delete old events failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: deleted old events", "count", count)
	}
}
