// Package reaper implements the periodic reaper: closing sessions
// that have gone inactive past a threshold, and ending agents whose pane
// fails its health check too many times running to reconnect them.
// Grounded on pkg/queue/orphan.go's scan-and-recover ticker loop, adapted
// from ent session queries to the in-memory session registry plus the
// agents table.
package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/session"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
	"github.com/samotage/claude-headspace-sub003/pkg/terminal"
)

// Reaper periodically closes inactive sessions and ends agents whose pane
// has stopped responding.
type Reaper struct {
	registry    *session.Registry
	agents      *store.AgentStore
	bridge      *terminal.Bridge
	controller  *lifecycle.Controller
	events      *eventwriter.Writer

	inactivityThreshold  time.Duration
	healthCheckInterval  time.Duration
	maxConsecutiveFailures int

	mu       sync.Mutex
	failures map[int64]int

	cycleMu          sync.Mutex
	lastCycleAt      time.Time
	lastCycleElapsed time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Reaper. maxConsecutiveFailures is how many pane health
// checks in a row must fail (after a reconnection attempt finds no
// candidate) before the agent is marked ended.
func New(registry *session.Registry, agents *store.AgentStore, bridge *terminal.Bridge,
	controller *lifecycle.Controller, events *eventwriter.Writer,
	inactivityThreshold, healthCheckInterval time.Duration, maxConsecutiveFailures int) *Reaper {
	return &Reaper{
		registry: registry, agents: agents, bridge: bridge, controller: controller, events: events,
		inactivityThreshold: inactivityThreshold, healthCheckInterval: healthCheckInterval,
		maxConsecutiveFailures: maxConsecutiveFailures,
		failures:               make(map[int64]int),
		stopCh:                 make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			r.SweepInactiveSessions(ctx)
			if err := r.SweepPaneHealth(ctx); err != nil {
				slog.Error("pane health sweep failed", "error", err)
			}
			r.recordCycle(start, time.Since(start))
		}
	}
}

// CycleStats reports when the last sweep cycle ran and how long it took,
// polled by the metrics exporter.
type CycleStats struct {
	LastCycleAt      time.Time
	LastCycleElapsed time.Duration
}

// Stats returns a snapshot of the reaper's last completed sweep cycle.
func (r *Reaper) Stats() CycleStats {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	return CycleStats{LastCycleAt: r.lastCycleAt, LastCycleElapsed: r.lastCycleElapsed}
}

func (r *Reaper) recordCycle(at time.Time, elapsed time.Duration) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	r.lastCycleAt = at
	r.lastCycleElapsed = elapsed
}

// SweepInactiveSessions closes every registered session whose last
// activity exceeds the inactivity threshold.
func (r *Reaper) SweepInactiveSessions(ctx context.Context) {
	for _, s := range r.registry.Stale(r.inactivityThreshold, time.Now()) {
		r.closeInactiveSession(ctx, s.SessionUUID)
	}
}

func (r *Reaper) closeInactiveSession(ctx context.Context, sessionUUID uuid.UUID) {
	agent, err := r.agents.GetBySessionUUID(ctx, sessionUUID)
	if err != nil {
		r.registry.Unregister(sessionUUID)
		return
	}
	if agent.EndedAt == nil {
		if err := r.agents.SetEnded(ctx, agent.ID); err != nil {
			slog.Error("failed to mark inactive agent ended", "agent_id", agent.ID, "error", err)
			return
		}
		r.emitSessionEnded(ctx, agent.ID, agent.ProjectID, "timeout")
	}
	r.registry.Unregister(sessionUUID)
}

// SweepPaneHealth checks every active agent's recorded pane, attempting a
// reconnection via the lifecycle controller once consecutive failures
// exceed the threshold; if reconnection finds no candidate, the agent is
// marked ended.
func (r *Reaper) SweepPaneHealth(ctx context.Context) error {
	agents, err := r.agents.Active(ctx)
	if err != nil {
		return fmt.Errorf("list active agents: %w", err)
	}

	var toReconcile []int64
	for _, a := range agents {
		if a.TmuxPaneID == nil {
			continue
		}
		health, err := r.bridge.CheckHealth(ctx, *a.TmuxPaneID)
		if err == nil && health.Available {
			r.clearFailures(a.ID)
			continue
		}

		count := r.incrementFailures(a.ID)
		if count >= r.maxConsecutiveFailures {
			toReconcile = append(toReconcile, a.ID)
		}
	}
	if len(toReconcile) == 0 {
		return nil
	}

	reconnected, err := r.controller.ReconcilePanes(ctx)
	if err != nil {
		return fmt.Errorf("reconcile panes: %w", err)
	}
	reconnectedSet := make(map[int64]bool, len(reconnected))
	for _, id := range reconnected {
		reconnectedSet[id] = true
	}

	for _, agentID := range toReconcile {
		if reconnectedSet[agentID] {
			r.clearFailures(agentID)
			continue
		}
		agent, err := r.agents.GetByID(ctx, agentID)
		if err != nil || agent.EndedAt != nil {
			continue
		}
		if err := r.agents.SetEnded(ctx, agentID); err != nil {
			slog.Error("failed to end unresponsive agent", "agent_id", agentID, "error", err)
			continue
		}
		r.clearFailures(agentID)
		r.emitSessionEnded(ctx, agentID, agent.ProjectID, "unresponsive")
	}
	return nil
}

func (r *Reaper) incrementFailures(agentID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[agentID]++
	return r.failures[agentID]
}

func (r *Reaper) clearFailures(agentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, agentID)
}

func (r *Reaper) emitSessionEnded(ctx context.Context, agentID, projectID int64, reason string) {
	payload, _ := json.Marshal(map[string]any{"reason": reason})
	r.events.Write(ctx, eventwriter.Request{
		Type: models.EventSessionEnded, Payload: payload,
		ProjectID: &projectID, AgentID: &agentID,
	})
}
