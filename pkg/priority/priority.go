// Package priority implements the periodic priority scorer: on each
// sweep it gathers every active agent against the current objective, asks
// the oracle to rank them in one batched call, and persists any changed
// score. Grounded on pkg/queue/worker.go's stop-channel polling loop,
// already adapted once for this codebase's own monitor goroutine in
// pkg/hookreceiver.
package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/oracle"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// Scorer periodically re-ranks active agents against the current objective.
type Scorer struct {
	objectives *store.ObjectiveStore
	agents     *store.AgentStore
	commands   *store.CommandStore
	projects   *store.ProjectStore
	oracle     *oracle.Oracle
	events     *eventwriter.Writer

	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Scorer. interval is the sweep period.
func New(objectives *store.ObjectiveStore, agents *store.AgentStore, commands *store.CommandStore,
	projects *store.ProjectStore, oc *oracle.Oracle, events *eventwriter.Writer, interval time.Duration) *Scorer {
	return &Scorer{
		objectives: objectives,
		agents:     agents,
		commands:   commands,
		projects:   projects,
		oracle:     oc,
		events:     events,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine.
func (s *Scorer) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scorer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scorer) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				slog.Error("priority sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one scoring round. It is exported so tests and a manual trigger
// endpoint can invoke it without waiting on the ticker.
func (s *Scorer) Sweep(ctx context.Context) error {
	objective, err := s.objectives.Current(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load current objective: %w", err)
	}
	if !objective.PriorityEnabled {
		return nil
	}

	agents, err := s.agents.Active(ctx)
	if err != nil {
		return fmt.Errorf("load active agents: %w", err)
	}

	type scored struct {
		agent *models.Agent
	}
	candidates := make([]oracle.PriorityCandidate, 0, len(agents))
	byAgentID := make(map[int64]scored, len(agents))

	for _, a := range agents {
		project, err := s.projects.GetByID(ctx, a.ProjectID)
		if err != nil {
			return fmt.Errorf("load project for agent %d: %w", a.ID, err)
		}
		if project.InferencePaused {
			continue
		}

		cand := oracle.PriorityCandidate{AgentID: a.ID, State: string(models.CommandIdle)}
		if cmd, err := s.commands.LatestForAgent(ctx, a.ID); err == nil {
			cand.State = string(cmd.State)
			if cmd.Instruction != nil {
				cand.Instruction = *cmd.Instruction
			}
			if cmd.CompletionSummary != nil {
				cand.LastSummary = *cmd.CompletionSummary
			}
		} else if err != store.ErrNotFound {
			return fmt.Errorf("load latest command for agent %d: %w", a.ID, err)
		}

		candidates = append(candidates, cand)
		byAgentID[a.ID] = scored{agent: a}
	}

	if len(candidates) == 0 {
		return nil
	}

	scores, err := s.oracle.ScorePriority(ctx, objective.Text, candidates)
	if err != nil {
		return fmt.Errorf("score priority: %w", err)
	}

	for _, score := range scores {
		entry, ok := byAgentID[score.AgentID]
		if !ok {
			continue
		}
		a := entry.agent
		if a.PriorityScore != nil && *a.PriorityScore == score.Score && a.PriorityReason != nil && *a.PriorityReason == score.Reason {
			continue
		}

		if err := s.agents.SetPriority(ctx, a.ID, score.Score, score.Reason); err != nil {
			return fmt.Errorf("set priority for agent %d: %w", a.ID, err)
		}
		s.emitPriorityUpdated(ctx, a, score)
	}

	return nil
}

func (s *Scorer) emitPriorityUpdated(ctx context.Context, a *models.Agent, score oracle.PriorityScore) {
	payload, _ := json.Marshal(map[string]any{
		"agent_id": a.ID,
		"score":    score.Score,
		"reason":   score.Reason,
	})
	agentID := a.ID
	s.events.Write(ctx, eventwriter.Request{
		Type: models.EventPriorityUpdated, Payload: payload,
		ProjectID: &a.ProjectID, AgentID: &agentID,
	})
	s.events.Write(ctx, eventwriter.Request{
		Type: models.EventCardRefresh, Payload: payload,
		ProjectID: &a.ProjectID, AgentID: &agentID,
	})
}
