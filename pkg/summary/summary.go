// Package summary runs the two background summarisers that keep turns and
// completed commands readable at a glance: one sweeps recent turns
// with no summary yet, the other sweeps commands that reached COMPLETE
// without a recorded command-level inference call. Grounded on
// pkg/queue/worker.go's stop-channel polling loop, the same idiom already
// adapted for pkg/hookreceiver and pkg/priority in this codebase.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/oracle"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// Summariser sweeps unsummarised turns and completed commands and fills
// their summaries via the oracle.
type Summariser struct {
	turns      *store.TurnStore
	commands   *store.CommandStore
	calls      *store.InferenceCallStore
	projects   *store.ProjectStore
	agents     *store.AgentStore
	oracle     *oracle.Oracle

	interval  time.Duration
	batchSize int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Summariser. interval is the sweep period, batchSize caps how
// many turns/commands are pulled per sweep.
func New(turns *store.TurnStore, commands *store.CommandStore, calls *store.InferenceCallStore,
	projects *store.ProjectStore, agents *store.AgentStore, oc *oracle.Oracle,
	interval time.Duration, batchSize int) *Summariser {
	return &Summariser{
		turns: turns, commands: commands, calls: calls,
		projects: projects, agents: agents, oracle: oc,
		interval: interval, batchSize: batchSize,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop in a goroutine.
func (s *Summariser) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Summariser) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Summariser) run(ctx context.Context) {
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
			if err := s.SweepTurns(ctx); err != nil {
				slog.Error("turn summary sweep failed", "error", err)
			}
			if err := s.SweepCommands(ctx); err != nil {
				slog.Error("command summary sweep failed", "error", err)
			}
		}
	}
}

// SweepTurns summarises up to batchSize turns with non-trivial text and no
// summary yet, oldest first. A turn belonging to a paused project is left
// for a later sweep rather than summarised for free.
func (s *Summariser) SweepTurns(ctx context.Context) error {
	turns, err := s.turns.RecentUnsummarized(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("load unsummarized turns: %w", err)
	}

	for _, t := range turns {
		cmd, err := s.commands.GetByID(ctx, t.CommandID)
		if err != nil {
			return fmt.Errorf("load command for turn %d: %w", t.ID, err)
		}
		paused, err := s.projectPaused(ctx, cmd.AgentID)
		if err != nil {
			return err
		}
		if paused {
			continue
		}

		turnID := t.ID
		commandID := t.CommandID
		text, err := s.oracle.Summarize(ctx, models.InferenceLevelTurn,
			oracle.ParentRefs{CommandID: &commandID, TurnID: &turnID}, t.Text)
		if err != nil {
			return fmt.Errorf("summarize turn %d: %w", t.ID, err)
		}
		if err := s.turns.SetSummary(ctx, t.ID, text); err != nil {
			return fmt.Errorf("set turn %d summary: %w", t.ID, err)
		}
	}
	return nil
}

// SweepCommands summarises up to batchSize commands that reached COMPLETE
// without a recorded command-level inference call, overwriting the raw
// final-turn text CommandStore.Transition wrote as a placeholder.
func (s *Summariser) SweepCommands(ctx context.Context) error {
	commandIDs, err := s.calls.CommandsNeedingSummary(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("load commands needing summary: %w", err)
	}

	for _, id := range commandIDs {
		cmd, err := s.commands.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load command %d: %w", id, err)
		}
		paused, err := s.projectPaused(ctx, cmd.AgentID)
		if err != nil {
			return err
		}
		if paused {
			continue
		}
		if cmd.FullOutput == nil || *cmd.FullOutput == "" {
			continue
		}

		commandID := id
		text, err := s.oracle.Summarize(ctx, models.InferenceLevelCommand,
			oracle.ParentRefs{CommandID: &commandID}, *cmd.FullOutput)
		if err != nil {
			return fmt.Errorf("summarize command %d: %w", id, err)
		}
		if err := s.commands.SetCompletionSummary(ctx, id, text); err != nil {
			return fmt.Errorf("set command %d completion summary: %w", id, err)
		}
	}
	return nil
}

func (s *Summariser) projectPaused(ctx context.Context, agentID int64) (bool, error) {
	a, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load agent %d: %w", agentID, err)
	}
	p, err := s.projects.GetByID(ctx, a.ProjectID)
	if err != nil {
		return false, fmt.Errorf("load project for agent %d: %w", agentID, err)
	}
	return p.InferencePaused, nil
}
