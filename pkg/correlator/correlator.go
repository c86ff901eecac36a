// Package correlator applies the hook receiver's five hook kinds and the
// transcript watcher's parsed turns to the command state machine, writing the resulting turn, command-state change, and event
// atomically under the advisory lock for the owning agent.
package correlator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/lock"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/statemachine"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// ErrRateLimited is returned when an agent's command-creation rate exceeds
// its configured cap.
var ErrRateLimited = errors.New("correlator: command creation rate limit exceeded")

// Outcome describes what the correlator did with one turn.
type Outcome struct {
	Skipped      bool // true for a deduplicated or rejected (no-op) turn
	NewCommand   bool
	CommandID    int64
	TurnID       int64
	FromState    models.CommandState
	ToState      models.CommandState
	RejectReason string
}

// Input is one turn to correlate, sourced from either a hook payload or a
// parsed JSONL line.
type Input struct {
	AgentID         int64
	ProjectID       int64
	Actor           models.Actor
	Intent          models.TurnIntent
	Text            string
	Timestamp       time.Time
	TimestampSource models.TimestampSource
	JSONLEntryHash  string // empty when the turn has no corresponding JSONL line
	LockTimeout     time.Duration
}

// secretMasker narrows *guardrail.Sanitiser to the one method Correlator
// needs, so tests can stub it without a real GuardrailConfig.
type secretMasker interface {
	MaskSecrets(text string) string
}

// Correlator ties the lock manager, the repositories, the pure state
// machine, and the event writer together.
type Correlator struct {
	db        *sql.DB
	locks     *lock.Manager
	agents    *store.AgentStore
	commands  *store.CommandStore
	turns     *store.TurnStore
	events    *eventwriter.Writer
	sanitiser secretMasker

	dedupe  *dedupeRing
	limiter *rateLimiter
}

// New builds a Correlator. sanitiser masks secret patterns out of turn text
// before it's persisted or broadcast — nil disables masking, since not
// every caller (tests, a deployment with no configured patterns) needs it.
// dedupeWindow/dedupeCap bound the in-process duplicate-hash ring;
// rateMax/rateWindow bound per-agent command creation.
func New(db *sql.DB, locks *lock.Manager, agents *store.AgentStore, commands *store.CommandStore,
	turns *store.TurnStore, events *eventwriter.Writer, sanitiser secretMasker,
	dedupeWindow time.Duration, dedupeCap int, rateMax int, rateWindow time.Duration) *Correlator {
	return &Correlator{
		db:        db,
		locks:     locks,
		agents:    agents,
		commands:  commands,
		turns:     turns,
		events:    events,
		sanitiser: sanitiser,
		dedupe:    newDedupeRing(dedupeWindow, dedupeCap),
		limiter:   newRateLimiter(rateMax, rateWindow),
	}
}

// Correlate applies one turn to the owning agent's current command.
func (c *Correlator) Correlate(ctx context.Context, in Input) (Outcome, error) {
	if c.dedupe.Seen(in.AgentID, in.JSONLEntryHash, time.Now()) {
		return Outcome{Skipped: true, RejectReason: "deduplicated"}, nil
	}

	timeout := in.LockTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	heldCtx, release, err := c.locks.Lock(ctx, lock.NamespaceAgent, in.AgentID, timeout)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire agent lock: %w", err)
	}
	defer release(heldCtx)

	current, fromState, err := c.currentCommand(heldCtx, in.AgentID)
	if err != nil {
		return Outcome{}, err
	}

	result := statemachine.Validate(fromState, in.Actor, in.Intent)

	if result.NewCommand {
		return c.openNewCommand(heldCtx, in, fromState)
	}

	if !result.Valid {
		c.recordRejection(heldCtx, in, fromState, result.Reason)
		return Outcome{Skipped: true, FromState: fromState, RejectReason: result.Reason}, nil
	}

	return c.applyTransition(heldCtx, in, current, fromState, result)
}

// CorrelateStop applies the "stop" hook, a bare state transition carrying no
// turn text of its own.
func (c *Correlator) CorrelateStop(ctx context.Context, agentID, projectID int64) (Outcome, error) {
	return c.correlateHookTransition(ctx, agentID, projectID, statemachine.ValidateStop)
}

// CorrelateNotification applies the "notification" hook, likewise a bare
// state transition.
func (c *Correlator) CorrelateNotification(ctx context.Context, agentID, projectID int64) (Outcome, error) {
	return c.correlateHookTransition(ctx, agentID, projectID, statemachine.ValidateNotification)
}

func (c *Correlator) correlateHookTransition(ctx context.Context, agentID, projectID int64, validate func(models.CommandState) statemachine.Result) (Outcome, error) {
	heldCtx, release, err := c.locks.Lock(ctx, lock.NamespaceAgent, agentID, 10*time.Second)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire agent lock: %w", err)
	}
	defer release(heldCtx)

	current, fromState, err := c.currentCommand(heldCtx, agentID)
	if err != nil {
		return Outcome{}, err
	}

	result := validate(fromState)
	in := Input{AgentID: agentID, ProjectID: projectID}

	if !result.Valid {
		c.recordRejection(heldCtx, in, fromState, result.Reason)
		return Outcome{Skipped: true, FromState: fromState, RejectReason: result.Reason}, nil
	}

	tx, err := c.db.BeginTx(heldCtx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := c.commands.Transition(heldCtx, tx, current.ID, result.ToState, ""); err != nil {
		return Outcome{}, fmt.Errorf("apply hook transition: %w", err)
	}
	c.writeEvent(heldCtx, tx, models.EventStateTransition, in, &current.ID, nil)

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit hook transition: %w", err)
	}

	return Outcome{CommandID: current.ID, FromState: fromState, ToState: result.ToState}, nil
}

// currentCommand returns the agent's latest command and its state, or
// (nil, IDLE) if the agent has never had one.
func (c *Correlator) currentCommand(ctx context.Context, agentID int64) (*models.Command, models.CommandState, error) {
	cmd, err := c.commands.LatestForAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.CommandIdle, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load latest command: %w", err)
	}
	if cmd.State == models.CommandComplete {
		return cmd, models.CommandIdle, nil
	}
	return cmd, cmd.State, nil
}

func (c *Correlator) openNewCommand(ctx context.Context, in Input, fromState models.CommandState) (Outcome, error) {
	if !c.limiter.Allow(in.AgentID, time.Now()) {
		return Outcome{}, ErrRateLimited
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cmd, err := c.commands.Create(ctx, tx, in.AgentID, in.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("open new command: %w", err)
	}

	turnID, err := c.insertTurn(ctx, tx, in, cmd.ID)
	if errors.Is(err, store.ErrDuplicateTurn) {
		return Outcome{Skipped: true, RejectReason: "duplicate turn"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	c.writeEvent(ctx, tx, models.EventTurnDetected, in, &cmd.ID, &turnID)
	c.writeEvent(ctx, tx, models.EventStateTransition, in, &cmd.ID, &turnID)

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit new command: %w", err)
	}

	return Outcome{
		NewCommand: true,
		CommandID:  cmd.ID,
		TurnID:     turnID,
		FromState:  fromState,
		ToState:    models.CommandCommanded,
	}, nil
}

func (c *Correlator) applyTransition(ctx context.Context, in Input, current *models.Command, fromState models.CommandState, result statemachine.Result) (Outcome, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	turnID, err := c.insertTurn(ctx, tx, in, current.ID)
	if errors.Is(err, store.ErrDuplicateTurn) {
		return Outcome{Skipped: true, FromState: fromState, RejectReason: "duplicate turn"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	completionText := ""
	if result.ToState == models.CommandComplete {
		completionText = in.Text
	}
	if err := c.commands.Transition(ctx, tx, current.ID, result.ToState, completionText); err != nil {
		return Outcome{}, fmt.Errorf("apply transition: %w", err)
	}

	c.writeEvent(ctx, tx, models.EventTurnDetected, in, &current.ID, &turnID)
	if result.ToState != fromState {
		c.writeEvent(ctx, tx, models.EventStateTransition, in, &current.ID, &turnID)
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit transition: %w", err)
	}

	return Outcome{
		CommandID: current.ID,
		TurnID:    turnID,
		FromState: fromState,
		ToState:   result.ToState,
	}, nil
}

func (c *Correlator) recordRejection(ctx context.Context, in Input, fromState models.CommandState, reason string) {
	payload, _ := json.Marshal(map[string]any{
		"actor":      in.Actor,
		"intent":     in.Intent,
		"from_state": fromState,
		"reason":     reason,
	})
	c.events.Write(ctx, eventwriter.Request{
		Type:      models.EventStateTransitionRejected,
		Payload:   payload,
		ProjectID: &in.ProjectID,
		AgentID:   &in.AgentID,
	})
	_ = c.agents.TouchLastSeen(ctx, in.AgentID)
}

func (c *Correlator) insertTurn(ctx context.Context, tx *sql.Tx, in Input, commandID int64) (int64, error) {
	var hashPtr *string
	if in.JSONLEntryHash != "" {
		h := in.JSONLEntryHash
		hashPtr = &h
	}

	text := in.Text
	if c.sanitiser != nil {
		text = c.sanitiser.MaskSecrets(text)
	}

	turnID, err := c.turns.Insert(ctx, tx, &models.Turn{
		CommandID:       commandID,
		Actor:           in.Actor,
		Intent:          in.Intent,
		Text:            text,
		Timestamp:       in.Timestamp,
		TimestampSource: in.TimestampSource,
		JSONLEntryHash:  hashPtr,
	})
	if errors.Is(err, store.ErrDuplicateTurn) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return turnID, nil
}

func (c *Correlator) writeEvent(ctx context.Context, tx *sql.Tx, eventType models.EventType, in Input, commandID, turnID *int64) {
	payload, _ := json.Marshal(map[string]any{
		"actor":  in.Actor,
		"intent": in.Intent,
	})
	c.events.Write(ctx, eventwriter.Request{
		Type:      eventType,
		Payload:   payload,
		ProjectID: &in.ProjectID,
		AgentID:   &in.AgentID,
		CommandID: commandID,
		TurnID:    turnID,
		Tx:        tx,
	})
}
