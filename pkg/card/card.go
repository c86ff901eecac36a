// Package card builds the UI card payload for an Agent: the
// consolidated, JSON-portable view the dashboard polls and the SSE
// broadcaster refreshes on every state change.
package card

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// defaultPriority is shown for agents with no priority triplet set yet.
const defaultPriority = 50

// Card is the wire-facing projection of an Agent plus its current command.
type Card struct {
	ID        int64  `json:"id"`
	SessionUUID string `json:"session_uuid"`
	ProjectID   int64  `json:"project_id"`
	ProjectSlug string `json:"project_slug"`
	ProjectName string `json:"project_name"`

	HeroChars string `json:"hero_chars"`
	HeroTrail string `json:"hero_trail"`

	State models.CardState `json:"state"`

	Uptime   string `json:"uptime"`
	LastSeen string `json:"last_seen"`

	TaskSummary           *string `json:"task_summary"`
	TaskInstruction       *string `json:"task_instruction"`
	TaskCompletionSummary *string `json:"task_completion_summary"`

	Priority       int     `json:"priority"`
	PriorityReason *string `json:"priority_reason"`

	TurnCount int     `json:"turn_count"`
	Elapsed   *string `json:"elapsed"`
}

// Builder assembles Cards from the agent/command/turn/project stores.
type Builder struct {
	agents   *store.AgentStore
	commands *store.CommandStore
	projects *store.ProjectStore
	turns    *store.TurnStore

	staleProcessing time.Duration
}

// New builds a Builder. staleProcessing is the age past which a PROCESSING
// command with no recent turn activity is reported as TIMED_OUT.
func New(agents *store.AgentStore, commands *store.CommandStore, projects *store.ProjectStore,
	turns *store.TurnStore, staleProcessing time.Duration) *Builder {
	if staleProcessing <= 0 {
		staleProcessing = 10 * time.Minute
	}
	return &Builder{
		agents:          agents,
		commands:        commands,
		projects:        projects,
		turns:           turns,
		staleProcessing: staleProcessing,
	}
}

// Build produces the Card for the given agent.
func (b *Builder) Build(ctx context.Context, agent *models.Agent) (*Card, error) {
	project, err := b.projects.GetByID(ctx, agent.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("card: load project: %w", err)
	}

	command, err := b.commands.LatestForAgent(ctx, agent.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("card: load latest command: %w", err)
	}

	heroChars, heroTrail := heroIdentifiers(agent.SessionUUID.String())

	c := &Card{
		ID:          agent.ID,
		SessionUUID: agent.SessionUUID.String(),
		ProjectID:   project.ID,
		ProjectSlug: project.Slug,
		ProjectName: project.Name,
		HeroChars:   heroChars,
		HeroTrail:   heroTrail,
		Uptime:      formatDuration(time.Since(agent.StartedAt)),
		LastSeen:    formatRelative(agent.LastSeenAt),
		Priority:    defaultPriority,
	}

	if agent.HasPriority() {
		c.Priority = *agent.PriorityScore
		c.PriorityReason = agent.PriorityReason
	}

	if command == nil {
		c.State = models.CardIdle
		noTask := "No active task"
		c.TaskSummary = &noTask
		return c, nil
	}

	c.State = models.CardState(command.State)
	c.TaskInstruction = command.Instruction
	c.TaskCompletionSummary = command.CompletionSummary

	count, err := b.turns.CountForCommand(ctx, command.ID)
	if err != nil {
		return nil, fmt.Errorf("card: count turns: %w", err)
	}
	c.TurnCount = count

	if command.State == models.CommandProcessing {
		lastTurnAt, ok, err := b.turns.LastTimestampForCommand(ctx, command.ID)
		if err != nil {
			return nil, fmt.Errorf("card: last turn timestamp: %w", err)
		}
		if ok && time.Since(lastTurnAt) > b.staleProcessing {
			c.State = models.CardTimedOut
		}
	}

	if command.State == models.CommandComplete && command.CompletedAt != nil {
		elapsed := formatDuration(command.CompletedAt.Sub(command.StartedAt))
		c.Elapsed = &elapsed
	}

	c.TaskSummary = b.taskSummary(ctx, command)
	if c.TaskSummary == nil {
		noTask := "No active task"
		c.TaskSummary = &noTask
	}

	return c, nil
}

// taskSummary favours the most recent turn's generated summary, falling
// back to its raw text, and returns nil when the command has no turns yet.
func (b *Builder) taskSummary(ctx context.Context, command *models.Command) *string {
	recent, err := b.turns.RecentForCommand(ctx, command.ID, 1)
	if err != nil || len(recent) == 0 {
		return nil
	}
	latest := recent[0]
	if latest.Summary != nil && *latest.Summary != "" {
		return latest.Summary
	}
	if latest.Text != "" {
		text := latest.Text
		return &text
	}
	return nil
}

// heroIdentifiers derives two stable, visually distinct fragments from a
// session UUID: a two-character glyph pair and a four-character trail, used
// by the dashboard to give otherwise-anonymous agents a recognisable mark
// without a real avatar system.
func heroIdentifiers(sessionUUID string) (chars, trail string) {
	compact := strings.ToUpper(strings.ReplaceAll(sessionUUID, "-", ""))
	if len(compact) < 6 {
		compact = (compact + "000000")[:6]
	}
	return compact[:2], compact[2:6]
}

// formatDuration renders a duration the way the dashboard shows uptime and
// command elapsed time: the one or two largest units, never seconds-level
// precision once a duration reaches minutes.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return "just now"
	}

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// formatRelative renders a past timestamp as a "N ago" string.
func formatRelative(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		d = 0
	}
	if d < 30*time.Second {
		return "just now"
	}
	return formatDuration(d) + " ago"
}
