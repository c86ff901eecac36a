// Package lifecycle implements the Agent Lifecycle Controller:
// creating an agent (spawning its REPL process detached in a freshly minted
// tmux session, injecting persona/handoff content), shutting one down, and
// reconciling the availability tracker when a pane disappears from the
// multiplexer while its agent is still alive in storage.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
	"github.com/samotage/claude-headspace-sub003/pkg/terminal"
)

// ErrProjectPathMissing is returned when a project's filesystem path no
// longer exists on disk.
var ErrProjectPathMissing = errors.New("lifecycle: project path does not exist")

// PersonaContent is the (skill, experience) document pair the core consumes
// for injection — the core never reads persona files itself.
type PersonaContent struct {
	Skill      string
	Experience string
}

// PersonaContentProvider resolves a persona's on-disk content by slug.
type PersonaContentProvider interface {
	Content(ctx context.Context, personaSlug string) (PersonaContent, error)
}

// GuardrailsProvider resolves the current platform guardrails document and
// its version identifier.
type GuardrailsProvider interface {
	Current(ctx context.Context) (text, versionHash string, err error)
}

// CreateOptions parameterizes agent creation.
type CreateOptions struct {
	ProjectID       int64
	PersonaSlug     *string
	PreviousAgentID *int64
}

// ShutdownResult reports what Shutdown actually did.
type ShutdownResult struct {
	Attempted bool
	Reason    string
}

// Controller ties the stores, the terminal bridge, and the event writer
// together to implement agent creation, shutdown, and reconnection.
type Controller struct {
	projects *store.ProjectStore
	agents   *store.AgentStore
	personas *store.PersonaStore
	handoffs *store.HandoffStore
	bridge   *terminal.Bridge
	events   *eventwriter.Writer

	personaContent PersonaContentProvider
	guardrails     GuardrailsProvider

	replBinary     string
	textEnterDelay time.Duration
	nonce          atomic.Int64
}

// New builds a Controller.
func New(projects *store.ProjectStore, agents *store.AgentStore, personas *store.PersonaStore,
	handoffs *store.HandoffStore, bridge *terminal.Bridge, events *eventwriter.Writer,
	personaContent PersonaContentProvider, guardrails GuardrailsProvider,
	replBinary string, textEnterDelay time.Duration) *Controller {
	return &Controller{
		projects: projects, agents: agents, personas: personas, handoffs: handoffs,
		bridge: bridge, events: events,
		personaContent: personaContent, guardrails: guardrails,
		replBinary: replBinary, textEnterDelay: textEnterDelay,
	}
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "/", "-"))
}

// Create validates the project, spawns the REPL detached in a fresh tmux
// session, records the agent row, and — if requested — delivers persona and
// handoff/revival injections once the pane exists.
func (c *Controller) Create(ctx context.Context, opts CreateOptions) (*models.Agent, error) {
	project, err := c.projects.GetByID(ctx, opts.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if _, statErr := os.Stat(project.Path); statErr != nil {
		return nil, ErrProjectPathMissing
	}

	sessionName := fmt.Sprintf("hs-%s-%d", slug(project.Slug), c.nonce.Add(1))
	sessionUUID := newSessionUUID()
	env := map[string]string{"HEADSPACE_SESSION_UUID": sessionUUID.String()}
	if err := c.bridge.NewSession(ctx, sessionName, env, c.replBinary); err != nil {
		return nil, fmt.Errorf("spawn session: %w", err)
	}

	var personaID *int64
	if opts.PersonaSlug != nil {
		persona, err := c.personas.GetBySlug(ctx, *opts.PersonaSlug)
		if err != nil {
			_ = c.bridge.KillSession(ctx, sessionName)
			return nil, fmt.Errorf("load persona: %w", err)
		}
		if persona.Status != models.PersonaActive {
			_ = c.bridge.KillSession(ctx, sessionName)
			return nil, fmt.Errorf("persona %s is not active", *opts.PersonaSlug)
		}
		personaID = &persona.ID
	}

	agent, err := c.registerSpawnedAgent(ctx, opts.ProjectID, sessionUUID, sessionName, personaID, opts.PreviousAgentID)
	if err != nil {
		return nil, err
	}

	c.emitSessionCreated(ctx, agent.ID, opts.ProjectID, sessionUUID.String())

	if opts.PersonaSlug != nil {
		if err := c.injectPersona(ctx, agent, *opts.PersonaSlug); err != nil {
			return agent, fmt.Errorf("inject persona: %w", err)
		}
	}

	if opts.PreviousAgentID != nil {
		if err := c.injectLineage(ctx, agent, *opts.PreviousAgentID); err != nil {
			return agent, fmt.Errorf("inject lineage: %w", err)
		}
	}

	return agent, nil
}

// registerSpawnedAgent finds the pane tmux just created and writes the
// agent row under the pre-assigned sessionUUID, pane id included.
func (c *Controller) registerSpawnedAgent(ctx context.Context, projectID int64, sessionUUID uuid.UUID, sessionName string, personaID, previousAgentID *int64) (*models.Agent, error) {
	panes, err := c.bridge.ListPanes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list panes after spawn: %w", err)
	}

	var paneID string
	for _, p := range panes {
		if p.SessionName == sessionName {
			paneID = p.PaneID
			break
		}
	}
	if paneID == "" {
		return nil, fmt.Errorf("spawned session %s has no pane", sessionName)
	}

	agent, err := c.agents.CreateWithLineage(ctx, projectID, sessionUUID, personaID, previousAgentID)
	if err != nil {
		return nil, fmt.Errorf("create agent row: %w", err)
	}
	if err := c.agents.SetTmuxPane(ctx, agent.ID, paneID, sessionName); err != nil {
		return nil, fmt.Errorf("record spawned pane: %w", err)
	}
	agent.TmuxPaneID = &paneID
	agent.TmuxSessionName = &sessionName
	return agent, nil
}

func (c *Controller) injectPersona(ctx context.Context, agent *models.Agent, personaSlug string) error {
	content, err := c.personaContent.Content(ctx, personaSlug)
	if err != nil {
		return fmt.Errorf("load persona content: %w", err)
	}
	guardrailsText, versionHash, err := c.guardrails.Current(ctx)
	if err != nil {
		return fmt.Errorf("load guardrails: %w", err)
	}

	payload := strings.Join([]string{content.Skill, content.Experience, guardrailsText}, "\n\n")
	if agent.TmuxPaneID == nil {
		return errors.New("agent has no pane to inject into")
	}
	if err := c.bridge.SendText(ctx, *agent.TmuxPaneID, payload, c.textEnterDelay); err != nil {
		return fmt.Errorf("send persona injection: %w", err)
	}
	return c.agents.SetPromptInjection(ctx, agent.ID, versionHash)
}

// injectLineage delivers either a handoff injection (predecessor recorded a
// deliberate Handoff row) or a revival instruction (it did not).
func (c *Controller) injectLineage(ctx context.Context, agent *models.Agent, previousAgentID int64) error {
	if agent.TmuxPaneID == nil {
		return errors.New("agent has no pane to inject into")
	}

	handoff, err := c.handoffs.GetByAgentID(ctx, previousAgentID)
	var message string
	switch {
	case errors.Is(err, store.ErrNotFound):
		message = fmt.Sprintf("Your predecessor (agent %d) ended without a planned handoff. Review its transcript for context before continuing.", previousAgentID)
	case err == nil:
		message = fmt.Sprintf("You are taking over from agent %d: %s", previousAgentID, handoff.Reason)
		if setErr := c.handoffs.SetSuccessor(ctx, previousAgentID, agent.ID); setErr != nil {
			return fmt.Errorf("record handoff successor: %w", setErr)
		}
	default:
		return fmt.Errorf("load handoff: %w", err)
	}

	return c.bridge.SendText(ctx, *agent.TmuxPaneID, message, c.textEnterDelay)
}

// Shutdown sends /exit to the agent's pane and returns immediately — the
// hook pipeline records session_ended when the process actually stops.
func (c *Controller) Shutdown(ctx context.Context, agentID int64) (ShutdownResult, error) {
	agent, err := c.agents.GetByID(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return ShutdownResult{Attempted: false, Reason: "not found"}, nil
	}
	if err != nil {
		return ShutdownResult{}, fmt.Errorf("load agent: %w", err)
	}
	if agent.EndedAt != nil {
		return ShutdownResult{Attempted: false, Reason: "already ended"}, nil
	}
	if agent.TmuxPaneID == nil {
		return ShutdownResult{Attempted: false, Reason: "no pane recorded"}, nil
	}

	if err := c.bridge.SendText(ctx, *agent.TmuxPaneID, "/exit", c.textEnterDelay); err != nil {
		return ShutdownResult{}, fmt.Errorf("send exit: %w", err)
	}
	return ShutdownResult{Attempted: true}, nil
}

// ReconcilePanes scans for agents whose recorded pane has disappeared and
// reattaches them to a fresh pane matching their project's working
// directory and running the REPL binary, skipping the known-dead pane id.
// An ambiguous match (more than one candidate) is left unresolved and
// reported via a reconnection_ambiguous event instead of guessed at.
func (c *Controller) ReconcilePanes(ctx context.Context) (reconnected []int64, err error) {
	agents, err := c.agents.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	panes, err := c.bridge.ListPanes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list panes: %w", err)
	}

	for _, agent := range agents {
		if agent.TmuxPaneID != nil {
			health, healthErr := c.bridge.CheckHealth(ctx, *agent.TmuxPaneID)
			if healthErr == nil && health.Available {
				continue
			}
		}

		project, projErr := c.projects.GetByID(ctx, agent.ProjectID)
		if projErr != nil {
			continue
		}

		var candidates []terminal.PaneInfo
		for _, p := range panes {
			if agent.TmuxPaneID != nil && p.PaneID == *agent.TmuxPaneID {
				continue
			}
			if p.WorkingDirectory == project.Path && terminal.IsREPLCommand(p.CurrentCommand) {
				candidates = append(candidates, p)
			}
		}

		switch len(candidates) {
		case 0:
			continue
		case 1:
			if err := c.agents.SetTmuxPane(ctx, agent.ID, candidates[0].PaneID, candidates[0].SessionName); err != nil {
				continue
			}
			reconnected = append(reconnected, agent.ID)
		default:
			c.emitReconnectionAmbiguous(ctx, agent.ID, agent.ProjectID, len(candidates))
		}
	}
	return reconnected, nil
}

func (c *Controller) emitSessionCreated(ctx context.Context, agentID, projectID int64, sessionUUID string) {
	payload, _ := json.Marshal(map[string]any{"session_uuid": sessionUUID})
	c.events.Write(ctx, eventwriter.Request{
		Type: models.EventSessionCreated, Payload: payload,
		ProjectID: &projectID, AgentID: &agentID,
	})
}

func (c *Controller) emitReconnectionAmbiguous(ctx context.Context, agentID, projectID int64, candidateCount int) {
	payload, _ := json.Marshal(map[string]any{"candidate_count": candidateCount})
	c.events.Write(ctx, eventwriter.Request{
		Type: models.EventReconnectionAmbiguous, Payload: payload,
		ProjectID: &projectID, AgentID: &agentID,
	})
}

// newSessionUUID mints the session identifier the controller pre-assigns at
// spawn time. The hook wrapper script invoked inside the freshly created
// pane reads this value back out of its environment and reports it as
// claude_session_id on every hook callback, so the agent row created here
// and the row the hook pipeline later updates are the same row from the
// start — see DESIGN.md.
func newSessionUUID() uuid.UUID {
	return uuid.New()
}
