// Package hookreceiver is the HTTP entry point for the five Claude Code
// hook callbacks: session_start, session_end, user_prompt_submit,
// stop, and notification. Each request is recorded as an event, delegated
// to the correlator under the owning agent's advisory lock, and used to
// switch the transcript watcher between its hook-active and fallback
// polling rates.
package hookreceiver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub003/pkg/correlator"
	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/session"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

// IntervalSwitcher is the subset of *watcher.Watcher the receiver needs —
// narrowed to an interface so this package does not import watcher directly.
type IntervalSwitcher interface {
	SetInterval(d time.Duration)
}

// Receiver wires hook HTTP requests to the session registry, the store, and
// the correlator.
type Receiver struct {
	registry   *session.Registry
	projects   *store.ProjectStore
	agents     *store.AgentStore
	correlator *correlator.Correlator
	events     *eventwriter.Writer
	watcher    IntervalSwitcher

	hookActiveInterval time.Duration
	fallbackInterval   time.Duration
	activeWindow       time.Duration

	mu         sync.Mutex
	lastHookAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Receiver. hookActiveInterval/fallbackInterval/activeWindow
// configure the watcher polling-rate switch.
func New(registry *session.Registry, projects *store.ProjectStore, agents *store.AgentStore,
	corr *correlator.Correlator, events *eventwriter.Writer, watcher IntervalSwitcher,
	hookActiveInterval, fallbackInterval, activeWindow time.Duration) *Receiver {
	return &Receiver{
		registry:           registry,
		projects:           projects,
		agents:             agents,
		correlator:         corr,
		events:             events,
		watcher:            watcher,
		hookActiveInterval: hookActiveInterval,
		fallbackInterval:   fallbackInterval,
		activeWindow:       activeWindow,
		stopCh:             make(chan struct{}),
	}
}

// RegisterRoutes mounts the five hook endpoints onto router.
func (r *Receiver) RegisterRoutes(router gin.IRouter) {
	router.POST("/hooks/session_start", r.handleSessionStart)
	router.POST("/hooks/session_end", r.handleSessionEnd)
	router.POST("/hooks/user_prompt_submit", r.handleUserPromptSubmit)
	router.POST("/hooks/stop", r.handleStop)
	router.POST("/hooks/notification", r.handleNotification)
}

// Start begins the background monitor that falls the watcher back to its
// slow polling rate once no hook has fired within activeWindow.
func (r *Receiver) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.monitor(ctx)
}

// Stop signals the monitor to exit and waits for it to finish.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Receiver) monitor(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.activeWindow / 4)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			stale := time.Since(r.lastHookAt) > r.activeWindow
			r.mu.Unlock()
			if stale {
				r.watcher.SetInterval(r.fallbackInterval)
			}
		}
	}
}

func (r *Receiver) markHookActive() {
	r.mu.Lock()
	r.lastHookAt = time.Now()
	r.mu.Unlock()
	r.watcher.SetInterval(r.hookActiveInterval)
}

// basePayload is the subset of fields every hook callback carries.
type basePayload struct {
	ClaudeSessionID  uuid.UUID `json:"claude_session_id" binding:"required"`
	WorkingDirectory string    `json:"working_directory"`
}

type userPromptPayload struct {
	basePayload
	Prompt string `json:"prompt" binding:"required"`
}

func (r *Receiver) handleSessionStart(c *gin.Context) {
	var body basePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.markHookActive()

	ctx := c.Request.Context()

	// The lifecycle controller pre-assigns the session id and creates the
	// agent row before the process even starts (it passes the id through
	// as an environment variable its hook wrapper script echoes back here),
	// so a session_start callback for an agent we spawned finds an existing
	// row rather than needing to create one.
	agent, err := r.agents.GetBySessionUUID(ctx, body.ClaudeSessionID)
	if errors.Is(err, store.ErrNotFound) {
		project, projErr := r.projects.GetOrCreateByPath(ctx, body.WorkingDirectory)
		if projErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": projErr.Error()})
			return
		}
		agent, err = r.agents.Create(ctx, project.ID, body.ClaudeSessionID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	r.registry.Register(body.ClaudeSessionID, body.WorkingDirectory, body.WorkingDirectory)
	r.writeHookEvent(ctx, models.EventHookSessionStart, agent.ProjectID, agent.ID, body)

	c.JSON(http.StatusOK, gin.H{"status": "ok", "agent_id": agent.ID})
}

func (r *Receiver) handleSessionEnd(c *gin.Context) {
	var body basePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.markHookActive()

	ctx := c.Request.Context()
	agent, err := r.agents.GetBySessionUUID(ctx, body.ClaudeSessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	if err := r.agents.SetEnded(ctx, agent.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	r.registry.Unregister(body.ClaudeSessionID)
	r.writeHookEvent(ctx, models.EventHookSessionEnd, agent.ProjectID, agent.ID, body)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Receiver) handleUserPromptSubmit(c *gin.Context) {
	var body userPromptPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.markHookActive()

	ctx := c.Request.Context()
	agent, err := r.agents.GetBySessionUUID(ctx, body.ClaudeSessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	r.writeHookEvent(ctx, models.EventHookUserPrompt, agent.ProjectID, agent.ID, body)

	outcome, err := r.correlator.Correlate(ctx, correlator.Input{
		AgentID:         agent.ID,
		ProjectID:       agent.ProjectID,
		Actor:           models.ActorUser,
		Intent:          models.IntentCommand,
		Text:            body.Prompt,
		Timestamp:       time.Now(),
		TimestampSource: models.TimestampSourceHook,
		JSONLEntryHash:  correlator.ContentHash(models.ActorUser, body.Prompt),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	_ = r.agents.TouchLastSeen(ctx, agent.ID)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "command_id": outcome.CommandID})
}

func (r *Receiver) handleStop(c *gin.Context) {
	var body basePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.markHookActive()

	ctx := c.Request.Context()
	agent, err := r.agents.GetBySessionUUID(ctx, body.ClaudeSessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	r.writeHookEvent(ctx, models.EventHookStop, agent.ProjectID, agent.ID, body)
	if _, err := r.correlator.CorrelateStop(ctx, agent.ID, agent.ProjectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = r.agents.TouchLastSeen(ctx, agent.ID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Receiver) handleNotification(c *gin.Context) {
	var body basePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.markHookActive()

	ctx := c.Request.Context()
	agent, err := r.agents.GetBySessionUUID(ctx, body.ClaudeSessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	r.writeHookEvent(ctx, models.EventHookNotification, agent.ProjectID, agent.ID, body)
	if _, err := r.correlator.CorrelateNotification(ctx, agent.ID, agent.ProjectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = r.agents.TouchLastSeen(ctx, agent.ID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Receiver) writeHookEvent(ctx context.Context, eventType models.EventType, projectID, agentID int64, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	r.events.Write(ctx, eventwriter.Request{
		Type:      models.EventHookReceived,
		Payload:   payload,
		ProjectID: &projectID,
		AgentID:   &agentID,
	})
	r.events.Write(ctx, eventwriter.Request{
		Type:      eventType,
		Payload:   payload,
		ProjectID: &projectID,
		AgentID:   &agentID,
	})
}
