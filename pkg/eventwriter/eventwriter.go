// Package eventwriter persists the append-only event log. It is
// the single path by which every other component durably records what it
// observed or decided; delivery to live subscribers is a separate concern
// handled by the broadcaster once a turn/state-transition has already been
// written here.
package eventwriter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ErrInvalidPayload is returned when payload is not well-formed JSON.
var ErrInvalidPayload = errors.New("eventwriter: payload is not valid JSON")

// ErrMissingRequiredField is returned when an event type's declared required
// fields are not all supplied.
var ErrMissingRequiredField = errors.New("eventwriter: missing required field for event type")

// fieldReq declares which correlation columns an event type requires.
type fieldReq struct {
	project bool
	agent   bool
	command bool
	turn    bool
}

var requirements = map[models.EventType]fieldReq{
	models.EventSessionRegistered:       {project: true},
	models.EventSessionCreated:          {project: true, agent: true},
	models.EventSessionEnded:            {project: true, agent: true},
	models.EventTurnDetected:            {project: true, agent: true, command: true, turn: true},
	models.EventStateTransition:         {project: true, agent: true, command: true},
	models.EventStateTransitionRejected: {project: true, agent: true, command: true},
	models.EventHookReceived:            {project: true, agent: true},
	models.EventHookSessionStart:        {project: true, agent: true},
	models.EventHookSessionEnd:          {project: true, agent: true},
	models.EventHookUserPrompt:          {project: true, agent: true},
	models.EventHookStop:                {project: true, agent: true},
	models.EventHookNotification:        {project: true, agent: true},
	models.EventHookPostToolUse:         {project: true, agent: true},
	models.EventQuestionDetected:        {project: true, agent: true, command: true, turn: true},
	models.EventCardRefresh:             {project: true, agent: true},
	models.EventObjectiveChanged:        {project: true},
	models.EventPriorityUpdated:         {project: true, agent: true},
	models.EventActivityMetricUpdated:   {project: true},
	models.EventAPICallLogged:           {},
	models.EventCommanderAvailability:   {project: true},
	models.EventReconnectionAmbiguous:   {project: true, agent: true},
}

// Request describes one event to write.
type Request struct {
	Type      models.EventType
	Payload   json.RawMessage
	ProjectID *int64
	AgentID   *int64
	CommandID *int64
	TurnID    *int64

	// Tx switches the writer into pass-through mode: the caller's
	// open transaction is used directly, added to and flushed but never
	// committed here, so the caller can bundle the turn write, the state
	// transition, and this event into one outer commit.
	Tx *sql.Tx
}

// Result is the outcome of one Write call.
type Result struct {
	Success bool
	EventID int64
	Err     error
	Retries int
}

// Metrics is a snapshot of the writer's running counters.
type Metrics struct {
	Total              int64
	Successful         int64
	Failed             int64
	LastWriteTimestamp time.Time
	LastError          string
}

// Writer persists validated events with retry-on-transient-error for its own
// short-lived sessions, or pass-through add-and-flush when the caller
// supplies a transaction.
type Writer struct {
	db                *sql.DB
	retryInitialDelay time.Duration
	retryMaxElapsed   time.Duration

	mu         sync.Mutex
	total      int64
	successful int64
	failed     int64
	lastWrite  time.Time
	lastError  string
}

// New builds a Writer. retryInitialDelay and retryMaxElapsed configure the
// exponential backoff applied to own-session writes.
func New(db *sql.DB, retryInitialDelay, retryMaxElapsed time.Duration) *Writer {
	return &Writer{
		db:                db,
		retryInitialDelay: retryInitialDelay,
		retryMaxElapsed:   retryMaxElapsed,
	}
}

// Write validates req and persists it, retrying own-session writes on
// transient failure. Invalid payloads are rejected before any I/O and never
// count toward retries.
func (w *Writer) Write(ctx context.Context, req Request) Result {
	w.mu.Lock()
	w.total++
	w.mu.Unlock()

	if err := validate(req); err != nil {
		w.recordFailure(err)
		return Result{Success: false, Err: err}
	}

	if req.Tx != nil {
		id, err := insertEvent(ctx, req.Tx, req)
		if err != nil {
			w.recordFailure(err)
			return Result{Success: false, Err: err}
		}
		w.recordSuccess()
		return Result{Success: true, EventID: id}
	}

	retries := 0
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = w.retryInitialDelay

	id, err := backoff.Retry(ctx, func() (int64, error) {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			retries++
			return 0, err
		}
		defer func() { _ = tx.Rollback() }()

		eventID, err := insertEvent(ctx, tx, req)
		if err != nil {
			retries++
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			retries++
			return 0, err
		}
		return eventID, nil
	}, backoff.WithBackOff(backOff), backoff.WithMaxElapsedTime(w.retryMaxElapsed))

	if err != nil {
		w.recordFailure(err)
		return Result{Success: false, Err: err, Retries: retries}
	}
	w.recordSuccess()
	return Result{Success: true, EventID: id, Retries: retries}
}

// DeleteOlderThan removes event rows older than cutoff, for the retention
// sweep. Events are an append-only audit log with no foreign key pointing
// back into it, so deletion here is a plain row purge rather than a cascade.
func (w *Writer) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM events WHERE "timestamp" < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events older than cutoff: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted events: %w", err)
	}
	return n, nil
}

// Metrics returns a snapshot of the running write counters.
func (w *Writer) Metrics() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Metrics{
		Total:              w.total,
		Successful:         w.successful,
		Failed:             w.failed,
		LastWriteTimestamp: w.lastWrite,
		LastError:          w.lastError,
	}
}

func (w *Writer) recordSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successful++
	w.lastWrite = time.Now()
}

func (w *Writer) recordFailure(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed++
	w.lastError = err.Error()
}

func validate(req Request) error {
	if !json.Valid(req.Payload) {
		return fmt.Errorf("%w: type=%s", ErrInvalidPayload, req.Type)
	}

	need, ok := requirements[req.Type]
	if !ok {
		return nil // unrecognised types carry no declared requirement
	}
	if need.project && req.ProjectID == nil {
		return fmt.Errorf("%w: project_id required for %s", ErrMissingRequiredField, req.Type)
	}
	if need.agent && req.AgentID == nil {
		return fmt.Errorf("%w: agent_id required for %s", ErrMissingRequiredField, req.Type)
	}
	if need.command && req.CommandID == nil {
		return fmt.Errorf("%w: command_id required for %s", ErrMissingRequiredField, req.Type)
	}
	if need.turn && req.TurnID == nil {
		return fmt.Errorf("%w: turn_id required for %s", ErrMissingRequiredField, req.Type)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, req Request) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO events (event_type, payload, timestamp, project_id, agent_id, command_id, turn_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		req.Type, []byte(req.Payload), time.Now(), req.ProjectID, req.AgentID, req.CommandID, req.TurnID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}
