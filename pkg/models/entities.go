package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is a developer workspace. Slug is unique across the store;
// Path is unique per host.
type Project struct {
	ID                int64
	Slug              string
	Name              string
	Path              string
	GitOriginURL      *string
	GitBranch         *string
	InferencePaused   bool
	InferencePauseReason *string
	InferencePausedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Organisation is the root of the small org-chart structure.
type Organisation struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Role belongs to an Organisation.
type Role struct {
	ID             int64
	OrganisationID int64
	Name           string
	CreatedAt      time.Time
}

// Position self-references via ReportsToID/EscalatesToID, both ON DELETE SET
// NULL — NULL is a valid terminal in the hierarchy.
type Position struct {
	ID             int64
	RoleID         int64
	Title          string
	ReportsToID    *int64
	EscalatesToID  *int64
	CreatedAt      time.Time
}

// Persona is registered by operators, archived but never deleted.
type Persona struct {
	ID          int64
	Slug        string
	Name        string
	RoleID      int64
	Description *string
	Status      PersonaStatus
	ContentSHA256 string
	CreatedAt   time.Time
	ArchivedAt  *time.Time
}

// Agent is a running conversational process instance.
type Agent struct {
	ID                    int64
	SessionUUID           uuid.UUID
	ProjectID             int64
	PersonaID             *int64
	PositionID            *int64
	PreviousAgentID       *int64
	TmuxPaneID            *string
	TmuxSessionName       *string
	LegacyWindowID        *string
	StartedAt             time.Time
	LastSeenAt            time.Time
	EndedAt               *time.Time
	PriorityScore         *int
	PriorityReason        *string
	PriorityUpdatedAt     *time.Time
	ContextPercentUsed    *int
	ContextRemainingTokens *string
	ContextUpdatedAt      *time.Time
	GuardrailsVersionHash *string
	PromptInjectedAt      *time.Time
}

// HasPriority reports whether the priority triplet is fully populated. The
// CHECK constraint guarantees this is never partially set
// in storage; this helper lets callers avoid three separate nil checks.
func (a *Agent) HasPriority() bool {
	return a.PriorityScore != nil && a.PriorityReason != nil && a.PriorityUpdatedAt != nil
}

// Command is a unit of work initiated by one user turn. Historically
// named "task".
type Command struct {
	ID                int64
	AgentID           int64
	State             CommandState
	StartedAt         time.Time
	CompletedAt       *time.Time
	Instruction       *string
	CompletionSummary *string
	FullCommand       *string
	FullOutput        *string
	PlanFilePath      *string
	PlanContent       *string
	PlanApprovedAt    *time.Time
}

// Turn is one message in the conversation.
type Turn struct {
	ID                 int64
	CommandID          int64
	Actor              Actor
	Intent             TurnIntent
	Text               string
	Timestamp          time.Time
	TimestampSource    TimestampSource
	JSONLEntryHash     *string
	IsInternal         bool
	ToolInput          []byte // raw JSON, nullable
	FileMetadata       []byte // raw JSON, nullable
	AnsweredByTurnID   *int64
	Summary            *string
	SummaryGeneratedAt *time.Time
}

// Event is a durable, append-only record of everything the system observes
// and decides.
type Event struct {
	ID        int64
	EventType EventType
	Payload   []byte // raw JSON
	Timestamp time.Time
	ProjectID *int64
	AgentID   *int64
	CommandID *int64
	TurnID    *int64
}

// Handoff explains why a new agent references a predecessor. Its presence for
// AgentID=N means N's successor was a planned handoff; its absence means any
// successor is a bare Revival.
type Handoff struct {
	ID          int64
	AgentID     int64
	SuccessorID *int64
	Reason      string
	CreatedAt   time.Time
}

// ActivityMetric is a pre-aggregated per-bucket count, extended with the
// frustration-signal columns supplemented from original_source's migration
// history.
type ActivityMetric struct {
	ID                    int64
	BucketStart           time.Time
	IsOverall             bool
	AgentID               *int64
	ProjectID             *int64
	CommandCount          int
	TurnCount             int
	TotalFrustration      float64
	MaxFrustration        float64
	MaxFrustrationAt      *time.Time
	FrustrationTurnCount  int
}

// HeadspaceSnapshot is a rolling metric sample attached to an agent.
type HeadspaceSnapshot struct {
	ID        int64
	AgentID   int64
	Timestamp time.Time
	Payload   []byte // raw JSON
}

// InferenceCall logs every oracle call. At least one of ProjectID,
// AgentID, CommandID, TurnID must be non-nil, enforced by a CHECK constraint.
type InferenceCall struct {
	ID          int64
	Level       InferenceLevel
	ProjectID   *int64
	AgentID     *int64
	CommandID   *int64
	TurnID      *int64
	InputHash   string
	InputText   *string
	Cached      bool
	PromptTokens int
	CompletionTokens int
	CostUSD     float64
	LatencyMS   int
	CreatedAt   time.Time
}

// APICallLog captures an HTTP transaction on a declared prefix list.
type APICallLog struct {
	ID           int64
	Method       string
	Path         string
	Status       int
	LatencyMS    int
	AuthStatus   string
	RequestBody  *string
	ResponseBody *string
	CreatedAt    time.Time
}

// Objective is the supplemented entity the priority scorer scores agents
// against.
type Objective struct {
	ID              int64
	Text            string
	PriorityEnabled bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
