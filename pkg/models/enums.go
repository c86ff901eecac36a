// Package models holds the shared domain types of the headspace core: the
// relational entities of the data model and the closed enumerations
// that the hook receiver, correlator, and state machine operate over.
package models

// CommandState is the persistent state of a Command.
type CommandState string

const (
	CommandIdle           CommandState = "IDLE"
	CommandCommanded      CommandState = "COMMANDED"
	CommandProcessing     CommandState = "PROCESSING"
	CommandAwaitingInput  CommandState = "AWAITING_INPUT"
	CommandComplete       CommandState = "COMPLETE"
)

// CardState is the wire-facing state of an Agent card, a superset of
// CommandState that adds the derived TIMED_OUT value. States are emitted as
// strings; enums never cross the wire.
type CardState string

const (
	CardIdle          CardState = "IDLE"
	CardCommanded     CardState = "COMMANDED"
	CardProcessing    CardState = "PROCESSING"
	CardAwaitingInput CardState = "AWAITING_INPUT"
	CardComplete      CardState = "COMPLETE"
	CardTimedOut      CardState = "TIMED_OUT"
)

// Actor identifies who produced a Turn.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// TurnIntent classifies a Turn.
//
// end_of_task is accepted on ingestion (see intent.go) but is never a member
// of this enum — the historical rename to "command" is fully exposed here.
type TurnIntent string

const (
	IntentCommand      TurnIntent = "command"
	IntentAnswer       TurnIntent = "answer"
	IntentQuestion     TurnIntent = "question"
	IntentCompletion   TurnIntent = "completion"
	IntentProgress     TurnIntent = "progress"
	IntentEndOfCommand TurnIntent = "end_of_command"
)

// TimestampSource records where a Turn's timestamp came from.
type TimestampSource string

const (
	TimestampSourceHook     TimestampSource = "hook"
	TimestampSourceJSONL    TimestampSource = "jsonl"
	TimestampSourceInferred TimestampSource = "inferred"
)

// HookKind enumerates the five recognised hook callbacks.
type HookKind string

const (
	HookSessionStart     HookKind = "session_start"
	HookSessionEnd       HookKind = "session_end"
	HookUserPromptSubmit HookKind = "user_prompt_submit"
	HookStop             HookKind = "stop"
	HookNotification     HookKind = "notification"
)

// PersonaStatus is the lifecycle state of a Persona.
type PersonaStatus string

const (
	PersonaActive   PersonaStatus = "active"
	PersonaArchived PersonaStatus = "archived"
)

// InferenceLevel classifies an InferenceCall.
type InferenceLevel string

const (
	InferenceLevelTurn     InferenceLevel = "turn"
	InferenceLevelCommand  InferenceLevel = "command"
	InferenceLevelProject  InferenceLevel = "project"
	InferenceLevelPriority InferenceLevel = "priority"
)

// EventType is the closed enumeration of domain event kinds, extended with
// the broadcaster's delivery-only types and the reconnection-ambiguity
// diagnostic (see DESIGN.md's open-question decisions).
type EventType string

const (
	EventSessionRegistered         EventType = "session_registered"
	EventSessionCreated            EventType = "session_created"
	EventSessionEnded              EventType = "session_ended"
	EventTurnDetected              EventType = "turn_detected"
	EventStateTransition           EventType = "state_transition"
	EventStateTransitionRejected   EventType = "state_transition_rejected"
	EventHookReceived              EventType = "hook_received"
	EventHookSessionStart          EventType = "hook_session_start"
	EventHookSessionEnd            EventType = "hook_session_end"
	EventHookUserPrompt            EventType = "hook_user_prompt"
	EventHookStop                  EventType = "hook_stop"
	EventHookNotification          EventType = "hook_notification"
	EventHookPostToolUse           EventType = "hook_post_tool_use"
	EventQuestionDetected          EventType = "question_detected"
	EventCardRefresh               EventType = "card_refresh"
	EventObjectiveChanged          EventType = "objective_changed"
	EventPriorityUpdated           EventType = "priority_updated"
	EventActivityMetricUpdated     EventType = "activity_metric_updated"
	EventAPICallLogged             EventType = "api_call_logged"
	EventCommanderAvailability     EventType = "commander_availability_changed"
	EventReconnectionAmbiguous     EventType = "reconnection_ambiguous"
)

// LockNamespace is the small enum of advisory-lock namespaces.
type LockNamespace string

const (
	LockNamespaceAgent LockNamespace = "AGENT"
)
