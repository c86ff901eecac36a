// Package statemachine implements the command state machine as a pure
// function: no I/O, no locking, nothing but the transition table itself. The
// correlator calls Validate under the advisory lock and writes whatever it
// returns; this package never touches the database.
package statemachine

import "github.com/samotage/claude-headspace-sub003/pkg/models"

// Result is the outcome of evaluating one (from_state, actor, intent) cell.
type Result struct {
	Valid   bool
	ToState models.CommandState
	Reason  string
	// NewCommand signals that the correlator should open a sibling command
	// rather than transition the current one — the "user:command while the
	// agent is mid-command" and "user:command while AWAITING_INPUT" cells.
	NewCommand bool
}

func reject(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

func accept(to models.CommandState) Result {
	return Result{Valid: true, ToState: to}
}

// Validate evaluates one transition cell of the 5-state x 2-actor x 6-intent
// table. COMPLETE has no outgoing transitions — no intent revives it.
func Validate(from models.CommandState, actor models.Actor, intent models.TurnIntent) Result {
	if from == models.CommandComplete {
		return reject("command is terminal")
	}

	switch actor {
	case models.ActorUser:
		return validateUser(from, intent)
	case models.ActorAgent:
		return validateAgent(from, intent)
	default:
		return reject("unknown actor")
	}
}

func validateUser(from models.CommandState, intent models.TurnIntent) Result {
	switch intent {
	case models.IntentCommand:
		if from == models.CommandAwaitingInput {
			return Result{Valid: false, Reason: "should create new command", NewCommand: true}
		}
		// IDLE has no live command at all — correlator opens a fresh one.
		// Any other live state gets a sibling command too; the current one
		// is left untouched.
		return Result{Valid: false, Reason: "opens new command", NewCommand: true}
	case models.IntentAnswer:
		if from == models.CommandAwaitingInput {
			return accept(models.CommandProcessing)
		}
		return reject("no question pending")
	default:
		return reject("intent not valid for user turn")
	}
}

func validateAgent(from models.CommandState, intent models.TurnIntent) Result {
	switch intent {
	case models.IntentProgress:
		switch from {
		case models.CommandCommanded:
			return accept(models.CommandProcessing)
		case models.CommandProcessing:
			return accept(models.CommandProcessing)
		default:
			return reject("progress not valid from this state")
		}
	case models.IntentQuestion:
		switch from {
		case models.CommandCommanded, models.CommandProcessing:
			return accept(models.CommandAwaitingInput)
		default:
			return reject("question not valid from this state")
		}
	case models.IntentCompletion, models.IntentEndOfCommand:
		switch from {
		case models.CommandCommanded, models.CommandProcessing:
			return accept(models.CommandComplete)
		default:
			return reject("completion not valid from this state")
		}
	default:
		return reject("intent not valid for agent turn")
	}
}

// ValidateStop evaluates the "stop" hook, which carries no turn intent of its
// own: PROCESSING -> COMPLETE unconditionally, anything else a no-op.
func ValidateStop(from models.CommandState) Result {
	if from == models.CommandProcessing {
		return accept(models.CommandComplete)
	}
	return reject("stop hook ignored outside PROCESSING")
}

// ValidateNotification evaluates the "notification" hook: PROCESSING ->
// AWAITING_INPUT, everything else a no-op (including AWAITING_INPUT itself
// and COMPLETE, both listed explicitly since the transition table is total).
func ValidateNotification(from models.CommandState) Result {
	switch from {
	case models.CommandProcessing:
		return accept(models.CommandAwaitingInput)
	case models.CommandAwaitingInput:
		return reject("already awaiting input")
	case models.CommandComplete:
		return reject("command is terminal")
	default:
		return reject("notification ignored outside PROCESSING")
	}
}
