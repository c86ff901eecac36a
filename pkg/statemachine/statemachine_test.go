package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

var allStates = []models.CommandState{
	models.CommandIdle,
	models.CommandCommanded,
	models.CommandProcessing,
	models.CommandAwaitingInput,
	models.CommandComplete,
}

var allIntents = []models.TurnIntent{
	models.IntentCommand,
	models.IntentAnswer,
	models.IntentQuestion,
	models.IntentCompletion,
	models.IntentProgress,
	models.IntentEndOfCommand,
}

// TestValidate_Exhaustive walks the full 5x2x6 cartesian product. Every cell
// must return a Result — valid or not — without panicking, and COMPLETE must
// never accept a transition out.
func TestValidate_Exhaustive(t *testing.T) {
	for _, from := range allStates {
		for _, actor := range []models.Actor{models.ActorUser, models.ActorAgent} {
			for _, intent := range allIntents {
				result := Validate(from, actor, intent)
				if from == models.CommandComplete {
					assert.False(t, result.Valid, "COMPLETE must reject %s/%s", actor, intent)
				}
			}
		}
	}
}

func TestValidate_UserCommandFromIdleOpensNewCommand(t *testing.T) {
	result := Validate(models.CommandIdle, models.ActorUser, models.IntentCommand)
	assert.False(t, result.Valid)
	assert.True(t, result.NewCommand)
}

func TestValidate_UserCommandWhileAwaitingInputOpensNewCommand(t *testing.T) {
	result := Validate(models.CommandAwaitingInput, models.ActorUser, models.IntentCommand)
	assert.False(t, result.Valid)
	assert.True(t, result.NewCommand)
	assert.Equal(t, "should create new command", result.Reason)
}

func TestValidate_UserAnswerWhileAwaitingInputTransitionsToProcessing(t *testing.T) {
	result := Validate(models.CommandAwaitingInput, models.ActorUser, models.IntentAnswer)
	assert.True(t, result.Valid)
	assert.Equal(t, models.CommandProcessing, result.ToState)
}

func TestValidate_UserAnswerOutsideAwaitingInputRejected(t *testing.T) {
	result := Validate(models.CommandProcessing, models.ActorUser, models.IntentAnswer)
	assert.False(t, result.Valid)
}

func TestValidate_AgentProgressFromCommandedTransitionsToProcessing(t *testing.T) {
	result := Validate(models.CommandCommanded, models.ActorAgent, models.IntentProgress)
	assert.True(t, result.Valid)
	assert.Equal(t, models.CommandProcessing, result.ToState)
}

func TestValidate_AgentProgressSelfLoopsInProcessing(t *testing.T) {
	result := Validate(models.CommandProcessing, models.ActorAgent, models.IntentProgress)
	assert.True(t, result.Valid)
	assert.Equal(t, models.CommandProcessing, result.ToState)
}

func TestValidate_AgentQuestionFromCommandedOrProcessing(t *testing.T) {
	for _, from := range []models.CommandState{models.CommandCommanded, models.CommandProcessing} {
		result := Validate(from, models.ActorAgent, models.IntentQuestion)
		assert.True(t, result.Valid)
		assert.Equal(t, models.CommandAwaitingInput, result.ToState)
	}
}

func TestValidate_AgentCompletionOrEndOfCommandCompletes(t *testing.T) {
	for _, intent := range []models.TurnIntent{models.IntentCompletion, models.IntentEndOfCommand} {
		for _, from := range []models.CommandState{models.CommandCommanded, models.CommandProcessing} {
			result := Validate(from, models.ActorAgent, intent)
			assert.True(t, result.Valid)
			assert.Equal(t, models.CommandComplete, result.ToState)
		}
	}
}

func TestValidateStop_CompletesOnlyFromProcessing(t *testing.T) {
	result := ValidateStop(models.CommandProcessing)
	assert.True(t, result.Valid)
	assert.Equal(t, models.CommandComplete, result.ToState)

	for _, from := range []models.CommandState{models.CommandIdle, models.CommandCommanded, models.CommandAwaitingInput, models.CommandComplete} {
		assert.False(t, ValidateStop(from).Valid)
	}
}

func TestValidateNotification_TransitionsProcessingToAwaitingInput(t *testing.T) {
	result := ValidateNotification(models.CommandProcessing)
	assert.True(t, result.Valid)
	assert.Equal(t, models.CommandAwaitingInput, result.ToState)
}

func TestValidateNotification_NoOpElsewhere(t *testing.T) {
	for _, from := range []models.CommandState{models.CommandIdle, models.CommandCommanded, models.CommandAwaitingInput, models.CommandComplete} {
		assert.False(t, ValidateNotification(from).Valid)
	}
}
