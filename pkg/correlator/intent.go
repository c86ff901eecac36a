package correlator

import (
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// legacyEndOfTask is the historical intent name, renamed to end_of_command.
// Hook payloads and JSONL entries emitted before the rename still carry the
// old string; ParseIntent normalises it on the way in so nothing downstream
// ever sees it.
const legacyEndOfTask = "end_of_task"

var validIntents = map[string]models.TurnIntent{
	string(models.IntentCommand):      models.IntentCommand,
	string(models.IntentAnswer):       models.IntentAnswer,
	string(models.IntentQuestion):     models.IntentQuestion,
	string(models.IntentCompletion):   models.IntentCompletion,
	string(models.IntentProgress):     models.IntentProgress,
	string(models.IntentEndOfCommand): models.IntentEndOfCommand,
	legacyEndOfTask:                   models.IntentEndOfCommand,
}

// ParseIntent maps a raw intent string from a hook payload or JSONL entry
// onto the closed TurnIntent enum.
func ParseIntent(raw string) (models.TurnIntent, error) {
	intent, ok := validIntents[raw]
	if !ok {
		return "", fmt.Errorf("correlator: unrecognised intent %q", raw)
	}
	return intent, nil
}
