package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/samotage/claude-headspace-sub003/pkg/database"
	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/lock"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

func newTestCorrelator(t *testing.T) (*Correlator, *store.AgentStore, int64, int64) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := client.DB()

	var projectID int64
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO projects (slug, name, path) VALUES ($1, $2, $3) RETURNING id`,
		"demo", "Demo", "/home/demo/project").Scan(&projectID))

	agents := store.NewAgentStore(db)
	agent, err := agents.Create(ctx, projectID, uuid.New())
	require.NoError(t, err)

	locks := lock.New(db)
	commands := store.NewCommandStore(db)
	turns := store.NewTurnStore(db)
	events := eventwriter.New(db, time.Millisecond, time.Second)

	c := New(db, locks, agents, commands, turns, events, nil, time.Minute, 32, 100, time.Minute)
	return c, agents, agent.ID, projectID
}

func TestCorrelator_UserCommandFromIdleOpensNewCommand(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)

	outcome, err := c.Correlate(context.Background(), Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "fix the flaky test", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.True(t, outcome.NewCommand)
	assert.Equal(t, models.CommandCommanded, outcome.ToState)
	assert.Greater(t, outcome.CommandID, int64(0))
}

func TestCorrelator_AgentProgressThenCompletion(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	opened, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "fix the flaky test", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)

	progressed, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorAgent, Intent: models.IntentProgress,
		Text: "looking at the test file", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.Equal(t, opened.CommandID, progressed.CommandID)
	assert.Equal(t, models.CommandProcessing, progressed.ToState)

	completed, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorAgent, Intent: models.IntentCompletion,
		Text: "done, tests pass", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.Equal(t, opened.CommandID, completed.CommandID)
	assert.Equal(t, models.CommandComplete, completed.ToState)
}

func TestCorrelator_QuestionAndAnswerCycle(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	_, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "deploy the service", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)

	asked, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorAgent, Intent: models.IntentQuestion,
		Text: "which environment?", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CommandAwaitingInput, asked.ToState)

	answered, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentAnswer,
		Text: "staging", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CommandProcessing, answered.ToState)
}

func TestCorrelator_UserCommandWhileAwaitingInputOpensSibling(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	first, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "deploy the service", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)

	_, err = c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorAgent, Intent: models.IntentQuestion,
		Text: "which environment?", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)

	sibling, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "actually cancel that, do something else", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.True(t, sibling.NewCommand)
	assert.NotEqual(t, first.CommandID, sibling.CommandID)
}

func TestCorrelator_StorageDuplicateHashIsSilentlySkipped(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	in := Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "deploy the service", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
		JSONLEntryHash: "abc123",
	}

	_, err := c.Correlate(ctx, in)
	require.NoError(t, err)

	outcome, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorAgent, Intent: models.IntentProgress,
		Text: "deploy the service", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
		JSONLEntryHash: "abc123",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
}

func TestCorrelator_RejectedTransitionIsNoOp(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	outcome, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentAnswer,
		Text: "staging", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, models.CommandIdle, outcome.FromState)
}

func TestCorrelator_StopHookCompletesProcessingCommand(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	_, err := c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorUser, Intent: models.IntentCommand,
		Text: "run the migration", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)
	_, err = c.Correlate(ctx, Input{
		AgentID: agentID, ProjectID: projectID,
		Actor: models.ActorAgent, Intent: models.IntentProgress,
		Text: "applying schema", Timestamp: time.Now(), TimestampSource: models.TimestampSourceJSONL,
	})
	require.NoError(t, err)

	outcome, err := c.CorrelateStop(ctx, agentID, projectID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandComplete, outcome.ToState)
}

func TestCorrelator_NotificationHookNoOpOutsideProcessing(t *testing.T) {
	c, _, agentID, projectID := newTestCorrelator(t)
	ctx := context.Background()

	outcome, err := c.CorrelateNotification(ctx, agentID, projectID)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
}
