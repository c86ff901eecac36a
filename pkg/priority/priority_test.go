package priority

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/oracle"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

type testFixture struct {
	scorer     *Scorer
	agents     *store.AgentStore
	commands   *store.CommandStore
	projects   *store.ProjectStore
	objectives *store.ObjectiveStore
	project    *models.Project
	db         *sql.DB
}

func newFixture(t *testing.T, scoreHandler http.HandlerFunc) *testFixture {
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
	projects := store.NewProjectStore(db)
	agents := store.NewAgentStore(db)
	commands := store.NewCommandStore(db)
	objectives := store.NewObjectiveStore(db)
	calls := store.NewInferenceCallStore(db)
	events := eventwriter.New(db, time.Millisecond, time.Second)

	server := httptest.NewServer(scoreHandler)
	t.Cleanup(server.Close)
	oc := oracle.New(oracle.Config{Endpoint: server.URL, Model: "test-model", Timeout: 5 * time.Second}, calls)

	project, err := projects.GetOrCreateByPath(ctx, t.TempDir())
	require.NoError(t, err)

	scorer := New(objectives, agents, commands, projects, oc, events, time.Hour)

	return &testFixture{scorer: scorer, agents: agents, commands: commands, projects: projects, objectives: objectives, project: project, db: db}
}

func (f *testFixture) newAgent(t *testing.T) *models.Agent {
	t.Helper()
	a, err := f.agents.Create(context.Background(), f.project.ID, uuid.New())
	require.NoError(t, err)
	return a
}

func TestScorer_SweepSkipsWhenNoObjectiveSet(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("oracle should not be called with no objective")
	})
	require.NoError(t, f.scorer.Sweep(context.Background()))
}

func TestScorer_SweepSkipsWhenPriorityDisabled(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("oracle should not be called with priority disabled")
	})
	_, err := f.objectives.Set(context.Background(), "Ship the release", false)
	require.NoError(t, err)
	require.NoError(t, f.scorer.Sweep(context.Background()))
}

func TestScorer_SweepScoresActiveAgentsAndPersists(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Candidates []oracle.PriorityCandidate `json:"candidates"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		scores := make([]oracle.PriorityScore, len(req.Candidates))
		for i, c := range req.Candidates {
			scores[i] = oracle.PriorityScore{AgentID: c.AgentID, Score: 90, Reason: "closest to objective"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"scores": scores})
	})
	_, err := f.objectives.Set(context.Background(), "Ship the release", true)
	require.NoError(t, err)

	a := f.newAgent(t)

	require.NoError(t, f.scorer.Sweep(context.Background()))

	reloaded, err := f.agents.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.PriorityScore)
	assert.Equal(t, 90, *reloaded.PriorityScore)
	require.NotNil(t, reloaded.PriorityReason)
	assert.Equal(t, "closest to objective", *reloaded.PriorityReason)
}

func TestScorer_SweepSkipsAgentsInPausedProjects(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("oracle should not be called when the only candidate's project is paused")
	})
	_, err := f.objectives.Set(context.Background(), "Ship the release", true)
	require.NoError(t, err)

	_ = f.newAgent(t)

	_, err = f.db.ExecContext(context.Background(),
		`UPDATE projects SET inference_paused = true WHERE id = $1`, f.project.ID)
	require.NoError(t, err)

	require.NoError(t, f.scorer.Sweep(context.Background()))
}
