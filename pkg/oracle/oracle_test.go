package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/samotage/claude-headspace-sub003/pkg/database"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
)

func newTestOracle(t *testing.T, handler http.HandlerFunc) *Oracle {
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

	calls := store.NewInferenceCallStore(client.DB())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(Config{Endpoint: server.URL, Model: "test-model", Timeout: 5 * time.Second}, calls)
}

func newTestOracleWithConfig(t *testing.T, extra Config, handler http.HandlerFunc) *Oracle {
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

	calls := store.NewInferenceCallStore(client.DB())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	extra.Endpoint = server.URL
	extra.Model = "test-model"
	extra.Timeout = 5 * time.Second
	return New(extra, calls)
}

func TestOracle_SummarizeCachesByInputHash(t *testing.T) {
	var requests atomic.Int32
	o := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(summarizeResponse{Summary: "fixed the build", PromptTokens: 10, CompletionTokens: 5})
	})

	ctx := context.Background()
	agentID := int64(1)

	first, err := o.Summarize(ctx, models.InferenceLevelTurn, ParentRefs{AgentID: &agentID}, "agent ran the test suite and it passed")
	require.NoError(t, err)
	assert.Equal(t, "fixed the build", first)

	second, err := o.Summarize(ctx, models.InferenceLevelTurn, ParentRefs{AgentID: &agentID}, "agent ran the test suite and it passed")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, int32(1), requests.Load())
}

func TestOracle_ScorePriorityParsesBatchResponse(t *testing.T) {
	o := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(scoreResponse{
			Scores: []PriorityScore{
				{AgentID: 1, Score: 80, Reason: "closest to the objective"},
				{AgentID: 2, Score: 20, Reason: "unrelated work"},
			},
		})
	})

	scores, err := o.ScorePriority(context.Background(), "Ship auth", []PriorityCandidate{
		{AgentID: 1, State: "PROCESSING", Instruction: "wire up the login flow"},
		{AgentID: 2, State: "IDLE"},
	})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 80, scores[0].Score)
}

func TestOracle_ScorePriorityWithNoCandidatesIsNoop(t *testing.T) {
	o := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("oracle endpoint should not be called with zero candidates")
	})
	scores, err := o.ScorePriority(context.Background(), "Ship auth", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestOracle_SummarizePropagatesUpstreamError(t *testing.T) {
	o := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	agentID := int64(1)
	_, err := o.Summarize(context.Background(), models.InferenceLevelTurn, ParentRefs{AgentID: &agentID}, "text that will fail")
	assert.Error(t, err)
}

func TestOracle_SendsBearerTokenFromAPIKeyEnv(t *testing.T) {
	t.Setenv("ORACLE_TEST_API_KEY", "s3cr3t-token")

	var gotAuth atomic.Value
	gotAuth.Store("")
	o := newTestOracleWithConfig(t, Config{APIKeyEnv: "ORACLE_TEST_API_KEY"}, func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(summarizeResponse{Summary: "ok"})
	})

	agentID := int64(1)
	_, err := o.Summarize(context.Background(), models.InferenceLevelTurn, ParentRefs{AgentID: &agentID}, "some turn text")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cr3t-token", gotAuth.Load())
}

func TestOracle_CacheEntryExpiresAfterTTL(t *testing.T) {
	var requests atomic.Int32
	o := newTestOracleWithConfig(t, Config{CacheTTL: 10 * time.Millisecond}, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(summarizeResponse{Summary: "fixed the build"})
	})

	ctx := context.Background()
	agentID := int64(1)

	_, err := o.Summarize(ctx, models.InferenceLevelTurn, ParentRefs{AgentID: &agentID}, "agent ran the test suite and it passed")
	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())

	time.Sleep(20 * time.Millisecond)

	_, err = o.Summarize(ctx, models.InferenceLevelTurn, ParentRefs{AgentID: &agentID}, "agent ran the test suite and it passed")
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}
