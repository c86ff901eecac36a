package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
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
	"github.com/samotage/claude-headspace-sub003/pkg/store"
	"github.com/samotage/claude-headspace-sub003/pkg/terminal"
)

// stubPersonaContent returns a fixed (skill, experience) pair regardless of
// the requested slug.
type stubPersonaContent struct{}

func (stubPersonaContent) Content(ctx context.Context, slug string) (PersonaContent, error) {
	return PersonaContent{Skill: "skill doc for " + slug, Experience: "experience doc"}, nil
}

// stubGuardrails returns a fixed guardrails document and version hash.
type stubGuardrails struct{}

func (stubGuardrails) Current(ctx context.Context) (string, string, error) {
	return "always confirm before destructive actions", "v1", nil
}

// writeFakeTmux writes a shell script that fakes just enough of tmux for the
// lifecycle controller: new-session registers a pane keyed by session name
// (tagged with projectPath as its working directory) into panesFile,
// list-panes dumps that file, and send-keys/kill-session/capture-pane are
// no-ops. Tests needing extra panes (not spawned through the bridge) can
// append additional lines to panesFile directly.
func writeFakeTmux(t *testing.T, projectPath string) (bin, panesFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tmux script requires a POSIX shell")
	}
	dir := t.TempDir()
	panesFile = filepath.Join(dir, "panes.tsv")
	require.NoError(t, os.WriteFile(panesFile, nil, 0o644))

	script := `#!/bin/sh
panes_file="__PANES_FILE__"
project_path="__PROJECT_PATH__"
case "$1" in
  new-session)
    shift
    name=""
    prev=""
    for a in "$@"; do
      if [ "$prev" = "-s" ]; then name="$a"; fi
      prev="$a"
    done
    echo "%${name}	${name}	claude	${project_path}" >> "$panes_file"
    exit 0
    ;;
  list-panes)
    cat "$panes_file"
    exit 0
    ;;
  kill-session|send-keys|capture-pane)
    exit 0
    ;;
  *)
    exit 0
    ;;
esac
`
	script = strings.ReplaceAll(script, "__PANES_FILE__", panesFile)
	script = strings.ReplaceAll(script, "__PROJECT_PATH__", projectPath)

	bin = filepath.Join(dir, "fake-tmux.sh")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, panesFile
}

type testFixture struct {
	controller  *Controller
	projects    *store.ProjectStore
	agents      *store.AgentStore
	personas    *store.PersonaStore
	handoffs    *store.HandoffStore
	panesFile   string
	projectPath string
	project     *storeProjectRef
}

// storeProjectRef avoids importing models into the test for just an ID/path
// pair.
type storeProjectRef struct {
	ID   int64
	Path string
}

func newFixture(t *testing.T) *testFixture {
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
	personas := store.NewPersonaStore(db)
	handoffs := store.NewHandoffStore(db)
	events := eventwriter.New(db, time.Millisecond, time.Second)

	projectPath := t.TempDir()
	project, err := projects.GetOrCreateByPath(ctx, projectPath)
	require.NoError(t, err)

	bin, panesFile := writeFakeTmux(t, projectPath)
	bridge := terminal.New(bin, time.Second)

	controller := New(projects, agents, personas, handoffs, bridge, events,
		stubPersonaContent{}, stubGuardrails{}, "claude", time.Millisecond)

	return &testFixture{
		controller: controller, projects: projects, agents: agents,
		personas: personas, handoffs: handoffs, panesFile: panesFile,
		projectPath: projectPath, project: &storeProjectRef{ID: project.ID, Path: project.Path},
	}
}

func TestController_CreateSpawnsSessionAndRegistersAgent(t *testing.T) {
	f := newFixture(t)
	agent, err := f.controller.Create(context.Background(), CreateOptions{ProjectID: f.project.ID})
	require.NoError(t, err)
	require.NotNil(t, agent.TmuxPaneID)
	assert.NotEmpty(t, *agent.TmuxPaneID)
	assert.Equal(t, f.project.ID, agent.ProjectID)
}

func TestController_CreateRejectsMissingProjectPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gone := filepath.Join(f.projectPath, "does-not-exist-subdir")
	missingProject, err := f.projects.GetOrCreateByPath(ctx, gone)
	require.NoError(t, err)

	_, err = f.controller.Create(ctx, CreateOptions{ProjectID: missingProject.ID})
	assert.ErrorIs(t, err, ErrProjectPathMissing)
}

func TestController_CreateInjectsPersonaContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.personas.Register(ctx, "reviewer", "Reviewer", 1, nil, "deadbeef")
	require.NoError(t, err)

	slug := "reviewer"
	agent, err := f.controller.Create(ctx, CreateOptions{ProjectID: f.project.ID, PersonaSlug: &slug})
	require.NoError(t, err)

	reloaded, err := f.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.GuardrailsVersionHash)
	assert.Equal(t, "v1", *reloaded.GuardrailsVersionHash)
	assert.NotNil(t, reloaded.PromptInjectedAt)
}

func TestController_CreateRejectsUnknownPersona(t *testing.T) {
	f := newFixture(t)
	slug := "does-not-exist"
	_, err := f.controller.Create(context.Background(), CreateOptions{ProjectID: f.project.ID, PersonaSlug: &slug})
	assert.Error(t, err)
}

func TestController_CreateInjectsRevivalForPredecessorWithoutHandoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	predecessor, err := f.agents.Create(ctx, f.project.ID, uuid.New())
	require.NoError(t, err)

	agent, err := f.controller.Create(ctx, CreateOptions{ProjectID: f.project.ID, PreviousAgentID: &predecessor.ID})
	require.NoError(t, err)
	require.NotNil(t, agent.PreviousAgentID)
	assert.Equal(t, predecessor.ID, *agent.PreviousAgentID)
}

func TestController_CreateInjectsHandoffAndRecordsSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	predecessor, err := f.agents.Create(ctx, f.project.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.handoffs.Create(ctx, predecessor.ID, nil, "handing off to cover the rest of the refactor")
	require.NoError(t, err)

	agent, err := f.controller.Create(ctx, CreateOptions{ProjectID: f.project.ID, PreviousAgentID: &predecessor.ID})
	require.NoError(t, err)

	handoff, err := f.handoffs.GetByAgentID(ctx, predecessor.ID)
	require.NoError(t, err)
	require.NotNil(t, handoff.SuccessorID)
	assert.Equal(t, agent.ID, *handoff.SuccessorID)
}

func TestController_ShutdownReportsNotFound(t *testing.T) {
	f := newFixture(t)
	result, err := f.controller.Shutdown(context.Background(), 999999)
	require.NoError(t, err)
	assert.False(t, result.Attempted)
	assert.Equal(t, "not found", result.Reason)
}

func TestController_ShutdownReportsAlreadyEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent, err := f.agents.Create(ctx, f.project.ID, uuid.New())
	require.NoError(t, err)
	require.NoError(t, f.agents.SetEnded(ctx, agent.ID))

	result, err := f.controller.Shutdown(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, result.Attempted)
	assert.Equal(t, "already ended", result.Reason)
}

func TestController_ShutdownSendsExitForSpawnedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent, err := f.controller.Create(ctx, CreateOptions{ProjectID: f.project.ID})
	require.NoError(t, err)

	result, err := f.controller.Shutdown(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, result.Attempted)
}

func TestController_ReconcilePanesReattachesUnambiguousMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent, err := f.agents.Create(ctx, f.project.ID, uuid.New())
	require.NoError(t, err)

	// The agent has no recorded pane yet, and exactly one live pane matches
	// its project's working directory and runs the REPL binary.
	appendPane(t, f.panesFile, "%20", "orphan-session", "claude", f.project.Path)

	reconnected, err := f.controller.ReconcilePanes(ctx)
	require.NoError(t, err)
	assert.Contains(t, reconnected, agent.ID)

	reloaded, err := f.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.TmuxPaneID)
	assert.Equal(t, "%20", *reloaded.TmuxPaneID)
}

func TestController_ReconcilePanesLeavesAmbiguousMatchUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent, err := f.agents.Create(ctx, f.project.ID, uuid.New())
	require.NoError(t, err)

	appendPane(t, f.panesFile, "%21", "candidate-one", "claude", f.project.Path)
	appendPane(t, f.panesFile, "%22", "candidate-two", "claude", f.project.Path)

	reconnected, err := f.controller.ReconcilePanes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, reconnected, agent.ID)

	reloaded, err := f.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.TmuxPaneID)
}

func appendPane(t *testing.T, panesFile, paneID, sessionName, command, workingDir string) {
	t.Helper()
	f, err := os.OpenFile(panesFile, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\t%s\t%s\t%s\n", paneID, sessionName, command, workingDir)
	require.NoError(t, err)
}
