// Package api is the HTTP entry point for everything outside the five hook
// callbacks: the dashboard's agent/card surface, persona registration,
// the remote-agent embed API, the SSE event stream, and the ambient
// operational endpoints (health, metrics, the voice bridge auth probe).
// hookreceiver.Receiver owns the hook routes themselves and is mounted
// alongside this package's own router rather than duplicated into it.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub003/pkg/apicall"
	"github.com/samotage/claude-headspace-sub003/pkg/broadcaster"
	"github.com/samotage/claude-headspace-sub003/pkg/card"
	"github.com/samotage/claude-headspace-sub003/pkg/config"
	"github.com/samotage/claude-headspace-sub003/pkg/eventwriter"
	"github.com/samotage/claude-headspace-sub003/pkg/hookreceiver"
	"github.com/samotage/claude-headspace-sub003/pkg/lifecycle"
	"github.com/samotage/claude-headspace-sub003/pkg/lock"
	"github.com/samotage/claude-headspace-sub003/pkg/metrics"
	"github.com/samotage/claude-headspace-sub003/pkg/models"
	"github.com/samotage/claude-headspace-sub003/pkg/procmonitor"
	"github.com/samotage/claude-headspace-sub003/pkg/reaper"
	"github.com/samotage/claude-headspace-sub003/pkg/remotetoken"
	"github.com/samotage/claude-headspace-sub003/pkg/store"
	"github.com/samotage/claude-headspace-sub003/pkg/voiceauth"
)

// Version is stamped at build time; left as a package variable so the
// health endpoint can report its own release identifier.
var Version = "dev"

// Deps are every component the API surface calls into. Required fields are
// checked by ValidateWiring so a wiring gap is caught at startup rather than
// as a nil-pointer panic on first request.
type Deps struct {
	Config *config.Config
	DB     *sql.DB
	Log    *slog.Logger

	Agents     *store.AgentStore
	Projects   *store.ProjectStore
	Personas   *store.PersonaStore
	Roles      *store.RoleStore
	Objectives *store.ObjectiveStore
	Activity   *store.ActivityStore

	Cards        *card.Builder
	Lifecycle    *lifecycle.Controller
	RemoteTokens *remotetoken.Service
	Broadcaster  *broadcaster.Broadcaster
	HookReceiver *hookreceiver.Receiver
	VoiceAuth    *voiceauth.Auth
	APICallLog   *apicall.Logger
	Events       *eventwriter.Writer
	LockManager  *lock.Manager
	Reaper       *reaper.Reaper

	WatcherHealth *procmonitor.Checker
}

// Server is the gin-based HTTP surface described by this domain's external
// interfaces.
type Server struct {
	deps Deps
	log  *slog.Logger

	engine     *gin.Engine
	httpServer *http.Server
	metrics    *metrics.Exporter
	startedAt  time.Time
}

// ValidateWiring checks that every field a route handler dereferences
// without a nil guard has actually been set, returning one joined error
// listing every gap.
func (d Deps) ValidateWiring() error {
	var errs []error
	require := func(ok bool, name string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s not set", name))
		}
	}
	require(d.Config != nil, "Config")
	require(d.DB != nil, "DB")
	require(d.Agents != nil, "Agents")
	require(d.Projects != nil, "Projects")
	require(d.Personas != nil, "Personas")
	require(d.Roles != nil, "Roles")
	require(d.Objectives != nil, "Objectives")
	require(d.Activity != nil, "Activity")
	require(d.Cards != nil, "Cards")
	require(d.Lifecycle != nil, "Lifecycle")
	require(d.RemoteTokens != nil, "RemoteTokens")
	require(d.Broadcaster != nil, "Broadcaster")
	require(d.HookReceiver != nil, "HookReceiver")
	require(d.VoiceAuth != nil, "VoiceAuth")
	require(d.APICallLog != nil, "APICallLog")
	require(d.Events != nil, "Events")
	require(d.LockManager != nil, "LockManager")
	require(d.Reaper != nil, "Reaper")
	if len(errs) > 0 {
		return fmt.Errorf("api: wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// New builds a Server, wiring every route. It panics on incomplete wiring —
// a missing dependency is a programming error, not a runtime condition to
// recover from.
func New(deps Deps) *Server {
	if err := deps.ValidateWiring(); err != nil {
		panic(err)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		deps:      deps,
		log:       log,
		startedAt: time.Now(),
	}
	s.metrics = metrics.New(s.metricsSources())

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.engine = engine
	s.registerRoutes()
	return s
}

func (s *Server) metricsSources() metrics.Sources {
	return metrics.Sources{
		EventStats: func() metrics.EventStats {
			m := s.deps.Events.Metrics()
			return metrics.EventStats{Total: m.Total, Successful: m.Successful, Failed: m.Failed}
		},
		SubscriberCount:    s.deps.Broadcaster.SubscriberCount,
		BroadcasterDropped: s.deps.Broadcaster.DroppedCount,
		LockStats: func() metrics.LockStats {
			st := s.deps.LockManager.Stats()
			return metrics.LockStats{Acquired: st.Acquired, Timeouts: st.Timeouts, TotalWaitNanos: st.TotalWaitNanos}
		},
		ReaperStats: func() metrics.ReaperStats {
			return metrics.ReaperStats{LastCycleElapsed: s.deps.Reaper.Stats().LastCycleElapsed}
		},
		AgentStateCounts: s.agentStateCounts,
	}
}

func (s *Server) agentStateCounts(ctx context.Context) (map[models.CardState]int, error) {
	agents, err := s.deps.Agents.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	counts := make(map[models.CardState]int, len(agents))
	for _, a := range agents {
		c, err := s.deps.Cards.Build(ctx, a)
		if err != nil {
			continue
		}
		counts[c.State]++
	}
	return counts, nil
}

// Handler returns the underlying http.Handler, useful for tests that don't
// need a real listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving on addr. Blocks until the server stops or errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
