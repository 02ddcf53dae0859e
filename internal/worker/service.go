// Package worker provides the HTTP service for interviewsim: identity,
// session and transcript routes, the submit pipeline, and the SSE stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/interviewsim/interviewsim/internal/auth"
	"github.com/interviewsim/interviewsim/internal/config"
	"github.com/interviewsim/interviewsim/internal/coordinator"
	"github.com/interviewsim/interviewsim/internal/sessions"
	"github.com/interviewsim/interviewsim/internal/store"
	"github.com/interviewsim/interviewsim/internal/worker/sse"
)

// Service is the worker HTTP service.
type Service struct {
	version        string
	cfg            atomic.Pointer[config.Config]
	adapter        *store.Adapter
	authService    *auth.Service
	inferClient    coordinator.Inference
	coordinators   *coordinator.Manager
	sseBroadcaster *sse.Broadcaster
	router         *chi.Mux
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time
	ready          atomic.Bool

	syncMu sync.Mutex
	syncs  map[string]*sessions.Synchronizer
}

// New creates the worker service and wires its routes.
func New(version string, cfg *config.Config, adapter *store.Adapter, authService *auth.Service, infer coordinator.Inference) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		adapter:        adapter,
		authService:    authService,
		inferClient:    infer,
		coordinators:   coordinator.NewManager(ctx, adapter, infer),
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		syncs:          make(map[string]*sessions.Synchronizer),
	}
	svc.cfg.Store(cfg)

	svc.coordinators.NavFor = func(userID string) coordinator.Navigator {
		return &ssePusher{broadcaster: svc.sseBroadcaster, userID: userID}
	}

	svc.setupRoutes()
	svc.ready.Store(true)
	return svc
}

// Router returns the HTTP handler.
func (s *Service) Router() http.Handler { return s.router }

// Config returns the current configuration snapshot.
func (s *Service) Config() *config.Config { return s.cfg.Load() }

// UpdateConfig atomically publishes a new configuration, e.g. after a
// settings-file reload. Readers always observe a complete snapshot.
func (s *Service) UpdateConfig(cfg *config.Config) { s.cfg.Store(cfg) }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	port := s.cfg.Load().Port
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", port).Str("version", s.version).Msg("Worker service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close tears down coordinators and watches.
func (s *Service) Close() {
	s.cancel()
	s.coordinators.Close()
}

// synchronizer returns the user's session-list synchronizer, creating and
// subscribing it on first use.
func (s *Service) synchronizer(userID string) *sessions.Synchronizer {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if sync, ok := s.syncs[userID]; ok {
		return sync
	}
	sync := sessions.New(s.ctx, s.adapter, &ssePusher{broadcaster: s.sseBroadcaster, userID: userID})
	sync.SetUser(userID)
	s.syncs[userID] = sync
	return sync
}

// dropUserState releases per-user state on sign-out.
func (s *Service) dropUserState(userID string) {
	s.coordinators.Drop(userID)

	s.syncMu.Lock()
	if sync, ok := s.syncs[userID]; ok {
		sync.SetUser("")
		delete(s.syncs, userID)
	}
	s.syncMu.Unlock()
}

// ssePusher turns navigation decisions into SSE events so the client can
// move its view.
type ssePusher struct {
	broadcaster *sse.Broadcaster
	userID      string
}

func (p *ssePusher) Navigate(sessionID string) {
	p.broadcaster.Broadcast(p.userID, map[string]string{
		"type":       "navigate",
		"session_id": sessionID,
	})
}
