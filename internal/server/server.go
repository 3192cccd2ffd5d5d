// Package server ties the broker to the outside world: the WebSocket client
// plane (sessions, pumps, frame routing) and the REST control plane.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adred-codev/pubsub/internal/broker"
	"github.com/adred-codev/pubsub/internal/config"
	"github.com/adred-codev/pubsub/internal/monitoring"
)

// Server owns the broker, the HTTP listener and every live session.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	broker *broker.Broker
	sysmon *monitoring.SystemMonitor

	httpServer *http.Server
	upgrader   websocket.Upgrader

	sessions   sync.Map // *Session -> struct{}
	sessionSeq atomic.Int64

	// ctx is the parent of every delivery pump; cancel tears them down if
	// the drain window expires with pumps still running.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a server from configuration.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		broker: broker.New(broker.Options{
			QueueSize:      cfg.MaxQueueSize,
			HistorySize:    cfg.HistorySize,
			OverflowPolicy: cfg.OverflowPolicy,
			DrainWindow:    cfg.ShutdownDrain,
		}, logger),
		sysmon: monitoring.NewSystemMonitor(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	srv.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.routes(),
	}
	return srv
}

// Broker exposes the underlying broker, mainly for tests.
func (srv *Server) Broker() *broker.Broker {
	return srv.broker
}

func (srv *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", srv.handleWebSocket)

	r.Post("/topics", srv.handleCreateTopic)
	r.Delete("/topics/{name}", srv.handleDeleteTopic)
	r.Get("/topics", srv.handleListTopics)
	r.Get("/health", srv.handleHealth)
	r.Get("/stats", srv.handleStats)
	r.Handle("/metrics", monitoring.Handler())

	return r
}

// Start launches the system monitor and the HTTP listener. Blocks until the
// listener exits; http.ErrServerClosed is swallowed as the normal shutdown
// path.
func (srv *Server) Start() error {
	srv.sysmon.Start(srv.cfg.MetricsInterval)

	srv.logger.Info().
		Str("addr", srv.cfg.Addr()).
		Msg("Server listening")

	if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleWebSocket upgrades the connection and starts the session's pumps.
// New connections are refused once shutdown has begun.
func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if srv.broker.IsShuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	sess := newSession(srv.sessionSeq.Add(1), conn, srv)
	srv.sessions.Store(sess, struct{}{})
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Inc()

	sess.logger.Info().Str("remote", r.RemoteAddr).Msg("Session opened")

	go sess.writePump()
	go sess.readLoop()
}

func (srv *Server) removeSession(sess *Session) {
	if _, loaded := srv.sessions.LoadAndDelete(sess); loaded {
		monitoring.ConnectionsActive.Dec()
	}
}

// Shutdown runs the graceful sequence: quiesce the broker (refuse new work,
// notify subscribers, drain pump queues), close every session, stop the HTTP
// listener, then wait for the pumps to exit.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.logger.Info().Msg("Shutdown initiated")

	srv.broker.Shutdown()

	srv.sessions.Range(func(key, _ any) bool {
		key.(*Session).Close()
		return true
	})

	// Give outstanding control-plane requests a moment to finish.
	httpCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := srv.httpServer.Shutdown(httpCtx)

	srv.cancel()
	srv.wg.Wait()
	srv.sysmon.Shutdown()

	srv.logger.Info().Msg("Shutdown complete")
	return err
}
