// Package server exposes the pipeline over HTTP and runs periodic queue
// maintenance for the serve command.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"alertrelay/internal/health"
	"alertrelay/internal/manager"
	"alertrelay/internal/metrics"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"

	"github.com/gorilla/mux"
)

const defaultMaxBody = 1 << 20

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// MaxBodyBytes caps POSTed event size. 0 means 1 MiB.
	MaxBodyBytes int64
	// DefaultContext labels events posted without ?context=.
	DefaultContext string
}

type Deps struct {
	Manager *manager.Manager
	Queue   *queue.Queue
	Store   storage.Store
	Health  *health.Harness
	Metrics *metrics.Metrics
}

type Server struct {
	cfg    Config
	d      Deps
	log    logx.Logger
	router *mux.Router
}

func New(cfg Config, d Deps, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.DefaultContext == "" {
		cfg.DefaultContext = "http"
	}
	s := &Server{cfg: cfg, d: d, log: log.With(logx.Component("http")), router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(requestLogger(s.log), recovery(s.log))

	api.HandleFunc("/events", s.postEvent).Methods(http.MethodPost)
	api.HandleFunc("/queue", s.getQueue).Methods(http.MethodGet)
	api.HandleFunc("/queue/scan", s.postScan).Methods(http.MethodPost)
	api.HandleFunc("/audit", s.getAudit).Methods(http.MethodGet)
	api.HandleFunc("/channels/health", s.getChannelHealth).Methods(http.MethodGet)

	s.router.Handle("/healthz", s.liveness()).Methods(http.MethodGet)
	if s.d.Metrics != nil {
		s.router.Handle("/metrics", s.d.Metrics.Handler()).Methods(http.MethodGet)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
