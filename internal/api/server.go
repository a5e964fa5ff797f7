// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP surface of the extraction service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/subclip/internal/api/middleware"
	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/health"
	"github.com/ManuGH/subclip/internal/locator"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/orchestrator"
)

// Engine is the job surface. *orchestrator.Orchestrator implements it.
type Engine interface {
	Submit(ctx context.Context, kind job.Kind, assetID string, p job.Params) (orchestrator.Handle, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	Cancel(ctx context.Context, id string) (*job.Job, error)
}

// Assets registers and looks up source media. *assets.Registry implements it.
type Assets interface {
	Register(ctx context.Context, id, sourceLocator string) (asset.Asset, bool, error)
	Get(ctx context.Context, id string) (asset.Asset, error)
	Delete(ctx context.Context, id string) error
}

// Clips reads and removes clip records. metadata.Store implements it.
type Clips interface {
	GetClip(ctx context.Context, id string) (asset.Clip, error)
	ListClips(ctx context.Context, assetID string, limit, offset int) ([]asset.Clip, int, error)
	DeleteClip(ctx context.Context, id string) error
}

// Linker signs download links. *locator.Locator implements it.
type Linker interface {
	DownloadLink(ctx context.Context, c asset.Clip) (locator.TimedEndpoint, error)
}

// Remover deletes published outputs. storage backends implement it.
type Remover interface {
	Remove(ctx context.Context, locator string) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Engine Engine
	Assets Assets
	Clips  Clips
	Links  Linker
	// Outputs removes clip files on delete. Nil leaves them to retention.
	Outputs Remover
	// Files serves signed local URLs under /files/. Nil disables the route.
	Files  FileSigner
	Health *health.Manager
}

// Config tunes the listener and middleware.
type Config struct {
	ListenAddr        string
	MaxConns          int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RateLimit         int
	RateWindow        time.Duration
	// TracingService enables otelhttp spans under this name.
	TracingService string
}

// Server owns the router and the HTTP listener.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
}

// New builds the router. It fails when the embedded contract is invalid.
func New(cfg Config, d Deps) (*Server, error) {
	if d.Engine == nil || d.Assets == nil || d.Clips == nil || d.Links == nil {
		return nil, errors.New("api: engine, assets, clips and links are required")
	}
	if d.Health == nil {
		d.Health = health.NewManager("")
	}
	s := &Server{cfg: cfg, deps: d}
	r, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.router = r
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() (chi.Router, error) {
	doc, err := LoadContract(context.Background())
	if err != nil {
		return nil, err
	}
	validator, err := middleware.OpenAPIValidator(doc, func(w http.ResponseWriter, r *http.Request, field, msg string) {
		var extra map[string]any
		if field != "" {
			extra = map[string]any{"errors": []fieldError{{Field: field, Message: msg}}}
		}
		writeProblem(w, r, http.StatusBadRequest, "invalid_parameter", msg, extra)
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableMetrics:  true,
		EnableLogging:  true,
		TracingService: s.cfg.TracingService,
		RateLimit:      s.cfg.RateLimit,
		RateWindow:     s.cfg.RateWindow,
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "not_found", "no such route", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "", nil)
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if s.deps.Files != nil {
		mountFiles(r, s.deps.Files)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(validator)
		r.Post("/extraction-job", s.handleSubmit)
		r.Get("/extraction-job/{job_id}", s.handleGetJob)
		r.Delete("/extraction-job/{job_id}", s.handleCancelJob)

		r.Post("/assets", s.handleRegisterAsset)
		r.Get("/assets/{asset_id}", s.handleGetAsset)
		r.Delete("/assets/{asset_id}", s.handleDeleteAsset)
		r.Get("/assets/{asset_id}/clips", s.handleListClips)

		r.Get("/clips/{clip_id}", s.handleGetClip)
		r.Delete("/clips/{clip_id}", s.handleDeleteClip)
		r.Get("/clips/{clip_id}/download", s.handleDownloadClip)
	})
	return r, nil
}

// ListenAndServe serves until ctx ends, then drains connections within
// ShutdownTimeout. The listener is capped at MaxConns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	rht := s.cfg.ReadHeaderTimeout
	if rht <= 0 {
		rht = 10 * time.Second
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: rht,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	logger := log.WithComponent("api")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info().Str(log.FieldEvent, "api.listening").Str("addr", ln.Addr().String()).Int("max_conns", s.cfg.MaxConns).Msg("http server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info().Str(log.FieldEvent, "api.shutdown").Msg("draining http connections")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
