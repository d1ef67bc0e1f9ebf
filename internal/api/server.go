// Package api exposes the upload core over HTTP. Routing is chi; every /v1
// route requires a bearer token minted by internal/auth.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/ChunkDrop/internal/auth"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// Server exposes HTTP endpoints for chunked and direct uploads.
type Server struct {
	svc     *upload.Service
	signer  *auth.Signer
	logger  *slog.Logger
	addr    string
	tempDir string
	handler http.Handler
}

// New constructs a Server. tempDir holds direct uploads while their size is
// measured; empty means os.TempDir.
func New(svc *upload.Service, signer *auth.Signer, addr, tempDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     svc,
		signer:  signer,
		logger:  logger.With("component", "api"),
		addr:    addr,
		tempDir: tempDir,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "address", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/uploads", s.handleInitiate)
		r.Route("/uploads/{uploadID}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleCancel)
			r.Put("/chunks/{chunk}", s.handleChunk)
			r.Post("/complete", s.handleComplete)
		})

		r.Route("/entities/{entityID}/files", func(r chi.Router) {
			r.Post("/", s.handleDirect)
			r.Get("/", s.handleListFiles)
			r.Get("/{fileName}/url", s.handleFileURL)
			r.Get("/{fileName}/content", s.handleFileContent)
			r.Delete("/{fileName}", s.handleDeleteFile)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
