// Package server exposes the transcoder over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/pkg/config"
	"github.com/joelsemar/django-webservice-tools/pkg/connection"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	slots  chan struct{}
	router chi.Router
}

func New(cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		log:   log,
		slots: make(chan struct{}, cfg.HTTP.MaxConcurrent),
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.requestID)
	r.Use(s.logging)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{requestIDHeader, "X-Transcode-Frames", "X-Transcode-Padded"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limit)
		r.Post("/transcode", s.transcode)
		r.Get("/stream", connection.NewWebsocketHandler(s.openStream, s.streamError, cfg.HTTP.AllowedOrigins, cfg.HTTP.MaxBodyBytes, log).ServeHTTP)
	})
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(s.cfg.HTTP.Address, strconv.Itoa(s.cfg.HTTP.Port)),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.HTTP.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("transcode service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
