// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package metricsserver exposes the supervisor's Prometheus metrics and a
// liveness endpoint over HTTP (SPEC_FULL.md §13). It persists across reload
// generations — it is started once by internal/server and outlives every
// individual ServerInstance.
package metricsserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// httpServer matches *http.Server's lifecycle methods, letting Service be
// tested against a fake without a real listener.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Service wraps an HTTP server exposing /metrics and /healthz as a
// suture-compatible service: Serve blocks on ListenAndServe, then performs a
// graceful Shutdown once ctx is canceled.
type Service struct {
	server          httpServer
	shutdownTimeout time.Duration
}

// New builds a Service listening on addr. shutdownTimeout bounds how long
// Serve waits for in-flight requests to finish once ctx is canceled.
func New(addr string, shutdownTimeout time.Duration) *Service {
	return newService(&http.Server{Addr: addr, Handler: router()}, shutdownTimeout)
}

func newService(server httpServer, shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Service{server: server, shutdownTimeout: shutdownTimeout}
}

func router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metricsserver: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metricsserver: shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's log output.
func (s *Service) String() string {
	return "metricsserver"
}
