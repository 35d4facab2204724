// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package metricsserver

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockHTTPServer struct {
	listenErr      error
	block          bool
	shutdownErr    error
	listenCount    atomic.Int32
	shutdownCount  atomic.Int32
	listenStarted  chan struct{}
	stopCh         chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{listenStarted: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.listenCount.Add(1)
	select {
	case m.listenStarted <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	if m.block {
		<-m.stopCh
		return http.ErrServerClosed
	}
	return nil
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestServiceImplementsSutureService(t *testing.T) {
	var _ suture.Service = (*Service)(nil)
}

func TestNewDefaultsZeroTimeout(t *testing.T) {
	svc := newService(newMockHTTPServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s", svc.shutdownTimeout)
	}
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	srv := newMockHTTPServer()
	srv.block = true
	svc := newService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-srv.listenStarted:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if srv.shutdownCount.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdownCount.Load())
	}
}

func TestServeReturnsStartupError(t *testing.T) {
	wantErr := errors.New("bind: address already in use")
	srv := newMockHTTPServer()
	srv.listenErr = wantErr
	svc := newService(srv, time.Second)

	if err := svc.Serve(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapping %v", err, wantErr)
	}
}

func TestStringReportsComponentName(t *testing.T) {
	svc := newService(newMockHTTPServer(), time.Second)
	if svc.String() != "metricsserver" {
		t.Errorf("String() = %q, want metricsserver", svc.String())
	}
}

func TestRouterServesMetricsAndHealthz(t *testing.T) {
	r := router()
	for _, path := range []string{"/metrics", "/healthz"} {
		req, err := http.NewRequest(http.MethodGet, path, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		rec := &statusRecorder{}
		r.ServeHTTP(rec, req)
		if rec.code != http.StatusOK && rec.code != 0 {
			t.Errorf("%s returned status %d, want 200", path, rec.code)
		}
	}
}

type statusRecorder struct {
	code int
	buf  []byte
}

func (s *statusRecorder) Header() http.Header         { return http.Header{} }
func (s *statusRecorder) Write(b []byte) (int, error) { s.buf = append(s.buf, b...); return len(b), nil }
func (s *statusRecorder) WriteHeader(code int)        { s.code = code }
