package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/notify"
)

type fakeSupervisor struct {
	states map[string]domain.ServiceState
	starts []string
	stops  []string
}

func (f *fakeSupervisor) ListServices() ([]domain.ServiceState, error) {
	out := make([]domain.ServiceState, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSupervisor) Status(name string) (domain.ServiceState, error) {
	s, ok := f.states[name]
	if !ok {
		return domain.ServiceState{}, &domain.ConfigError{Message: "not found"}
	}
	return s, nil
}

func (f *fakeSupervisor) Start(name string) error {
	f.starts = append(f.starts, name)
	return nil
}

func (f *fakeSupervisor) Stop(name string) error {
	f.stops = append(f.stops, name)
	return nil
}

func (f *fakeSupervisor) Restart(name string) error { return nil }

func (f *fakeSupervisor) StopAll(ctx context.Context) error  { return nil }
func (f *fakeSupervisor) StartAll(ctx context.Context) error { return nil }

func newTestServer() *Server {
	sup := &fakeSupervisor{states: map[string]domain.ServiceState{
		"worker": {Name: "worker", Status: domain.ServiceRunning},
	}}
	return New(Config{Log: zerolog.Nop(), Port: 0, Supervisor: sup, Bus: notify.NewBus(zerolog.Nop())})
}

func TestServer_HealthEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListServices(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ServiceStatusNotFound(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/services/ghost", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ServiceRestart(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/services/worker/restart", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
