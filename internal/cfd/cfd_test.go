package cfd

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
)

type fakeSupervisor struct {
	mu          sync.Mutex
	states      map[string]domain.ServiceState
	restarts    []string
	stopAllErr  error
	startAllErr error
	stopAllN    int
	startAllN   int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{states: make(map[string]domain.ServiceState)}
}

func (f *fakeSupervisor) Status(name string) (domain.ServiceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[name], nil
}

func (f *fakeSupervisor) Restart(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, name)
	return nil
}

func (f *fakeSupervisor) StopAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAllN++
	return f.stopAllErr
}

func (f *fakeSupervisor) StartAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startAllN++
	return f.startAllErr
}

func TestDetector_RestartsAfterNonCriticalThreshold(t *testing.T) {
	sup := newFakeSupervisor()
	sup.states["worker"] = domain.ServiceState{Status: domain.ServiceStopped}

	d := New(sup, []ServiceSpec{{Name: "worker", Criticality: NonCritical}}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.sample(context.Background(), d.services[0])
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	assert.Len(t, sup.restarts, 1)
}

func TestDetector_CriticalThresholdTriggersMasterRestart(t *testing.T) {
	sup := newFakeSupervisor()
	sup.states["core"] = domain.ServiceState{Status: domain.ServiceStopped}

	d := New(sup, []ServiceSpec{{Name: "core", Criticality: Critical}}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		d.sample(context.Background(), d.services[0])
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	assert.Equal(t, 1, sup.stopAllN)
	assert.Equal(t, 1, sup.startAllN)
}

func TestDetector_HealthyServiceResetsFailureCount(t *testing.T) {
	sup := newFakeSupervisor()
	sup.states["worker"] = domain.ServiceState{Status: domain.ServiceStopped}

	d := New(sup, []ServiceSpec{{Name: "worker", Criticality: NonCritical}}, zerolog.Nop())

	for i := 0; i < 4; i++ {
		d.sample(context.Background(), d.services[0])
	}

	sup.mu.Lock()
	sup.states["worker"] = domain.ServiceState{Status: domain.ServiceRunning}
	sup.mu.Unlock()
	d.sample(context.Background(), d.services[0])

	d.mu.Lock()
	count := d.failureCount["worker"]
	d.mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestDetector_RestartRateLimitHoldsServiceDown(t *testing.T) {
	sup := newFakeSupervisor()
	sup.states["flapper"] = domain.ServiceState{Status: domain.ServiceStopped}

	d := New(sup, []ServiceSpec{{Name: "flapper", Criticality: NonCritical}}, zerolog.Nop())
	d.maxRestartsPerHour = 1

	for round := 0; round < 3; round++ {
		for i := 0; i < 5; i++ {
			d.sample(context.Background(), d.services[0])
		}
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()
	require.Len(t, sup.restarts, 1)
}
