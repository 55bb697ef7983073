// Package cfd implements the Cascading Failure Detector (spec §4.10,
// component C10): periodic health sampling across every Supervisor-managed
// service with escalating, rate-limited restart response.
package cfd

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
)

// Criticality classifies a service for failure-threshold purposes.
type Criticality int

const (
	NonCritical Criticality = iota
	Critical
	Advisory
)

func (c Criticality) threshold() int {
	switch c {
	case Critical:
		return 10
	case Advisory:
		return 15
	default:
		return 5
	}
}

// ServiceSpec pairs a managed service name with its criticality and an
// optional HTTP health endpoint to sample in addition to process status.
type ServiceSpec struct {
	Name        string
	Criticality Criticality
	HealthURL   string
}

// Supervisor is the process-management dependency, satisfied by
// *supervisor.Supervisor.
type Supervisor interface {
	Status(name string) (domain.ServiceState, error)
	Restart(name string) error
	StopAll(ctx context.Context) error
	StartAll(ctx context.Context) error
}

const (
	sampleInterval     = 60 * time.Second
	defaultMaxRestarts = 2
	restartWindow      = time.Hour
)

// Detector samples service health on a fixed cadence and escalates to
// restarts, and eventually a master restart, per service failure counts.
type Detector struct {
	supervisor Supervisor
	services   []ServiceSpec
	httpClient *http.Client
	log        zerolog.Logger

	maxRestartsPerHour int

	mu           sync.Mutex
	failureCount map[string]int
	restartTimes map[string][]time.Time
}

// New constructs a Detector over services.
func New(supervisor Supervisor, services []ServiceSpec, log zerolog.Logger) *Detector {
	return &Detector{
		supervisor:         supervisor,
		services:           services,
		httpClient:         &http.Client{Timeout: 5 * time.Second},
		log:                log.With().Str("component", "cfd").Logger(),
		maxRestartsPerHour: defaultMaxRestarts,
		failureCount:       make(map[string]int),
		restartTimes:       make(map[string][]time.Time),
	}
}

// Run samples every service every sampleInterval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sampleAll(ctx)
		}
	}
}

func (d *Detector) sampleAll(ctx context.Context) {
	for _, spec := range d.services {
		d.sample(ctx, spec)
	}
}

func (d *Detector) sample(ctx context.Context, spec ServiceSpec) {
	healthy := d.isHealthy(ctx, spec)

	d.mu.Lock()
	if healthy {
		d.failureCount[spec.Name] = 0
		d.mu.Unlock()
		return
	}
	d.failureCount[spec.Name]++
	count := d.failureCount[spec.Name]
	d.mu.Unlock()

	d.log.Warn().Str("service", spec.Name).Int("failures", count).Msg("service unhealthy")

	if count < spec.Criticality.threshold() {
		return
	}

	d.mu.Lock()
	d.failureCount[spec.Name] = 0
	d.mu.Unlock()

	if spec.Criticality == Critical {
		d.masterRestart(ctx)
		return
	}

	d.restart(ctx, spec.Name)
}

func (d *Detector) isHealthy(ctx context.Context, spec ServiceSpec) bool {
	state, err := d.supervisor.Status(spec.Name)
	if err != nil || state.Status != domain.ServiceRunning {
		return false
	}

	if spec.HealthURL == "" {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// restart issues a single-service restart, rate-limited to
// maxRestartsPerHour.
func (d *Detector) restart(ctx context.Context, name string) {
	if !d.allowRestart(name) {
		d.log.Error().Str("service", name).Msg("restart rate limit exceeded, holding service down")
		return
	}

	if err := d.supervisor.Restart(name); err != nil {
		d.log.Error().Err(err).Str("service", name).Msg("restart failed")
	}
}

// masterRestartKey is the restartTimes key that master restarts are counted
// under.
const masterRestartKey = "__master_restart__"

func (d *Detector) allowRestart(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)

	times := d.restartTimes[name]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= d.maxRestartsPerHour {
		d.restartTimes[name] = kept
		return false
	}

	d.restartTimes[name] = append(kept, now)
	return true
}

// masterRestart stops every managed service, waits for sockets/ports to
// free, and starts every service again. Master restarts are rate-limited to
// maxRestartsPerHour under their own key, separate from single-service
// restarts.
func (d *Detector) masterRestart(ctx context.Context) {
	if !d.allowRestart(masterRestartKey) {
		d.log.Error().Msg("master restart rate limit exceeded, skipping master restart")
		return
	}

	d.log.Error().Msg("critical service threshold exceeded, initiating master restart")

	if err := d.supervisor.StopAll(ctx); err != nil {
		d.log.Error().Err(err).Msg("master restart: stop-all failed")
		return
	}

	time.Sleep(2 * time.Second) // let listening sockets and ports release

	if err := d.supervisor.StartAll(ctx); err != nil {
		d.log.Error().Err(err).Msg("master restart: start-all failed")
	}
}
