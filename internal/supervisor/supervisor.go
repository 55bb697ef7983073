// Package supervisor implements the Supervisor (spec §4.2, component C2):
// dependency-ordered process management for every other REC.IO service,
// with automatic restart and a CFD-facing RPC surface.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/recio/trading-core/internal/domain"
)

// ServiceSpec declaratively describes one managed process.
type ServiceSpec struct {
	Name         string
	Command      string
	Args         []string
	Cwd          string
	Env          []string
	Autostart    bool
	Autorestart  bool
	StartRetries int
	StopAsGroup  bool
	KillAsGroup  bool
	LogFile      string

	// DependsOn names services that must reach RUNNING before this one
	// starts, establishing a partial startup order.
	DependsOn []string
}

const stabilityWindow = 60 * time.Second

type managedProcess struct {
	spec ServiceSpec

	mu           sync.Mutex
	cmd          *exec.Cmd
	pid          int
	status       domain.ServiceStatus
	restartCount int
	lastExit     string
	startedAt    time.Time
	logFile      *os.File
}

// Supervisor owns the lifecycle of every registered ServiceSpec.
type Supervisor struct {
	log zerolog.Logger

	mu       sync.RWMutex
	services map[string]*managedProcess
	order    []string
}

// New constructs a Supervisor from a declarative service list, in startup
// order (services later in the list may name earlier ones in DependsOn).
func New(specs []ServiceSpec, log zerolog.Logger) *Supervisor {
	s := &Supervisor{
		log:      log.With().Str("component", "supervisor").Logger(),
		services: make(map[string]*managedProcess, len(specs)),
	}
	for _, spec := range specs {
		s.services[spec.Name] = &managedProcess{spec: spec, status: domain.ServiceStopped}
		s.order = append(s.order, spec.Name)
	}
	return s
}

// StartAll starts every Autostart service in declared order, waiting for
// each service's DependsOn set to reach RUNNING first.
func (s *Supervisor) StartAll(ctx context.Context) error {
	for _, name := range s.order {
		mp := s.services[name]
		if !mp.spec.Autostart {
			continue
		}
		if err := s.waitForDeps(ctx, mp.spec.DependsOn); err != nil {
			return fmt.Errorf("service %s: %w", name, err)
		}
		if err := s.Start(name); err != nil {
			return fmt.Errorf("service %s: %w", name, err)
		}
	}
	return nil
}

func (s *Supervisor) waitForDeps(ctx context.Context, deps []string) error {
	for _, dep := range deps {
		for {
			state, err := s.Status(dep)
			if err == nil && state.Status == domain.ServiceRunning {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return nil
}

// StopAll stops every service in reverse startup order.
func (s *Supervisor) StopAll(ctx context.Context) error {
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.Stop(s.order[i]); err != nil {
			s.log.Warn().Err(err).Str("service", s.order[i]).Msg("stop failed during stop-all")
		}
	}
	return nil
}

// Start launches name if it is not already running.
func (s *Supervisor) Start(name string) error {
	mp, err := s.lookup(name)
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.status == domain.ServiceRunning || mp.status == domain.ServiceStarting {
		return nil
	}

	return s.spawn(mp)
}

// spawn must be called with mp.mu held.
func (s *Supervisor) spawn(mp *managedProcess) error {
	mp.status = domain.ServiceStarting

	cmd := exec.Command(mp.spec.Command, mp.spec.Args...)
	cmd.Dir = mp.spec.Cwd
	cmd.Env = append(os.Environ(), mp.spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if mp.spec.LogFile != "" {
		f, err := os.OpenFile(mp.spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			mp.status = domain.ServiceFatal
			return &domain.ConfigError{Component: "supervisor", Message: "failed to open log file for " + mp.spec.Name, Err: err}
		}
		cmd.Stdout = f
		cmd.Stderr = f
		mp.logFile = f
	}

	if err := cmd.Start(); err != nil {
		mp.status = domain.ServiceFatal
		mp.lastExit = err.Error()
		return &domain.ConfigError{Component: "supervisor", Message: "failed to start " + mp.spec.Name, Err: err}
	}

	mp.cmd = cmd
	mp.pid = cmd.Process.Pid
	mp.status = domain.ServiceRunning
	mp.startedAt = time.Now()

	s.log.Info().Str("service", mp.spec.Name).Int("pid", mp.pid).Msg("service started")

	go s.watch(mp)
	return nil
}

// watch blocks until the process exits, then applies the restart policy.
func (s *Supervisor) watch(mp *managedProcess) {
	cmd := mp.cmd
	err := cmd.Wait()

	mp.mu.Lock()
	if mp.logFile != nil {
		mp.logFile.Close()
		mp.logFile = nil
	}

	wasIntentional := mp.status == domain.ServiceStopped
	exitReason := "exited cleanly"
	if err != nil {
		exitReason = err.Error()
	}
	mp.lastExit = exitReason

	if wasIntentional {
		mp.mu.Unlock()
		return
	}

	// Reset the restart counter after a stability window spent RUNNING.
	if time.Since(mp.startedAt) >= stabilityWindow {
		mp.restartCount = 0
	}

	if !mp.spec.Autorestart {
		mp.status = domain.ServiceStopped
		mp.mu.Unlock()
		s.log.Warn().Str("service", mp.spec.Name).Str("reason", exitReason).Msg("service exited, autorestart disabled")
		return
	}

	if mp.restartCount >= mp.spec.StartRetries {
		mp.status = domain.ServiceFatal
		mp.mu.Unlock()
		s.log.Error().Str("service", mp.spec.Name).Int("retries", mp.restartCount).Msg("service exceeded start retries, marked FATAL")
		return
	}

	mp.restartCount++
	mp.status = domain.ServiceRestarting
	s.log.Warn().Str("service", mp.spec.Name).Str("reason", exitReason).Int("attempt", mp.restartCount).Msg("restarting service")

	respawnErr := s.spawn(mp)
	mp.mu.Unlock()

	if respawnErr != nil {
		s.log.Error().Err(respawnErr).Str("service", mp.spec.Name).Msg("respawn failed")
	}
}

// Stop signals name to terminate. If StopAsGroup is set, the signal targets
// the whole process group so child processes are also reaped.
func (s *Supervisor) Stop(name string) error {
	mp, err := s.lookup(name)
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.cmd == nil || mp.cmd.Process == nil || mp.status != domain.ServiceRunning {
		mp.status = domain.ServiceStopped
		return nil
	}

	mp.status = domain.ServiceStopped // marks this exit as intentional for watch()

	pid := mp.cmd.Process.Pid
	sig := syscall.SIGTERM
	if mp.spec.StopAsGroup {
		return syscall.Kill(-pid, sig)
	}
	return mp.cmd.Process.Signal(sig)
}

// Restart stops then starts name, waiting for the old OS process to actually
// exit before respawning. Status() alone can't drive this wait: Stop() sets
// the service's status to Stopped synchronously, before the signal is even
// delivered, so polling Status() would observe Stopped on the first check
// and race Start() against the still-exiting old process (e.g. for a
// service holding a listening socket).
func (s *Supervisor) Restart(name string) error {
	mp, err := s.lookup(name)
	if err != nil {
		return err
	}
	mp.mu.Lock()
	pid := mp.pid
	mp.mu.Unlock()

	if err := s.Stop(name); err != nil {
		return err
	}

	if pid != 0 {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if alive, _ := process.PidExists(int32(pid)); !alive {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	return s.Start(name)
}

// Status reports the current observed state of name, cross-checked against
// the OS via gopsutil when a PID is on file.
func (s *Supervisor) Status(name string) (domain.ServiceState, error) {
	mp, err := s.lookup(name)
	if err != nil {
		return domain.ServiceState{}, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.status == domain.ServiceRunning && mp.pid != 0 {
		if alive, _ := process.PidExists(int32(mp.pid)); !alive {
			mp.status = domain.ServiceFatal
			mp.lastExit = "process vanished without exit notification"
		}
	}

	return domain.ServiceState{
		Name:           mp.spec.Name,
		PID:            mp.pid,
		Status:         mp.status,
		RestartCount:   mp.restartCount,
		LastExitReason: mp.lastExit,
		UpdatedAt:      time.Now(),
	}, nil
}

// ListServices reports the state of every managed service.
func (s *Supervisor) ListServices() ([]domain.ServiceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]domain.ServiceState, 0, len(s.order))
	for _, name := range s.order {
		state, err := s.Status(name)
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

func (s *Supervisor) lookup(name string) (*managedProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.services[name]
	if !ok {
		return nil, &domain.ConfigError{Component: "supervisor", Message: "unknown service: " + name}
	}
	return mp, nil
}
