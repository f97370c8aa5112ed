/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package supervisor is the top-level state machine that guarantees exactly
// one healthy gateway instance per deployment unit. Every request re-checks
// liveness: the sandbox can silently restart and evict the gateway, so a
// cached "running" flag would serve stale failures.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/singleflight"

	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
	"github.com/carverauto/sandgate/pkg/probe"
)

var (
	// ErrBootTimeout marks a launched gateway that never answered its port.
	ErrBootTimeout = errors.New("gateway did not answer its service port before the start timeout")

	// ErrNotResponding marks an existing process whose port is unresponsive.
	ErrNotResponding = errors.New("gateway process exists but is not responding")
)

// BootError carries a classified hint alongside the underlying failure.
type BootError struct {
	Err  error
	Hint string
}

func (e *BootError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.Hint)
	}

	return e.Err.Error()
}

func (e *BootError) Unwrap() error { return e.Err }

// Prober is the process-probe surface the supervisor consumes.
type Prober interface {
	FindRunning(ctx context.Context) (*models.GatewayProcess, error)
	CheckResponsive(ctx context.Context, timeout time.Duration) error
	CheckGatewayProtocol(ctx context.Context, timeout time.Duration) error
}

// Restorer rehydrates local gateway state from durable storage before first
// boot; satisfied by *sync.Engine.
type Restorer interface {
	Restore(ctx context.Context) error
}

// KillFunc terminates a process by pid. Injected for tests.
type KillFunc func(ctx context.Context, pid int32) error

// Supervisor ensures one healthy gateway instance.
type Supervisor struct {
	cfg      *models.GatewayConfig
	probe    Prober
	launcher Launcher
	restorer Restorer
	kill     KillFunc
	logger   logger.Logger

	// boot serializes concurrent start attempts per deployment unit so only
	// one proceeds and the rest await its result.
	boot    singleflight.Group
	bootKey string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRestorer enables restore-on-boot from durable storage.
func WithRestorer(r Restorer) Option {
	return func(s *Supervisor) {
		s.restorer = r
	}
}

// WithKillFunc replaces process termination, used by tests.
func WithKillFunc(fn KillFunc) Option {
	return func(s *Supervisor) {
		s.kill = fn
	}
}

// New creates a Supervisor.
func New(cfg *models.GatewayConfig, prober Prober, launcher Launcher, log logger.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		probe:    prober,
		launcher: launcher,
		kill:     gopsutilKill,
		logger:   log,
		bootKey:  fmt.Sprintf("%s:%d", cfg.Command, cfg.Port),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// EnsureRunning guarantees a healthy gateway before traffic is forwarded.
// The returned process reference is transient; callers must not hold it
// across requests.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*models.GatewayProcess, error) {
	proc, err := s.probe.FindRunning(ctx)
	if err != nil {
		return nil, err
	}

	if proc != nil {
		if err := s.probe.CheckResponsive(ctx, time.Duration(s.cfg.ResponseTimeout)); err != nil {
			proc.Status = models.ProcessNotResponding

			return proc, fmt.Errorf("%w: %w", ErrNotResponding, err)
		}

		proc.Status = models.ProcessRunning

		return proc, nil
	}

	result, err, shared := s.boot.Do(s.bootKey, func() (interface{}, error) {
		// Detached from the caller: a cancelled request must not abort the
		// boot that concurrent callers are awaiting.
		return s.bootGateway(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	if shared {
		s.logger.Debug().Msg("Joined in-flight gateway boot")
	}

	return result.(*models.GatewayProcess), nil
}

func (s *Supervisor) bootGateway(ctx context.Context) (*models.GatewayProcess, error) {
	bootID := uuid.NewString()
	log := s.logger.With().Str("boot_id", bootID).Logger()

	if s.restorer != nil {
		if err := s.restorer.Restore(ctx); err != nil {
			// Restore failure is not fatal: a gateway with fresh state beats
			// no gateway at all, and the sync guard protects the backup.
			log.Warn().Err(err).Msg("Restore from durable storage failed, booting with local state")
		}
	}

	if err := s.launcher.Launch(ctx); err != nil {
		return nil, &BootError{Err: err, Hint: classifyFailure(err.Error())}
	}

	if err := s.probe.CheckResponsive(ctx, time.Duration(s.cfg.StartTimeout)); err != nil {
		hint := classifyFailure(s.launcher.LastOutput())

		log.Error().Err(err).Str("hint", hint).Msg("Gateway did not become responsive after launch")

		return nil, &BootError{Err: fmt.Errorf("%w: %w", ErrBootTimeout, err), Hint: hint}
	}

	// The port accepting connections is necessary but not sufficient: the
	// deep check confirms the gateway's own listener is serving HTTP.
	if err := s.probe.CheckGatewayProtocol(ctx, time.Duration(s.cfg.ResponseTimeout)); err != nil {
		hint := classifyFailure(s.launcher.LastOutput())

		log.Error().Err(err).Str("hint", hint).Msg("Gateway port accepted a connection but did not serve its protocol")

		return nil, &BootError{Err: fmt.Errorf("%w: %w", ErrBootTimeout, err), Hint: hint}
	}

	proc, err := s.probe.FindRunning(ctx)
	if err != nil {
		return nil, err
	}

	if proc == nil {
		// Port answers but the table has no entry; the sandbox process list
		// is not authoritative, report what we know.
		proc = &models.GatewayProcess{Status: models.ProcessRunning, Port: s.cfg.Port}
	} else {
		proc.Status = models.ProcessRunning
	}

	log.Info().Int32("pid", proc.PID).Msg("Gateway is up")

	return proc, nil
}

// Restart kills the current candidate (if any), waits a settle interval so
// the port is released, then boots a replacement as a background task. The
// response returns immediately while boot proceeds.
func (s *Supervisor) Restart(ctx context.Context) models.RestartResult {
	var previous *int32

	proc, err := s.probe.FindRunning(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Process scan failed during restart, proceeding to boot")
	}

	if proc != nil {
		pid := proc.PID
		previous = &pid

		if err := s.kill(ctx, pid); err != nil {
			s.logger.Warn().Err(err).Int32("pid", pid).Msg("Failed to kill gateway, proceeding anyway")
		}
	}

	go func() {
		time.Sleep(time.Duration(s.cfg.SettleDelay))

		_, err, _ := s.boot.Do(s.bootKey, func() (interface{}, error) {
			return s.bootGateway(context.Background())
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("Background gateway boot failed after restart")
		}
	}()

	return models.RestartResult{
		Success:           true,
		Message:           "gateway restart initiated",
		PreviousProcessID: previous,
	}
}

// Health classifies the gateway for the health endpoint without booting it.
func (s *Supervisor) Health(ctx context.Context) models.HealthStatus {
	proc, err := s.probe.FindRunning(ctx)
	if err != nil {
		return models.HealthStatus{Status: models.ProcessError, Error: err.Error()}
	}

	if proc == nil {
		return models.HealthStatus{Status: models.ProcessNotRunning}
	}

	if err := s.probe.CheckResponsive(ctx, time.Duration(s.cfg.ResponseTimeout)); err != nil {
		pid := proc.PID

		return models.HealthStatus{
			Status:    models.ProcessNotResponding,
			ProcessID: &pid,
			Error:     err.Error(),
			Hint:      classifyFailure(s.launcher.LastOutput()),
		}
	}

	pid := proc.PID

	return models.HealthStatus{OK: true, Status: models.ProcessRunning, ProcessID: &pid}
}

var _ Prober = (*probe.Probe)(nil)

func gopsutilKill(ctx context.Context, pid int32) error {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}

	return proc.KillWithContext(ctx)
}
