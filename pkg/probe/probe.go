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

// Package probe inspects the sandbox process table and the gateway service
// port. The process table is not authoritative in this environment: a table
// entry is only a candidate until the port answers.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

// ErrNotResponding marks a process that exists but whose service port did not
// answer within the timeout. Distinct from absence: the caller decides between
// waiting (mid-boot) and restarting (wedged).
var ErrNotResponding = errors.New("gateway port did not respond within timeout")

const dialRetryInterval = 250 * time.Millisecond

// ProcessEntry is one row of the sandbox process table.
type ProcessEntry struct {
	PID     int32
	Cmdline []string
}

// SnapshotFunc captures the current process table.
type SnapshotFunc func(ctx context.Context) ([]ProcessEntry, error)

// Probe locates the gateway process and checks its responsiveness.
type Probe struct {
	command  string
	args     []string
	port     int
	snapshot SnapshotFunc
	logger   logger.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithSnapshot replaces the process-table source, used by tests.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(p *Probe) {
		p.snapshot = fn
	}
}

// New creates a Probe for the gateway's canonical invocation signature.
func New(cfg *models.GatewayConfig, log logger.Logger, opts ...Option) *Probe {
	p := &Probe{
		command:  cfg.Command,
		args:     cfg.Args,
		port:     cfg.Port,
		snapshot: gopsutilSnapshot,
		logger:   log,
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// FindRunning scans the process table for the gateway's invocation signature.
// A nil result with nil error means no candidate exists. The returned
// reference is transient and must not be cached across requests.
func (p *Probe) FindRunning(ctx context.Context) (*models.GatewayProcess, error) {
	entries, err := p.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("process table scan failed: %w", err)
	}

	for _, entry := range entries {
		if !matchesSignature(entry.Cmdline, p.command, p.args) {
			continue
		}

		return &models.GatewayProcess{
			PID:     entry.PID,
			Status:  models.ProcessUnknown,
			Port:    p.port,
			Command: strings.Join(entry.Cmdline, " "),
		}, nil
	}

	return nil, nil
}

// CheckResponsive establishes a TCP-level check against the gateway port,
// retrying until the timeout elapses. Liveness is not decided by the process
// table alone.
func (p *Probe) CheckResponsive(ctx context.Context, timeout time.Duration) error {
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", p.port))
	deadline := time.Now().Add(timeout)

	var lastErr error

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrNotResponding, ctx.Err())
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return fmt.Errorf("%w: %w", ErrNotResponding, lastErr)
			}

			return ErrNotResponding
		}

		dialTimeout := dialRetryInterval
		if remaining < dialTimeout {
			dialTimeout = remaining
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			_ = conn.Close()

			return nil
		}

		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotResponding, ctx.Err())
		case <-time.After(dialRetryInterval):
		}
	}
}

// CheckGatewayProtocol performs a WebSocket handshake against the gateway
// port. Any HTTP-level answer counts as responsive: the goal is to confirm
// the gateway's own listener is serving, not to speak its protocol.
func (p *Probe) CheckGatewayProtocol(ctx context.Context, timeout time.Duration) error {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	url := fmt.Sprintf("ws://127.0.0.1:%d/", p.port)

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) {
			// The listener answered with a non-101 response; it is alive.
			return nil
		}

		return fmt.Errorf("%w: %w", ErrNotResponding, err)
	}

	_ = conn.Close()

	return nil
}

// matchesSignature requires the canonical invocation: the command binary
// followed by its subcommand arguments, in order. A bare substring match
// would catch unrelated processes (editors, greps, the supervisor itself),
// so past argv[0] only path-like tokens count as the binary: a bare name in
// a later position is an argument to some other program, not an invocation.
func matchesSignature(cmdline []string, command string, args []string) bool {
	if len(cmdline) == 0 || command == "" {
		return false
	}

	idx := -1

	for i, token := range cmdline {
		if i == 0 {
			if token == command || filepath.Base(token) == command {
				idx = i
				break
			}

			continue
		}

		if strings.ContainsRune(token, os.PathSeparator) && filepath.Base(token) == command {
			idx = i
			break
		}
	}

	if idx < 0 {
		return false
	}

	rest := cmdline[idx+1:]
	if len(rest) < len(args) {
		return false
	}

	for i, arg := range args {
		if rest[i] != arg {
			return false
		}
	}

	return true
}

func gopsutilSnapshot(ctx context.Context) ([]ProcessEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]ProcessEntry, 0, len(procs))

	for _, proc := range procs {
		cmdline, err := proc.CmdlineSliceWithContext(ctx)
		if err != nil || len(cmdline) == 0 {
			// Processes can vanish mid-scan; skip rather than fail the sweep.
			continue
		}

		entries = append(entries, ProcessEntry{PID: proc.Pid, Cmdline: cmdline})
	}

	return entries, nil
}
