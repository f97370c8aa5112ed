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

package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

// Launcher starts a gateway instance detached from the supervisor's request
// flow. LastOutput exposes recently captured boot output for failure
// classification.
type Launcher interface {
	Launch(ctx context.Context) error
	LastOutput() string
}

// ExecLauncher launches the gateway binary with its full environment and a
// new session, so it survives the supervisor request that started it.
type ExecLauncher struct {
	cfg    *models.GatewayConfig
	logger logger.Logger

	mu     sync.Mutex
	output bytes.Buffer
}

var _ Launcher = (*ExecLauncher)(nil)

// NewExecLauncher creates the default gateway launcher.
func NewExecLauncher(cfg *models.GatewayConfig, log logger.Logger) *ExecLauncher {
	return &ExecLauncher{cfg: cfg, logger: log}
}

func (l *ExecLauncher) Launch(_ context.Context) error {
	if err := os.MkdirAll(l.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("gateway data dir: %w", err)
	}

	cmd := exec.Command(l.cfg.Command, l.cfg.Args...)

	env := os.Environ()
	for k, v := range l.cfg.Env {
		env = append(env, k+"="+v)
	}

	cmd.Env = append(env, fmt.Sprintf("GATEWAY_PORT=%d", l.cfg.Port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	l.mu.Lock()
	l.output.Reset()
	l.mu.Unlock()

	sink := &launcherSink{launcher: l}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("gateway launch: %w", err)
	}

	l.logger.Info().Int("pid", cmd.Process.Pid).Str("command", l.cfg.Command).Msg("Launched gateway process")

	// Reap in the background so a crashed gateway does not linger as a zombie.
	go func() {
		err := cmd.Wait()
		if err != nil {
			l.logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Gateway process exited")
		}
	}()

	return nil
}

func (l *ExecLauncher) LastOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.output.String()
}

const maxCapturedOutput = 64 * 1024

type launcherSink struct {
	launcher *ExecLauncher
}

func (s *launcherSink) Write(p []byte) (int, error) {
	s.launcher.mu.Lock()
	defer s.launcher.mu.Unlock()

	if s.launcher.output.Len() < maxCapturedOutput {
		s.launcher.output.Write(p)
	}

	return len(p), nil
}
