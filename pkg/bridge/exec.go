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

package bridge

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ExecStarter runs helpers via os/exec. The process is intentionally not tied
// to the context: a timed-out helper is left running and the caller keeps
// whatever output was captured so far.
type ExecStarter struct{}

var _ Starter = (*ExecStarter)(nil)

func (*ExecStarter) Start(_ context.Context, command Command) (Handle, error) {
	h := &execHandle{exitCode: -1}

	cmd := exec.Command(command.Name, command.Args...)
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h.running.Store(true)

	go func() {
		err := cmd.Wait()

		code := 0
		if err != nil {
			code = 1

			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
		}

		h.mu.Lock()
		h.exitCode = code
		h.mu.Unlock()

		h.running.Store(false)
	}()

	return h, nil
}

type execHandle struct {
	mu       sync.Mutex
	running  atomic.Bool
	exitCode int
	stdout   lockedBuffer
	stderr   lockedBuffer
}

func (h *execHandle) Running() bool { return h.running.Load() }

func (h *execHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.exitCode
}

func (h *execHandle) Stdout() string { return h.stdout.String() }
func (h *execHandle) Stderr() string { return h.stderr.String() }

// lockedBuffer guards concurrent writes from the subprocess pipes against
// reads from the polling loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
