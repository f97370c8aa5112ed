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
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

var errStartRefused = errors.New("start refused")

// fakeHandle simulates a helper that finishes after a configurable number of
// Running polls.
type fakeHandle struct {
	mu            sync.Mutex
	pollsToFinish int
	exitCode      int
	stdout        string
	stderr        string
}

func (h *fakeHandle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pollsToFinish <= 0 {
		return false
	}

	h.pollsToFinish--

	return true
}

func (h *fakeHandle) ExitCode() int  { return h.exitCode }
func (h *fakeHandle) Stdout() string { return h.stdout }
func (h *fakeHandle) Stderr() string { return h.stderr }

type fakeStarter struct {
	mu       sync.Mutex
	handle   Handle
	startErr error
	started  []Command
}

func (s *fakeStarter) Start(_ context.Context, cmd Command) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = append(s.started, cmd)

	if s.startErr != nil {
		return nil, s.startErr
	}

	return s.handle, nil
}

func newTestBridge(starter Starter) *Bridge {
	return New("moltbot", logger.NewTestLogger(),
		WithStarter(starter),
		WithPollInterval(time.Millisecond))
}

func TestRun_CompletesWithOutput(t *testing.T) {
	starter := &fakeStarter{handle: &fakeHandle{
		pollsToFinish: 2,
		stdout:        "hello",
		exitCode:      0,
	}}

	b := newTestBridge(starter)

	res := b.Run(context.Background(), Command{Name: "moltbot", Args: []string{"devices"}})

	assert.True(t, res.Completed)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello", res.Stdout)
}

func TestRun_TimeoutReturnsPartialOutput(t *testing.T) {
	// A handle that never finishes.
	starter := &fakeStarter{handle: &fakeHandle{
		pollsToFinish: 1 << 30,
		stdout:        "partial log output",
	}}

	b := newTestBridge(starter)

	res := b.Run(context.Background(), Command{Name: "moltbot", Timeout: 10 * time.Millisecond})

	assert.True(t, res.TimedOut)
	assert.False(t, res.Completed)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "partial log output", res.Stdout)
}

func TestRun_ContextCancelReturnsPartial(t *testing.T) {
	starter := &fakeStarter{handle: &fakeHandle{pollsToFinish: 1 << 30}}
	b := newTestBridge(starter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := b.Run(ctx, Command{Name: "moltbot", Timeout: time.Minute})

	assert.True(t, res.TimedOut)
	assert.False(t, res.Completed)
}

func TestRun_StartFailureSurfacesError(t *testing.T) {
	starter := &fakeStarter{startErr: errStartRefused}
	b := newTestBridge(starter)

	res := b.Run(context.Background(), Command{Name: "moltbot"})

	assert.False(t, res.Completed)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "start refused")
}

func TestRun_RealSubprocess(t *testing.T) {
	b := New("moltbot", logger.NewTestLogger(), WithPollInterval(10*time.Millisecond))

	res := b.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "echo ok"},
		Timeout: 10 * time.Second,
	})

	require.True(t, res.Completed)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "ok")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{
			name:     "bare object",
			input:    `{"a":1}`,
			expected: `{"a":1}`,
			ok:       true,
		},
		{
			name:     "object surrounded by log lines",
			input:    "booting...\nconnected\n{\"pending\":[]}\ndone",
			expected: `{"pending":[]}`,
			ok:       true,
		},
		{
			name:  "no object",
			input: "just logs here",
			ok:    false,
		},
		{
			name:  "closing brace before opening",
			input: "} nope {",
			ok:    false,
		},
		{
			name:     "greedy across nested objects",
			input:    `x {"a":{"b":2}} y`,
			expected: `{"a":{"b":2}}`,
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestActionSucceeded(t *testing.T) {
	tests := []struct {
		name     string
		result   models.CommandResult
		expected bool
	}{
		{
			name:     "zero exit code alone",
			result:   models.CommandResult{Completed: true, ExitCode: 0},
			expected: true,
		},
		{
			name: "keyword with non-zero exit code",
			result: models.CommandResult{
				Completed: true,
				ExitCode:  1,
				Stdout:    "Approved device X",
			},
			expected: true,
		},
		{
			name: "keyword different case",
			result: models.CommandResult{
				Completed: true,
				ExitCode:  1,
				Stdout:    "device APPROVED",
			},
			expected: true,
		},
		{
			name: "keyword inside longer token does not match",
			result: models.CommandResult{
				Completed: true,
				ExitCode:  1,
				Stdout:    "error: unapprovedxyz state",
			},
			expected: false,
		},
		{
			name:     "failure with no keyword",
			result:   models.CommandResult{Completed: true, ExitCode: 1, Stdout: "boom"},
			expected: false,
		},
		{
			name:     "timed out without keyword",
			result:   models.CommandResult{TimedOut: true, ExitCode: -1},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ActionSucceeded(tt.result, "approved"))
		})
	}
}

func TestFileExists_RealFilesystem(t *testing.T) {
	b := New("moltbot", logger.NewTestLogger(), WithPollInterval(10*time.Millisecond))

	dir := t.TempDir()

	assert.False(t, b.FileExists(context.Background(), dir+"/absent"))

	path := dir + "/present"
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.True(t, b.FileExists(context.Background(), path))
}
