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

// Package bridge turns free-form gateway CLI output into typed results.
//
// The gateway communicates through short-lived helper subprocesses whose
// stdout intermixes log lines with a single JSON payload. Extraction is a
// deliberate heuristic (first '{' through last '}'), isolated here so it can
// be replaced wholesale if the CLI ever gains a typed output mode.
package bridge

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

const (
	// DefaultTimeout is generous: WebSocket-layer command dispatch inside the
	// CLI adds multi-second overhead, so CLI latency is expected, not an error.
	DefaultTimeout = 20 * time.Second

	defaultPollInterval = 500 * time.Millisecond
)

// Bridge runs gateway CLI helpers and extracts structured results.
type Bridge struct {
	cliCommand   string
	starter      Starter
	pollInterval time.Duration
	logger       logger.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithStarter replaces the process starter, used by tests.
func WithStarter(s Starter) Option {
	return func(b *Bridge) {
		b.starter = s
	}
}

// WithPollInterval tunes the completion busy-poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// New creates a Bridge for the given gateway CLI command.
func New(cliCommand string, log logger.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		cliCommand:   cliCommand,
		starter:      &ExecStarter{},
		pollInterval: defaultPollInterval,
		logger:       log,
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// Run starts a helper and polls until it exits or the timeout elapses.
// On timeout the helper is left running and the caller receives whatever
// output has been captured so far, marked TimedOut.
func (b *Bridge) Run(ctx context.Context, command Command) models.CommandResult {
	if command.Timeout == 0 {
		command.Timeout = DefaultTimeout
	}

	handle, err := b.starter.Start(ctx, command)
	if err != nil {
		b.logger.Error().Err(err).Str("command", command.Name).Msg("Failed to start CLI helper")

		return models.CommandResult{Stderr: err.Error(), ExitCode: -1}
	}

	deadline := time.NewTimer(command.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		if !handle.Running() {
			return models.CommandResult{
				Stdout:    handle.Stdout(),
				Stderr:    handle.Stderr(),
				ExitCode:  handle.ExitCode(),
				Completed: true,
			}
		}

		select {
		case <-ctx.Done():
			return b.partialResult(handle, command)
		case <-deadline.C:
			return b.partialResult(handle, command)
		case <-ticker.C:
		}
	}
}

func (b *Bridge) partialResult(handle Handle, command Command) models.CommandResult {
	b.logger.Warn().
		Str("command", command.Name).
		Dur("timeout", command.Timeout).
		Msg("CLI helper still running at deadline, returning partial output")

	return models.CommandResult{
		Stdout:   handle.Stdout(),
		Stderr:   handle.Stderr(),
		ExitCode: -1,
		TimedOut: true,
	}
}

// ExtractJSON pulls the JSON payload out of intermixed CLI output using a
// greedy first-'{' to last-'}' match. Returns false when no object is present.
func ExtractJSON(out string) (string, bool) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")

	if start < 0 || end <= start {
		return "", false
	}

	return out[start : end+1], true
}

// ActionSucceeded decides success of an action-style command. The exit code is
// not always reliably surfaced by the sandbox process API, so a textual
// keyword match is ORed in as a fallback. The keyword is word-anchored to
// avoid matching it as a substring of a longer token in an error message.
func ActionSucceeded(res models.CommandResult, keyword string) bool {
	if res.Completed && res.ExitCode == 0 {
		return true
	}

	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)

	return re.MatchString(res.Stdout)
}

// FileExists checks for a path through the sandbox exec primitive. Used by the
// sync engine's source sanity check.
func (b *Bridge) FileExists(ctx context.Context, path string) bool {
	res := b.Run(ctx, Command{
		Name:    "test",
		Args:    []string{"-e", path},
		Timeout: 5 * time.Second,
	})

	return res.Completed && res.ExitCode == 0
}
