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
	"time"
)

// Command describes one CLI helper invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string // extra KEY=VALUE entries appended to the inherited environment
	Timeout time.Duration
}

// Handle is a started helper process. The underlying primitive exposes no
// completion notification, so callers poll Running.
type Handle interface {
	Running() bool
	// ExitCode is meaningful only once Running reports false.
	ExitCode() int
	Stdout() string
	Stderr() string
}

// Starter launches helper processes. The default implementation shells out;
// tests substitute fakes.
type Starter interface {
	Start(ctx context.Context, cmd Command) (Handle, error)
}
