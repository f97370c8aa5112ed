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

package models

// ProcessStatus classifies the supervised gateway process. not_running and
// not_responding are distinct: a process can exist but be mid-boot or wedged,
// and callers react differently (wait vs. restart).
type ProcessStatus string

const (
	ProcessStarting      ProcessStatus = "starting"
	ProcessRunning       ProcessStatus = "running"
	ProcessExited        ProcessStatus = "exited"
	ProcessUnknown       ProcessStatus = "unknown"
	ProcessNotRunning    ProcessStatus = "not_running"
	ProcessNotResponding ProcessStatus = "not_responding"
	ProcessError         ProcessStatus = "error"
)

// GatewayProcess is a transient reference to the supervised process. It is
// re-resolved from the process table on every operation and never cached
// beyond a single request, because the sandbox may recycle identifiers.
type GatewayProcess struct {
	PID      int32         `json:"pid"`
	Status   ProcessStatus `json:"status"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Port     int           `json:"port"`
	Command  string        `json:"command"`
}

// CommandResult captures one CLI helper invocation. Immutable after capture.
type CommandResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Completed bool   `json:"completed"`
	TimedOut  bool   `json:"timed_out"`
}

// HealthStatus is the wire shape of the health endpoint.
type HealthStatus struct {
	OK        bool          `json:"ok"`
	Status    ProcessStatus `json:"status"`
	ProcessID *int32        `json:"processId,omitempty"`
	Error     string        `json:"error,omitempty"`
	Hint      string        `json:"hint,omitempty"`
}

// RestartResult is returned immediately while the replacement boot proceeds
// in the background.
type RestartResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	PreviousProcessID *int32 `json:"previousProcessId,omitempty"`
}
