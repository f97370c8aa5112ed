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

import "strings"

// failureSignature maps a known pattern in captured gateway output to an
// actionable hint for the caller.
type failureSignature struct {
	patterns []string
	hint     string
}

var failureSignatures = []failureSignature{
	{
		patterns: []string{"out of memory", "oom-kill", "cannot allocate memory", "javascript heap out of memory"},
		hint:     "the gateway appears to have run out of memory; increase the sandbox memory allocation",
	},
	{
		patterns: []string{"missing token", "no api key", "not configured", "missing required", "unauthorized"},
		hint:     "a required credential appears to be missing from the gateway environment",
	},
	{
		patterns: []string{"address already in use", "eaddrinuse"},
		hint:     "the gateway port is already bound; a previous instance may still be exiting",
	},
	{
		patterns: []string{"command not found", "no such file or directory"},
		hint:     "the gateway binary was not found on the sandbox image",
	},
}

// classifyFailure derives an actionable hint from captured boot output.
// Returns empty when no known signature matches.
func classifyFailure(output string) string {
	lowered := strings.ToLower(output)

	for _, sig := range failureSignatures {
		for _, p := range sig.patterns {
			if strings.Contains(lowered, p) {
				return sig.hint
			}
		}
	}

	return ""
}
