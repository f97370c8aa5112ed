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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carverauto/sandgate/pkg/models"
)

const approveKeyword = "approved"

// ListDevices queries the gateway CLI for pending and paired devices. The
// gateway's own store is the sole source of truth; this re-queries on every
// call and caches nothing. Parse failures come back as a result with the raw
// output attached, never as an error.
func (b *Bridge) ListDevices(ctx context.Context) models.DeviceList {
	res := b.Run(ctx, Command{
		Name: b.cliCommand,
		Args: []string{"devices", "list", "--json"},
	})

	empty := models.DeviceList{
		Pending: []models.DeviceApprovalRequest{},
		Paired:  []models.PairedDevice{},
		Raw:     res.Stdout,
		Stderr:  res.Stderr,
	}

	payload, ok := ExtractJSON(res.Stdout)
	if !ok {
		empty.ParseError = "no JSON object found in CLI output"

		b.logger.Warn().Str("stdout", truncate(res.Stdout)).Msg("Device listing produced no JSON payload")

		return empty
	}

	var parsed models.DeviceList
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		empty.ParseError = err.Error()

		b.logger.Warn().Err(err).Msg("Device listing JSON failed to decode")

		return empty
	}

	if parsed.Pending == nil {
		parsed.Pending = []models.DeviceApprovalRequest{}
	}

	if parsed.Paired == nil {
		parsed.Paired = []models.PairedDevice{}
	}

	return parsed
}

// ApproveDevice approves a single pairing request. Success is the OR of two
// independent signals: zero exit code, or the success keyword in the output.
func (b *Bridge) ApproveDevice(ctx context.Context, requestID string) models.ApproveResult {
	res := b.Run(ctx, Command{
		Name: b.cliCommand,
		Args: []string{"devices", "approve", requestID},
	})

	result := models.ApproveResult{
		RequestID: requestID,
		Success:   ActionSucceeded(res, approveKeyword),
		Output:    strings.TrimSpace(res.Stdout),
	}

	if !result.Success {
		result.Error = approvalError(res.Stdout, res.Stderr, res.TimedOut)
	}

	return result
}

// ApproveAll approves every pending request, one CLI invocation per device.
// Failures are caught per item; the CLI actions are not reversible, so there
// is no rollback, only an item-by-item report.
func (b *Bridge) ApproveAll(ctx context.Context) models.BulkApproveResult {
	listing := b.ListDevices(ctx)

	result := models.BulkApproveResult{
		Approved: []string{},
		Failed:   []models.FailedApproval{},
	}

	for _, pending := range listing.Pending {
		outcome := b.ApproveDevice(ctx, pending.RequestID)
		if outcome.Success {
			result.Approved = append(result.Approved, pending.RequestID)
		} else {
			result.Failed = append(result.Failed, models.FailedApproval{
				RequestID: pending.RequestID,
				Error:     outcome.Error,
			})
		}
	}

	result.Message = fmt.Sprintf("Approved %d of %d device(s)", len(result.Approved), len(listing.Pending))

	return result
}

func approvalError(stdout, stderr string, timedOut bool) string {
	if timedOut {
		return "approval command timed out"
	}

	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}

	if msg := strings.TrimSpace(stdout); msg != "" {
		return msg
	}

	return "approval command failed"
}

const maxLoggedOutput = 512

func truncate(s string) string {
	if len(s) <= maxLoggedOutput {
		return s
	}

	return fmt.Sprintf("%s... (%d bytes)", s[:maxLoggedOutput], len(s))
}
