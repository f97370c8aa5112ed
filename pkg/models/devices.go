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

import "encoding/json"

// DeviceApprovalRequest is a pending pairing request relayed from the gateway
// CLI. The gateway's own store is the source of truth; nothing here is cached.
type DeviceApprovalRequest struct {
	RequestID string `json:"requestId"`
	DeviceID  string `json:"deviceId,omitempty"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// PairedDevice is an already-approved device relayed from the gateway CLI.
type PairedDevice struct {
	DeviceID   string `json:"deviceId"`
	Name       string `json:"name,omitempty"`
	ApprovedAt string `json:"approvedAt,omitempty"`
}

// DeviceList is the device listing response. On CLI parse failure the lists
// are empty and Raw/Stderr/ParseError carry the diagnostics verbatim, so
// operators can see CLI format drift instead of a silently empty result.
type DeviceList struct {
	Pending    []DeviceApprovalRequest `json:"pending"`
	Paired     []PairedDevice          `json:"paired"`
	Raw        string                  `json:"raw,omitempty"`
	Stderr     string                  `json:"stderr,omitempty"`
	ParseError string                  `json:"parseError,omitempty"`
}

// ApproveResult is the outcome of a single device approval.
type ApproveResult struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Output    string `json:"output,omitempty"`
}

// FailedApproval pairs a request id with the error that sank it.
type FailedApproval struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

// BulkApproveResult aggregates per-item approval outcomes. Partial failure is
// surfaced item-by-item; the underlying CLI actions are not reversible.
type BulkApproveResult struct {
	Approved []string         `json:"approved"`
	Failed   []FailedApproval `json:"failed"`
	Message  string           `json:"message"`
}

// MarshalJSON keeps Approved and Failed as empty arrays rather than null.
func (r BulkApproveResult) MarshalJSON() ([]byte, error) {
	type alias BulkApproveResult

	a := alias(r)
	if a.Approved == nil {
		a.Approved = []string{}
	}

	if a.Failed == nil {
		a.Failed = []FailedApproval{}
	}

	return json.Marshal(a)
}
