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

// StorageStatus reports durable-store configuration and the last successful
// sync, read fresh from the marker file.
type StorageStatus struct {
	Configured bool     `json:"configured"`
	Missing    []string `json:"missing,omitempty"`
	LastSync   string   `json:"lastSync,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// SyncResult is the outcome of one sync invocation. LastSync is only set when
// the destination marker was written and read back successfully.
type SyncResult struct {
	Success  bool   `json:"success"`
	LastSync string `json:"lastSync,omitempty"`
	Error    string `json:"error,omitempty"`
	Details  string `json:"details,omitempty"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
