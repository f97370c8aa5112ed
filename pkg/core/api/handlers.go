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

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	syncengine "github.com/carverauto/sandgate/pkg/sync"
)

// getHealth re-checks gateway liveness on every call; a cached flag would
// serve stale failures after a silent sandbox restart.
func (s *APIServer) getHealth(w http.ResponseWriter, r *http.Request) {
	status := s.supervisor.Health(r.Context())
	s.encodeJSONResponse(w, http.StatusOK, status)
}

// getDevices ensures the gateway is up, then relays the CLI device listing.
// Parse failures still return 200 with the raw diagnostics attached.
func (s *APIServer) getDevices(w http.ResponseWriter, r *http.Request) {
	if !s.ensureGateway(w, r) {
		return
	}

	listing := s.devices.ListDevices(r.Context())
	s.encodeJSONResponse(w, http.StatusOK, listing)
}

func (s *APIServer) approveDevice(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]
	if requestID == "" {
		writeError(w, "missing request id", http.StatusBadRequest)
		return
	}

	if !s.ensureGateway(w, r) {
		return
	}

	result := s.devices.ApproveDevice(r.Context(), requestID)
	s.encodeJSONResponse(w, http.StatusOK, result)
}

func (s *APIServer) approveAllDevices(w http.ResponseWriter, r *http.Request) {
	if !s.ensureGateway(w, r) {
		return
	}

	result := s.devices.ApproveAll(r.Context())
	s.encodeJSONResponse(w, http.StatusOK, result)
}

func (s *APIServer) getStorageStatus(w http.ResponseWriter, r *http.Request) {
	s.encodeJSONResponse(w, http.StatusOK, s.storage.Status())
}

// triggerSync maps a not-configured failure to a client error; everything
// else that fails is a server error.
func (s *APIServer) triggerSync(w http.ResponseWriter, r *http.Request) {
	result := s.storage.Sync(r.Context())

	status := http.StatusOK

	if !result.Success {
		if result.Error == syncengine.ErrorNotConfigured {
			status = http.StatusBadRequest
		} else {
			status = http.StatusInternalServerError
		}
	}

	s.encodeJSONResponse(w, status, result)
}

// restartGateway is fire-and-forget: the response returns immediately while
// the replacement boots in the background.
func (s *APIServer) restartGateway(w http.ResponseWriter, r *http.Request) {
	result := s.supervisor.Restart(r.Context())
	s.encodeJSONResponse(w, http.StatusOK, result)
}

// ensureGateway guarantees a healthy gateway before a CLI-backed operation.
// Writes a 503 and returns false when the gateway cannot be made ready.
func (s *APIServer) ensureGateway(w http.ResponseWriter, r *http.Request) bool {
	if _, err := s.supervisor.EnsureRunning(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Gateway unavailable for admin operation")
		writeError(w, "gateway unavailable: "+err.Error(), http.StatusServiceUnavailable)

		return false
	}

	return true
}
