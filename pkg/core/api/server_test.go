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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sandgate/pkg/core/auth"
	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
	syncengine "github.com/carverauto/sandgate/pkg/sync"
)

var errGatewayDown = errors.New("gateway would not boot")

type fakeSupervisor struct {
	ensureErr    error
	health       models.HealthStatus
	restart      models.RestartResult
	restartCalls int
}

func (s *fakeSupervisor) EnsureRunning(_ context.Context) (*models.GatewayProcess, error) {
	if s.ensureErr != nil {
		return nil, s.ensureErr
	}

	return &models.GatewayProcess{PID: 1, Status: models.ProcessRunning}, nil
}

func (s *fakeSupervisor) Restart(_ context.Context) models.RestartResult {
	s.restartCalls++

	return s.restart
}

func (s *fakeSupervisor) Health(_ context.Context) models.HealthStatus {
	return s.health
}

type fakeDevices struct {
	listing models.DeviceList
	approve models.ApproveResult
	bulk    models.BulkApproveResult
	lastID  string
}

func (d *fakeDevices) ListDevices(_ context.Context) models.DeviceList { return d.listing }

func (d *fakeDevices) ApproveDevice(_ context.Context, requestID string) models.ApproveResult {
	d.lastID = requestID

	return d.approve
}

func (d *fakeDevices) ApproveAll(_ context.Context) models.BulkApproveResult { return d.bulk }

type fakeStorage struct {
	syncResult models.SyncResult
	status     models.StorageStatus
}

func (s *fakeStorage) Sync(_ context.Context) models.SyncResult { return s.syncResult }
func (s *fakeStorage) Status() models.StorageStatus             { return s.status }

// fakeVerifier accepts one fixed token and one fixed assertion.
type fakeVerifier struct {
	enabled   bool
	token     string
	assertion string
}

func (v *fakeVerifier) VerifySharedToken(presented string) bool {
	return v.token != "" && presented == v.token
}

func (v *fakeVerifier) VerifyAssertion(_ context.Context, raw string) (*auth.IdentityClaims, error) {
	if v.assertion != "" && raw == v.assertion {
		return &auth.IdentityClaims{Email: "operator@example.com"}, nil
	}

	return nil, auth.ErrAssertionInvalid
}

func (v *fakeVerifier) AssertionHeader() string { return "X-Identity-Assertion" }
func (v *fakeVerifier) Enabled() bool           { return v.enabled }

type apiFixture struct {
	server     *APIServer
	supervisor *fakeSupervisor
	devices    *fakeDevices
	storage    *fakeStorage
	verifier   *fakeVerifier
}

func newAPIFixture() *apiFixture {
	sup := &fakeSupervisor{
		health:  models.HealthStatus{OK: true, Status: models.ProcessRunning},
		restart: models.RestartResult{Success: true, Message: "gateway restart initiated"},
	}
	devices := &fakeDevices{
		listing: models.DeviceList{
			Pending: []models.DeviceApprovalRequest{},
			Paired:  []models.PairedDevice{},
		},
	}
	storage := &fakeStorage{status: models.StorageStatus{Configured: true}}
	verifier := &fakeVerifier{}

	server := NewAPIServer(models.CORSConfig{}, logger.NewTestLogger(),
		WithSupervisor(sup),
		WithDeviceBridge(devices),
		WithStorageEngine(storage),
		WithVerifier(verifier),
	)

	return &apiFixture{
		server:     server,
		supervisor: sup,
		devices:    devices,
		storage:    storage,
		verifier:   verifier,
	}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	return rec
}

func TestGetHealth(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status models.HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.OK)
	assert.Equal(t, models.ProcessRunning, status.Status)
}

func TestGetDevices(t *testing.T) {
	f := newAPIFixture()
	f.devices.listing = models.DeviceList{
		Pending: []models.DeviceApprovalRequest{{RequestID: "req-1"}},
		Paired:  []models.PairedDevice{},
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var listing models.DeviceList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	require.Len(t, listing.Pending, 1)
	assert.Equal(t, "req-1", listing.Pending[0].RequestID)
}

func TestGetDevices_ParseFailureIsStill200(t *testing.T) {
	f := newAPIFixture()
	f.devices.listing = models.DeviceList{
		Pending:    []models.DeviceApprovalRequest{},
		Paired:     []models.PairedDevice{},
		Raw:        "unparseable CLI output",
		ParseError: "no JSON object found in CLI output",
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var listing models.DeviceList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Empty(t, listing.Pending)
	assert.Equal(t, "unparseable CLI output", listing.Raw)
	assert.NotEmpty(t, listing.ParseError)
}

func TestGetDevices_GatewayUnavailableIs503(t *testing.T) {
	f := newAPIFixture()
	f.supervisor.ensureErr = errGatewayDown

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Contains(t, errResp.Message, "gateway unavailable")
}

func TestApproveDevice(t *testing.T) {
	f := newAPIFixture()
	f.devices.approve = models.ApproveResult{RequestID: "req-7", Success: true}

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/devices/req-7/approve", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-7", f.devices.lastID)

	var result models.ApproveResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Success)
}

func TestApproveAllDevices(t *testing.T) {
	f := newAPIFixture()
	f.devices.bulk = models.BulkApproveResult{
		Approved: []string{"a", "b"},
		Failed:   []models.FailedApproval{{RequestID: "c", Error: "expired"}},
		Message:  "Approved 2 of 3 device(s)",
	}

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/devices/approve-all", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var result models.BulkApproveResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, []string{"a", "b"}, result.Approved)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "Approved 2 of 3 device(s)", result.Message)
}

func TestGetStorageStatus(t *testing.T) {
	f := newAPIFixture()
	f.storage.status = models.StorageStatus{
		Configured: false,
		Missing:    []string{"R2_BUCKET"},
		Message:    "R2 storage credentials missing",
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/storage/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status models.StorageStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.False(t, status.Configured)
	assert.Equal(t, []string{"R2_BUCKET"}, status.Missing)
}

func TestTriggerSync_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     models.SyncResult
		wantStatus int
	}{
		{
			name:       "success",
			result:     models.SyncResult{Success: true, LastSync: "2026-08-25T12:00:00Z"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "not configured is a client error",
			result:     models.SyncResult{Error: syncengine.ErrorNotConfigured},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "mount failure is a server error",
			result:     models.SyncResult{Error: syncengine.ErrorMountFailed},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "mirror failure is a server error",
			result:     models.SyncResult{Error: syncengine.ErrorMirrorFailed},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()
			f.storage.syncResult = tt.result

			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/storage/sync", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRestartGateway(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/gateway/restart", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.supervisor.restartCalls)

	var result models.RestartResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Success)
}

func TestAuthentication_OpenWhenNotConfigured(t *testing.T) {
	f := newAPIFixture()
	f.verifier.enabled = false

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication_SharedToken(t *testing.T) {
	f := newAPIFixture()
	f.verifier.enabled = true
	f.verifier.token = "s3cret"

	t.Run("missing credentials", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Authorization", "Bearer s3cret")

		rec := f.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("query parameter", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/health?token=s3cret", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Authorization", "Bearer wrong")

		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthentication_IdentityAssertion(t *testing.T) {
	f := newAPIFixture()
	f.verifier.enabled = true
	f.verifier.token = "s3cret"
	f.verifier.assertion = "signed-assertion"

	t.Run("valid assertion", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("X-Identity-Assertion", "signed-assertion")

		rec := f.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("forged assertion", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("X-Identity-Assertion", "forged")

		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
