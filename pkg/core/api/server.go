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

// Package api provides the HTTP admin API for the gateway supervisor
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/sandgate/pkg/core/auth"
	srHttp "github.com/carverauto/sandgate/pkg/http"
	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

// GatewaySupervisor is the supervisor surface the API consumes.
type GatewaySupervisor interface {
	EnsureRunning(ctx context.Context) (*models.GatewayProcess, error)
	Restart(ctx context.Context) models.RestartResult
	Health(ctx context.Context) models.HealthStatus
}

// DeviceBridge relays device pairing operations to the gateway CLI.
type DeviceBridge interface {
	ListDevices(ctx context.Context) models.DeviceList
	ApproveDevice(ctx context.Context, requestID string) models.ApproveResult
	ApproveAll(ctx context.Context) models.BulkApproveResult
}

// StorageEngine is the sync-engine surface the API consumes.
type StorageEngine interface {
	Sync(ctx context.Context) models.SyncResult
	Status() models.StorageStatus
}

// Verifier is the dual-mode credential checker.
type Verifier interface {
	VerifySharedToken(presented string) bool
	VerifyAssertion(ctx context.Context, raw string) (*auth.IdentityClaims, error)
	AssertionHeader() string
	Enabled() bool
}

// APIServer serves the supervisor admin API.
type APIServer struct {
	router     *mux.Router
	corsConfig models.CORSConfig
	supervisor GatewaySupervisor
	devices    DeviceBridge
	storage    StorageEngine
	verifier   Verifier
	logger     logger.Logger
}

// NewAPIServer creates a new API server instance with the given configuration
func NewAPIServer(cors models.CORSConfig, log logger.Logger, options ...func(*APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: cors,
		logger:     log,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithSupervisor wires the gateway supervisor into the API server.
func WithSupervisor(sup GatewaySupervisor) func(*APIServer) {
	return func(server *APIServer) {
		server.supervisor = sup
	}
}

// WithDeviceBridge wires the gateway CLI bridge into the API server.
func WithDeviceBridge(d DeviceBridge) func(*APIServer) {
	return func(server *APIServer) {
		server.devices = d
	}
}

// WithStorageEngine wires the sync engine into the API server.
func WithStorageEngine(e StorageEngine) func(*APIServer) {
	return func(server *APIServer) {
		server.storage = e
	}
}

// WithVerifier wires the authentication boundary into the API server.
func WithVerifier(v Verifier) func(*APIServer) {
	return func(server *APIServer) {
		server.verifier = v
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.corsConfig, s.logger)
	})

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(s.authenticationMiddleware)

	protected.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	protected.HandleFunc("/devices", s.getDevices).Methods(http.MethodGet)
	protected.HandleFunc("/devices/approve-all", s.approveAllDevices).Methods(http.MethodPost)
	protected.HandleFunc("/devices/{id}/approve", s.approveDevice).Methods(http.MethodPost)
	protected.HandleFunc("/storage/status", s.getStorageStatus).Methods(http.MethodGet)
	protected.HandleFunc("/storage/sync", s.triggerSync).Methods(http.MethodPost)
	protected.HandleFunc("/gateway/restart", s.restartGateway).Methods(http.MethodPost)
}

// Router exposes the handler tree for the lifecycle server and tests.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// authenticationMiddleware accepts either the shared admin token (bearer
// header or query parameter, for machine callers) or a signed identity
// assertion from the external broker (for human callers). Either mode is
// sufficient.
func (s *APIServer) authenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil || !s.verifier.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == r.Header.Get("Authorization") {
			token = ""
		}

		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != "" && s.verifier.VerifySharedToken(token) {
			next.ServeHTTP(w, r)
			return
		}

		if assertion := r.Header.Get(s.verifier.AssertionHeader()); assertion != "" {
			if _, err := s.verifier.VerifyAssertion(r.Context(), assertion); err == nil {
				next.ServeHTTP(w, r)
				return
			}

			s.logger.Warn().Str("path", r.URL.Path).Msg("Identity assertion failed verification")
		}

		writeError(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// Start runs the admin API server until the listener fails.
func (s *APIServer) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return srv.ListenAndServe()
}

func (s *APIServer) encodeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	_ = json.NewEncoder(w).Encode(errResponse)
}
