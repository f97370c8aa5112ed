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

// Package lifecycle runs the admin HTTP server with graceful shutdown and
// drives the background sync ticker.
package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

const (
	shutdownTimeout    = 10 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 60 * time.Second
	serverIdleTimeout  = 120 * time.Second
)

// Syncer is the background-sync surface; satisfied by *sync.Engine.
type Syncer interface {
	Sync(ctx context.Context) models.SyncResult
}

// ServerOptions configures RunServer.
type ServerOptions struct {
	ListenAddr   string
	Handler      http.Handler
	Logger       logger.Logger
	Syncer       Syncer
	SyncInterval time.Duration
}

// RunServer serves the admin API until a termination signal arrives, then
// shuts down gracefully. When a Syncer and interval are configured it also
// runs periodic background syncs independent of request traffic.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      opts.Handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		opts.Logger.Info().Str("addr", opts.ListenAddr).Msg("Admin API listening")
		errCh <- srv.ListenAndServe()
	}()

	if opts.Syncer != nil && opts.SyncInterval > 0 {
		go runSyncLoop(ctx, opts)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	case <-ctx.Done():
	}

	opts.Logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func runSyncLoop(ctx context.Context, opts *ServerOptions) {
	ticker := time.NewTicker(opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := opts.Syncer.Sync(ctx)
			if !result.Success {
				opts.Logger.Warn().
					Str("error", result.Error).
					Str("details", result.Details).
					Msg("Background sync did not complete")
			}
		}
	}
}
