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

// Package sync mirrors local gateway state to the durable mount. Every step
// gates the next; the core invariant is that an empty or partial source is
// never mirrored over a previously good backup.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/carverauto/sandgate/pkg/bridge"
	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
	"github.com/carverauto/sandgate/pkg/mount"
)

const (
	// MarkerFileName records the last successful sync. It is the only state
	// this service persists itself.
	MarkerFileName = ".sandgate-last-sync"

	// mirrorSubdir keeps the mirrored tree out of the marker's directory so
	// delete-reconciliation cannot remove the marker.
	mirrorSubdir = "moltbot"

	// criticalFileName must exist locally before any mirror runs.
	criticalFileName = "moltbot.json"

	mirrorTimeout = 2 * time.Minute
)

// Error strings surfaced in SyncResult. ErrorNotConfigured maps to a
// client-error status at the API boundary; the rest map to server errors.
const (
	ErrorNotConfigured = "not configured"
	ErrorMountFailed   = "Failed to mount R2 storage"
	ErrorSourceMissing = "sync aborted: critical source file missing"
	ErrorMirrorFailed  = "sync failed"
	ErrorMarkerInvalid = "sync marker verification failed"
)

// isoDatePattern is the shape the marker content must match to count as a
// successful sync. The mirror tool's own completion status is not trusted in
// this sandbox; the re-read marker is the source of truth.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// Mounter attaches the durable store; satisfied by *mount.Manager.
type Mounter interface {
	EnsureMounted(ctx context.Context) error
}

// Runner executes helper commands; satisfied by *bridge.Bridge.
type Runner interface {
	Run(ctx context.Context, cmd bridge.Command) models.CommandResult
}

// FileChecker probes for file existence through the sandbox exec primitive;
// satisfied by *bridge.Bridge.
type FileChecker interface {
	FileExists(ctx context.Context, path string) bool
}

// Engine runs the guarded sync state machine.
type Engine struct {
	storage *models.StorageConfig
	gateway *models.GatewayConfig
	mounter Mounter
	runner  Runner
	files   FileChecker
	now     func() time.Time
	logger  logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a sync Engine.
func New(
	storage *models.StorageConfig,
	gateway *models.GatewayConfig,
	mounter Mounter,
	runner Runner,
	files FileChecker,
	log logger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		storage: storage,
		gateway: gateway,
		mounter: mounter,
		runner:  runner,
		files:   files,
		now:     time.Now,
		logger:  log,
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

// MarkerPath is the fixed location of the sync marker under the mount root.
func (e *Engine) MarkerPath() string {
	return filepath.Join(e.storage.MountPath, MarkerFileName)
}

// CriticalFilePath is the local file whose presence gates every mirror.
func (e *Engine) CriticalFilePath() string {
	return filepath.Join(e.gateway.DataDir, criticalFileName)
}

func (e *Engine) mirrorPath() string {
	return filepath.Join(e.storage.MountPath, mirrorSubdir)
}

// Sync mirrors local state to the durable mount. Steps run strictly in order,
// each gating the next: configured, mounted, source sanity check, mirror,
// marker commit. Running twice with an unchanged source is a no-op for
// durable content and simply advances the marker.
func (e *Engine) Sync(ctx context.Context) models.SyncResult {
	if missing := e.storage.MissingStorageCredentials(); len(missing) > 0 {
		return models.SyncResult{
			Error:   ErrorNotConfigured,
			Details: "missing: " + strings.Join(missing, ", "),
		}
	}

	if err := e.mounter.EnsureMounted(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Durable store mount failed, aborting sync")

		return models.SyncResult{Error: ErrorMountFailed, Details: err.Error()}
	}

	critical := e.CriticalFilePath()
	if !e.files.FileExists(ctx, critical) {
		e.logger.Warn().Str("path", critical).Msg("Critical source file absent, refusing to mirror")

		return models.SyncResult{Error: ErrorSourceMissing, Details: critical}
	}

	if result, ok := e.mirror(ctx); !ok {
		return result
	}

	return e.commitMarker()
}

// mirror runs the one-way delete-reconciling copy to the durable mount.
// Transient files would pollute or destabilize the backup and are excluded;
// timestamp preservation is disabled because the mount's filesystem semantics
// do not support it reliably.
func (e *Engine) mirror(ctx context.Context) (models.SyncResult, bool) {
	res := e.runner.Run(ctx, bridge.Command{
		Name: "rclone",
		Args: []string{
			"sync", e.gateway.DataDir, e.mirrorPath(),
			"--exclude", "*.lock",
			"--exclude", "*.log",
			"--exclude", "*.tmp",
			"--exclude", ".cache/**",
			"--no-update-modtime",
		},
		Env:     mount.RcloneEnv(e.storage),
		Timeout: mirrorTimeout,
	})

	if res.TimedOut || !res.Completed || res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}

		if res.TimedOut {
			detail = "mirror timed out: " + detail
		}

		e.logger.Error().Int("exit_code", res.ExitCode).Bool("timed_out", res.TimedOut).Msg("Mirror step failed")

		return models.SyncResult{Error: ErrorMirrorFailed, Details: detail}, false
	}

	return models.SyncResult{}, true
}

// commitMarker writes the completion timestamp at the destination, then
// re-reads it as the source of truth for success.
func (e *Engine) commitMarker() models.SyncResult {
	stamp := e.now().UTC().Format(time.RFC3339)

	if err := os.WriteFile(e.MarkerPath(), []byte(stamp+"\n"), 0o644); err != nil {
		return models.SyncResult{Error: ErrorMarkerInvalid, Details: err.Error()}
	}

	written, err := e.readMarker()
	if err != nil {
		return models.SyncResult{Error: ErrorMarkerInvalid, Details: err.Error()}
	}

	if !isoDatePattern.MatchString(written) {
		return models.SyncResult{
			Error:   ErrorMarkerInvalid,
			Details: fmt.Sprintf("marker content %q is not an ISO timestamp", written),
		}
	}

	e.logger.Info().Str("last_sync", written).Msg("Sync completed")

	return models.SyncResult{Success: true, LastSync: written}
}

func (e *Engine) readMarker() (string, error) {
	data, err := os.ReadFile(e.MarkerPath())
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

// LastSync returns the recorded last-successful-sync timestamp, or empty when
// the marker is absent or malformed. A missing marker is never interpreted as
// success.
func (e *Engine) LastSync() string {
	written, err := e.readMarker()
	if err != nil || !isoDatePattern.MatchString(written) {
		return ""
	}

	return written
}

// Status reports the durable-store configuration and last sync for the admin API.
func (e *Engine) Status() models.StorageStatus {
	missing := e.storage.MissingStorageCredentials()
	if len(missing) > 0 {
		return models.StorageStatus{
			Configured: false,
			Missing:    missing,
			Message:    "R2 storage credentials missing",
		}
	}

	status := models.StorageStatus{Configured: true, LastSync: e.LastSync()}
	if status.LastSync == "" {
		status.Message = "no successful sync recorded"
	}

	return status
}

// Restore copies durable state back into the local data directory. It only
// runs when the local critical file is absent and the durable mirror has one,
// i.e. a fresh sandbox booting with an existing backup. It copies without
// delete-reconciliation so it can never destroy local files.
func (e *Engine) Restore(ctx context.Context) error {
	if !e.storage.Configured() {
		return nil
	}

	if e.files.FileExists(ctx, e.CriticalFilePath()) {
		return nil
	}

	if err := e.mounter.EnsureMounted(ctx); err != nil {
		return fmt.Errorf("restore skipped: %w", err)
	}

	durableCritical := filepath.Join(e.mirrorPath(), criticalFileName)
	if !e.files.FileExists(ctx, durableCritical) {
		e.logger.Debug().Msg("No durable backup present, nothing to restore")

		return nil
	}

	res := e.runner.Run(ctx, bridge.Command{
		Name:    "rclone",
		Args:    []string{"copy", e.mirrorPath(), e.gateway.DataDir, "--no-update-modtime"},
		Env:     mount.RcloneEnv(e.storage),
		Timeout: mirrorTimeout,
	})

	if res.TimedOut || !res.Completed || res.ExitCode != 0 {
		return fmt.Errorf("restore failed: %s", strings.TrimSpace(res.Stderr))
	}

	e.logger.Info().Str("data_dir", e.gateway.DataDir).Msg("Restored gateway state from durable backup")

	return nil
}
