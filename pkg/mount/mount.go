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

// Package mount attaches the durable object store at a fixed local path
// exactly once. Mount state is derived from the kernel mount table on every
// call, never cached: sandbox restarts can tear the mount down without notice.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/carverauto/sandgate/pkg/bridge"
	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
)

var (
	// ErrMountFailed wraps rclone mount failures that are not the benign
	// already-in-use case.
	ErrMountFailed = errors.New("failed to mount durable storage")

	errMountTableUnreadable = errors.New("mount table unreadable")
)

const (
	defaultMountinfoPath = "/proc/self/mountinfo"
	mountTimeout         = 30 * time.Second
)

// Runner executes helper commands; satisfied by *bridge.Bridge.
type Runner interface {
	Run(ctx context.Context, cmd bridge.Command) models.CommandResult
}

// Manager ensures the durable store is mounted at the configured path.
type Manager struct {
	cfg           *models.StorageConfig
	runner        Runner
	mountinfoPath string
	logger        logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMountinfoPath points the mount-table probe at an alternate file, used by tests.
func WithMountinfoPath(path string) Option {
	return func(m *Manager) {
		m.mountinfoPath = path
	}
}

// New creates a mount Manager.
func New(cfg *models.StorageConfig, runner Runner, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:           cfg,
		runner:        runner,
		mountinfoPath: defaultMountinfoPath,
		logger:        log,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// IsMounted inspects the kernel mount table for an active FUSE mount at the
// configured path.
func (m *Manager) IsMounted() (bool, error) {
	data, err := os.ReadFile(m.mountinfoPath)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errMountTableUnreadable, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		mountPoint, fsType, ok := parseMountinfoLine(line)
		if !ok {
			continue
		}

		if mountPoint == m.cfg.MountPath && strings.HasPrefix(fsType, "fuse") {
			return true, nil
		}
	}

	return false, nil
}

// EnsureMounted makes the durable store available at the mount path.
// Already mounted is success, not failure, and performs no side effects.
// A mount attempt failing with "already in use" is reclassified as success:
// the mount tool and the table inspection can race, and failing here would
// block every downstream sync despite the mount being functionally present.
func (m *Manager) EnsureMounted(ctx context.Context) error {
	mounted, err := m.IsMounted()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Mount table inspection failed, attempting mount anyway")
	} else if mounted {
		m.logger.Debug().Str("path", m.cfg.MountPath).Msg("Durable store already mounted")

		return nil
	}

	if err := os.MkdirAll(m.cfg.MountPath, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrMountFailed, err)
	}

	res := m.runner.Run(ctx, bridge.Command{
		Name: "rclone",
		Args: []string{
			"mount", Remote(m.cfg), m.cfg.MountPath,
			"--daemon",
			"--allow-non-empty",
			"--vfs-cache-mode", "writes",
		},
		Env:     RcloneEnv(m.cfg),
		Timeout: mountTimeout,
	})

	if res.Completed && res.ExitCode == 0 {
		m.logger.Info().Str("path", m.cfg.MountPath).Msg("Mounted durable store")

		return nil
	}

	combined := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	if strings.Contains(combined, "already in use") || strings.Contains(combined, "already mounted") {
		m.logger.Debug().Str("path", m.cfg.MountPath).Msg("Mount target already in use, treating as mounted")

		return nil
	}

	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(res.Stdout)
	}

	if res.TimedOut {
		detail = "mount command timed out: " + detail
	}

	return fmt.Errorf("%w: %s", ErrMountFailed, detail)
}

// Remote returns the rclone remote spec for the configured bucket.
func Remote(cfg *models.StorageConfig) string {
	return "r2:" + cfg.Bucket
}

// RcloneEnv builds the rclone S3 remote definition from credentials, so no
// rclone.conf needs to exist inside the sandbox.
func RcloneEnv(cfg *models.StorageConfig) []string {
	return []string{
		"RCLONE_CONFIG_R2_TYPE=s3",
		"RCLONE_CONFIG_R2_PROVIDER=Cloudflare",
		"RCLONE_CONFIG_R2_ACCESS_KEY_ID=" + cfg.AccessKeyID,
		"RCLONE_CONFIG_R2_SECRET_ACCESS_KEY=" + cfg.SecretAccessKey,
		fmt.Sprintf("RCLONE_CONFIG_R2_ENDPOINT=https://%s.r2.cloudflarestorage.com", cfg.AccountID),
	}
}

// parseMountinfoLine extracts (mountpoint, fstype) from one mountinfo row.
// Format: id parent major:minor root mountpoint opts ... - fstype source superopts
func parseMountinfoLine(line string) (mountPoint, fsType string, ok bool) {
	parts := strings.SplitN(line, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	left := strings.Fields(parts[0])
	if len(left) < 5 {
		return "", "", false
	}

	right := strings.Fields(parts[1])
	if len(right) < 1 {
		return "", "", false
	}

	return left[4], right[0], true
}
