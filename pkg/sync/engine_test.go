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

package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/sandgate/pkg/bridge"
	"github.com/carverauto/sandgate/pkg/logger"
	"github.com/carverauto/sandgate/pkg/models"
	"github.com/carverauto/sandgate/pkg/mount"
)

var errMountRefused = errors.New("mount refused")

type fakeMounter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *fakeMounter) EnsureMounted(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	return m.err
}

type fakeRunner struct {
	mu     sync.Mutex
	result models.CommandResult
	calls  []bridge.Command
}

func (r *fakeRunner) Run(_ context.Context, cmd bridge.Command) models.CommandResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, cmd)

	return r.result
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

// fakeFiles answers FileExists against the real filesystem, matching how the
// engine treats paths in tests.
type fakeFiles struct{}

func (fakeFiles) FileExists(_ context.Context, path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

type engineFixture struct {
	engine  *Engine
	mounter *fakeMounter
	runner  *fakeRunner
	storage *models.StorageConfig
	gateway *models.GatewayConfig
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()

	storage := &models.StorageConfig{
		AccountID:       "acct",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "moltbot-data",
		MountPath:       t.TempDir(),
	}
	gateway := &models.GatewayConfig{
		Command: "moltbot",
		DataDir: t.TempDir(),
	}

	mounter := &fakeMounter{}
	runner := &fakeRunner{result: models.CommandResult{Completed: true, ExitCode: 0}}

	engine := New(storage, gateway, mounter, runner, fakeFiles{}, logger.NewTestLogger(), opts...)

	return &engineFixture{
		engine:  engine,
		mounter: mounter,
		runner:  runner,
		storage: storage,
		gateway: gateway,
	}
}

func (f *engineFixture) writeCriticalFile(t *testing.T) {
	t.Helper()

	path := filepath.Join(f.gateway.DataDir, "moltbot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device":"x"}`), 0o644))
}

func TestSync_NotConfigured(t *testing.T) {
	f := newEngineFixture(t)
	f.storage.Bucket = ""
	f.storage.SecretAccessKey = ""

	result := f.engine.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, ErrorNotConfigured, result.Error)
	assert.Contains(t, result.Details, "R2_BUCKET")
	assert.Contains(t, result.Details, "R2_SECRET_ACCESS_KEY")

	// No side effects when unconfigured.
	assert.Zero(t, f.mounter.calls)
	assert.Zero(t, f.runner.callCount())
}

func TestSync_MountFailureAborts(t *testing.T) {
	f := newEngineFixture(t)
	f.mounter.err = errMountRefused
	f.writeCriticalFile(t)

	result := f.engine.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, ErrorMountFailed, result.Error)
	assert.Contains(t, result.Details, "mount refused")
	assert.Zero(t, f.runner.callCount())
}

func TestSync_MissingCriticalFileLeavesDurableUntouched(t *testing.T) {
	f := newEngineFixture(t)

	// Pre-existing durable state that a careless mirror would destroy.
	marker := f.engine.MarkerPath()
	require.NoError(t, os.WriteFile(marker, []byte("2026-08-24T10:00:00Z\n"), 0o644))

	result := f.engine.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, ErrorSourceMissing, result.Error)
	assert.Zero(t, f.runner.callCount())

	// The old marker survives.
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-24T10:00:00Z\n", string(data))
	assert.Equal(t, "2026-08-24T10:00:00Z", f.engine.LastSync())
}

func TestSync_SuccessWritesVerifiedMarker(t *testing.T) {
	fixed := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)

	f := newEngineFixture(t, WithClock(func() time.Time { return fixed }))
	f.writeCriticalFile(t)

	result := f.engine.Sync(context.Background())

	require.True(t, result.Success)
	assert.Equal(t, "2026-08-25T12:30:00Z", result.LastSync)
	assert.Equal(t, "2026-08-25T12:30:00Z", f.engine.LastSync())

	require.Equal(t, 1, f.runner.callCount())
	cmd := f.runner.calls[0]
	assert.Equal(t, "rclone", cmd.Name)
	assert.Equal(t, "sync", cmd.Args[0])
	assert.Equal(t, f.gateway.DataDir, cmd.Args[1])
	assert.Equal(t, filepath.Join(f.storage.MountPath, "moltbot"), cmd.Args[2])
	assert.Contains(t, cmd.Args, "--no-update-modtime")
	assert.Contains(t, cmd.Args, "*.lock")

	// The mirror runs with the same remote definition the mount manager builds.
	assert.Equal(t, mount.RcloneEnv(f.storage), cmd.Env)
}

func TestSync_MarkerAdvancesMonotonically(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC),
	}
	idx := 0

	f := newEngineFixture(t, WithClock(func() time.Time {
		ts := times[idx]
		if idx < len(times)-1 {
			idx++
		}

		return ts
	}))
	f.writeCriticalFile(t)

	first := f.engine.Sync(context.Background())
	second := f.engine.Sync(context.Background())

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, "2026-08-25T12:00:00Z", first.LastSync)
	assert.Equal(t, "2026-08-25T12:05:00Z", second.LastSync)
	assert.True(t, second.LastSync > first.LastSync)
}

func TestSync_MirrorFailureSkipsMarker(t *testing.T) {
	f := newEngineFixture(t)
	f.writeCriticalFile(t)
	f.runner.result = models.CommandResult{
		Completed: true,
		ExitCode:  1,
		Stderr:    "Failed to copy: quota exceeded",
	}

	result := f.engine.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, ErrorMirrorFailed, result.Error)
	assert.Contains(t, result.Details, "quota exceeded")

	_, err := os.Stat(f.engine.MarkerPath())
	assert.True(t, os.IsNotExist(err))
}

func TestSync_MirrorTimeoutSkipsMarker(t *testing.T) {
	f := newEngineFixture(t)
	f.writeCriticalFile(t)
	f.runner.result = models.CommandResult{TimedOut: true, ExitCode: -1}

	result := f.engine.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, ErrorMirrorFailed, result.Error)
	assert.Contains(t, result.Details, "timed out")
}

func TestLastSync_GarbageMarkerReadsAsNoSync(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, os.WriteFile(f.engine.MarkerPath(), []byte("not a timestamp"), 0o644))

	assert.Empty(t, f.engine.LastSync())
}

func TestStatus(t *testing.T) {
	t.Run("unconfigured lists missing variables", func(t *testing.T) {
		f := newEngineFixture(t)
		f.storage.AccountID = ""

		status := f.engine.Status()

		assert.False(t, status.Configured)
		assert.Equal(t, []string{"R2_ACCOUNT_ID"}, status.Missing)
	})

	t.Run("configured with no marker", func(t *testing.T) {
		f := newEngineFixture(t)

		status := f.engine.Status()

		assert.True(t, status.Configured)
		assert.Empty(t, status.LastSync)
		assert.NotEmpty(t, status.Message)
	})

	t.Run("configured with marker", func(t *testing.T) {
		f := newEngineFixture(t)
		require.NoError(t, os.WriteFile(f.engine.MarkerPath(), []byte("2026-08-25T09:00:00Z\n"), 0o644))

		status := f.engine.Status()

		assert.True(t, status.Configured)
		assert.Equal(t, "2026-08-25T09:00:00Z", status.LastSync)
	})
}

func TestRestore(t *testing.T) {
	t.Run("skipped when local state exists", func(t *testing.T) {
		f := newEngineFixture(t)
		f.writeCriticalFile(t)

		require.NoError(t, f.engine.Restore(context.Background()))
		assert.Zero(t, f.runner.callCount())
	})

	t.Run("skipped when durable backup absent", func(t *testing.T) {
		f := newEngineFixture(t)

		require.NoError(t, f.engine.Restore(context.Background()))
		assert.Zero(t, f.runner.callCount())
	})

	t.Run("copies when backup present and local state absent", func(t *testing.T) {
		f := newEngineFixture(t)

		mirrorDir := filepath.Join(f.storage.MountPath, "moltbot")
		require.NoError(t, os.MkdirAll(mirrorDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(mirrorDir, "moltbot.json"), []byte("{}"), 0o644))

		require.NoError(t, f.engine.Restore(context.Background()))

		require.Equal(t, 1, f.runner.callCount())
		cmd := f.runner.calls[0]
		assert.Equal(t, "rclone", cmd.Name)
		assert.Equal(t, "copy", cmd.Args[0])
		assert.Equal(t, mirrorDir, cmd.Args[1])
		assert.Equal(t, f.gateway.DataDir, cmd.Args[2])
	})

	t.Run("skipped when unconfigured", func(t *testing.T) {
		f := newEngineFixture(t)
		f.storage.Bucket = ""

		require.NoError(t, f.engine.Restore(context.Background()))
		assert.Zero(t, f.mounter.calls)
	})
}
