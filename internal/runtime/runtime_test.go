package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptide-org/riptide"
)

func TestNewConfigManagerFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, riptide.Defaults().Jobs.Workers, cm.Current().Jobs.Workers)
}

func TestUpdateRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	bad := riptide.Defaults()
	bad.Jobs.Workers = 0
	err = cm.Update(bad)
	assert.Error(t, err)
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)

	next := riptide.Defaults()
	next.EnableRender = false
	require.NoError(t, cm.Update(next))

	reloaded, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.False(t, reloaded.Current().EnableRender)
}

func TestWatchConfigChangesDeliversOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)

	hr, err := NewHotReloadSystem(path)
	require.NoError(t, err)
	defer func() { _ = hr.StopWatching() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, errs := hr.WatchConfigChanges(ctx)

	next := riptide.Defaults()
	next.EnableWasm = false
	require.NoError(t, cm.Update(next))

	select {
	case change := <-changes:
		require.NotNil(t, change)
		assert.False(t, change.Config.EnableWasm)
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change notification")
	}
}

func TestHotReloadSystemIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  workers: 4\n"), 0o644))

	hr, err := NewHotReloadSystem(path)
	require.NoError(t, err)
	defer func() { _ = hr.StopWatching() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, errs := hr.WatchConfigChanges(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("noop"), 0o644))

	select {
	case change := <-changes:
		t.Fatalf("unexpected change notification for unrelated file: %+v", change)
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}
