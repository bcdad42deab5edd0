package updater

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstaller(t *testing.T) (*Installer, *Config) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := NewConfig(filepath.Join(dataDir, "updater.json"))
	inst := NewInstaller(cfg, dataDir, "2.0.0", nil)
	inst.scriptDir = t.TempDir()
	inst.exePath = func() (string, error) {
		exe := filepath.Join(dataDir, "altman")
		if err := os.WriteFile(exe, []byte("current-binary"), 0755); err != nil {
			return "", err
		}
		return exe, nil
	}
	inst.runScript = func(string) error { return nil }
	return inst, cfg
}

func TestInstallWritesScript(t *testing.T) {
	inst, cfg := newTestInstaller(t)
	updatePath := filepath.Join(t.TempDir(), "altman_update.tmp")
	require.NoError(t, os.WriteFile(updatePath, []byte("new-binary"), 0644))

	var launched string
	inst.runScript = func(path string) error {
		launched = path
		return nil
	}

	require.NoError(t, inst.Install(updatePath))
	assert.Equal(t, inst.scriptPath(), launched)

	script, err := os.ReadFile(inst.scriptPath())
	require.NoError(t, err)
	text := string(script)
	assert.Contains(t, text, updatePath)
	assert.Contains(t, text, cfg.CurrentBackupPath())
	assert.Contains(t, text, inst.markerPath)
	assert.Contains(t, cfg.CurrentBackupPath(), "altman_v2.0.0_backup")

	info, err := os.Stat(inst.scriptPath())
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.NotZero(t, info.Mode()&0100, "script must be executable")
	}
}

func TestCheckInstallResult(t *testing.T) {
	inst, _ := newTestInstaller(t)

	assert.Equal(t, InstallUnknown, inst.CheckInstallResult())

	require.NoError(t, os.WriteFile(inst.markerPath, []byte("ok\n"), 0644))
	assert.Equal(t, InstallSucceeded, inst.CheckInstallResult())
	// The marker is consumed on read.
	assert.Equal(t, InstallUnknown, inst.CheckInstallResult())

	require.NoError(t, os.WriteFile(inst.markerPath, []byte("failed\n"), 0644))
	assert.Equal(t, InstallFailed, inst.CheckInstallResult())
}

func TestRollback(t *testing.T) {
	inst, cfg := newTestInstaller(t)

	// No backup recorded.
	assert.ErrorIs(t, inst.Rollback(), ErrNoBackup)

	// Backup recorded but missing on disk.
	require.NoError(t, cfg.SetBackupPath(filepath.Join(t.TempDir(), "missing")))
	assert.ErrorIs(t, inst.Rollback(), ErrNoBackup)

	backup := filepath.Join(t.TempDir(), "altman_v1.9.0_backup")
	require.NoError(t, os.WriteFile(backup, []byte("old-binary"), 0755))
	require.NoError(t, cfg.SetBackupPath(backup))

	var launched bool
	inst.runScript = func(string) error {
		launched = true
		return nil
	}
	require.NoError(t, inst.Rollback())
	assert.True(t, launched)

	script, err := os.ReadFile(inst.scriptPath())
	require.NoError(t, err)
	assert.Contains(t, string(script), backup)

	// The pre-rollback executable is stashed alongside.
	exe, err := inst.exePath()
	require.NoError(t, err)
	_, err = os.Stat(exe + ".rollback_tmp")
	assert.NoError(t, err)
}

func TestCleanupOldBackups(t *testing.T) {
	inst, _ := newTestInstaller(t)
	require.NoError(t, os.MkdirAll(inst.backupDir, 0755))

	names := []string{"altman_v1_backup", "altman_v2_backup", "altman_v3_backup", "altman_v4_backup", "altman_v5_backup"}
	base := time.Now().Add(-time.Hour)
	for n, name := range names {
		path := filepath.Join(inst.backupDir, name)
		require.NoError(t, os.WriteFile(path, []byte("b"), 0644))
		mtime := base.Add(time.Duration(n) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	// An unrelated file is left alone.
	other := filepath.Join(inst.backupDir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	require.NoError(t, inst.CleanupOldBackups(3))

	entries, err := os.ReadDir(inst.backupDir)
	require.NoError(t, err)
	var kept []string
	for _, e := range entries {
		kept = append(kept, e.Name())
	}
	assert.ElementsMatch(t, []string{"altman_v3_backup", "altman_v4_backup", "altman_v5_backup", "notes.txt"}, kept)
}

func TestCleanupOldBackups_NothingToDo(t *testing.T) {
	inst, _ := newTestInstaller(t)
	// Missing directory is not an error.
	require.NoError(t, inst.CleanupOldBackups(3))

	require.NoError(t, os.MkdirAll(inst.backupDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(inst.backupDir, "altman_v1_backup"), []byte("b"), 0644))
	require.NoError(t, inst.CleanupOldBackups(3))

	entries, err := os.ReadDir(inst.backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
