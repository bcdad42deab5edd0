package updater

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Installer replaces the running executable via an external script. The
// script runs after the process exits, so on its next start the application
// reads a marker file the script leaves behind to learn the outcome.
type Installer struct {
	cfg     *Config
	log     *zap.Logger
	version string

	// test seams
	exePath    func() (string, error)
	runScript  func(path string) error
	backupDir  string
	scriptDir  string
	markerPath string
}

// NewInstaller returns an installer for the given running version. Backup
// copies and the result marker live under dataDir.
func NewInstaller(cfg *Config, dataDir, version string, log *zap.Logger) *Installer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Installer{
		cfg:        cfg,
		log:        log,
		version:    version,
		exePath:    os.Executable,
		runScript:  launchScript,
		backupDir:  filepath.Join(dataDir, "backups"),
		scriptDir:  os.TempDir(),
		markerPath: filepath.Join(dataDir, "install_result"),
	}
}

func launchScript(path string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/C", "start", "", path)
	} else {
		cmd = exec.Command("/bin/sh", "-c", fmt.Sprintf("%q &", path))
	}
	return cmd.Start()
}

func (i *Installer) scriptPath() string {
	name := "update_altman.sh"
	if runtime.GOOS == "windows" {
		name = "update_altman.bat"
	}
	return filepath.Join(i.scriptDir, name)
}

// writeInstallScript generates the OS-native script that backs up the
// current executable, moves the new one into place, restores the backup on
// failure, records the outcome in the marker file and restarts the app.
func (i *Installer) writeInstallScript(newExecutable, currentExecutable, backupPath string) error {
	var script string
	if runtime.GOOS == "windows" {
		script = fmt.Sprintf("@echo off\r\n"+
			"echo Waiting for application to close...\r\n"+
			"timeout /t 2 /nobreak > nul\r\n"+
			"echo Creating backup...\r\n"+
			"copy /Y %q %q\r\n"+
			"echo Installing update...\r\n"+
			"move /Y %q %q\r\n"+
			"if errorlevel 1 (\r\n"+
			"    echo Update failed! Restoring backup...\r\n"+
			"    copy /Y %q %q\r\n"+
			"    echo failed> %q\r\n"+
			") else (\r\n"+
			"    echo ok> %q\r\n"+
			")\r\n"+
			"echo Starting application...\r\n"+
			"start \"\" %q\r\n"+
			"del \"%%~f0\"\r\n",
			currentExecutable, backupPath,
			newExecutable, currentExecutable,
			backupPath, currentExecutable,
			i.markerPath,
			i.markerPath,
			currentExecutable)
	} else {
		script = fmt.Sprintf("#!/bin/sh\n"+
			"echo 'Waiting for application to close...'\n"+
			"sleep 2\n"+
			"echo 'Creating backup...'\n"+
			"cp %q %q\n"+
			"echo 'Installing update...'\n"+
			"if mv %q %q; then\n"+
			"    chmod +x %q\n"+
			"    echo ok > %q\n"+
			"    echo 'Update successful!'\n"+
			"else\n"+
			"    echo 'Update failed! Restoring backup...'\n"+
			"    cp %q %q\n"+
			"    echo failed > %q\n"+
			"fi\n"+
			"echo 'Starting application...'\n"+
			"%q &\n"+
			"rm \"$0\"\n",
			currentExecutable, backupPath,
			newExecutable, currentExecutable,
			currentExecutable,
			i.markerPath,
			backupPath, currentExecutable,
			i.markerPath,
			currentExecutable)
	}
	return os.WriteFile(i.scriptPath(), []byte(script), 0700)
}

// Install launches the replacement script for the downloaded file. The
// caller must exit the process promptly afterwards; the script waits two
// seconds before touching the executable.
func (i *Installer) Install(updatePath string) error {
	currentExe, err := i.exePath()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	if err := os.MkdirAll(i.backupDir, 0755); err != nil {
		return err
	}

	backupPath := filepath.Join(i.backupDir, fmt.Sprintf("altman_v%s_backup", i.version))
	if runtime.GOOS == "windows" {
		backupPath += ".exe"
	}

	if err := i.cfg.SetBackupPath(backupPath); err != nil {
		return err
	}

	os.Remove(i.markerPath)
	if err := i.writeInstallScript(updatePath, currentExe, backupPath); err != nil {
		return fmt.Errorf("write install script: %w", err)
	}
	i.log.Info("launching install script", zap.String("script", i.scriptPath()))
	return i.runScript(i.scriptPath())
}

// InstallResult is the outcome recorded by the install script.
type InstallResult int

const (
	InstallUnknown InstallResult = iota
	InstallSucceeded
	InstallFailed
)

// CheckInstallResult reads and removes the marker file written by the last
// install script. InstallUnknown means no install has run since the last
// check.
func (i *Installer) CheckInstallResult() InstallResult {
	data, err := os.ReadFile(i.markerPath)
	if err != nil {
		return InstallUnknown
	}
	os.Remove(i.markerPath)
	if strings.TrimSpace(string(data)) == "ok" {
		return InstallSucceeded
	}
	return InstallFailed
}

// ErrNoBackup is returned by Rollback when no backup copy exists.
var ErrNoBackup = errors.New("no backup available for rollback")

// Rollback reinstalls the recorded backup over the current executable using
// the same script mechanism. The caller must exit afterwards.
func (i *Installer) Rollback() error {
	backupPath := i.cfg.CurrentBackupPath()
	if backupPath == "" {
		return ErrNoBackup
	}
	if _, err := os.Stat(backupPath); err != nil {
		return ErrNoBackup
	}

	currentExe, err := i.exePath()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	// Keep a copy of what we are rolling away from.
	tempBackup := currentExe + ".rollback_tmp"
	if err := copyFile(currentExe, tempBackup); err != nil {
		return fmt.Errorf("stash current executable: %w", err)
	}

	if err := i.writeInstallScript(backupPath, currentExe, tempBackup); err != nil {
		return fmt.Errorf("write rollback script: %w", err)
	}
	i.log.Info("launching rollback script", zap.String("backup", backupPath))
	return i.runScript(i.scriptPath())
}

// CleanupOldBackups removes all but the keepCount most recently modified
// backup files.
func (i *Installer) CleanupOldBackups(keepCount int) error {
	entries, err := os.ReadDir(i.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type backup struct {
		path    string
		modTime int64
	}
	var backups []backup
	for _, entry := range entries {
		if !strings.Contains(entry.Name(), "altman_v") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(i.backupDir, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(backups) <= keepCount {
		return nil
	}

	sort.Slice(backups, func(a, b int) bool {
		return backups[a].modTime > backups[b].modTime
	})
	for _, old := range backups[keepCount:] {
		if err := os.Remove(old.path); err != nil {
			i.log.Error("failed to remove old backup", zap.String("path", old.path), zap.Error(err))
			continue
		}
		i.log.Info("removed old backup", zap.String("path", old.path))
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// applyDeltaPatch produces newFile from oldFile and patchFile by invoking
// the platform's binary patch tool.
func applyDeltaPatch(oldFile, patchFile, newFile string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("xdelta3", "-d", "-s", oldFile, patchFile, newFile)
	} else {
		cmd = exec.Command("bspatch", oldFile, newFile, patchFile)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("apply delta patch: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
