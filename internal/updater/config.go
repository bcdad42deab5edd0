// Package updater implements update discovery, resumable downloads and
// script based self installation.
package updater

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config holds the persisted updater settings. All mutating helpers save
// immediately so a crash never loses resume progress.
type Config struct {
	mu   sync.Mutex
	path string

	Channel              UpdateChannel `json:"channel"`
	AutoCheck            bool          `json:"autoCheck"`
	AutoDownload         bool          `json:"autoDownload"`
	AutoInstall          bool          `json:"autoInstall"`
	ShowNotifications    bool          `json:"showNotifications"`
	BandwidthLimit       uint64        `json:"bandwidthLimit"`
	LastCheck            int64         `json:"lastCheck"`
	LastInstalledVersion string        `json:"lastInstalledVersion"`
	BackupPath           string        `json:"backupPath"`
	ResumeFilePath       string        `json:"resumeFilePath"`
	ResumeOffset         uint64        `json:"resumeOffset"`
}

// NewConfig returns a config persisted at path, with defaults applied.
func NewConfig(path string) *Config {
	return &Config{
		path:              path,
		Channel:           ChannelStable,
		AutoCheck:         true,
		ShowNotifications: true,
	}
}

// Load reads the config file. A missing file leaves the defaults in place.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

// Save writes the config back to disk.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// SetChannel switches the update channel and persists the choice.
func (c *Config) SetChannel(ch UpdateChannel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Channel = ch
	return c.saveLocked()
}

// SetAutoUpdate configures the automatic check/download/install flags.
func (c *Config) SetAutoUpdate(check, download, install bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AutoCheck = check
	c.AutoDownload = download
	c.AutoInstall = install
	return c.saveLocked()
}

// SetBandwidthLimit sets the bytes-per-second cap, 0 meaning unlimited.
func (c *Config) SetBandwidthLimit(bytesPerSecond uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BandwidthLimit = bytesPerSecond
	return c.saveLocked()
}

// MarkChecked records the time of the last update check, truncated to whole
// seconds so the value round-trips through the file exactly.
func (c *Config) MarkChecked(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastCheck = t.Unix()
	return c.saveLocked()
}

// SetBackupPath records where the pre-install backup copy lives.
func (c *Config) SetBackupPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BackupPath = path
	return c.saveLocked()
}

// SetLastInstalledVersion records the version an install was launched for.
func (c *Config) SetLastInstalledVersion(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastInstalledVersion = version
	return c.saveLocked()
}

// CurrentBackupPath returns the recorded pre-install backup location.
func (c *Config) CurrentBackupPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BackupPath
}

// SetResume records the partially written file and its byte offset.
func (c *Config) SetResume(path string, offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResumeFilePath = path
	c.ResumeOffset = offset
	return c.saveLocked()
}

// ClearResume forgets any recorded partial download.
func (c *Config) ClearResume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResumeFilePath = ""
	c.ResumeOffset = 0
	return c.saveLocked()
}

// ResumeFor returns the recorded resume offset if it applies to path.
func (c *Config) ResumeFor(path string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ResumeFilePath == path {
		return c.ResumeOffset
	}
	return 0
}
