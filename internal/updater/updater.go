package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

const (
	checkInterval     = time.Hour
	checkStaleAfter   = 24 * time.Hour
	keptBackupCount   = 3
	tempUpdateName    = "altman_update.tmp"
	tempPatchName     = "altman_update.patch"
	contentTypeGithub = "application/vnd.github+json"
)

// Service drives update discovery, download and installation for a running
// version of the application.
type Service struct {
	cfg        *Config
	http       *http.Client
	downloader *Downloader
	installer  *Installer
	clock      clock.Clock
	log        *zap.Logger
	version    string

	releaseBase string
	applyPatch  func(oldFile, patchFile, newFile string) error
	exePath     func() (string, error)
}

// NewService wires an updater for the given running version. State files
// live under dataDir.
func NewService(cfg *Config, dataDir, version string, hc *http.Client, log *zap.Logger) *Service {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:         cfg,
		http:        hc,
		downloader:  NewDownloader(hc, cfg, log),
		installer:   NewInstaller(cfg, dataDir, version, log),
		clock:       clock.WallClock,
		log:         log,
		version:     version,
		releaseBase: defaultReleaseBase,
		applyPatch:  applyDeltaPatch,
		exePath:     os.Executable,
	}
}

// Downloader exposes the transfer controls (pause, resume, cancel, state).
func (s *Service) Downloader() *Downloader { return s.downloader }

// Installer exposes install, rollback and backup maintenance.
func (s *Service) Installer() *Installer { return s.installer }

// CheckForUpdates queries the release listing for the configured channel.
// It returns nil when the running version is current.
func (s *Service) CheckForUpdates(ctx context.Context) (*UpdateInfo, error) {
	endpoint := releaseEndpoint(s.releaseBase, s.cfg.Channel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "AltMan")
	req.Header.Set("Accept", contentTypeGithub)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("update check: HTTP %d", resp.StatusCode)
	}

	if err := s.cfg.MarkChecked(s.clock.Now()); err != nil {
		s.log.Error("failed to persist last check time", zap.Error(err))
	}

	if s.cfg.Channel == ChannelStable {
		var r release
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return nil, fmt.Errorf("decode release: %w", err)
		}
		info := parseRelease(r, s.cfg.Channel, s.version)
		if !isNewVersion(info.Version, s.version) {
			return nil, nil
		}
		s.log.Info("update available", zap.String("version", info.Version))
		return &info, nil
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode releases: %w", err)
	}
	for _, r := range releases {
		if !MatchesChannel(r.TagName, r.Prerelease, s.cfg.Channel) {
			continue
		}
		info := parseRelease(r, s.cfg.Channel, s.version)
		if isNewVersion(info.Version, s.version) {
			s.log.Info("update available", zap.String("version", info.Version),
				zap.String("channel", info.Channel.String()))
			return &info, nil
		}
	}
	return nil, nil
}

// DownloadUpdate fetches the release payload and returns the path of the
// file ready to install. When a smaller delta asset exists it is tried
// first; a patch failure falls back to the full download without surfacing
// to the caller.
func (s *Service) DownloadUpdate(ctx context.Context, info *UpdateInfo, progress ProgressFunc) (string, error) {
	outputPath := filepath.Join(os.TempDir(), tempUpdateName)

	if info.HasDelta() {
		path, err := s.downloadDelta(ctx, info, outputPath, progress)
		if err == nil {
			return path, nil
		}
		if err == ErrDownloadBusy || err == ErrCancelled {
			return "", err
		}
		s.log.Warn("delta update failed, falling back to full download", zap.Error(err))
	}

	if err := s.downloader.Download(ctx, info.DownloadURL, outputPath, progress); err != nil {
		return "", err
	}
	if info.SHA256 != "" {
		if err := verifyChecksum(outputPath, info.SHA256); err != nil {
			os.Remove(outputPath)
			return "", err
		}
	}
	return outputPath, nil
}

// verifyChecksum compares a file's SHA-256 digest against the expected hex
// string.
func verifyChecksum(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, expected)
	}
	return nil
}

func (s *Service) downloadDelta(ctx context.Context, info *UpdateInfo, outputPath string, progress ProgressFunc) (string, error) {
	patchPath := filepath.Join(os.TempDir(), tempPatchName)
	if err := s.downloader.Download(ctx, info.DeltaURL, patchPath, progress); err != nil {
		return "", err
	}
	defer os.Remove(patchPath)

	currentExe, err := s.exePath()
	if err != nil {
		return "", err
	}
	if err := s.applyPatch(currentExe, patchPath, outputPath); err != nil {
		return "", err
	}
	s.log.Info("delta patch applied", zap.String("version", info.Version))
	return outputPath, nil
}

// Install records the version being installed, launches the replacement
// script and prunes old backups. The caller must exit the process.
func (s *Service) Install(updatePath, version string) error {
	if err := s.cfg.SetLastInstalledVersion(version); err != nil {
		return err
	}
	if err := s.installer.CleanupOldBackups(keptBackupCount); err != nil {
		s.log.Error("backup cleanup failed", zap.Error(err))
	}
	return s.installer.Install(updatePath)
}

// RunBackgroundChecker periodically checks for updates while AutoCheck is
// enabled, at most once per day. It blocks until ctx is done; onUpdate is
// called for each discovered update.
func (s *Service) RunBackgroundChecker(ctx context.Context, onUpdate func(*UpdateInfo)) {
	for {
		if s.cfg.AutoCheck {
			last := time.Unix(s.cfg.LastCheck, 0)
			if s.clock.Now().Sub(last) >= checkStaleAfter {
				info, err := s.CheckForUpdates(ctx)
				if err != nil {
					s.log.Error("background update check failed", zap.Error(err))
				} else if info != nil && onUpdate != nil {
					onUpdate(info)
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(checkInterval):
		}
	}
}
