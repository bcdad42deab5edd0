package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	s := NewService(cfg, t.TempDir(), "2.0.0", http.DefaultClient, nil)
	s.downloader.chunk = 1024
	s.exePath = func() (string, error) {
		exe := filepath.Join(t.TempDir(), "altman")
		if err := os.WriteFile(exe, []byte("current-binary"), 0755); err != nil {
			return "", err
		}
		return exe, nil
	}
	return s
}

func TestCheckForUpdates_Stable(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/releases/latest", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "AltMan", req.Header.Get("User-Agent"))
		assert.Equal(t, contentTypeGithub, req.Header.Get("Accept"))
		json.NewEncoder(w).Encode(release{
			TagName: "v2.1.0",
			Body:    "fixes",
			Assets: []releaseAsset{
				{Name: platformAssetName(ChannelStable), DownloadURL: "https://example.com/full", Size: 100},
			},
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t)
	s := newTestService(t, cfg)
	s.releaseBase = srv.URL + "/releases"

	info, err := s.CheckForUpdates(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, "https://example.com/full", info.DownloadURL)
	assert.NotZero(t, cfg.LastCheck)
}

func TestCheckForUpdates_UpToDate(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/releases/latest", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(release{TagName: "v2.0.0"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	s := newTestService(t, newTestConfig(t))
	s.releaseBase = srv.URL + "/releases"

	info, err := s.CheckForUpdates(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCheckForUpdates_BetaChannel(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/releases", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "10", req.URL.Query().Get("per_page"))
		json.NewEncoder(w).Encode([]release{
			{TagName: "v2.2.0", Prerelease: false},
			{TagName: "v2.2.0-rc1", Prerelease: true},
			{TagName: "v2.1.0-beta", Prerelease: true},
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t)
	cfg.Channel = ChannelBeta
	s := newTestService(t, cfg)
	s.releaseBase = srv.URL + "/releases"

	info, err := s.CheckForUpdates(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "2.1.0-beta", info.Version)
}

func TestCheckForUpdates_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	s := newTestService(t, newTestConfig(t))
	s.releaseBase = srv.URL + "/releases"

	_, err := s.CheckForUpdates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
}

func TestDownloadUpdate_Full(t *testing.T) {
	payload := randomBytes(t, 2048)
	srv := serveBytes(t, payload)

	s := newTestService(t, newTestConfig(t))
	info := &UpdateInfo{Version: "2.1.0", DownloadURL: srv.URL}

	path, err := s.DownloadUpdate(context.Background(), info, nil)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadUpdate_DeltaFallback(t *testing.T) {
	full := randomBytes(t, 4096)
	delta := randomBytes(t, 256)

	r := chi.NewRouter()
	r.Get("/full", func(w http.ResponseWriter, req *http.Request) { w.Write(full) })
	r.Get("/delta", func(w http.ResponseWriter, req *http.Request) { w.Write(delta) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	s := newTestService(t, newTestConfig(t))
	var patchAttempted bool
	s.applyPatch = func(oldFile, patchFile, newFile string) error {
		patchAttempted = true
		return errors.New("patch corrupt")
	}

	info := &UpdateInfo{
		Version:     "2.1.0",
		DownloadURL: srv.URL + "/full",
		DeltaURL:    srv.URL + "/delta",
		FullSize:    4096,
		DeltaSize:   256,
	}

	path, err := s.DownloadUpdate(context.Background(), info, nil)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })

	assert.True(t, patchAttempted)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestDownloadUpdate_DeltaSuccess(t *testing.T) {
	delta := randomBytes(t, 256)
	patched := []byte("patched-binary")

	r := chi.NewRouter()
	r.Get("/delta", func(w http.ResponseWriter, req *http.Request) { w.Write(delta) })
	r.Get("/full", func(w http.ResponseWriter, req *http.Request) {
		t.Error("full download must not run when the patch applies")
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	s := newTestService(t, newTestConfig(t))
	s.applyPatch = func(oldFile, patchFile, newFile string) error {
		got, err := os.ReadFile(patchFile)
		require.NoError(t, err)
		assert.Equal(t, delta, got)
		return os.WriteFile(newFile, patched, 0755)
	}

	info := &UpdateInfo{
		Version:     "2.1.0",
		DownloadURL: srv.URL + "/full",
		DeltaURL:    srv.URL + "/delta",
		FullSize:    4096,
		DeltaSize:   256,
	}

	path, err := s.DownloadUpdate(context.Background(), info, nil)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, patched, got)
}

func TestDownloadUpdate_ChecksumMismatch(t *testing.T) {
	payload := randomBytes(t, 1024)
	srv := serveBytes(t, payload)

	s := newTestService(t, newTestConfig(t))
	info := &UpdateInfo{
		Version:     "2.1.0",
		DownloadURL: srv.URL,
		SHA256:      "deadbeef",
	}

	_, err := s.DownloadUpdate(context.Background(), info, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestDownloadUpdate_ChecksumMatch(t *testing.T) {
	payload := randomBytes(t, 1024)
	srv := serveBytes(t, payload)

	sum := sha256.Sum256(payload)
	s := newTestService(t, newTestConfig(t))
	info := &UpdateInfo{
		Version:     "2.1.0",
		DownloadURL: srv.URL,
		SHA256:      hex.EncodeToString(sum[:]),
	}

	path, err := s.DownloadUpdate(context.Background(), info, nil)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })
}

func TestServiceInstallRecordsVersion(t *testing.T) {
	cfg := newTestConfig(t)
	s := newTestService(t, cfg)
	s.installer.exePath = s.exePath
	s.installer.scriptDir = t.TempDir()
	var launched bool
	s.installer.runScript = func(string) error {
		launched = true
		return nil
	}

	update := filepath.Join(t.TempDir(), "altman_update.tmp")
	require.NoError(t, os.WriteFile(update, []byte("new"), 0644))

	require.NoError(t, s.Install(update, "2.1.0"))
	assert.True(t, launched)
	assert.Equal(t, "2.1.0", cfg.LastInstalledVersion)
}
