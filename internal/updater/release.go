package updater

import (
	"fmt"
	"runtime"
	"strings"
)

// UpdateChannel selects which release stream to follow.
type UpdateChannel int

const (
	ChannelStable UpdateChannel = iota
	ChannelBeta
	ChannelDev
)

// String returns the lowercase channel name.
func (c UpdateChannel) String() string {
	switch c {
	case ChannelBeta:
		return "beta"
	case ChannelDev:
		return "dev"
	default:
		return "stable"
	}
}

// UpdateInfo describes a discovered release.
type UpdateInfo struct {
	Version     string
	DownloadURL string
	DeltaURL    string
	Changelog   string
	FullSize    uint64
	DeltaSize   uint64
	SHA256      string
	Channel     UpdateChannel
	IsCritical  bool
}

// HasDelta reports whether a smaller delta asset is available.
func (u *UpdateInfo) HasDelta() bool {
	return u.DeltaURL != "" && u.DeltaSize < u.FullSize
}

// releaseAsset and release mirror the release-listing endpoint's JSON shape.
type releaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        uint64 `json:"size"`
}

type release struct {
	TagName    string         `json:"tag_name"`
	Body       string         `json:"body"`
	Prerelease bool           `json:"prerelease"`
	Assets     []releaseAsset `json:"assets"`
}

const defaultReleaseBase = "https://api.github.com/repos/TheRouletteBoi/altman/releases"

// releaseEndpoint returns the listing URL for a channel. The stable channel
// uses the single-object "latest" endpoint, the prerelease channels page
// through recent releases.
func releaseEndpoint(base string, channel UpdateChannel) string {
	switch channel {
	case ChannelBeta:
		return fmt.Sprintf("%s?per_page=10", base)
	case ChannelDev:
		return fmt.Sprintf("%s?per_page=20", base)
	default:
		return fmt.Sprintf("%s/latest", base)
	}
}

// MatchesChannel reports whether a release belongs to the given channel.
// Prerelease channels are matched by substring on the tag name.
func MatchesChannel(tag string, prerelease bool, channel UpdateChannel) bool {
	switch channel {
	case ChannelStable:
		return !prerelease
	case ChannelBeta:
		return prerelease && strings.Contains(tag, "beta")
	case ChannelDev:
		return prerelease && (strings.Contains(tag, "dev") || strings.Contains(tag, "alpha"))
	}
	return false
}

// platformAssetName returns the expected full-download asset name for the
// running platform and channel.
func platformAssetName(channel UpdateChannel) string {
	var base, ext string
	switch runtime.GOOS {
	case "windows":
		base, ext = "AltMan-Windows", ".exe"
	case "darwin":
		base, ext = "AltMan-macOS", ".dmg"
	default:
		base, ext = "AltMan-Linux", ".AppImage"
	}
	if channel == ChannelStable {
		return base + ext
	}
	return fmt.Sprintf("%s-%s%s", base, channel, ext)
}

// deltaAssetName returns the expected delta asset name for an upgrade
// between two versions.
func deltaAssetName(fromVersion, toVersion string) string {
	ext := ".bsdiff"
	if runtime.GOOS == "windows" {
		ext = ".patch"
	}
	return fmt.Sprintf("AltMan-Delta-%s-to-%s%s", fromVersion, toVersion, ext)
}

// parseRelease extracts an UpdateInfo from one release object, picking out
// the platform asset and any delta asset relative to currentVersion.
func parseRelease(r release, channel UpdateChannel, currentVersion string) UpdateInfo {
	version := r.TagName
	if len(version) > 0 && (version[0] == 'v' || version[0] == 'V') {
		version = version[1:]
	}
	info := UpdateInfo{
		Version:   version,
		Changelog: r.Body,
		Channel:   channel,
	}
	info.IsCritical = strings.Contains(info.Changelog, "[CRITICAL]") ||
		strings.Contains(info.Changelog, "[SECURITY]")

	assetName := platformAssetName(channel)
	deltaName := deltaAssetName(currentVersion, info.Version)

	for _, asset := range r.Assets {
		switch asset.Name {
		case assetName:
			info.DownloadURL = asset.DownloadURL
			info.FullSize = asset.Size
		case deltaName:
			info.DeltaURL = asset.DownloadURL
			info.DeltaSize = asset.Size
		}
	}
	return info
}

// isNewVersion reports whether a discovered version differs from the running
// one. Comparison is plain string inequality, not semantic ordering, so a
// tag format change will surface as a spurious update.
func isNewVersion(discovered, current string) bool {
	return discovered != "" && discovered != current
}
