package updater

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesChannel(t *testing.T) {
	tests := []struct {
		tag        string
		prerelease bool
		channel    UpdateChannel
		want       bool
	}{
		{"v2.0", false, ChannelStable, true},
		{"v2.1-beta", true, ChannelStable, false},
		{"v2.0", false, ChannelBeta, false},
		{"v2.1-beta", true, ChannelBeta, true},
		{"v2.1-rc1", true, ChannelBeta, false},
		{"v2.2-dev", true, ChannelDev, true},
		{"v2.2-alpha", true, ChannelDev, true},
		{"v2.2-beta", true, ChannelDev, false},
		{"v2.2-dev", false, ChannelDev, false},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s/%s", tt.tag, tt.channel)
		assert.Equal(t, tt.want, MatchesChannel(tt.tag, tt.prerelease, tt.channel), name)
	}
}

func TestChannelFilteringScenario(t *testing.T) {
	releases := []release{
		{TagName: "v2.0", Prerelease: false},
		{TagName: "v2.1-beta", Prerelease: true},
	}

	var matched []string
	for _, r := range releases {
		if MatchesChannel(r.TagName, r.Prerelease, ChannelBeta) {
			matched = append(matched, r.TagName)
		}
	}
	assert.Equal(t, []string{"v2.1-beta"}, matched)
}

func TestParseRelease(t *testing.T) {
	assetName := platformAssetName(ChannelStable)
	deltaName := deltaAssetName("2.0.0", "2.1.0")

	r := release{
		TagName: "v2.1.0",
		Body:    "Bug fixes and improvements",
		Assets: []releaseAsset{
			{Name: assetName, DownloadURL: "https://example.com/full", Size: 5000},
			{Name: deltaName, DownloadURL: "https://example.com/delta", Size: 500},
			{Name: "checksums.txt", DownloadURL: "https://example.com/sums", Size: 10},
		},
	}

	info := parseRelease(r, ChannelStable, "2.0.0")
	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, "https://example.com/full", info.DownloadURL)
	assert.EqualValues(t, 5000, info.FullSize)
	assert.Equal(t, "https://example.com/delta", info.DeltaURL)
	assert.EqualValues(t, 500, info.DeltaSize)
	assert.False(t, info.IsCritical)
	assert.True(t, info.HasDelta())
}

func TestParseRelease_CriticalFlag(t *testing.T) {
	for _, body := range []string{"[CRITICAL] fix auth bypass", "[SECURITY] patch"} {
		info := parseRelease(release{TagName: "v2.1.0", Body: body}, ChannelStable, "2.0.0")
		assert.True(t, info.IsCritical, body)
	}
	info := parseRelease(release{TagName: "v2.1.0", Body: "routine"}, ChannelStable, "2.0.0")
	assert.False(t, info.IsCritical)
}

func TestParseRelease_VersionPrefix(t *testing.T) {
	assert.Equal(t, "2.1.0", parseRelease(release{TagName: "v2.1.0"}, ChannelStable, "").Version)
	assert.Equal(t, "2.1.0", parseRelease(release{TagName: "V2.1.0"}, ChannelStable, "").Version)
	assert.Equal(t, "2.1.0", parseRelease(release{TagName: "2.1.0"}, ChannelStable, "").Version)
}

func TestIsNewVersion(t *testing.T) {
	assert.True(t, isNewVersion("2.1.0", "2.0.0"))
	assert.False(t, isNewVersion("2.0.0", "2.0.0"))
	assert.False(t, isNewVersion("", "2.0.0"))
	// Plain string inequality, so an "older" tag still counts as new.
	assert.True(t, isNewVersion("1.9.0", "2.0.0"))
}

func TestReleaseEndpoint(t *testing.T) {
	base := "https://api.example.com/releases"
	assert.Equal(t, base+"/latest", releaseEndpoint(base, ChannelStable))
	assert.Equal(t, base+"?per_page=10", releaseEndpoint(base, ChannelBeta))
	assert.Equal(t, base+"?per_page=20", releaseEndpoint(base, ChannelDev))
}

func TestPlatformAssetName(t *testing.T) {
	name := platformAssetName(ChannelStable)
	switch runtime.GOOS {
	case "windows":
		assert.Equal(t, "AltMan-Windows.exe", name)
	case "darwin":
		assert.Equal(t, "AltMan-macOS.dmg", name)
	default:
		assert.Equal(t, "AltMan-Linux.AppImage", name)
	}

	betaName := platformAssetName(ChannelBeta)
	assert.Contains(t, betaName, "-beta")
}
