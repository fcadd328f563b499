// Package platform classifies source URLs and holds the per-mode quality tables.
//
// Every classifier is an explicit ordered list of rules evaluated top to bottom;
// the first matching rule wins, so more specific rules must stay above generic ones.
package platform

import (
	"regexp"
	"slices"
	"strings"

	"dvzoll/internal/entity"
	"dvzoll/pkg/urls"
)

// Preview is the cosmetic classification shown next to the URL input.
type Preview struct {
	Platform entity.Platform `json:"platform"`
	Label    string          `json:"label"`
}

// previewRule matches a lowercased host.
type previewRule struct {
	match    func(host string) bool
	platform entity.Platform
	label    string
}

var previewRules = []previewRule{
	{hostIs("youtube.com", "youtu.be"), entity.PlatformYouTube, "YouTube"},
	{hostIs("spotify.com"), entity.PlatformSpotify, "Spotify"},
	{hostIs("soundcloud.com"), entity.PlatformSoundCloud, "SoundCloud"},
	{hostIs("vimeo.com"), entity.PlatformVimeo, "Vimeo"},
	{hostIs("tiktok.com"), entity.PlatformTikTok, "TikTok"},
	{hostIs("twitter.com", "x.com"), entity.PlatformTwitter, "X / Twitter"},
}

// hostIs matches the given domains and any of their subdomains.
func hostIs(domains ...string) func(string) bool {
	return func(host string) bool {
		for _, d := range domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}

		return false
	}
}

// Classify returns the preview for raw. It is safe to call on partially typed
// input: anything that does not parse as an absolute URL yields false.
func Classify(raw string) (Preview, bool) {
	host, ok := urls.Host(raw)
	if !ok {
		return Preview{}, false
	}

	for _, rule := range previewRules {
		if rule.match(host) {
			return Preview{Platform: rule.platform, Label: rule.label}, true
		}
	}

	return Preview{Platform: entity.PlatformOther, Label: strings.TrimPrefix(host, "www.")}, true
}

// Detection is the server-side classification with the modes a platform supports.
type Detection struct {
	Platform entity.Platform
	Modes    []entity.Mode
}

// SupportsMode reports whether the detected platform offers mode.
func (d Detection) SupportsMode(mode entity.Mode) bool {
	return slices.Contains(d.Modes, mode)
}

type detectRule struct {
	pattern  *regexp.Regexp
	platform entity.Platform
	modes    []entity.Mode
}

var (
	bothModes = []entity.Mode{entity.ModeVideo, entity.ModeAudio}
	audioOnly = []entity.Mode{entity.ModeAudio}
)

var detectRules = []detectRule{
	{regexp.MustCompile(`(?i)(?:youtube\.com/(?:watch|playlist|shorts)|youtu\.be/)`), entity.PlatformYouTube, bothModes},
	{regexp.MustCompile(`(?i)open\.spotify\.com/(?:track|album|playlist)`), entity.PlatformSpotify, audioOnly},
	{regexp.MustCompile(`(?i)soundcloud\.com/`), entity.PlatformSoundCloud, audioOnly},
	{regexp.MustCompile(`(?i)vimeo\.com/`), entity.PlatformVimeo, bothModes},
	{regexp.MustCompile(`(?i)tiktok\.com/`), entity.PlatformTikTok, bothModes},
	{regexp.MustCompile(`(?i)(?:twitter\.com|x\.com)/`), entity.PlatformTwitter, bothModes},
	{regexp.MustCompile(`(?i)instagram\.com/(?:p|reel|tv)/`), entity.PlatformInstagram, bothModes},
	{regexp.MustCompile(`(?i)facebook\.com/.*/videos|fb\.watch/`), entity.PlatformFacebook, bothModes},
	{regexp.MustCompile(`(?i)dailymotion\.com/`), entity.PlatformDailymotion, bothModes},
	{regexp.MustCompile(`(?i)twitch\.tv/`), entity.PlatformTwitch, bothModes},
	{regexp.MustCompile(`(?i)reddit\.com/`), entity.PlatformReddit, bothModes},
}

// Detect classifies raw for mode routing. Unmatched URLs are unknown and accept both modes.
func Detect(raw string) Detection {
	for _, rule := range detectRules {
		if rule.pattern.MatchString(raw) {
			return Detection{Platform: rule.platform, Modes: rule.modes}
		}
	}

	return Detection{Platform: entity.PlatformUnknown, Modes: bothModes}
}

var (
	rePlaylist        = regexp.MustCompile(`(?i)[?&]list=|/playlist/`)
	reSpotifyPlaylist = regexp.MustCompile(`(?i)open\.spotify\.com/(?:album|playlist)`)
)

// IsPlaylistURL reports whether raw points at a multi-item resource.
func IsPlaylistURL(raw string) bool {
	return rePlaylist.MatchString(raw) || reSpotifyPlaylist.MatchString(raw)
}

type allowRule struct {
	pattern  *regexp.Regexp
	platform entity.Platform
}

// allowRules is the allow-list of the metadata/redirect endpoint.
var allowRules = []allowRule{
	{regexp.MustCompile(`(?i)^https?://(?:www\.)?(?:youtube\.com|youtu\.be)/.+`), entity.PlatformYouTube},
	{regexp.MustCompile(`(?i)^https?://(?:open\.)?spotify\.com/.+`), entity.PlatformSpotify},
	{regexp.MustCompile(`(?i)^https?://(?:www\.)?(?:twitter\.com|x\.com)/.+`), entity.PlatformTwitter},
	{regexp.MustCompile(`(?i)^https?://(?:www\.|vm\.)?tiktok\.com/.+`), entity.PlatformTikTok},
	{regexp.MustCompile(`(?i)^https?://(?:www\.)?instagram\.com/.+`), entity.PlatformInstagram},
	{regexp.MustCompile(`(?i)^https?://(?:www\.)?soundcloud\.com/.+`), entity.PlatformSoundCloud},
	{regexp.MustCompile(`(?i)^https?://(?:www\.)?reddit\.com/.+`), entity.PlatformReddit},
}

// Allowed reports whether raw belongs to a platform the redirect service handles.
func Allowed(raw string) (entity.Platform, bool) {
	for _, rule := range allowRules {
		if rule.pattern.MatchString(raw) {
			return rule.platform, true
		}
	}

	return entity.PlatformUnknown, false
}

// DisplayName capitalises a platform for user-facing messages.
func DisplayName(p entity.Platform) string {
	s := string(p)
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}
