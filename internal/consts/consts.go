// Package consts defines application-wide constants.
package consts

import "time"

const (
	// AppName is used for the settings namespace and the default download folder.
	AppName = "DVZOLL"
	// SettingsKey is the namespaced key of the persisted settings document.
	SettingsKey = "dvzoll-settings"
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// MaxRequestBody bounds JSON request bodies.
	MaxRequestBody = 1 << 20
)

// History endpoint messages.
const (
	RespMissingAuth    = "Missing authorization header"
	RespUnauthorized   = "Unauthorized"
	RespMissingFields  = "Missing required fields: url, mode, quality"
	RespInvalidURL     = "Invalid URL. Please provide a valid http/https URL."
	RespInvalidMode    = "Invalid mode. Must be one of: video, audio"
	RespRateLimited    = "Rate limit exceeded. Max %d downloads per hour."
	RespInvalidBody    = "Invalid request body"
	RespCreateFailed   = "Failed to create download record"
	RespHistoryFailed  = "Failed to fetch download history"
	RespRecordAccepted = "Download request queued."
)

// Metadata endpoint messages.
const (
	RespMetaInvalidURL  = "Invalid or missing URL"
	RespMetaInvalidMode = "Mode must be 'video' or 'audio'"
	RespMetaUnsupported = "Unsupported platform. Try YouTube, Spotify, Twitter, TikTok, Instagram, SoundCloud, or Reddit."
	RespMetaFailed      = "Failed to process download request"
)

// Envelope messages of the local endpoints.
const (
	RespSettingsRetrieved = "settings retrieved"
	RespSettingsUpdated   = "settings updated"
	RespToolsChecked      = "tools checked"
	RespURLClassified     = "url classified"
	RespAttemptStarted    = "attempt started"
	RespAttemptRetrieved  = "attempt retrieved"
	RespAttemptCancelled  = "attempt cancelled"
	RespAttemptInProgress = "attempt in progress"
	RespAttemptFailed     = "attempt not started"
	RespServiceClosed     = "service is shutting down"
	RespUnprocessable     = "unprocessable entity"
	RespOriginForbidden   = "origin not allowed"
)

// Downloader identifiers.
const (
	// DownloaderYTdlp is the yt-dlp downloader identifier.
	DownloaderYTdlp = "ytdlp"
	// DownloaderSpotdl is the spotdl downloader identifier.
	DownloaderSpotdl = "spotdl"
	// DownloaderMock is the mock downloader identifier for testing.
	DownloaderMock = "mock"
)
