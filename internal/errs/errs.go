// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new records.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrMissingFields indicates that url, mode or quality is empty.
	ErrMissingFields = errors.New("missing required fields")
	// ErrInvalidURL indicates that the URL is empty or not a valid http/https URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrURLTooLong indicates that the URL exceeds the accepted length.
	ErrURLTooLong = errors.New("url too long")
	// ErrInvalidMode indicates that the mode is neither video nor audio.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidQuality indicates that the quality is not offered for the mode.
	ErrInvalidQuality = errors.New("invalid quality")
	// ErrUnsupportedPlatform indicates that the URL does not belong to a supported platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrModeNotSupported indicates that the platform does not offer the requested mode.
	ErrModeNotSupported = errors.New("mode not supported by platform")
	// ErrInvalidTrackCount indicates a playlist size above the configured maximum.
	ErrInvalidTrackCount = errors.New("invalid track count")
)

// Auth and rate limit errors.
var (
	// ErrMissingAuth indicates that the Authorization header is absent.
	ErrMissingAuth = errors.New("missing authorization header")
	// ErrUnauthorized indicates that the bearer token is unknown.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates that the user exceeded the submission rate.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Attempt errors.
var (
	// ErrAttemptInProgress indicates that a non-terminal attempt already exists.
	ErrAttemptInProgress = errors.New("attempt in progress")
	// ErrAttemptCancelled indicates that the attempt was cancelled or replaced.
	ErrAttemptCancelled = errors.New("attempt cancelled")
)

// Record and storage errors.
var (
	// ErrRecordNil indicates that the record is nil.
	ErrRecordNil = errors.New("record is nil")
	// ErrRecordNotFound indicates that the record is not found in storage.
	ErrRecordNotFound = errors.New("record not found")
	// ErrQueueFull indicates that the record queue is full.
	ErrQueueFull = errors.New("record queue is full")
)

// Downloader errors.
var (
	// ErrDownloadFailed indicates that the download failed.
	ErrDownloadFailed = errors.New("download failed")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedOS indicates that binaries cannot be installed on the current platform.
	ErrUnsupportedOS = errors.New("unsupported os/arch")
	// ErrNoTracks indicates that a playlist listing returned no entries.
	ErrNoTracks = errors.New("playlist has no tracks")
)

// Proxy errors.
var (
	// ErrInvalidProxy indicates a configured proxy URL that cannot be used.
	ErrInvalidProxy = errors.New("invalid proxy url")
)
