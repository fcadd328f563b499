// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"slices"
	"time"
)

// Mode is the kind of media the user wants.
type Mode string

const (
	// ModeVideo downloads video with audio.
	ModeVideo Mode = "video"
	// ModeAudio extracts audio only.
	ModeAudio Mode = "audio"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeVideo || m == ModeAudio
}

// Platform is a coarse classification of a source URL.
type Platform string

// Known platforms.
const (
	PlatformYouTube     Platform = "youtube"
	PlatformSpotify     Platform = "spotify"
	PlatformSoundCloud  Platform = "soundcloud"
	PlatformVimeo       Platform = "vimeo"
	PlatformTikTok      Platform = "tiktok"
	PlatformTwitter     Platform = "twitter"
	PlatformInstagram   Platform = "instagram"
	PlatformFacebook    Platform = "facebook"
	PlatformDailymotion Platform = "dailymotion"
	PlatformTwitch      Platform = "twitch"
	PlatformReddit      Platform = "reddit"
	// PlatformOther is a valid URL on a host without a dedicated rule.
	PlatformOther Platform = "other"
	// PlatformUnknown is used server side when no pattern matches.
	PlatformUnknown Platform = "unknown"
)

// AttemptStatus represents the status of a download attempt.
type AttemptStatus string

const (
	// AttemptStatusIdle is the initial state, no attempt is running.
	AttemptStatusIdle AttemptStatus = "idle"
	// AttemptStatusFetching indicates that media info is being resolved.
	AttemptStatusFetching AttemptStatus = "fetching"
	// AttemptStatusDownloading indicates that bytes are being transferred.
	AttemptStatusDownloading AttemptStatus = "downloading"
	// AttemptStatusConverting indicates post-processing of a finished transfer.
	AttemptStatusConverting AttemptStatus = "converting"
	// AttemptStatusDone is terminal, the attempt succeeded.
	AttemptStatusDone AttemptStatus = "done"
	// AttemptStatusError is terminal, the attempt failed.
	AttemptStatusError AttemptStatus = "error"
)

// Terminal reports whether no further transitions occur.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusDone || s == AttemptStatusError
}

// Busy reports whether a new submission must be refused.
func (s AttemptStatus) Busy() bool {
	return s == AttemptStatusFetching || s == AttemptStatusDownloading || s == AttemptStatusConverting
}

// TrackStatus represents the status of one playlist entry.
type TrackStatus string

const (
	TrackStatusQueued      TrackStatus = "queued"
	TrackStatusDownloading TrackStatus = "downloading"
	TrackStatusDone        TrackStatus = "done"
	TrackStatusError       TrackStatus = "error"
)

// Terminal reports whether the track is done or failed.
func (s TrackStatus) Terminal() bool {
	return s == TrackStatusDone || s == TrackStatusError
}

// Track is one entry of a playlist attempt.
type Track struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	URL      string      `json:"url,omitempty"`
	Progress int         `json:"progress"`
	Status   TrackStatus `json:"status"`
	Message  string      `json:"message,omitempty"`
}

// Attempt is a snapshot of one user-initiated download, single item or playlist.
type Attempt struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	Mode       Mode          `json:"mode"`
	Quality    string        `json:"quality"`
	Platform   Platform      `json:"platform"`
	IsPlaylist bool          `json:"isPlaylist"`
	Status     AttemptStatus `json:"status"`
	// Progress is the item percentage, or completed/total for playlists.
	Progress   int       `json:"progress"`
	Filename   string    `json:"filename,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	Message    string    `json:"message,omitempty"`
	Tracks     []Track   `json:"tracks,omitempty"`
	Completed  int       `json:"completed"`
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to publish.
func (a Attempt) Clone() Attempt {
	a.Tracks = slices.Clone(a.Tracks)

	return a
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (a Attempt) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", a.ID),
		slog.String("url", a.URL),
		slog.String("mode", string(a.Mode)),
		slog.String("quality", a.Quality),
		slog.Bool("playlist", a.IsPlaylist),
		slog.String("status", string(a.Status)),
		slog.Int("progress", a.Progress),
		slog.Int("tracks", len(a.Tracks)),
	)
}

// DownloadRequest is the input of the download bridge.
type DownloadRequest struct {
	URL        string   `json:"url"`
	Mode       Mode     `json:"mode"`
	Quality    string   `json:"quality"`
	Platform   Platform `json:"platform"`
	IsPlaylist bool     `json:"is_playlist"`
	OutputDir  string   `json:"output_dir"`
}

// DownloadResult is the outcome reported by the download bridge.
type DownloadResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	OutputPath string `json:"output_path,omitempty"`
	MIME       string `json:"mime,omitempty"`
}

// TrackInfo is a playlist entry resolved by the bridge.
type TrackInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ToolStatus reports which external tools are usable.
type ToolStatus struct {
	YTdlp  bool `json:"yt_dlp"`
	Spotdl bool `json:"spotdl"`
	FFmpeg bool `json:"ffmpeg"`
}

// RecordStatus represents the processing status of a history record.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusCompleted  RecordStatus = "completed"
	RecordStatusFailed     RecordStatus = "failed"
)

// Record is one accepted submission of the history endpoint.
type Record struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Mode       Mode         `json:"mode"`
	Quality    string       `json:"quality"`
	Platform   Platform     `json:"platform"`
	IsPlaylist bool         `json:"is_playlist"`
	TrackCount int          `json:"track_count"`
	Status     RecordStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	OutputPath string       `json:"output_path,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("user_id", r.UserID),
		slog.String("url", r.URL),
		slog.String("mode", string(r.Mode)),
		slog.String("status", string(r.Status)),
	)
}

// Metadata describes a media URL for the redirect endpoint.
type Metadata struct {
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Thumbnail string   `json:"thumbnail"`
	Platform  Platform `json:"platform"`
}

// QualityInfo describes what a quality choice yields.
type QualityInfo struct {
	Format        string `json:"format"`
	Resolution    string `json:"resolution,omitempty"`
	Bitrate       string `json:"bitrate,omitempty"`
	EstimatedSize string `json:"estimatedSize"`
}

// Redirect is the download part of the metadata endpoint response.
type Redirect struct {
	URL          string      `json:"url"`
	Method       string      `json:"method"`
	Platform     Platform    `json:"platform"`
	Instructions string      `json:"instructions"`
	QualityInfo  QualityInfo `json:"qualityInfo"`
}
