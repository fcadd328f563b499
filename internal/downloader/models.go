package downloader

// PlaylistJSON is the subset of `yt-dlp --flat-playlist -J` output the bridge reads.
type PlaylistJSON struct {
	Type          string      `json:"_type"`
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	PlaylistCount int         `json:"playlist_count"`
	Extractor     string      `json:"extractor"`
	WebpageURL    string      `json:"webpage_url"`
	Entries       []EntryJSON `json:"entries"`
}

// EntryJSON represents an entry in a flat playlist.
type EntryJSON struct {
	Type       string  `json:"_type"`
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Duration   float64 `json:"duration"`
	Channel    string  `json:"channel"`
	Uploader   string  `json:"uploader"`
}
