package platform

import (
	"slices"
	"strings"

	"dvzoll/internal/entity"
)

var (
	videoQualities = []string{"4K", "2K", "1080p", "720p", "480p", "360p"}
	audioQualities = []string{"FLAC", "WAV", "AAC", "MP3 320", "MP3 256", "MP3 128"}
)

// Qualities returns the quality options offered for mode.
func Qualities(mode entity.Mode) []string {
	switch mode {
	case entity.ModeVideo:
		return slices.Clone(videoQualities)
	case entity.ModeAudio:
		return slices.Clone(audioQualities)
	default:
		return nil
	}
}

// ValidQuality reports whether quality is offered for mode.
func ValidQuality(mode entity.Mode, quality string) bool {
	return slices.Contains(Qualities(mode), quality)
}

// DefaultQuality is the quality preselected when the user switches to mode.
func DefaultQuality(mode entity.Mode) string {
	if mode == entity.ModeAudio {
		return "MP3 320"
	}

	return "1080p"
}

// VideoHeight maps a video quality to the maximum frame height.
func VideoHeight(quality string) int {
	switch quality {
	case "4K":
		return 2160
	case "2K":
		return 1440
	case "720p":
		return 720
	case "480p":
		return 480
	case "360p":
		return 360
	default:
		return 1080
	}
}

// AudioFormat maps an audio quality to the container the extractor produces.
func AudioFormat(quality string) string {
	switch {
	case strings.Contains(quality, "FLAC"):
		return "flac"
	case strings.Contains(quality, "WAV"):
		return "wav"
	case strings.Contains(quality, "AAC"):
		return "m4a"
	default:
		return "mp3"
	}
}

// AudioBitrate returns the bitrate encoded in an MP3 quality, 320k otherwise.
func AudioBitrate(quality string) string {
	if rate, ok := strings.CutPrefix(quality, "MP3 "); ok {
		return rate + "k"
	}

	return "320k"
}

// Info describes what quality yields for mode.
func Info(mode entity.Mode, quality string) entity.QualityInfo {
	if mode == entity.ModeVideo {
		size := "~50MB-150MB"

		switch quality {
		case "4K":
			size = "~500MB-2GB"
		case "2K":
			size = "~300MB-800MB"
		case "1080p":
			size = "~150MB-500MB"
		case "720p":
			size = "~80MB-250MB"
		}

		return entity.QualityInfo{Format: "MP4 (H.264)", Resolution: quality, EstimatedSize: size}
	}

	info := entity.QualityInfo{Format: "MP3", Bitrate: "Variable", EstimatedSize: "~5-15MB"}

	switch {
	case strings.Contains(quality, "FLAC"):
		info.Format, info.Bitrate, info.EstimatedSize = "FLAC (Lossless)", "Lossless", "~30-80MB"
	case strings.Contains(quality, "WAV"):
		info.Format, info.EstimatedSize = "WAV (Uncompressed)", "~50-150MB"
	case strings.Contains(quality, "AAC"):
		info.Format = "AAC"
	}

	if strings.Contains(quality, "320") {
		info.Bitrate = "320kbps"
	}

	return info
}
