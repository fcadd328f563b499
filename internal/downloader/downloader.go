// Package downloader drives the external download tools and reports their progress.
package downloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"regexp"
	"slices"

	"dvzoll/internal/depmanager"
	"dvzoll/internal/entity"
)

// Downloader downloads media and resolves playlist entries.
type Downloader interface {
	DownloadMedia(ctx context.Context, req entity.DownloadRequest, onProgress func(percent int)) (entity.DownloadResult, error)
	ListTracks(ctx context.Context, url string) ([]entity.TrackInfo, error)
}

// Resolver returns the path of an external tool.
type Resolver interface {
	Path(name depmanager.BinaryName) (string, error)
}

// Proxies hands out an outbound proxy per tool invocation and learns which ones fail.
type Proxies interface {
	Pick() string
	MarkSuccess(proxyURL string)
	MarkFailed(proxyURL string)
}

// reNetworkFailure matches tool errors that point at the connection rather than the media.
var reNetworkFailure = regexp.MustCompile(
	`(?i)proxy|connection (refused|reset|aborted)|timed out|unable to download webpage|network is unreachable`)

// withProxy routes a tool invocation through proxyURL. yt-dlp expects the URL last.
func withProxy(name depmanager.BinaryName, args []string, proxyURL string) []string {
	if proxyURL == "" {
		return args
	}

	if name == depmanager.BinaryYTdlp && len(args) > 0 {
		last := len(args) - 1

		return append(slices.Clone(args[:last]), "--proxy", proxyURL, args[last])
	}

	return append(slices.Clone(args), "--proxy", proxyURL)
}

func classifyProcessingError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "process"
	}
}

// splitLinesAny is a bufio.SplitFunc that treats \r, \n and \r\n as line ends,
// so carriage-return progress redraws arrive as separate lines.
func splitLinesAny(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// a lone \r at the buffer end may be the first half of \r\n
			return 0, nil, nil
		}

		return advance, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

var _ bufio.SplitFunc = splitLinesAny
