// Package request holds the request bodies of the API.
package request

import (
	"encoding/json"
	"fmt"
	"net/http"

	"dvzoll/internal/attempt"
	"dvzoll/internal/consts"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/settings"
)

// Decode reads a JSON body of at most consts.MaxRequestBody bytes into dst.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, consts.MaxRequestBody)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidRequestBody, err)
	}

	return nil
}

// Attempt is the body of POST /v1/attempt.
type Attempt struct {
	URL        string      `json:"url"`
	Mode       entity.Mode `json:"mode"`
	Quality    string      `json:"quality"`
	IsPlaylist bool        `json:"isPlaylist"`
	TrackCount int         `json:"trackCount"`
}

// ToRequest converts the body for the controller, which validates it.
func (a Attempt) ToRequest() attempt.Request {
	return attempt.Request{
		URL:        a.URL,
		Mode:       a.Mode,
		Quality:    a.Quality,
		IsPlaylist: a.IsPlaylist,
		TrackCount: a.TrackCount,
	}
}

// SettingsPatch is the body of PATCH /v1/settings.
type SettingsPatch settings.Patch

// Validate rejects values the store would otherwise silently replace.
func (p SettingsPatch) Validate() error {
	if p.LastSelectedMode != nil && !p.LastSelectedMode.Valid() {
		return errs.ErrInvalidMode
	}

	if p.MaxConcurrentDownloads != nil && *p.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("%w: maxConcurrentDownloads must be positive", errs.ErrInvalidRequestBody)
	}

	return nil
}
