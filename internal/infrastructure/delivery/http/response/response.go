// Package response writes the JSON bodies of the API.
package response

import (
	"encoding/json"
	"net/http"
	"time"

	"dvzoll/internal/entity"
)

// Response is the envelope of the local endpoints.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Data    any    `json:"data"`
}

func WriteJSON(w http.ResponseWriter, status int, message string, data any, err error) {
	var errorMsg string
	if err != nil {
		errorMsg = err.Error()
	}

	Raw(w, status, Response{
		Message: message,
		Data:    data,
		Error:   errorMsg,
	})
}

// Raw writes v as the whole body, for endpoints with their own response shape.
func Raw(w http.ResponseWriter, status int, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_, _ = w.Write(bytes)
}

func OK(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusOK, message, res, err)
}

func Accepted(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusAccepted, message, res, err)
}

func Conflict(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusConflict, message, res, err)
}

func BadRequest(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusBadRequest, message, nil, err)
}

func UnprocessableEntity(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusUnprocessableEntity, message, nil, err)
}

func ServiceUnavailable(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusServiceUnavailable, message, nil, err)
}

func InternalServerError(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusInternalServerError, message, res, err)
}

// Failure is the error body of the metadata endpoint.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail writes {"success": false, "error": msg}.
func Fail(w http.ResponseWriter, status int, msg string) {
	Raw(w, status, Failure{Success: false, Error: msg})
}

// HistoryError writes {"error": msg}, the error body of the history endpoint.
func HistoryError(w http.ResponseWriter, status int, msg string) {
	Raw(w, status, map[string]string{"error": msg})
}

// Submitted is the answer to an accepted history submission.
type Submitted struct {
	Success  bool            `json:"success"`
	Download SubmittedRecord `json:"download"`
}

// SubmittedRecord describes the accepted record.
type SubmittedRecord struct {
	ID          string              `json:"id"`
	Platform    entity.Platform     `json:"platform"`
	Mode        entity.Mode         `json:"mode"`
	Quality     string              `json:"quality"`
	IsPlaylist  bool                `json:"is_playlist"`
	TrackCount  int                 `json:"track_count"`
	Status      entity.RecordStatus `json:"status"`
	DownloadURL *string             `json:"download_url"`
	Message     string              `json:"message"`
}

// NewSubmitted builds the answer for rec.
func NewSubmitted(rec entity.Record, message string) Submitted {
	return Submitted{
		Success: true,
		Download: SubmittedRecord{
			ID:         rec.ID,
			Platform:   rec.Platform,
			Mode:       rec.Mode,
			Quality:    rec.Quality,
			IsPlaylist: rec.IsPlaylist,
			TrackCount: rec.TrackCount,
			Status:     rec.Status,
			Message:    message,
		},
	}
}

// History is the answer to a history listing.
type History struct {
	Success   bool           `json:"success"`
	Downloads []HistoryEntry `json:"downloads"`
}

// HistoryEntry is one listed record.
type HistoryEntry struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Title      string              `json:"title"`
	Platform   entity.Platform     `json:"platform"`
	Mode       entity.Mode         `json:"mode"`
	Quality    string              `json:"quality"`
	IsPlaylist bool                `json:"is_playlist"`
	Status     entity.RecordStatus `json:"status"`
	TrackCount int                 `json:"track_count"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewHistory builds the listing of records.
func NewHistory(records []entity.Record) History {
	entries := make([]HistoryEntry, 0, len(records))

	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			ID:         rec.ID,
			URL:        rec.URL,
			Title:      rec.Title,
			Platform:   rec.Platform,
			Mode:       rec.Mode,
			Quality:    rec.Quality,
			IsPlaylist: rec.IsPlaylist,
			Status:     rec.Status,
			TrackCount: rec.TrackCount,
			Error:      rec.Error,
			CreatedAt:  rec.CreatedAt,
		})
	}

	return History{Success: true, Downloads: entries}
}
