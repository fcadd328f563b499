//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"dvzoll/internal/depmanager"
	"dvzoll/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ytURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestHistoryRecordCompleted(t *testing.T) {
	f := newFixture(t)

	rec := f.submitRecord(t, `{"url":"`+ytURL+`","mode":"audio","quality":"MP3 320"}`)

	require.Equal(t, entity.RecordStatusCompleted, rec.Status, rec.Error)
	assert.Equal(t, filepath.Join(f.historyDir, "fake-output.mp3"), rec.OutputPath)
	assert.FileExists(t, rec.OutputPath)

	status, data := f.do(t, http.MethodGet, "/v1/history", "")
	require.Equal(t, http.StatusOK, status)

	var listed struct {
		Downloads []struct {
			ID     string              `json:"id"`
			Status entity.RecordStatus `json:"status"`
		} `json:"downloads"`
	}
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed.Downloads, 1)
	assert.Equal(t, rec.ID, listed.Downloads[0].ID)
	assert.Equal(t, entity.RecordStatusCompleted, listed.Downloads[0].Status)
}

func TestHistoryRecordFailed(t *testing.T) {
	f := newFixture(t)

	rec := f.submitRecord(t, `{"url":"https://www.youtube.com/watch?v=fail","mode":"video","quality":"720p"}`)

	require.Equal(t, entity.RecordStatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "Unsupported URL")
	assert.Empty(t, rec.OutputPath)
}

func TestAttemptSingleDownload(t *testing.T) {
	f := newFixture(t)

	a := f.startAttempt(t, `{"url":"`+ytURL+`","mode":"video","quality":"1080p"}`)

	require.Equal(t, entity.AttemptStatusDone, a.Status, a.Message)
	assert.Equal(t, 100, a.Progress)
	assert.Equal(t, filepath.Join(f.downloadsDir, "fake-output.mp4"), a.OutputPath)
	assert.FileExists(t, a.OutputPath)
}

func TestAttemptPlaylistSkipsFailedEntry(t *testing.T) {
	f := newFixture(t)

	a := f.startAttempt(t,
		`{"url":"https://www.youtube.com/playlist?list=PLfake","mode":"audio","quality":"MP3 320","isPlaylist":true}`)

	require.Equal(t, entity.AttemptStatusDone, a.Status)
	require.Len(t, a.Tracks, 2)
	assert.Equal(t, 1, a.Completed)
	assert.Equal(t, "1 of 2 tracks failed", a.Message)

	assert.Equal(t, "First", a.Tracks[0].Title)
	assert.Equal(t, entity.TrackStatusDone, a.Tracks[0].Status)
	assert.Equal(t, entity.TrackStatusError, a.Tracks[1].Status)
	assert.Contains(t, a.Tracks[1].Message, "Unsupported URL")

	assert.FileExists(t, filepath.Join(f.downloadsDir, "fake-output.mp3"))
}

func TestAttemptFailure(t *testing.T) {
	f := newFixture(t)

	a := f.startAttempt(t, `{"url":"https://www.youtube.com/watch?v=fail","mode":"video","quality":"480p"}`)

	require.Equal(t, entity.AttemptStatusError, a.Status)
	assert.Contains(t, a.Message, "Unsupported URL")

	// a finished attempt does not block the next one
	a = f.startAttempt(t, `{"url":"`+ytURL+`","mode":"audio","quality":"MP3 128"}`)
	assert.Equal(t, entity.AttemptStatusDone, a.Status)
}

func TestToolsResolveFromBinsDir(t *testing.T) {
	f := newFixture(t)

	path, err := f.depMgr.Path(depmanager.BinaryYTdlp)
	require.NoError(t, err)
	assert.Equal(t, f.depMgr.GetBinaryPath(depmanager.BinaryYTdlp), path)

	tracks, err := f.exec.ListTracks(context.Background(), "https://www.youtube.com/playlist?list=PLfake")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "t1", tracks[0].ID)

	status, data := f.do(t, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, status)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))

	var tools entity.ToolStatus
	require.NoError(t, json.Unmarshal(env.Data, &tools))
	assert.True(t, tools.YTdlp)
}
