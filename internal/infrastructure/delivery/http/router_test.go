package httprouter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dvzoll/internal/attempt"
	"dvzoll/internal/config"
	"dvzoll/internal/entity"
	httprouter "dvzoll/internal/infrastructure/delivery/http"
	"dvzoll/internal/infrastructure/delivery/http/response"
	"dvzoll/internal/metadata"
	"dvzoll/internal/observability"
	"dvzoll/internal/service"
	"dvzoll/internal/settings"
	"dvzoll/internal/storage"
	"dvzoll/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ytURL      = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
)

type staticTools entity.ToolStatus

func (s staticTools) CheckToolsInstalled(context.Context) entity.ToolStatus {
	return entity.ToolStatus(s)
}

type testEnv struct {
	srv      *httptest.Server
	attempts *attempt.Controller
	settings *settings.Store
	metrics  *observability.Metrics
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	return newEnvWithOrigins(t, []string{"http://localhost:5173"})
}

func newEnvWithOrigins(t *testing.T, origins []string) *testEnv {
	t.Helper()

	log := logger.Discard()
	metrics := observability.New()

	oembed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Never Gonna Give You Up","author_name":"Rick Astley"}`))
	}))
	t.Cleanup(oembed.Close)

	storer, err := storage.New(t.Context(), log, config.Storage{Path: storage.MemoryPath}, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storer.Close() })

	history := service.New(log, config.History{
		Workers:    1,
		QueueSize:  10,
		Timeout:    time.Second,
		RateLimit:  2,
		RateWindow: time.Hour,
		ListLimit:  50,
	}, storer, service.Noop(), metrics)
	history.Start(t.Context())

	store := settings.New(log, settings.NewMemory(nil))

	// long delays keep a started attempt in the fetching state for the whole test
	attempts := attempt.New(log, config.Attempt{
		Simulate:             true,
		FetchDelay:           time.Hour,
		TickInterval:         time.Hour,
		ConvertDelay:         time.Hour,
		PlaylistTickInterval: time.Hour,
		MinStep:              10,
		MaxStep:              10,
		PlaylistTracks:       3,
	}, attempt.WithPreferences(store), attempt.WithMetrics(metrics))
	t.Cleanup(attempts.Close)

	router := httprouter.New(log, httprouter.Deps{
		Attempts: attempts,
		Settings: store,
		History:  history,
		Metadata: metadata.New(log, config.Metadata{
			OEmbedURL:    oembed.URL,
			RedirectBase: "https://cobalt.tools/",
			Timeout:      time.Second,
			MaxURLLength: 2000,
			RPS:          100,
			Burst:        10,
		}, oembed.Client(), metrics),
		Tools:       staticTools{YTdlp: true, FFmpeg: true},
		Metrics:     metrics,
		AuthTokens:  map[string]string{aliceToken: "alice", bobToken: "bob"},
		CORSOrigins: origins,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, attempts: attempts, settings: store, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func decodeEnvelope[T any](t *testing.T, data []byte) (response.Response, T) {
	t.Helper()

	var raw struct {
		response.Response

		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))

	var v T
	if len(raw.Data) > 0 && !bytes.Equal(raw.Data, []byte("null")) {
		require.NoError(t, json.Unmarshal(raw.Data, &v))
	}

	return raw.Response, v
}

func TestReadyzAndMetrics(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, body = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dvzoll_")

	assert.InDelta(t, 1, testutil.ToFloat64(
		env.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/v1/", "200")), 0)
}

func TestDownload(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"bad body", `{`, http.StatusBadRequest, "Invalid or missing URL"},
		{"missing url", `{"mode":"video","quality":"1080p"}`, http.StatusBadRequest, "Invalid or missing URL"},
		{"bad mode", `{"url":"` + ytURL + `","mode":"gif","quality":"1080p"}`, http.StatusBadRequest,
			"Mode must be 'video' or 'audio'"},
		{"unsupported", `{"url":"https://vimeo.com/1","mode":"video","quality":"1080p"}`, http.StatusBadRequest,
			"Unsupported platform. Try YouTube, Spotify, Twitter, TikTok, Instagram, SoundCloud, or Reddit."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/v1/download", "", tc.body)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			var got response.Failure
			require.NoError(t, json.Unmarshal(body, &got))
			assert.False(t, got.Success)
			assert.Equal(t, tc.wantError, got.Error)
		})
	}

	t.Run("youtube", func(t *testing.T) {
		resp, body := env.do(t, http.MethodPost, "/v1/download", "",
			`{"url":"`+ytURL+`","mode":"video","quality":"1080p"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got metadata.Response
		require.NoError(t, json.Unmarshal(body, &got))
		assert.True(t, got.Success)
		assert.Equal(t, "Never Gonna Give You Up", got.Metadata.Title)
		assert.Equal(t, "Rick Astley", got.Metadata.Author)
		assert.Equal(t, "redirect", got.Download.Method)
		assert.True(t, strings.HasPrefix(got.Download.URL, "https://cobalt.tools/#https%3A%2F%2F"))
	})
}

func TestHistoryAuth(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/history", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Missing authorization header"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/v1/history", "nope", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, string(body))
}

func TestHistorySubmitAndList(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/history", aliceToken,
		`{"url":"https://www.youtube.com/playlist?list=PL1","mode":"audio","quality":"MP3 320","track_count":12}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var submitted response.Submitted
	require.NoError(t, json.Unmarshal(body, &submitted))
	assert.True(t, submitted.Success)
	assert.NotEmpty(t, submitted.Download.ID)
	assert.Equal(t, entity.RecordStatusPending, submitted.Download.Status)
	assert.Equal(t, entity.PlatformYouTube, submitted.Download.Platform)
	assert.True(t, submitted.Download.IsPlaylist)
	assert.Equal(t, 12, submitted.Download.TrackCount)
	assert.Nil(t, submitted.Download.DownloadURL)

	resp, body = env.do(t, http.MethodGet, "/v1/history", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history response.History
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.Downloads, 1)
	assert.Equal(t, submitted.Download.ID, history.Downloads[0].ID)

	resp, body = env.do(t, http.MethodGet, "/v1/history", bobToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"downloads":[]}`, string(body))
}

func TestHistoryValidation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{"bad body", `[`, "Invalid request body"},
		{"missing fields", `{"url":"` + ytURL + `"}`, "Missing required fields: url, mode, quality"},
		{"bad url", `{"url":"ftp://x","mode":"video","quality":"1080p"}`,
			"Invalid URL. Please provide a valid http/https URL."},
		{"bad mode", `{"url":"` + ytURL + `","mode":"gif","quality":"1080p"}`,
			"Invalid mode. Must be one of: video, audio"},
		{"spotify video", `{"url":"https://open.spotify.com/track/1","mode":"video","quality":"1080p"}`,
			"spotify only supports: audio"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/v1/history", aliceToken, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.JSONEq(t, `{"error":"`+tc.wantError+`"}`, string(body))
		})
	}
}

func TestHistoryRateLimit(t *testing.T) {
	env := newEnv(t)

	body := `{"url":"` + ytURL + `","mode":"video","quality":"720p"}`

	for range 2 {
		resp, data := env.do(t, http.MethodPost, "/v1/history", aliceToken, body)
		require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	}

	resp, data := env.do(t, http.MethodPost, "/v1/history", aliceToken, body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Rate limit exceeded. Max 2 downloads per hour."}`, string(data))

	retryAfter, err := http.ParseTime(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), retryAfter, time.Minute)

	resp, _ = env.do(t, http.MethodPost, "/v1/history", bobToken, body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "limits are per user")
}

func TestSettings(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/settings", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, got := decodeEnvelope[settings.Settings](t, body)
	assert.Equal(t, settings.Defaults(), got)

	resp, body = env.do(t, http.MethodPatch, "/v1/settings", "",
		`{"maxConcurrentDownloads":5,"notificationsEnabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envelope, got := decodeEnvelope[settings.Settings](t, body)
	assert.Equal(t, "settings updated", envelope.Message)
	assert.Equal(t, 5, got.MaxConcurrentDownloads)
	assert.False(t, got.NotificationsEnabled)
	assert.Equal(t, got, env.settings.Get())

	resp, _ = env.do(t, http.MethodPatch, "/v1/settings", "", `{"maxConcurrentDownloads":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/v1/settings", "", `{"lastSelectedMode":"gif"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestTools(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/tools", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, got := decodeEnvelope[entity.ToolStatus](t, body)
	assert.Equal(t, entity.ToolStatus{YTdlp: true, FFmpeg: true}, got)
}

func TestClassify(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodGet, "/v1/classify?url=https://x.com/a/status/1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"label":"X / Twitter"`)

	resp, _ = env.do(t, http.MethodGet, "/v1/classify?url=youtu", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAttemptLifecycle(t *testing.T) {
	env := newEnv(t)

	submit := `{"url":"` + ytURL + `","mode":"video","quality":"1080p"}`

	resp, body := env.do(t, http.MethodPost, "/v1/attempt", "", submit)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	_, first := decodeEnvelope[entity.Attempt](t, body)
	assert.Equal(t, entity.AttemptStatusFetching, first.Status)
	assert.Equal(t, entity.PlatformYouTube, first.Platform)

	resp, body = env.do(t, http.MethodPost, "/v1/attempt", "", submit)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, busy := decodeEnvelope[entity.Attempt](t, body)
	assert.Equal(t, first.ID, busy.ID)

	resp, body = env.do(t, http.MethodPost, "/v1/attempt?restart=true", "",
		`{"url":"`+ytURL+`","mode":"audio","quality":"FLAC"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, restarted := decodeEnvelope[entity.Attempt](t, body)
	assert.NotEqual(t, first.ID, restarted.ID)
	assert.Equal(t, entity.ModeAudio, restarted.Mode)
	assert.Equal(t, entity.ModeAudio, env.settings.Get().LastSelectedMode)

	resp, body = env.do(t, http.MethodGet, "/v1/attempt", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, current := decodeEnvelope[entity.Attempt](t, body)
	assert.Equal(t, restarted.ID, current.ID)

	resp, body = env.do(t, http.MethodDelete, "/v1/attempt", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, cancelled := decodeEnvelope[entity.Attempt](t, body)
	assert.Equal(t, entity.AttemptStatusIdle, cancelled.Status)
}

func TestAttemptValidation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"bad body", `{`, http.StatusBadRequest},
		{"bad url", `{"url":"nope","mode":"video","quality":"1080p"}`, http.StatusUnprocessableEntity},
		{"bad mode", `{"url":"` + ytURL + `","mode":"gif"}`, http.StatusUnprocessableEntity},
		{"bad quality", `{"url":"` + ytURL + `","mode":"video","quality":"8K"}`, http.StatusUnprocessableEntity},
		{"spotify video", `{"url":"https://open.spotify.com/track/1","mode":"video"}`, http.StatusUnprocessableEntity},
		{"too many tracks", `{"url":"https://www.youtube.com/playlist?list=PL1","mode":"audio","isPlaylist":true,"trackCount":1152921504606846976}`, http.StatusUnprocessableEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodPost, "/v1/attempt", "", tc.body)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}

	assert.Equal(t, entity.AttemptStatusIdle, env.attempts.Snapshot().Status)
}

func TestAttemptStream(t *testing.T) {
	env := newEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/attempt/ws"

	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
	require.NoError(t, err)

	defer resp.Body.Close()
	defer conn.Close()

	read := func() entity.Attempt {
		t.Helper()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var a entity.Attempt
		require.NoError(t, conn.ReadJSON(&a))

		return a
	}

	assert.Equal(t, entity.AttemptStatusIdle, read().Status)

	httpResp, body := env.do(t, http.MethodPost, "/v1/attempt", "",
		`{"url":"`+ytURL+`","mode":"video","quality":"720p"}`)
	require.Equal(t, http.StatusAccepted, httpResp.StatusCode, string(body))

	started := read()
	assert.Equal(t, entity.AttemptStatusFetching, started.Status)
	assert.Equal(t, ytURL, started.URL)

	env.do(t, http.MethodDelete, "/v1/attempt", "", "")

	assert.Equal(t, entity.AttemptStatusIdle, read().Status)
}

func TestAttemptStreamRejectsForeignOrigin(t *testing.T) {
	env := newEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/attempt/ws"

	_, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL,
		http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDefaultConfigRefusesCrossOrigin(t *testing.T) {
	cfg, err := config.New()
	require.NoError(t, err)

	env := newEnvWithOrigins(t, cfg.HTTP.AllowedOrigins())

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/attempt/ws"

	_, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL,
		http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/v1/attempt", `{"url":"` + ytURL + `","mode":"video","quality":"720p"}`},
		{http.MethodPatch, "/v1/settings", `{"downloadDirectory":"/tmp/elsewhere"}`},
		{http.MethodDelete, "/v1/attempt", ""},
	} {
		req, err := http.NewRequestWithContext(t.Context(), tc.method, env.srv.URL+tc.path, strings.NewReader(tc.body))
		require.NoError(t, err)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Content-Type", "text/plain")

		resp, err := env.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode, tc.method+" "+tc.path)
	}

	assert.Equal(t, entity.AttemptStatusIdle, env.attempts.Snapshot().Status)
	assert.NotEqual(t, "/tmp/elsewhere", env.settings.Get().DownloadDirectory)

	// same-origin clients send no Origin header
	httpResp, body := env.do(t, http.MethodPost, "/v1/attempt", "",
		`{"url":"`+ytURL+`","mode":"video","quality":"720p"}`)
	assert.Equal(t, http.StatusAccepted, httpResp.StatusCode, string(body))
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, env.srv.URL+"/v1/attempt", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}
