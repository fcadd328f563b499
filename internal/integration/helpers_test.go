//go:build integration
// +build integration

package integration_test

import (
	_ "embed"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"dvzoll/internal/attempt"
	"dvzoll/internal/config"
	"dvzoll/internal/depmanager"
	"dvzoll/internal/downloader"
	"dvzoll/internal/entity"
	httprouter "dvzoll/internal/infrastructure/delivery/http"
	"dvzoll/internal/metadata"
	"dvzoll/internal/observability"
	"dvzoll/internal/service"
	"dvzoll/internal/settings"
	"dvzoll/internal/storage"
	"dvzoll/pkg/logger"

	"github.com/stretchr/testify/require"
)

//go:embed testdata/fake-ytdlp.sh
var fakeYTDLPScript string

const (
	token       = "tok-integration"
	waitTimeout = 10 * time.Second
	waitTick    = 20 * time.Millisecond
)

type fixture struct {
	srv          *httptest.Server
	history      service.History
	attempts     *attempt.Controller
	depMgr       *depmanager.Manager
	exec         *downloader.Exec
	downloadsDir string
	historyDir   string
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// newFixture wires the whole stack around a fake yt-dlp placed in the bins dir.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp is a shell script")
	}

	log := logger.Discard()
	metrics := observability.New()
	base := t.TempDir()

	f := &fixture{
		downloadsDir: filepath.Join(base, "downloads"),
		historyDir:   filepath.Join(base, "history"),
	}

	binsDir := filepath.Join(base, "bins")
	require.NoError(t, os.MkdirAll(binsDir, 0o755))

	f.depMgr = depmanager.New(log, config.DepManager{BinsDir: binsDir, UseSystemBinaries: true}, metrics)
	require.NoError(t, os.WriteFile(
		f.depMgr.GetBinaryPath(depmanager.BinaryYTdlp), []byte(fakeYTDLPScript), 0o755))

	f.exec = downloader.NewExec(log, f.depMgr, metrics)

	storer, err := storage.New(t.Context(), log, config.Storage{Path: filepath.Join(base, "dvzoll.db")}, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storer.Close() })

	history := service.New(log, config.History{
		Workers:    1,
		QueueSize:  10,
		Timeout:    waitTimeout,
		RateLimit:  20,
		RateWindow: time.Hour,
		ListLimit:  50,
	}, storer, service.NewBridge(log, f.exec, f.historyDir), metrics)
	history.Start(t.Context())
	f.history = history

	backend, err := settings.NewFile(filepath.Join(base, "settings.json"))
	require.NoError(t, err)

	store := settings.New(log, backend)
	store.Update(settings.Patch{DownloadDirectory: &f.downloadsDir})

	f.attempts = attempt.New(log, config.Attempt{}, attempt.WithBridge(f.exec),
		attempt.WithPreferences(store), attempt.WithMetrics(metrics))
	t.Cleanup(f.attempts.Close)

	router := httprouter.New(log, httprouter.Deps{
		Attempts:   f.attempts,
		Settings:   store,
		History:    history,
		Metadata:   metadata.New(log, config.Metadata{MaxURLLength: 2000, RPS: 10, Burst: 10}, nil, metrics),
		Tools:      f.depMgr,
		Metrics:    metrics,
		AuthTokens: map[string]string{token: "integration"},
	})

	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	req.Header.Set("Authorization", "Bearer "+token)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

// startAttempt submits an attempt and waits until it leaves the busy states.
func (f *fixture) startAttempt(t *testing.T, body string) entity.Attempt {
	t.Helper()

	status, data := f.do(t, http.MethodPost, "/v1/attempt", body)
	require.Equal(t, http.StatusAccepted, status, string(data))

	var final entity.Attempt

	require.Eventually(t, func() bool {
		final = f.attempts.Snapshot()

		return final.Status.Terminal()
	}, waitTimeout, waitTick)

	status, data = f.do(t, http.MethodGet, "/v1/attempt", "")
	require.Equal(t, http.StatusOK, status)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))

	var served entity.Attempt
	require.NoError(t, json.Unmarshal(env.Data, &served))
	require.Equal(t, final.Status, served.Status)

	return final
}

// submitRecord posts a history record and waits until a worker finished it.
func (f *fixture) submitRecord(t *testing.T, body string) entity.Record {
	t.Helper()

	status, data := f.do(t, http.MethodPost, "/v1/history", body)
	require.Equal(t, http.StatusAccepted, status, string(data))

	var submitted struct {
		Download struct {
			ID string `json:"id"`
		} `json:"download"`
	}
	require.NoError(t, json.Unmarshal(data, &submitted))
	require.NotEmpty(t, submitted.Download.ID)

	require.Eventually(t, func() bool {
		rec, err := f.history.Get(t.Context(), submitted.Download.ID)
		if err != nil {
			return false
		}

		return rec.Status == entity.RecordStatusCompleted || rec.Status == entity.RecordStatusFailed
	}, waitTimeout, waitTick)

	rec, err := f.history.Get(t.Context(), submitted.Download.ID)
	require.NoError(t, err)

	return rec
}
