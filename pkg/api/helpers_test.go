package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Romano-de-la-vega/app-whisper/pkg/config"
	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
	"github.com/Romano-de-la-vega/app-whisper/pkg/transcriber"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingDispatcher 只记录派发，不执行
type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][2]string
}

func (d *recordingDispatcher) Dispatch(jobID, apiKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, [2]string{jobID, apiKey})
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// textBackend 为每个文件写一份固定的转写稿
type textBackend struct {
	outputRoot string
}

func (b *textBackend) TranscribeJob(ctx context.Context, req transcriber.Request) error {
	total := len(req.Job.Files)
	for i, f := range req.Job.Files {
		req.Tracker.FileStarted(i)
		out := filepath.Join(b.outputRoot, req.Job.ID, transcriber.TranscriptFileName(f.Name))
		if err := os.WriteFile(out, []byte("bonjour tout le monde\n"), 0o644); err != nil {
			req.Tracker.FileFailed(i, err)
			continue
		}
		req.Tracker.FileCompleted(i, out, float64(i+1)/float64(total))
	}
	return nil
}

func testConfig(t *testing.T, cloudEnabled bool) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Paths.BaseDir = t.TempDir()
	cfg.OpenAI.Enabled = &cloudEnabled
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Paths.EnsureDirs())
	return cfg
}

type uploadFile struct {
	name    string
	content string
}

func multipartBody(t *testing.T, fields map[string]string, files ...uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postTranscribe(t *testing.T, router http.Handler, fields map[string]string, files ...uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJobID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func waitForStatus(t *testing.T, router http.Handler, jobID string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		rec := get(router, "/api/status/"+jobID)
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

// seedJob 直接登记一个已完成的任务并写入输出文件
func seedJob(t *testing.T, cfg *config.Config, store *storage.JobStore, id string, outputType *string, outputs map[string]string) {
	t.Helper()
	job := models.NewJob(id, outputType != nil, "base", "fr", outputType, nil)
	require.NoError(t, store.Save(job))

	dir := filepath.Join(cfg.Paths.TranscriptionsDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range outputs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}
