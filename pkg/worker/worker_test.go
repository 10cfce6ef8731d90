package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romano-de-la-vega/app-whisper/pkg/events"
	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
	"github.com/Romano-de-la-vega/app-whisper/pkg/transcriber"
)

// stubBackend 每个文件都成功，或直接返回任务级错误
type stubBackend struct {
	err      error
	panicMsg string
	block    chan struct{}

	mu      sync.Mutex
	apiKeys []string
}

func (b *stubBackend) TranscribeJob(ctx context.Context, req transcriber.Request) error {
	b.mu.Lock()
	b.apiKeys = append(b.apiKeys, req.APIKey)
	b.mu.Unlock()

	if b.block != nil {
		<-b.block
	}
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.err != nil {
		return b.err
	}
	for i := range req.Job.Files {
		req.Tracker.FileStarted(i)
		req.Tracker.FileCompleted(i, "/out/"+req.Job.Files[i].Name, float64(i+1)/float64(len(req.Job.Files)))
	}
	return nil
}

type recordingArchive struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (a *recordingArchive) Archive(ctx context.Context, job models.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	return nil
}

func (a *recordingArchive) Close() error { return nil }

func (a *recordingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func saveJob(t *testing.T, store *storage.JobStore, id string, useAPI bool) {
	t.Helper()
	job := models.NewJob(id, useAPI, "base", "fr", nil, []models.FileRecord{
		{Name: "a.mp3", Path: "/in/a.mp3"},
		{Name: "b.mp3", Path: "/in/b.mp3"},
	})
	require.NoError(t, store.Save(job))
}

func waitTerminal(t *testing.T, store *storage.JobStore, id string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = store.Snapshot(id)
		return err == nil && job.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestWorker_SuccessfulJob(t *testing.T) {
	store := storage.NewJobStore()
	archive := &recordingArchive{}
	publisher := events.NewMemoryPublisher(10)
	w := NewWorker(store, &stubBackend{}, nil, archive, publisher)
	defer w.Stop(time.Second)

	saveJob(t, store, "j1", false)
	w.Dispatch("j1", "")

	job := waitTerminal(t, store, "j1")
	assert.Equal(t, models.StatusDone, job.Status)
	assert.Equal(t, 1.0, job.Progress)
	require.NotEmpty(t, job.Logs)
	assert.Contains(t, job.Logs[0], "Local mode")
	assert.Contains(t, job.Logs[len(job.Logs)-1], "All files processed")
	for _, f := range job.Files {
		assert.Equal(t, models.FileDone, f.Status)
		assert.NotNil(t, f.OutPath)
	}

	require.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, 5*time.Millisecond)

	started := <-publisher.Events()
	finished := <-publisher.Events()
	assert.Equal(t, models.EventJobStarted, started.Type)
	assert.Equal(t, models.EventJobFinished, finished.Type)
	assert.Equal(t, models.StatusDone, finished.Status)
	assert.Equal(t, 2, finished.FilesDone)
}

func TestWorker_BackendErrorFailsJob(t *testing.T) {
	store := storage.NewJobStore()
	cloud := &stubBackend{err: transcriber.ErrMissingAPIKey}
	w := NewWorker(store, &stubBackend{}, cloud, nil, nil)
	defer w.Stop(time.Second)

	saveJob(t, store, "j1", true)
	w.Dispatch("j1", "sk-form")

	job := waitTerminal(t, store, "j1")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Logs[0], "OpenAI API mode")
	assert.Contains(t, job.Logs[len(job.Logs)-1], "[JOB ERROR]")
	assert.Contains(t, job.Logs[len(job.Logs)-1], "API key")
	for _, f := range job.Files {
		assert.Equal(t, models.FileQueued, f.Status)
	}
	assert.Equal(t, []string{"sk-form"}, cloud.apiKeys)
}

func TestWorker_CloudUnavailable(t *testing.T) {
	store := storage.NewJobStore()
	w := NewWorker(store, &stubBackend{}, nil, nil, nil)
	defer w.Stop(time.Second)

	saveJob(t, store, "j1", true)
	w.Dispatch("j1", "")

	job := waitTerminal(t, store, "j1")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Logs[len(job.Logs)-1], transcriber.ErrCloudUnavailable.Error())
}

func TestWorker_PanicBecomesJobError(t *testing.T) {
	store := storage.NewJobStore()
	w := NewWorker(store, &stubBackend{panicMsg: "nil map"}, nil, nil, nil)
	defer w.Stop(time.Second)

	saveJob(t, store, "j1", false)
	w.Dispatch("j1", "")

	job := waitTerminal(t, store, "j1")
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Logs[len(job.Logs)-1], "nil map")
}

func TestWorker_RunningIsObservable(t *testing.T) {
	store := storage.NewJobStore()
	backend := &stubBackend{block: make(chan struct{})}
	w := NewWorker(store, backend, nil, nil, nil)
	defer w.Stop(time.Second)

	saveJob(t, store, "j1", false)
	w.Dispatch("j1", "")

	require.Eventually(t, func() bool {
		job, err := store.Snapshot("j1")
		return err == nil && job.Status == models.StatusRunning
	}, time.Second, 5*time.Millisecond)

	close(backend.block)
	assert.Equal(t, models.StatusDone, waitTerminal(t, store, "j1").Status)
}

func TestWorker_JobsRunIndependently(t *testing.T) {
	store := storage.NewJobStore()
	slow := &stubBackend{block: make(chan struct{})}
	fast := &stubBackend{}
	w := NewWorker(store, slow, fast, nil, nil)
	defer w.Stop(time.Second)

	saveJob(t, store, "slow", false)
	saveJob(t, store, "fast", true)
	w.Dispatch("slow", "")
	w.Dispatch("fast", "sk")

	// 慢任务阻塞时，另一个任务照常完成
	assert.Equal(t, models.StatusDone, waitTerminal(t, store, "fast").Status)

	job, err := store.Snapshot("slow")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, job.Status)

	close(slow.block)
	assert.Equal(t, models.StatusDone, waitTerminal(t, store, "slow").Status)
}

func TestWorker_UnknownJob(t *testing.T) {
	store := storage.NewJobStore()
	backend := &stubBackend{}
	w := NewWorker(store, backend, nil, nil, nil)

	w.Dispatch("missing", "")
	w.Stop(time.Second)

	assert.Empty(t, backend.apiKeys)
}
