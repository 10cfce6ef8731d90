package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

func newTestJob(t *testing.T, store *JobStore, files ...string) string {
	t.Helper()

	records := make([]models.FileRecord, len(files))
	for i, name := range files {
		records[i] = models.FileRecord{Name: name, Path: "/uploads/" + name}
	}
	job := models.NewJob(fmt.Sprintf("job-%d", len(store.List())), false, "base", "fr", nil, records)
	require.NoError(t, store.Save(job))
	return job.ID
}

func TestJobStore_SnapshotUnknownJob(t *testing.T) {
	store := NewJobStore()

	_, err := store.Snapshot("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.AppendLog("missing", "x"), ErrJobNotFound)
	assert.ErrorIs(t, store.SetStatus("missing", models.StatusRunning), ErrJobNotFound)
}

func TestJobStore_SaveRejectsDuplicate(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3")

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Error(t, store.Save(&job))
}

func TestJobStore_NewJobState(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3", "b.wav")

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, 0.0, job.Progress)
	require.Len(t, job.Files, 2)
	for _, f := range job.Files {
		assert.Equal(t, models.FileQueued, f.Status)
		assert.Nil(t, f.OutPath)
		assert.Nil(t, f.Error)
	}
}

func TestJobStore_StatusTransitions(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3")

	assert.ErrorIs(t, store.SetStatus(id, models.StatusDone), ErrInvalidTransition)
	require.NoError(t, store.SetStatus(id, models.StatusRunning))
	assert.ErrorIs(t, store.SetStatus(id, models.StatusPending), ErrInvalidTransition)
	require.NoError(t, store.SetStatus(id, models.StatusDone))

	// 终态不可离开
	assert.ErrorIs(t, store.SetStatus(id, models.StatusError), ErrInvalidTransition)
	assert.ErrorIs(t, store.SetStatus(id, models.StatusRunning), ErrInvalidTransition)
	assert.NoError(t, store.SetStatus(id, models.StatusDone))

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, job.Status)
}

func TestJobStore_FileTransitions(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3", "b.mp3")

	assert.ErrorIs(t, store.SetFileStatus(id, 0, models.FileDone, ""), ErrInvalidTransition)
	require.NoError(t, store.SetFileStatus(id, 0, models.FileRunning, ""))
	require.NoError(t, store.SetFileStatus(id, 0, models.FileError, "corrupt audio"))
	assert.ErrorIs(t, store.SetFileStatus(id, 0, models.FileRunning, ""), ErrInvalidTransition)

	assert.ErrorIs(t, store.SetFileStatus(id, 5, models.FileRunning, ""), ErrFileIndex)
	assert.ErrorIs(t, store.SetFileProgress(id, -1, 0.5), ErrFileIndex)

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, models.FileError, job.Files[0].Status)
	require.NotNil(t, job.Files[0].Error)
	assert.Equal(t, "corrupt audio", *job.Files[0].Error)
	assert.Equal(t, models.FileQueued, job.Files[1].Status, "sibling file untouched")
}

func TestJobStore_ProgressIsClamped(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3")

	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0.25, 0.25},
		{1.7, 1},
	}
	for _, tt := range tests {
		require.NoError(t, store.SetProgress(id, tt.in))
		require.NoError(t, store.SetFileProgress(id, 0, tt.in))

		job, err := store.Snapshot(id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, job.Progress)
		assert.Equal(t, tt.want, job.Files[0].Progress)
	}
}

func TestJobStore_CompleteFile(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3", "b.mp3")

	assert.ErrorIs(t, store.CompleteFile(id, 0, "/out/a.txt", 0.5), ErrInvalidTransition)

	require.NoError(t, store.SetFileStatus(id, 0, models.FileRunning, ""))
	require.NoError(t, store.CompleteFile(id, 0, "/out/a.txt", 0.5))

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, models.FileDone, job.Files[0].Status)
	assert.Equal(t, 1.0, job.Files[0].Progress)
	assert.Equal(t, "/out/a.txt", *job.Files[0].OutPath)
	assert.Equal(t, 0.5, job.Progress)

	assert.ErrorIs(t, store.CompleteFile(id, 0, "/out/other.txt", 1), ErrInvalidTransition)
	job, err = store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "/out/a.txt", *job.Files[0].OutPath)
}

func TestJobStore_SnapshotIsIsolated(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3")
	require.NoError(t, store.AppendLog(id, "first"))

	snap, err := store.Snapshot(id)
	require.NoError(t, err)
	snap.Logs[0] = "mutated"
	snap.Files[0].Status = models.FileDone
	snap.Logs = append(snap.Logs, "extra")

	again, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, again.Logs)
	assert.Equal(t, models.FileQueued, again.Files[0].Status)
}

func TestJobStore_LogsKeepOrder(t *testing.T) {
	store := NewJobStore()
	id := newTestJob(t, store, "a.mp3")

	for i := 0; i < 20; i++ {
		require.NoError(t, store.AppendLog(id, fmt.Sprintf("line %d", i)))
	}

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	require.Len(t, job.Logs, 20)
	for i, line := range job.Logs {
		assert.Equal(t, fmt.Sprintf("line %d", i), line)
	}
}

// 并发读者永远不会看到 done 但没有 out_path 的文件
func TestJobStore_ConcurrentReadersSeeConsistentFiles(t *testing.T) {
	store := NewJobStore()
	names := make([]string, 50)
	for i := range names {
		names[i] = fmt.Sprintf("f%d.mp3", i)
	}
	id := newTestJob(t, store, names...)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				job, err := store.Snapshot(id)
				if !assert.NoError(t, err) {
					return
				}
				for _, f := range job.Files {
					if f.Status == models.FileDone {
						assert.NotNil(t, f.OutPath)
					}
				}
				assert.GreaterOrEqual(t, job.Progress, 0.0)
				assert.LessOrEqual(t, job.Progress, 1.0)
			}
		}()
	}

	for i := range names {
		require.NoError(t, store.SetFileStatus(id, i, models.FileRunning, ""))
		require.NoError(t, store.SetFileProgress(id, i, 0.5))
		require.NoError(t, store.AppendLog(id, names[i]))
		require.NoError(t, store.CompleteFile(id, i, "/out/"+names[i], float64(i+1)/float64(len(names))))
	}
	close(stop)
	wg.Wait()

	job, err := store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, len(names), job.CountFiles(models.FileDone))
}

func TestJobStore_ListNewestFirst(t *testing.T) {
	store := NewJobStore()
	first := newTestJob(t, store, "a.mp3")
	second := newTestJob(t, store, "b.mp3")

	jobs := store.List()
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)
	assert.False(t, jobs[0].CreatedAt.Before(jobs[1].CreatedAt))
}
