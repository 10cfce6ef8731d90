package transcriber

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
)

type sliceStream struct {
	segments []Segment
	pos      int
	err      error
	closed   bool
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.segments) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Segment() Segment { return s.segments[s.pos-1] }
func (s *sliceStream) Err() error       { return s.err }
func (s *sliceStream) Close() error     { s.closed = true; return nil }

type fakeResult struct {
	segments  []Segment
	duration  float64
	openErr   error
	streamErr error
	panicMsg  string
}

type fakeModel struct {
	results map[string]fakeResult
	opts    []Options
	closed  bool
	noVAD   bool
}

func (m *fakeModel) Transcribe(ctx context.Context, path string, opts Options) (SegmentStream, Info, error) {
	m.opts = append(m.opts, opts)
	r, ok := m.results[path]
	if !ok {
		return nil, Info{}, errors.New("no such file")
	}
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.openErr != nil {
		return nil, Info{}, r.openErr
	}
	return &sliceStream{segments: r.segments, err: r.streamErr}, Info{Duration: r.duration}, nil
}

func (m *fakeModel) Close() error { m.closed = true; return nil }

func (m *fakeModel) VADAvailable() bool { return !m.noVAD }

type fakeEngine struct {
	model   *fakeModel
	loadErr error
	loads   int
}

func (e *fakeEngine) Load(ctx context.Context, name, dir string) (Model, error) {
	e.loads++
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e.model, nil
}

type fakeProvisioner struct {
	err   error
	calls int
}

func (p *fakeProvisioner) Ensure(ctx context.Context, name string, logf func(string)) (string, error) {
	p.calls++
	logf("Model '" + name + "' already present, skipping download.")
	return "/models/" + name, p.err
}

// newRunningJob 登记任务并置为 running，返回 Request
func newRunningJob(t *testing.T, store *storage.JobStore, useAPI bool, model string, outputType *string, paths ...string) Request {
	t.Helper()

	files := make([]models.FileRecord, len(paths))
	for i, p := range paths {
		files[i] = models.FileRecord{Name: p, Path: p}
	}
	job := models.NewJob("job-1", useAPI, model, "fr", outputType, files)
	require.NoError(t, store.Save(job))
	require.NoError(t, store.SetStatus(job.ID, models.StatusRunning))

	snap, err := store.Snapshot(job.ID)
	require.NoError(t, err)
	return Request{Job: snap, Tracker: NewTracker(store, job.ID)}
}
