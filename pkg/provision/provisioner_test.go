package provision

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logSink struct {
	mu    sync.Mutex
	lines []string
}

func (l *logSink) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

func (l *logSink) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls []string
	size  int
	err   error
	delay time.Duration
}

func (f *fakeDownloader) Download(ctx context.Context, asset Asset, dir string) error {
	f.mu.Lock()
	f.calls = append(f.calls, asset.FileName)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filepath.Join(dir, asset.FileName), make([]byte, f.size), 0o644)
}

type fakeFetcher struct {
	called bool
	err    error
}

func (f *fakeFetcher) FetchModel(ctx context.Context, name, dir string) error {
	f.called = true
	return f.err
}

func noDiskCheck(p *Provisioner) { p.freeSpace = nil }

func TestProvisioner_SkipsPresentModel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base", "ggml-base.bin"), []byte("x"), 0o644))

	dl := &fakeDownloader{}
	p := NewProvisioner(root, "https://hub.example", WithDownloader(dl), noDiskCheck)

	logs := &logSink{}
	dir, err := p.Ensure(context.Background(), "base", logs.add)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "base"), dir)
	assert.Empty(t, dl.calls)
	require.Len(t, logs.all(), 1)
	assert.Contains(t, logs.all()[0], "already present")
}

// gatedDownloader 第一次 Download 阻塞到 release 关闭
type gatedDownloader struct {
	fakeDownloader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedDownloader) Download(ctx context.Context, asset Asset, dir string) error {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.fakeDownloader.Download(ctx, asset, dir)
}

func TestProvisioner_ConcurrentEnsureFetchesOnce(t *testing.T) {
	root := t.TempDir()
	dl := &gatedDownloader{
		fakeDownloader: fakeDownloader{size: 16},
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	p := NewProvisioner(root, "https://hub.example", WithDownloader(dl), WithPollInterval(5*time.Millisecond), noDiskCheck)

	first, second := &logSink{}, &logSink{}
	errs := make(chan error, 2)
	go func() {
		_, err := p.Ensure(context.Background(), "base", first.add)
		errs <- err
	}()
	<-dl.started

	go func() {
		_, err := p.Ensure(context.Background(), "base", second.add)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(dl.release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	dl.mu.Lock()
	calls := append([]string(nil), dl.calls...)
	dl.mu.Unlock()
	assert.Equal(t, []string{"ggml-base.bin", VADFileName}, calls)
	assert.Equal(t, []string{"Model 'base' was fetched by another job."}, second.all())
	assert.Contains(t, strings.Join(first.all(), "\n"), "Downloading model 'base'")

	// 之后的调用直接跳过
	later := &logSink{}
	_, err := p.Ensure(context.Background(), "base", later.add)
	require.NoError(t, err)
	assert.Equal(t, []string{"Model 'base' already present, skipping download."}, later.all())
}

func TestProvisioner_ConcurrentEnsureKeepsWeightsIntact(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Range"), "download resumed from a file another job is writing")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		const chunk = 16 * 1024
		for off := 0; off < len(payload); off += chunk {
			w.Write(payload[off : off+chunk])
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer hub.Close()

	root := t.TempDir()
	p := NewProvisioner(root, hub.URL, WithDownloader(NewHTTPDownloader(hub.Client())), WithPollInterval(5*time.Millisecond), noDiskCheck)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Ensure(context.Background(), "base", (&logSink{}).add)
		}(i)
		time.Sleep(30 * time.Millisecond)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	weights, err := os.ReadFile(filepath.Join(root, "base", "ggml-base.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, weights), "weights size %d, want %d", len(weights), len(payload))
	assert.NoFileExists(t, filepath.Join(root, "base", "ggml-base.bin"+IncompleteSuffix))
}

func TestProvisioner_IncompleteFilesDoNotCountAsPresent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base", "ggml-base.bin"+IncompleteSuffix), []byte("x"), 0o644))

	dl := &fakeDownloader{size: 10}
	p := NewProvisioner(root, "https://hub.example", WithDownloader(dl), WithPollInterval(5*time.Millisecond), noDiskCheck)

	_, err := p.Ensure(context.Background(), "base", (&logSink{}).add)
	require.NoError(t, err)
	assert.Equal(t, []string{"ggml-base.bin", VADFileName}, dl.calls)
}

func TestProvisioner_DownloadsAndReportsProgress(t *testing.T) {
	root := t.TempDir()
	dl := &fakeDownloader{size: 1024, delay: 20 * time.Millisecond}
	p := NewProvisioner(root, "https://hub.example", WithDownloader(dl), WithPollInterval(5*time.Millisecond), noDiskCheck)

	logs := &logSink{}
	dir, err := p.Ensure(context.Background(), "small", logs.add)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "ggml-small.bin"))
	assert.FileExists(t, filepath.Join(dir, VADFileName))

	lines := logs.all()
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "Model download: 100%"), lines[len(lines)-1])

	// 相邻的进度行不重复
	var progress []string
	for _, l := range lines[:len(lines)-1] {
		if strings.HasPrefix(l, "Model download:") {
			progress = append(progress, strings.SplitN(l, " (", 2)[0])
		}
	}
	for i := 1; i < len(progress); i++ {
		assert.NotEqual(t, progress[i-1], progress[i])
	}
}

func TestProvisioner_DownloadErrorPropagates(t *testing.T) {
	root := t.TempDir()
	dl := &fakeDownloader{err: errors.New("connection reset")}
	p := NewProvisioner(root, "https://hub.example", WithDownloader(dl), WithPollInterval(5*time.Millisecond), noDiskCheck)

	_, err := p.Ensure(context.Background(), "base", (&logSink{}).add)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestProvisioner_FallbackWithoutDownloader(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := NewProvisioner(t.TempDir(), "https://hub.example", WithFallback(fetcher), noDiskCheck)

	logs := &logSink{}
	_, err := p.Ensure(context.Background(), "base", logs.add)
	require.NoError(t, err)

	assert.True(t, fetcher.called)
	assert.Contains(t, strings.Join(logs.all(), "\n"), "[WARN]")
}

func TestProvisioner_FallbackForUnknownModel(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("engine cannot fetch")}
	dl := &fakeDownloader{}
	p := NewProvisioner(t.TempDir(), "https://hub.example", WithDownloader(dl), WithFallback(fetcher), noDiskCheck)

	_, err := p.Ensure(context.Background(), "tiny-custom", (&logSink{}).add)
	require.Error(t, err)
	assert.True(t, fetcher.called)
	assert.Empty(t, dl.calls)
}

func TestProvisioner_LowDiskSpaceWarns(t *testing.T) {
	dl := &fakeDownloader{size: 1}
	p := NewProvisioner(t.TempDir(), "https://hub.example", WithDownloader(dl), WithPollInterval(5*time.Millisecond))
	p.freeSpace = func(string) (uint64, error) { return 1024, nil }

	logs := &logSink{}
	_, err := p.Ensure(context.Background(), "base", logs.add)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(logs.all(), "\n"), "free disk space")
}

func TestAssets(t *testing.T) {
	assets, err := Assets("https://hub.example/", "large-v3")
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "https://hub.example/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin", assets[0].URL)
	assert.Equal(t, VADFileName, assets[1].FileName)

	_, err = Assets("https://hub.example", "nope")
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = Assets("", "base")
	assert.ErrorIs(t, err, ErrNoSource)

	assert.Equal(t, DefaultApproxSize, ApproxSize("nope"))
	assert.Equal(t, 142*mb, ApproxSize("base"))
}
