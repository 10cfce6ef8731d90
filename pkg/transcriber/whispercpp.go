package transcriber

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Romano-de-la-vega/app-whisper/pkg/provision"
)

// WhisperCPPEngine 通过 whisper.cpp 命令行做本地转写
type WhisperCPPEngine struct {
	whisperBin string
	threads    int
	media      *MediaTools
}

// NewWhisperCPPEngine 创建引擎
func NewWhisperCPPEngine(whisperBin string, threads int, media *MediaTools) *WhisperCPPEngine {
	if whisperBin == "" {
		whisperBin = "whisper-cli"
	}
	return &WhisperCPPEngine{
		whisperBin: whisperBin,
		threads:    threads,
		media:      media,
	}
}

// Load 定位模型目录中的权重和 VAD 文件
func (e *WhisperCPPEngine) Load(ctx context.Context, name, dir string) (Model, error) {
	weights, err := resolveWeights(dir, name)
	if err != nil {
		return nil, err
	}

	vad := filepath.Join(dir, provision.VADFileName)
	if _, err := os.Stat(vad); err != nil {
		vad = ""
	}

	return &whisperCPPModel{engine: e, weights: weights, vad: vad}, nil
}

// FetchModel whisper.cpp 命令行不会自己下载模型
func (e *WhisperCPPEngine) FetchModel(ctx context.Context, name, dir string) error {
	if _, err := resolveWeights(dir, name); err == nil {
		return nil
	}
	return fmt.Errorf("model '%s' not found in %s and whisper.cpp cannot download it", name, dir)
}

// resolveWeights 优先使用 ggml-<name>.bin，否则取目录中第一个非 VAD 的 .bin
func resolveWeights(dir, name string) (string, error) {
	preferred := filepath.Join(dir, provision.WeightsFileName(name))
	if _, err := os.Stat(preferred); err == nil {
		return preferred, nil
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.bin"))
	sort.Strings(matches)
	for _, m := range matches {
		if filepath.Base(m) != provision.VADFileName {
			return m, nil
		}
	}
	return "", fmt.Errorf("no ggml weights found in %s", dir)
}

type whisperCPPModel struct {
	engine  *WhisperCPPEngine
	weights string
	vad     string
}

func (m *whisperCPPModel) Close() error { return nil }

func (m *whisperCPPModel) VADAvailable() bool { return m.vad != "" }

// Transcribe 转码后启动 whisper-cli，逐行解析标准输出
func (m *whisperCPPModel) Transcribe(ctx context.Context, path string, opts Options) (SegmentStream, Info, error) {
	duration, err := m.engine.media.Duration(ctx, path)
	if err != nil {
		return nil, Info{}, err
	}

	workDir, err := os.MkdirTemp("", "app-whisper-*")
	if err != nil {
		return nil, Info{}, fmt.Errorf("create temp dir: %w", err)
	}

	wav := filepath.Join(workDir, "audio.wav")
	if err := m.engine.media.ToWav(ctx, path, wav); err != nil {
		os.RemoveAll(workDir)
		return nil, Info{}, err
	}

	args := buildWhisperArgs(m.weights, wav, m.vad, m.engine.threads, opts)
	cmd := exec.CommandContext(ctx, m.engine.whisperBin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(workDir)
		return nil, Info{}, fmt.Errorf("whisper stdout: %w", err)
	}
	stream := &cliStream{cmd: cmd, workDir: workDir}
	cmd.Stderr = &stream.stderr

	if err := cmd.Start(); err != nil {
		os.RemoveAll(workDir)
		return nil, Info{}, fmt.Errorf("start %s: %w", m.engine.whisperBin, err)
	}
	stream.scanner = bufio.NewScanner(stdout)
	stream.scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return stream, Info{Duration: duration}, nil
}

func buildWhisperArgs(weights, wav, vad string, threads int, opts Options) []string {
	args := []string{
		"-m", weights,
		"-f", wav,
		"-np",
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	if opts.VADFilter && vad != "" {
		args = append(args, "--vad", "-vm", vad)
	}
	return args
}

// cliStream 把 whisper-cli 的输出行转换为 Segment
type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  bytes.Buffer
	workDir string

	cur      Segment
	err      error
	finished bool
	closed   bool
}

func (s *cliStream) Next() bool {
	if s.finished {
		return false
	}
	for s.scanner.Scan() {
		if seg, ok := parseSegmentLine(s.scanner.Text()); ok {
			s.cur = seg
			return true
		}
	}
	s.finish(s.scanner.Err())
	return false
}

func (s *cliStream) Segment() Segment { return s.cur }

func (s *cliStream) Err() error { return s.err }

func (s *cliStream) finish(scanErr error) {
	s.finished = true
	if scanErr != nil && s.cmd.Process != nil {
		// 没人再读 stdout，子进程可能卡在写管道上
		s.cmd.Process.Kill()
	}
	waitErr := s.cmd.Wait()
	switch {
	case scanErr != nil:
		s.err = fmt.Errorf("read whisper output: %w", scanErr)
	case waitErr != nil:
		s.err = fmt.Errorf("whisper.cpp failed: %w (stderr: %s)", waitErr, lastLines(s.stderr.String(), 5))
	}
}

func (s *cliStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.finished {
		// 提前退出时结束子进程
		s.finished = true
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
	}
	return os.RemoveAll(s.workDir)
}

// [00:00:01.000 --> 00:00:04.500]   text
var segmentLine = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})[.,](\d{3}) --> (\d+):(\d{2}):(\d{2})[.,](\d{3})\]\s*(.*)$`)

func parseSegmentLine(line string) (Segment, bool) {
	m := segmentLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Segment{}, false
	}
	start, err1 := timestampSeconds(m[1:5])
	end, err2 := timestampSeconds(m[5:9])
	if err := errors.Join(err1, err2); err != nil {
		return Segment{}, false
	}
	return Segment{Start: start, End: end, Text: strings.TrimSpace(m[9])}, true
}

func timestampSeconds(parts []string) (float64, error) {
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	return float64(vals[0]*3600+vals[1]*60+vals[2]) + float64(vals[3])/1000, nil
}
