package transcriber

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

// BeamSize 本地解码的 beam 宽度
const BeamSize = 5

// Segment 一段带时间戳的转写文本（秒）
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Info 音频信息
type Info struct {
	Duration float64
}

// Options 解码参数
type Options struct {
	Language  string
	BeamSize  int
	VADFilter bool
}

// SegmentStream 惰性的片段序列，用法同 bufio.Scanner
type SegmentStream interface {
	Next() bool
	Segment() Segment
	Err() error
	Close() error
}

// Model 已加载的本地模型
type Model interface {
	Transcribe(ctx context.Context, path string, opts Options) (SegmentStream, Info, error)
	// VADAvailable 是否找到了 VAD 模型；没有时 VADFilter 不生效
	VADAvailable() bool
	Close() error
}

// Engine 本地转写引擎
type Engine interface {
	Load(ctx context.Context, name, dir string) (Model, error)
}

// ModelProvisioner 确保模型文件就绪，返回模型目录
type ModelProvisioner interface {
	Ensure(ctx context.Context, name string, logf func(string)) (string, error)
}

// LocalBackend 本地 whisper 后端
type LocalBackend struct {
	engine      Engine
	provisioner ModelProvisioner
	outputRoot  string
}

// NewLocalBackend 创建本地后端，结果写入 outputRoot/<job_id>
func NewLocalBackend(engine Engine, provisioner ModelProvisioner, outputRoot string) *LocalBackend {
	return &LocalBackend{
		engine:      engine,
		provisioner: provisioner,
		outputRoot:  outputRoot,
	}
}

// TranscribeJob 模型每个任务只加载一次
func (b *LocalBackend) TranscribeJob(ctx context.Context, req Request) error {
	job := req.Job

	dir, err := b.provisioner.Ensure(ctx, job.Model, req.Tracker.Log)
	if err != nil {
		return err
	}

	model, err := b.engine.Load(ctx, job.Model, dir)
	if err != nil {
		return fmt.Errorf("load model '%s': %w", job.Model, err)
	}
	defer model.Close()

	if model.VADAvailable() {
		req.Tracker.Logf("VAD: Silero · beam_size=%d", BeamSize)
	} else {
		req.Tracker.Logf("[WARN] VAD model not found, transcribing without voice activity detection · beam_size=%d", BeamSize)
	}

	outDir := filepath.Join(b.outputRoot, job.ID)
	total := float64(len(job.Files))

	labels := fileLabels{
		start: "→ Local transcription: %s",
		done:  "✓ Done (local): %s → %s",
		fail:  "[Local error] %s: %v",
	}

	runFiles(ctx, req, labels, func(ctx context.Context, idx int, file models.FileRecord) (string, error) {
		stream, info, err := model.Transcribe(ctx, file.Path, Options{
			Language:  job.Lang,
			BeamSize:  BeamSize,
			VADFilter: true,
		})
		if err != nil {
			return "", err
		}
		defer stream.Close()

		duration := info.Duration
		if duration <= 0 {
			duration = 1
		}

		var parts []string
		var covered float64
		for stream.Next() {
			seg := stream.Segment()
			if seg.End > seg.Start {
				covered += seg.End - seg.Start
			}
			pct := clampProgress(covered / duration)
			req.Tracker.FileProgress(idx, pct)

			if text := strings.TrimSpace(seg.Text); text != "" {
				req.Tracker.Log(text)
				parts = append(parts, text)
			}
			req.Tracker.JobProgress((float64(idx) + pct) / total)
		}
		if err := stream.Err(); err != nil {
			return "", err
		}

		outPath := filepath.Join(outDir, TranscriptFileName(file.Name))
		if err := writeText(outPath, strings.TrimSpace(strings.Join(parts, "\n"))); err != nil {
			return "", err
		}
		return outPath, nil
	})

	return nil
}

func clampProgress(p float64) float64 {
	if p < 0 || p != p {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
