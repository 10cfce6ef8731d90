package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// MediaTools ffprobe / ffmpeg 封装
type MediaTools struct {
	ffmpegBin  string
	ffprobeBin string
}

// NewMediaTools 创建媒体工具
func NewMediaTools(ffmpegBin, ffprobeBin string) *MediaTools {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &MediaTools{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin}
}

// Duration 获取音频/视频时长（秒）
// ffprobe -v error -show_entries format=duration -of default=noprint_wrappers=1:nokey=1 input
func (m *MediaTools) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, m.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return parseDuration(stdout.String())
}

// ToWav 转成 whisper.cpp 需要的 16 kHz 单声道 PCM
func (m *MediaTools) ToWav(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, m.ffmpegBin, buildFFmpegArgs(inputPath, outputPath)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, lastLines(stderr.String(), 5))
	}
	return nil
}

func buildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	}
}

func parseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("ffprobe returned no duration")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
