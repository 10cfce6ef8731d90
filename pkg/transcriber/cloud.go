package transcriber

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

// CloudClient 云端转写与文本生成
type CloudClient interface {
	Transcribe(ctx context.Context, model, path, lang string) (string, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// CloudClientFactory 按 API Key 创建客户端
type CloudClientFactory func(apiKey string) CloudClient

// CloudBackend OpenAI 后端
type CloudBackend struct {
	newClient   CloudClientFactory
	fallbackKey func() string
	outputRoot  string
}

// NewCloudBackend 创建云端后端；fallbackKey 在表单未提供 Key 时使用
func NewCloudBackend(newClient CloudClientFactory, fallbackKey func() string, outputRoot string) *CloudBackend {
	if fallbackKey == nil {
		fallbackKey = func() string { return "" }
	}
	return &CloudBackend{
		newClient:   newClient,
		fallbackKey: fallbackKey,
		outputRoot:  outputRoot,
	}
}

// ResolveAPIKey 表单参数优先，其次是环境/配置中的 Key
func ResolveAPIKey(explicit, fallback string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(fallback); key != "" {
		return key, nil
	}
	return "", ErrMissingAPIKey
}

// TranscribeJob 缺少 Key 时整个任务失败，不处理任何文件
func (b *CloudBackend) TranscribeJob(ctx context.Context, req Request) error {
	key, err := ResolveAPIKey(req.APIKey, b.fallbackKey())
	if err != nil {
		return err
	}
	client := b.newClient(key)

	job := req.Job
	outputType := ""
	if job.OutputType != nil {
		outputType = *job.OutputType
	}
	outDir := filepath.Join(b.outputRoot, job.ID)

	labels := fileLabels{
		start: "→ Sending to OpenAI: %s",
		done:  "✓ Done (API): %s → %s",
		fail:  "[API error] %s: %v",
	}

	runFiles(ctx, req, labels, func(ctx context.Context, idx int, file models.FileRecord) (string, error) {
		text, err := client.Transcribe(ctx, job.Model, file.Path, job.Lang)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)

		processed := ""
		if outputType != "" && text != "" {
			prompt, err := BuildPrompt(outputType, job.Lang, text)
			if err != nil {
				return "", err
			}
			req.Tracker.Logf("→ Generating '%s' with the document model", outputType)
			processed, err = client.Complete(ctx, prompt)
			if err != nil {
				return "", err
			}
			processed = strings.TrimSpace(processed)
		}

		transcriptPath := filepath.Join(outDir, TranscriptFileName(file.Name))
		if err := writeText(transcriptPath, text); err != nil {
			return "", err
		}
		req.Tracker.FileProgress(idx, 0.5)

		if outputType == "" || processed == "" {
			return transcriptPath, nil
		}

		documentPath := filepath.Join(outDir, DocumentFileName(file.Name, outputType))
		if err := writeText(documentPath, processed); err != nil {
			return "", err
		}
		return documentPath, nil
	})

	return nil
}
