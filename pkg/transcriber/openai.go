package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient 基于 go-openai 的 CloudClient 实现
type OpenAIClient struct {
	client        *openai.Client
	documentModel string
}

// NewOpenAIClient 创建客户端；baseURL 为空时使用官方地址
func NewOpenAIClient(apiKey, baseURL, documentModel string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout: 10 * time.Minute, // 长音频上传 + 转写
	}
	if documentModel == "" {
		documentModel = openai.GPT4o
	}

	return &OpenAIClient{
		client:        openai.NewClientWithConfig(cfg),
		documentModel: documentModel,
	}
}

// OpenAIFactory 返回按 Key 创建客户端的工厂
func OpenAIFactory(baseURL, documentModel string) CloudClientFactory {
	return func(apiKey string) CloudClient {
		return NewOpenAIClient(apiKey, baseURL, documentModel)
	}
}

// Transcribe 上传音频并返回纯文本
func (c *OpenAIClient) Transcribe(ctx context.Context, model, path, lang string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: path,
		Language: lang,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	return resp.Text, nil
}

// Complete 生成衍生文档
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.documentModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("document generation failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("document generation returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
