package provision

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSource 模型没有已知下载源
var ErrNoSource = errors.New("模型没有已知下载源")

// DefaultApproxSize 未登记模型的估算大小（1 GB）
const DefaultApproxSize int64 = 1 << 30

// VADFileName Silero VAD 的 ggml 权重
const VADFileName = "ggml-silero-v5.1.2.bin"

// Asset 模型目录下的一个文件
type Asset struct {
	FileName string
	URL      string
}

type catalogEntry struct {
	fileName   string
	approxSize int64
}

const (
	mb = int64(1) << 20
	gb = int64(1) << 30
)

var modelCatalog = map[string]catalogEntry{
	"base":     {fileName: "ggml-base.bin", approxSize: 142 * mb},
	"small":    {fileName: "ggml-small.bin", approxSize: 466 * mb},
	"medium":   {fileName: "ggml-medium.bin", approxSize: 1536 * mb},
	"large-v2": {fileName: "ggml-large-v2.bin", approxSize: 2969 * mb},
	"large-v3": {fileName: "ggml-large-v3.bin", approxSize: 2969 * mb},
}

// ApproxSize 模型的估算下载大小，用于进度换算
func ApproxSize(name string) int64 {
	if e, ok := modelCatalog[name]; ok {
		return e.approxSize
	}
	return DefaultApproxSize
}

// WeightsFileName 模型权重文件名
func WeightsFileName(name string) string {
	if e, ok := modelCatalog[name]; ok {
		return e.fileName
	}
	return "ggml-" + name + ".bin"
}

// Assets 返回模型需要下载的全部文件：权重 + VAD
func Assets(hubURL, name string) ([]Asset, error) {
	e, ok := modelCatalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, name)
	}
	if hubURL == "" {
		return nil, fmt.Errorf("%w: 未配置下载地址", ErrNoSource)
	}

	hub := strings.TrimRight(hubURL, "/")
	return []Asset{
		{
			FileName: e.fileName,
			URL:      fmt.Sprintf("%s/ggerganov/whisper.cpp/resolve/main/%s", hub, e.fileName),
		},
		{
			FileName: VADFileName,
			URL:      fmt.Sprintf("%s/ggml-org/whisper-vad/resolve/main/%s", hub, VADFileName),
		},
	}, nil
}
