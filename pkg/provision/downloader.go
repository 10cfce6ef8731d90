package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// IncompleteSuffix 未下载完成的文件后缀，判断模型是否存在时忽略
const IncompleteSuffix = ".incomplete"

// Downloader 把一个 Asset 下载到目录
type Downloader interface {
	Download(ctx context.Context, asset Asset, dir string) error
}

// HTTPDownloader 支持断点续传的 HTTP 下载器
// 未完成的数据写在 <file>.incomplete，完成后重命名
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDownloader 创建下载器；client 为 nil 时使用 http.DefaultClient
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDownloader{
		client:    client,
		userAgent: "app-whisper",
	}
}

// Download 下载单个文件，已存在则跳过
func (d *HTTPDownloader) Download(ctx context.Context, asset Asset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建模型目录失败: %w", err)
	}

	dest := filepath.Join(dir, asset.FileName)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	partial := dest + IncompleteSuffix
	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return fmt.Errorf("构造下载请求失败: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("下载 %s 失败: %w", asset.FileName, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		// 服务端不支持续传，从头开始
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		if !strings.HasPrefix(resp.Header.Get("Content-Range"), fmt.Sprintf("bytes %d-", offset)) {
			return fmt.Errorf("下载 %s 失败: 续传位置不匹配 (%s)", asset.FileName, resp.Header.Get("Content-Range"))
		}
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		// 本地的 .incomplete 已经是完整文件
		if offset > 0 {
			return os.Rename(partial, dest)
		}
		return fmt.Errorf("下载 %s 失败: %s", asset.FileName, resp.Status)
	default:
		return fmt.Errorf("下载 %s 失败: HTTP %s", asset.FileName, resp.Status)
	}

	file, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		// 保留 .incomplete 以便下次续传
		return fmt.Errorf("写入 %s 失败: %w", asset.FileName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("关闭 %s 失败: %w", asset.FileName, closeErr)
	}

	if err := os.Rename(partial, dest); err != nil {
		return fmt.Errorf("重命名 %s 失败: %w", asset.FileName, err)
	}
	return nil
}

// hasModelFiles 目录存在且至少有一个已完成的文件
func hasModelFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), IncompleteSuffix) {
			continue
		}
		return true
	}
	return false
}
