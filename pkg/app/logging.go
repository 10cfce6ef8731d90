package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

// SetupLogging 进程日志同时写到 stdout 和 logFile，gin 的请求日志也一样
// 返回的文件需要在退出前关闭
func SetupLogging(logFile string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}

	w := io.MultiWriter(os.Stdout, f)
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	gin.DefaultWriter = w
	gin.DefaultErrorWriter = w

	return f, nil
}
