package api

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
)

const (
	kindTranscription = "transcription"
	kindSummary       = "summary"
)

// handleDownloadZip 打包任务输出目录；每次请求都重新生成
func (s *Server) handleDownloadZip(c *gin.Context) {
	jobID := c.Param("job_id")
	outputDir, ok := s.outputDir(c, jobID)
	if !ok {
		return
	}

	zipPath := filepath.Join(s.paths.TmpDir(), fmt.Sprintf("transcriptions_%s.zip", jobID))
	if err := writeZip(outputDir, zipPath); err != nil {
		log.Printf("❌ 打包任务 %s 失败: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build archive"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.FileAttachment(zipPath, filepath.Base(zipPath))
}

// handleDownloadTxt 下载转写稿或衍生文档（多个文件时合并）
func (s *Server) handleDownloadTxt(c *gin.Context) {
	jobID := c.Param("job_id")

	kind := c.DefaultQuery("kind", kindTranscription)
	if kind != kindTranscription && kind != kindSummary {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown kind: %q", kind)})
		return
	}

	merge := true
	if raw := c.Query("merge"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid merge flag: %q", raw)})
			return
		}
		merge = v
	}

	outputDir, ok := s.outputDir(c, jobID)
	if !ok {
		return
	}

	// 任务可能已不在内存中，此时按没有衍生文档处理
	outputType := ""
	job, err := s.store.Snapshot(jobID)
	if err != nil && !errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err == nil && job.OutputType != nil {
		outputType = *job.OutputType
	}

	if kind == kindSummary && outputType == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no derived document for this job"})
		return
	}

	files, err := selectTextFiles(outputDir, kind, outputType)
	if err != nil {
		log.Printf("❌ 读取任务 %s 输出失败: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list output files"})
		return
	}
	if len(files) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no .txt file found"})
		return
	}

	result := files[0]
	if merge || len(files) > 1 {
		nameRoot := "transcriptions"
		if kind == kindSummary {
			nameRoot = outputType
		}
		result = filepath.Join(s.paths.TmpDir(), fmt.Sprintf("%s_%s.txt", nameRoot, jobID))
		if err := mergeTextFiles(files, result); err != nil {
			log.Printf("❌ 合并任务 %s 文本失败: %v", jobID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to merge text files"})
			return
		}
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.FileAttachment(result, filepath.Base(result))
}

// outputDir 任务输出目录，不存在时直接写 404
func (s *Server) outputDir(c *gin.Context, jobID string) (string, bool) {
	dir := filepath.Join(s.paths.TranscriptionsDir(), filepath.Base(jobID))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcriptions not found"})
		return "", false
	}
	return dir, true
}

// selectTextFiles 按文件名排序返回匹配的 .txt 文件
// summary: *_<outputType>.txt；transcription: 其余所有 .txt
func selectTextFiles(dir, kind, outputType string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	derivedSuffix := ""
	if outputType != "" {
		derivedSuffix = "_" + outputType + ".txt"
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		derived := derivedSuffix != "" && strings.HasSuffix(name, derivedSuffix)
		if (kind == kindSummary) == derived {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// mergeTextFiles 每个文件前加 "===== 文件名 =====" 标题，文件之间空一行
func mergeTextFiles(files []string, dest string) error {
	var b strings.Builder
	for i, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "===== %s =====\n", filepath.Base(path))
		b.Write(content)
		if len(content) == 0 || content[len(content)-1] != '\n' {
			b.WriteByte('\n')
		}
		if i < len(files)-1 {
			b.WriteByte('\n')
		}
	}

	return replaceFile(dest, func(w io.Writer) error {
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// writeZip 把 srcDir 打包到 dest，条目路径相对于 srcDir
func writeZip(srcDir, dest string) error {
	return replaceFile(dest, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			return addZipEntry(zw, path, filepath.ToSlash(rel))
		})
		closeErr := zw.Close()
		if walkErr != nil {
			return walkErr
		}
		return closeErr
	})
}

// replaceFile 先写同目录下的临时文件，写完再 rename 到 dest
// 并发请求各写各的临时文件，读者只会看到完整的 dest
func replaceFile(dest string, write func(io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	writeErr := write(tmp)
	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr == nil {
		writeErr = os.Chmod(tmpPath, 0o644)
	}
	if writeErr == nil {
		writeErr = os.Rename(tmpPath, dest)
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return writeErr
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
