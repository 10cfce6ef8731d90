package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
	"github.com/Romano-de-la-vega/app-whisper/pkg/templates"
	"github.com/Romano-de-la-vega/app-whisper/pkg/transcriber"
)

// handleHealth 健康检查（桌面壳启动时轮询）
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"base_dir": s.paths.BaseDir,
	})
}

// handleIndex 首页
func (s *Server) handleIndex(c *gin.Context) {
	page, err := templates.RenderIndex(templates.NewPageData(s.cloudAvailable))
	if err != nil {
		log.Printf("❌ %v", err)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// handleOptions 模型、语言、文档类型列表
func (s *Server) handleOptions(c *gin.Context) {
	c.JSON(http.StatusOK, templates.NewPageData(s.cloudAvailable))
}

// transcribeForm 校验后的表单
type transcribeForm struct {
	useAPI     bool
	apiKey     string
	model      string
	lang       string
	outputType *string
}

// parseTranscribeForm 校验表单字段，返回的错误信息直接给用户看
func (s *Server) parseTranscribeForm(c *gin.Context) (transcribeForm, error) {
	var form transcribeForm

	switch c.DefaultPostForm("use_api", "0") {
	case "", "0":
	case "1":
		form.useAPI = true
	default:
		return form, errors.New("use_api must be 0 or 1")
	}

	label := c.PostForm("model_label")
	if form.useAPI {
		model, ok := transcriber.Lookup(transcriber.CloudModels, label)
		if !ok {
			return form, fmt.Errorf("unknown API model: %q", label)
		}
		if !s.cloudAvailable {
			return form, errors.New("cloud transcription is not available on this server")
		}
		form.model = model
	} else {
		model, ok := transcriber.Lookup(transcriber.LocalModels, label)
		if !ok {
			return form, fmt.Errorf("unknown local model: %q", label)
		}
		form.model = model
	}

	langLabel := c.PostForm("lang_label")
	lang, ok := transcriber.Lookup(transcriber.Languages, langLabel)
	if !ok {
		return form, fmt.Errorf("unknown language: %q", langLabel)
	}
	form.lang = lang

	if form.useAPI {
		outputType := c.PostForm("output_type")
		if outputType == "" {
			outputType = transcriber.DefaultOutputType
		}
		if !transcriber.IsOutputType(outputType) {
			return form, fmt.Errorf("unknown output type: %q", outputType)
		}
		form.outputType = &outputType
		form.apiKey = strings.TrimSpace(c.PostForm("api_key"))
	}

	return form, nil
}

// handleTranscribe 接收上传、创建任务并立即派发
func (s *Server) handleTranscribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

	mf, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("upload exceeds the %d byte limit", tooLarge.Limit),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}

	uploads := mf.File["files"]
	if len(uploads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}

	form, err := s.parseTranscribeForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.New().String()
	uploadDir := filepath.Join(s.paths.UploadsDir(), jobID)
	outputDir := filepath.Join(s.paths.TranscriptionsDir(), jobID)
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("❌ 创建任务目录失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job directories"})
			return
		}
	}

	files := make([]models.FileRecord, 0, len(uploads))
	seen := make(map[string]bool, len(uploads))
	for i, fh := range uploads {
		name := uniqueFileName(safeFileName(fh.Filename, i), seen)
		dest := filepath.Join(uploadDir, name)
		if err := c.SaveUploadedFile(fh, dest); err != nil {
			log.Printf("❌ 保存上传文件失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded file"})
			return
		}
		files = append(files, models.FileRecord{Name: name, Path: dest})
	}

	job := models.NewJob(jobID, form.useAPI, form.model, form.lang, form.outputType, files)
	job.Logs = append(job.Logs, fmt.Sprintf("Job %s created with %d file(s).", jobID, len(files)))
	if err := s.store.Save(job); err != nil {
		log.Printf("❌ 保存任务失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register job"})
		return
	}

	log.Printf("📝 任务已创建: %s (%d 个文件, model=%s, api=%v)", jobID, len(files), form.model, form.useAPI)
	s.publishCreated(job)
	s.dispatcher.Dispatch(jobID, form.apiKey)

	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

func (s *Server) publishCreated(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, models.NewJobEvent(models.EventJobCreated, job.Clone())); err != nil {
		log.Printf("⚠️  发送事件失败 (任务 %s): %v", job.ID, err)
	}
}

// safeFileName 只保留文件名本身，防止路径穿越
func safeFileName(name string, idx int) string {
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == "/" || base == ".." || base == "" {
		return fmt.Sprintf("upload_%d", idx+1)
	}
	return base
}

// uniqueFileName 主文件名重复时加 _2、_3 后缀
// 转写稿按主文件名命名，a.mp3 和 a.wav 也算重复
func uniqueFileName(name string, seen map[string]bool) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := stem
	for n := 2; seen[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s_%d", stem, n)
	}
	seen[strings.ToLower(candidate)] = true
	return candidate + ext
}

// handleStatus 返回任务快照
func (s *Server) handleStatus(c *gin.Context) {
	job, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleJobCard 任务卡片（HTMX 局部刷新）
func (s *Server) handleJobCard(c *gin.Context) {
	job, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(templates.RenderJobCard(job)))
}

// snapshot 取任务快照，不存在时直接写 404
func (s *Server) snapshot(c *gin.Context) (models.Job, bool) {
	job, err := s.store.Snapshot(c.Param("job_id"))
	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return job, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return job, false
	}
	return job, true
}
