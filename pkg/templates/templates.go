package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/transcriber"
)

// FormatTime 格式化时间
func FormatTime(t time.Time) string {
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%d h ago", int(diff.Hours()))
	}
	return t.Format("2006-01-02 15:04")
}

// IsVideoFile 判断是否是视频文件
func IsVideoFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".webm", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".m4v":
		return true
	}
	return false
}

// GetMediaIcon 获取媒体图标
func GetMediaIcon(filename string) string {
	if IsVideoFile(filename) {
		return "🎬"
	}
	return "🎵"
}

var statusText = map[models.JobStatus]string{
	models.StatusPending: "Pending",
	models.StatusRunning: "Running",
	models.StatusDone:    "Done",
	models.StatusError:   "Failed",
}

var fileStatusText = map[models.FileStatus]string{
	models.FileQueued:  "queued",
	models.FileRunning: "running",
	models.FileDone:    "done",
	models.FileError:   "error",
}

// RenderJobCard 渲染任务卡片；任务未结束时卡片每秒自我刷新
func RenderJobCard(job models.Job) template.HTML {
	var html strings.Builder

	status := statusText[job.Status]
	if status == "" {
		status = "Unknown"
	}

	poll := ""
	if !job.Status.IsTerminal() {
		poll = fmt.Sprintf(` hx-get="/api/jobs/%s/card" hx-trigger="every 1s" hx-swap="outerHTML"`, job.ID)
	}

	mode := "local"
	if job.UseAPI {
		mode = "API"
	}

	fmt.Fprintf(&html, `<div class="job-card" id="job-%s" data-status="%s"%s>`,
		job.ID, job.Status, poll)
	fmt.Fprintf(&html, `<p><strong>%s</strong> · %s · %s · %s · %s</p>`,
		status,
		template.HTMLEscapeString(job.Model),
		template.HTMLEscapeString(transcriber.LanguageName(job.Lang)),
		mode,
		FormatTime(job.CreatedAt))
	fmt.Fprintf(&html, `<progress value="%.0f" max="100"></progress> %.0f%%`,
		job.Progress*100, job.Progress*100)

	html.WriteString("<ul>")
	for _, f := range job.Files {
		fmt.Fprintf(&html, `<li>%s %s · %s · %.0f%%`,
			GetMediaIcon(f.Name), template.HTMLEscapeString(f.Name), fileStatusText[f.Status], f.Progress*100)
		if f.Error != nil {
			fmt.Fprintf(&html, ` · <span class="error">%s</span>`, template.HTMLEscapeString(*f.Error))
		}
		html.WriteString("</li>")
	}
	html.WriteString("</ul>")

	if job.Status.IsTerminal() && job.CountFiles(models.FileDone) > 0 {
		fmt.Fprintf(&html, `<p><a href="/api/download/%s">📦 ZIP</a> · <a href="/api/download-txt/%s?kind=transcription">📄 Transcripts</a>`,
			job.ID, job.ID)
		if job.OutputType != nil {
			fmt.Fprintf(&html, ` · <a href="/api/download-txt/%s?kind=summary">📝 %s</a>`,
				job.ID, template.HTMLEscapeString(*job.OutputType))
		}
		html.WriteString("</p>")
	}

	fmt.Fprintf(&html, `<details><summary>Logs (%d)</summary><pre>%s</pre></details>`,
		len(job.Logs), template.HTMLEscapeString(strings.Join(job.Logs, "\n")))
	html.WriteString("</div>")

	return template.HTML(html.String())
}

// PageData 首页下拉框数据
type PageData struct {
	LocalModels       []transcriber.Option `json:"local_models"`
	CloudModels       []transcriber.Option `json:"cloud_models"`
	Languages         []transcriber.Option `json:"languages"`
	OutputTypes       []transcriber.Option `json:"output_types"`
	DefaultLocalModel string               `json:"default_local_model"`
	DefaultCloudModel string               `json:"default_cloud_model"`
	DefaultLanguage   string               `json:"default_language"`
	DefaultOutputType string               `json:"default_output_type"`
	CloudAvailable    bool                 `json:"cloud_available"`
}

// NewPageData 使用内置的模型、语言和文档类型
func NewPageData(cloudAvailable bool) PageData {
	return PageData{
		LocalModels:       transcriber.LocalModels,
		CloudModels:       transcriber.CloudModels,
		Languages:         transcriber.Languages,
		OutputTypes:       transcriber.OutputTypes,
		DefaultLocalModel: transcriber.DefaultLocalModel,
		DefaultCloudModel: transcriber.DefaultCloudModel,
		DefaultLanguage:   transcriber.DefaultLanguage,
		DefaultOutputType: transcriber.DefaultOutputType,
		CloudAvailable:    cloudAvailable,
	}
}

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// RenderIndex 渲染首页
func RenderIndex(data PageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("渲染首页失败: %w", err)
	}
	return buf.Bytes(), nil
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>App Whisper</title>
<script src="https://unpkg.com/htmx.org@1.9.12"></script>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; }
.job-card { border-top: 1px solid #ccc; padding: .5rem 0; }
.error { color: #b00020; }
pre { max-height: 16rem; overflow: auto; background: #f6f6f6; padding: .5rem; }
</style>
</head>
<body>
<h1>App Whisper</h1>
<form id="transcribe-form">
  <p>
    <label><input type="radio" name="use_api" value="0" checked> Local</label>
    {{if .CloudAvailable}}<label><input type="radio" name="use_api" value="1"> OpenAI API</label>{{end}}
  </p>
  <p>
    <label>Model
      <select name="model_label" id="local-models">
        {{range .LocalModels}}<option{{if eq .Label $.DefaultLocalModel}} selected{{end}}>{{.Label}}</option>{{end}}
      </select>
      <select name="model_label" id="cloud-models" disabled hidden>
        {{range .CloudModels}}<option{{if eq .Label $.DefaultCloudModel}} selected{{end}}>{{.Label}}</option>{{end}}
      </select>
    </label>
    <label>Language
      <select name="lang_label">
        {{range .Languages}}<option{{if eq .Label $.DefaultLanguage}} selected{{end}}>{{.Label}}</option>{{end}}
      </select>
    </label>
  </p>
  <p id="cloud-options" hidden>
    <label>Document
      <select name="output_type" disabled>
        {{range .OutputTypes}}<option value="{{.Value}}"{{if eq .Value $.DefaultOutputType}} selected{{end}}>{{.Label}}</option>{{end}}
      </select>
    </label>
    <label>API key <input type="password" name="api_key" placeholder="OPENAI_API_KEY" disabled></label>
  </p>
  <p><input type="file" name="files" multiple required> <button type="submit">Transcribe</button></p>
  <p class="error" id="form-error"></p>
</form>
<div id="jobs"></div>
<script>
const form = document.getElementById('transcribe-form');
form.addEventListener('change', () => {
  const cloud = form.use_api.value === '1';
  document.getElementById('local-models').disabled = cloud;
  document.getElementById('local-models').hidden = cloud;
  document.getElementById('cloud-models').disabled = !cloud;
  document.getElementById('cloud-models').hidden = !cloud;
  document.getElementById('cloud-options').hidden = !cloud;
  form.output_type.disabled = !cloud;
  form.api_key.disabled = !cloud;
});
form.addEventListener('submit', async (e) => {
  e.preventDefault();
  const err = document.getElementById('form-error');
  err.textContent = '';
  const resp = await fetch('/api/transcribe', { method: 'POST', body: new FormData(form) });
  const body = await resp.json();
  if (!resp.ok) { err.textContent = body.error || resp.statusText; return; }
  const holder = document.createElement('div');
  document.getElementById('jobs').prepend(holder);
  htmx.ajax('GET', '/api/jobs/' + body.job_id + '/card', { target: holder, swap: 'outerHTML' });
});
</script>
</body>
</html>
`
