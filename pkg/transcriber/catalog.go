package transcriber

// Option 下拉框选项：界面显示的名称 → 引擎使用的值
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LocalModels 本地模式可选模型
var LocalModels = []Option{
	{Label: "Base", Value: "base"},
	{Label: "Small", Value: "small"},
	{Label: "Medium", Value: "medium"},
	{Label: "Large v3 (CPU heavy)", Value: "large-v3"},
}

// CloudModels 云端模式可选模型
var CloudModels = []Option{
	{Label: "gpt-4o-transcribe", Value: "gpt-4o-transcribe"},
	{Label: "gpt-4o-mini-transcribe", Value: "gpt-4o-mini-transcribe"},
	{Label: "whisper-1", Value: "whisper-1"},
}

// Languages 语言名称 → 语言代码
var Languages = []Option{
	{Label: "French", Value: "fr"},
	{Label: "English", Value: "en"},
	{Label: "Spanish", Value: "es"},
	{Label: "German", Value: "de"},
	{Label: "Italian", Value: "it"},
	{Label: "Portuguese", Value: "pt"},
	{Label: "Dutch", Value: "nl"},
	{Label: "Russian", Value: "ru"},
	{Label: "Arabic", Value: "ar"},
	{Label: "Chinese", Value: "zh"},
	{Label: "Japanese", Value: "ja"},
}

const (
	DefaultLocalModel = "Large v3 (CPU heavy)"
	DefaultCloudModel = "gpt-4o-transcribe"
	DefaultLanguage   = "French"
)

// Lookup 按 Label 查找
func Lookup(options []Option, label string) (string, bool) {
	for _, o := range options {
		if o.Label == label {
			return o.Value, true
		}
	}
	return "", false
}

// LanguageName 语言代码 → 名称，未知代码原样返回
func LanguageName(code string) string {
	for _, o := range Languages {
		if o.Value == code {
			return o.Label
		}
	}
	return code
}
