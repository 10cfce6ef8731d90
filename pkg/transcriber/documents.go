package transcriber

import (
	"fmt"
	"strings"
)

// DefaultOutputType 云端模式默认生成的衍生文档
const DefaultOutputType = "summary"

type documentKind struct {
	label  string
	prompt string
}

// 提示词以 %s 结尾，用于填入转写文本
var documentKinds = map[string]documentKind{
	"summary": {
		label:  "Summary",
		prompt: "Summarize the following text in %s, without an introductory or concluding sentence:\n%s",
	},
	"report": {
		label:  "Meeting report",
		prompt: "Write a meeting report in %s of the following text, without an introductory or concluding sentence:\n%s",
	},
	"specification": {
		label:  "Specification",
		prompt: "From the following text, write a requirements specification in %s, without an introductory or concluding sentence:\n%s",
	},
	"briefing_notes": {
		label:  "Briefing notes",
		prompt: "From the following text, write scoping notes in %s, without an introductory or concluding sentence:\n%s",
	},
}

// OutputTypes 衍生文档类型（固定顺序，供界面使用）
var OutputTypes = []Option{
	{Label: documentKinds["summary"].label, Value: "summary"},
	{Label: documentKinds["report"].label, Value: "report"},
	{Label: documentKinds["specification"].label, Value: "specification"},
	{Label: documentKinds["briefing_notes"].label, Value: "briefing_notes"},
}

// IsOutputType 是否为已知的衍生文档类型
func IsOutputType(name string) bool {
	_, ok := documentKinds[name]
	return ok
}

// BuildPrompt 用转写文本填充衍生文档的提示词
func BuildPrompt(outputType, lang, text string) (string, error) {
	kind, ok := documentKinds[outputType]
	if !ok {
		return "", fmt.Errorf("未知的输出类型: %s", outputType)
	}
	return fmt.Sprintf(kind.prompt, LanguageName(lang), strings.TrimSpace(text)), nil
}
