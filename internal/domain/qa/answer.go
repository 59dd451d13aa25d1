package qa

import "strings"

// NoRelevantInfoAnswer 上下文中找不到答案时返回给调用方的固定文本
const NoRelevantInfoAnswer = "No relevant information found in the document to answer this question."

// Answer 一次答案生成的结果，两种形态：
//   - StructuredAnswer: 模型按 {answer, condition, rationale} 返回
//   - RawAnswer: 响应无法按结构解析，保留原文
type Answer interface {
	// Text 返回面向调用方的答案文本
	Text() string
	isAnswer()
}

// StructuredAnswer 结构化答案
type StructuredAnswer struct {
	Answer    string `json:"answer"`
	Condition string `json:"condition"`
	Rationale string `json:"rationale"`
}

// Text 模型返回空 answer 时视为上下文中没有答案
func (a StructuredAnswer) Text() string {
	if strings.TrimSpace(a.Answer) == "" {
		return NoRelevantInfoAnswer
	}
	return a.Answer
}

func (StructuredAnswer) isAnswer() {}

// RawAnswer 原始文本答案
type RawAnswer struct {
	Content string
}

func (a RawAnswer) Text() string { return a.Content }
func (RawAnswer) isAnswer()      {}
