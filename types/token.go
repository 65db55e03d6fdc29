package types

import "unicode/utf8"

// TokenCounter 治理器与摘要器使用的最小计数契约，llm/tokenizer 提供按模型的实现。
type TokenCounter interface {
	CountTokens(text string) int
}

// messageOverhead 每条消息信封（发送方、接收方、类型标记）的估算开销
const messageOverhead = 4

// EstimateTokenizer 按字符估算 token：CJK 约 1.5 字符/token，其余约 4 字符/token。
type EstimateTokenizer struct{}

// NewEstimateTokenizer 创建估算器
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{}
}

// CountTokens 实现 TokenCounter，非空文本至少计 1
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if IsCJK(r) {
			cjk++
		}
	}
	tokens := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if tokens < 1 {
		return 1
	}
	return tokens
}

// CountMessageTokens 正文 token 加信封开销
func (t *EstimateTokenizer) CountMessageTokens(msg AgentMessage) int {
	return messageOverhead + t.CountTokens(msg.Content)
}

// IsCJK 报告 r 是否为中日韩表意文字或全角符号
func IsCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF, // 基本区
		r >= 0x3400 && r <= 0x4DBF, // 扩展 A
		r >= 0x20000 && r <= 0x2A6DF, // 扩展 B
		r >= 0xF900 && r <= 0xFAFF,
		r >= 0x3000 && r <= 0x303F, // 标点
		r >= 0xFF00 && r <= 0xFFEF: // 全角
		return true
	}
	return false
}
