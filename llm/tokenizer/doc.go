// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于治理器的 Token 预算与摘要输入裁剪。
package tokenizer
