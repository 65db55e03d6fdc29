// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package summarizer 把一段有界的智能体对话压缩成最多 5 条 "- " 开头的要点。
// 主后端失败时回退到备用后端，两者都失败返回 SUMMARIZATION_FAILURE。
package summarizer
