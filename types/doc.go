// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentcoord 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent/collaboration、
agent/governor、workflow、llm 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - AgentMessage：智能体消息（From、To、Type、Content、Metadata）
  - MessageType：封闭枚举 question / response / task，带 Valid 校验
  - Error / ErrorCode：结构化错误体系，含 Retryable、Provider 标记
  - TokenCounter：最小 Token 计数接口（CountTokens(string) int）

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithWorkflowID / WithAgentID / WithThreadID
  - 错误工具链：NewError / Errorf / GetErrorCode / IsCode / IsRetryable
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
