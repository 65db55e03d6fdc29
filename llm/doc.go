// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供单轮文本补全的最小接入层，供摘要器与计划生成使用。

# 核心接口

  - [Completer]：Complete(ctx, prompt) / Name
  - [CompleterFunc]：把函数适配为 Completer，测试与离线后端常用

# 包装器

  - [WithRetry]：按 retry.Policy 重试可重试错误，空响应视为可重试的上游错误
  - [WithTracing]：为每次补全创建 llm.complete span

# 子包

  - embedding：嵌入向量提供者（OpenAI / 本地哈希）与缓存
  - tokenizer：tiktoken 与估算计数器
  - retry：指数退避重试策略
  - providers/openai、providers/anthropic：基于官方 SDK 的 Completer 实现
*/
package llm
