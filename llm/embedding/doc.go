// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 embedding 提供统一的文本嵌入接口，供会话治理器做相似度判定。

# 概述

Provider 只有 Embed(ctx, text) 一个核心方法，返回归一化向量。
治理器通过 Cosine 与 Mean 计算候选消息与最近窗口均值的相似度。

# 核心类型

  - Provider：统一嵌入接口。
  - HashingProvider：离线确定性特征哈希嵌入（单词 + 字符三元组）。
  - OpenAIProvider：基于 openai-go SDK 的远程嵌入。
  - CachedProvider：按内容缓存，本地有界 LRU + 可选 Redis 二级缓存 + singleflight 合并。

# 使用方式

	base := embedding.NewHashingProvider(0)
	provider := embedding.NewCachedProvider(base, embedding.DefaultCacheConfig(), logger)

	vec, err := provider.Embed(ctx, "Plans for launch")
*/
package embedding
