// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，作为嵌入向量缓存的二级存储。

# 概述

Manager 封装 go-redis 客户端，负责连接生命周期管理，包括初始化、
后台健康检查与优雅关闭。所有键统一加上 KeyPrefix。

# 主要能力

  - 键值读写：原始字节（Get / Set）与嵌入向量（GetVector / SetVector，小端 float64 编码）。
  - 健康检查：后台定时 Ping，Close 时退出。
  - 错误语义：ErrCacheMiss、ErrClosed 与 ErrCorrupt 哨兵错误。
*/
package cache
