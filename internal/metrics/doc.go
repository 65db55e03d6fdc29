// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的协作运行时指标采集能力，覆盖
消息中心、治理器、工作流、摘要、缓存与数据库六个维度。

# 概述

Collector 通过 promauto.With 注册到调用方给定的 Registry（为 nil 时
新建并附带 Go 运行时与进程指标），Handler 直接暴露该 Registry。
Collector 同时实现各业务包定义的 Recorder 接口，业务包不依赖本包。

# 主要能力

  - 消息中心：发布数（按 type/broadcast）、投递数与投递失败数
    （按 recipient）、无接收者消息数、当前拓扑智能体数。
  - 治理器：按 reason 分组的决策数、按 agent_id 的噪声分数。
  - 工作流：按终态的运行数与耗时、按 kind/result 的步骤数与耗时。
  - 摘要：按 backend/result 分组的后端调用数。
  - 缓存：命中与未命中计数，按 cache_type 分组。
  - 数据库：打开/空闲连接数 Gauge，按 database 分组。
*/
package metrics
