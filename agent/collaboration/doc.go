// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package collaboration 提供进程内的智能体消息中心与在线智能体注册表。

# 核心类型

  - Broker：记录已注册智能体与主题订阅，Publish 补全 id/时间戳后同步调用全部监听器
  - Registry：持有实现 Agent 接口的在线智能体，作为 Broker 的监听器完成路由

# 路由规则

  - To 为 "*" 或 "broadcast"：投递给除发送者外的全部智能体
  - 其他：直接匹配 To 的智能体加上主题 To 的订阅者，去重并排除发送者
  - 接收方为空：发出 StateChange{Direction: incoming, Routed: false}，不返回错误
  - 多接收方按注册顺序投递，每个接收方拿到 To 重绑定后的副本

拓扑（智能体、连接、订阅）变化时通知 TopologyObserver，
internal/natsbus 用它把拓扑快照发布到 NATS。
*/
package collaboration
