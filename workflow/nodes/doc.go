// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package nodes 提供内存节点注册表与内置节点。

MapRegistry 实现 workflow.NodeRegistry 与 workflow.NodeCatalog，支持静态注册
与延迟 Loader。内置节点：

  - core.set: 把解析后的 inputs 原样作为 outputs
  - core.noop: 空操作
  - core.log: 把 inputs.message 写入运行日志
  - core.fail: 以 inputs.message 报告错误，可配合 on_failure 分支

AgentNodes 把工作流接到受治理的消息中心：

  - agent.send: 经 governor.Gate 发送消息，被拦截不算失败
  - agent.summarize: 摘要某个线程的最近历史
*/
package nodes
