// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供编译后步骤图的执行引擎。

# 概述

一个 Plan 由 NodeStep 与 ConditionStep 组成的有序列表构成。Engine 从第一个
步骤开始线性行走：节点步骤调用注册表中的执行器并把输出双写进运行状态，
条件步骤对受限布尔表达式求值后选择分支；未指定跳转目标时顺延到计划中的
下一个步骤。每个步骤开始前与结束后都会通过 Storage 持久化状态快照与日志。

# 核心接口与类型

  - Plan / Step：编译后的计划，Step 为封闭接口（*NodeStep | *ConditionStep）
  - Engine：运行状态机 pending → running → completed | failed
  - RunState：只追加的运行状态，步骤只能写自己命名空间下的键
  - NodeRegistry：节点注册表协作方（EnsureLoaded / Get / FindMissingNodes）
  - Storage / Store：持久化协作方，MemoryStore 为进程内实现
  - PromptPlanner：通过 llm.Completer 从自然语言生成计划

# 主要能力

  - 环检测：同一次运行重复进入某个步骤即失败（WORKFLOW_LOOP_DETECTED）
  - 失败持久化：错误与 panic 统一在顶层捕获，写入 failed、error、current_step 后再返回
  - 条件求值失败按 false 处理并记录日志
  - Compile：引用校验、重复条件合并、RequiredNodes / MissingNodes 计算
  - 节点 logger 的输出同时写入运行日志，随步骤快照持久化
  - 每次运行与每个步骤一个 OpenTelemetry span，可选 Recorder 指标
*/
package workflow
