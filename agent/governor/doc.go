// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package governor 控制智能体之间的对话噪声。

Governor 按智能体维护状态，ShouldAllow 依次执行：

 1. 冷却：距上次放行不足 Cooldown 则拦截（golang.org/x/time/rate）
 2. 冗余：与最近 3 条嵌入均值的余弦相似度超过阈值则拦截并增加噪声分
 3. token 预算：本周期累计超过 MaxTokensPerCycle 则拦截
 4. 意图循环：最近 LoopDetectionWindow 条（含本条）intent 相同则拦截并增加噪声分

任一检查失败都不修改放行相关的状态。噪声分只增不减，Priority = 1/(1+noise)。

ThreadGovernor 按线程计数放行轮次，达到 MaxCycles 后线程进入终态，
之后的调用直接返回 OutcomeForcedCompletion 与摘要。两种治理器状态相互独立。

Gate 把治理器放在 collaboration.Broker 之前：广播直接发布，其余消息放行后才发布。
*/
package governor
