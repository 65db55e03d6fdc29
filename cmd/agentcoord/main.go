// =============================================================================
// AgentCoord 主入口
// =============================================================================
// 受治理的多智能体协作与工作流引擎
//
// 使用方法:
//
//	agentcoord serve --config agentcoord.yaml   # 启动常驻服务（计划目录、NATS 触发、指标）
//	agentcoord run plans/onboarding.yaml --event '{"id":"T-1"}'
//	agentcoord validate plans/onboarding.yaml   # 校验计划文件
//	agentcoord plan "notify ops when a ticket is escalated" --name escalate
//	agentcoord runs show <run-id>               # 查看运行记录（数据库存储）
//	agentcoord send --to coder --content "..."  # 经 NATS 入口发送消息
//	agentcoord version                          # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
