// Package config 提供 AgentCoord 的配置管理功能。
//
// 配置来自默认值、YAML 文件与 AGENTCOORD_* 环境变量，按此顺序覆盖。
// 各组件自己的配置结构（治理器、摘要、缓存、数据库、NATS、遥测）直接
// 嵌入顶层 Config，环境变量名由 env tag 逐级拼接。
package config
