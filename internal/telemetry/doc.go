// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为工作流运行与
// LLM 调用产生的 span 配置 OTLP/gRPC 导出。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
