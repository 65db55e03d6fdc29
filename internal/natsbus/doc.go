// Package natsbus 把协作运行时接到 NATS：可选的内嵌服务器、拓扑快照与
// 路由信号的转发，以及按 subject 触发工作流运行的分发器。
package natsbus
