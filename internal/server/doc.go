// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供运维 HTTP 服务器：Prometheus 指标、健康与就绪检查、
消息中心拓扑快照。

# 核心类型

  - Manager：封装 net/http.Server 的生命周期，非阻塞启动，
    Wait 在上下文结束或服务异常时优雅关闭。
  - NewOpsHandler：构建 /healthz、/readyz、/metrics 与 /topology 路由；
    就绪检查按名称排序执行，任一失败返回 503。
*/
package server
