// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，工作流存储
（workflow/store）通过它访问 SQLite、PostgreSQL 或 MySQL。

# 概述

Open 根据驱动名选择 dialector（glebarez/sqlite、gorm postgres、gorm mysql），
并以 PoolManager 统一管理连接生命周期、空闲回收与最大连接数限制。
后台健康检查定时探活，Close 时停止。GORM 自身的日志经 GormLogger 转发到 zap。

# 核心类型

  - Config / PoolConfig：驱动、连接串与连接池参数。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、Close()。
  - GormLogger：gorm logger.Interface 的 zap 实现，慢查询按 Warn 输出。

# 主要能力

  - 事务管理：WithTransaction 单次事务，WithTransactionRetry 对死锁、
    序列化失败、sqlite 锁等瞬时错误按 llm/retry 策略指数退避重试。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package database
