// Package store 提供基于 GORM 的工作流持久化：工作流定义、运行记录与
// 每个步骤的状态快照。通过 internal/database 可接入 SQLite、PostgreSQL 或 MySQL。
package store
