// =============================================================================
// 📦 AgentCoord 默认配置
// =============================================================================
// 提供所有配置项的合理默认值，离线即可运行：哈希嵌入、抽取式摘要、内存存储
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/agent/summarizer"
	"github.com/BaSui01/agentcoord/internal/cache"
	"github.com/BaSui01/agentcoord/internal/database"
	"github.com/BaSui01/agentcoord/internal/natsbus"
	"github.com/BaSui01/agentcoord/internal/telemetry"
	"github.com/BaSui01/agentcoord/llm/embedding"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Governor:       governor.DefaultConfig(),
		ThreadGovernor: governor.DefaultThreadConfig(),
		Summarizer:     DefaultSummarizerConfig(),
		Embedding:      DefaultEmbeddingConfig(),
		LLM:            DefaultLLMConfig(),
		Workflow:       DefaultWorkflowConfig(),
		Database:       DefaultDatabaseConfig(),
		Redis:          DefaultRedisConfig(),
		NATS:           natsbus.DefaultConfig(),
		Log:            DefaultLogConfig(),
		Telemetry:      telemetry.DefaultConfig(),
		Metrics:        DefaultMetricsConfig(),
	}
}

// DefaultSummarizerConfig 返回默认摘要配置
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		Config:    summarizer.DefaultConfig(),
		Primary:   BackendExtractive,
		Secondary: BackendNone,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider: BackendHashing,
		Model:    "text-embedding-3-small",
		Cache:    embedding.DefaultCacheConfig(),
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    BackendNone,
		Temperature: 0.2,
		MaxTokens:   1024,
		Timeout:     2 * time.Minute,
		MaxRetries:  2,
		RetryDelay:  500 * time.Millisecond,
		Tokenizer:   TokenizerEstimate,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		PlansDir:          "",
		WatchPlans:        false,
		Store:             WorkflowStoreMemory,
		MaxConcurrentRuns: 4,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() database.Config {
	return database.Config{
		Driver:    database.DriverSQLite,
		DSN:       "agentcoord.db",
		TxRetries: 3,
		Pool:      database.DefaultPoolConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Config:  cache.DefaultConfig(),
		Enabled: false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Path:      "/metrics",
		Namespace: "agentcoord",
	}
}
