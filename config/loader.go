// =============================================================================
// 📦 AgentCoord 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentcoord.yaml").
//	    WithEnvPrefix("AGENTCOORD").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/agent/summarizer"
	"github.com/BaSui01/agentcoord/internal/cache"
	"github.com/BaSui01/agentcoord/internal/database"
	"github.com/BaSui01/agentcoord/internal/natsbus"
	"github.com/BaSui01/agentcoord/internal/telemetry"
	"github.com/BaSui01/agentcoord/llm/embedding"
	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentCoord 的完整配置结构
type Config struct {
	// Governor 每个智能体的发言治理
	Governor governor.Config `yaml:"governor" env:"GOVERNOR"`

	// ThreadGovernor 按对话线程的治理
	ThreadGovernor governor.ThreadConfig `yaml:"thread_governor" env:"THREAD_GOVERNOR"`

	// Summarizer 对话摘要
	Summarizer SummarizerConfig `yaml:"summarizer" env:"SUMMARIZER"`

	// Embedding 嵌入后端与缓存
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// LLM 摘要与计划生成使用的补全后端
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Workflow 工作流引擎
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Database 运行记录存储
	Database database.Config `yaml:"database" env:"DATABASE"`

	// Redis 嵌入向量二级缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// NATS 事件总线
	NATS natsbus.Config `yaml:"nats" env:"NATS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry telemetry.Config `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标端点
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Agents serve 启动时注册的远程智能体，投递转发到 NATS 收件 subject
	Agents []AgentConfig `yaml:"agents" env:"-"`
}

// AgentConfig 远程智能体声明
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	// 订阅的话题
	Topics []string `yaml:"topics"`
}

// 后端名称
const (
	BackendNone       = "none"
	BackendHashing    = "hashing"
	BackendOpenAI     = "openai"
	BackendAnthropic  = "anthropic"
	BackendLLM        = "llm"
	BackendExtractive = "extractive"

	TokenizerEstimate = "estimate"
	TokenizerTiktoken = "tiktoken"

	WorkflowStoreMemory   = "memory"
	WorkflowStoreDatabase = "database"
)

// SummarizerConfig 摘要配置
type SummarizerConfig struct {
	summarizer.Config `yaml:",inline"`

	// 主后端: llm | extractive
	Primary string `yaml:"primary" env:"PRIMARY"`
	// 备用后端: extractive | none
	Secondary string `yaml:"secondary" env:"SECONDARY"`
}

// EmbeddingConfig 嵌入配置
type EmbeddingConfig struct {
	// 后端: hashing | openai
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 模型名称（openai）
	Model string `yaml:"model" env:"MODEL"`
	// 向量维度；hashing 为特征桶数，openai 为请求维度，0 表示默认
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// API Key（可选，默认读 OPENAI_API_KEY）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 本地缓存
	Cache embedding.CacheConfig `yaml:"cache" env:"CACHE"`
	// 启用 Redis 二级缓存（需要 redis.enabled）
	RemoteCache bool `yaml:"remote_cache" env:"REMOTE_CACHE"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider: none | openai | anthropic
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key（为空时各 SDK 读取自己的环境变量）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大输出 Token 数
	MaxTokens int64 `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数（总尝试次数为 MaxRetries+1）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试初始延迟（线性递增）
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// Token 计数: estimate | tiktoken
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
}

// WorkflowConfig 工作流配置
type WorkflowConfig struct {
	// 计划文件目录
	PlansDir string `yaml:"plans_dir" env:"PLANS_DIR"`
	// 监听计划目录变更
	WatchPlans bool `yaml:"watch_plans" env:"WATCH_PLANS"`
	// 存储: memory | database
	Store string `yaml:"store" env:"STORE"`
	// 触发器并发运行上限，<= 0 不限制
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	cache.Config `yaml:",inline"`

	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否暴露 /metrics
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 路径
	Path string `yaml:"path" env:"PATH"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTCOORD",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段。匿名嵌入的结构体沿用外层前缀。
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if fieldType.Anonymous && field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，返回全部问题
func (c *Config) Validate() error {
	var errs []error

	if err := c.Governor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("governor: %w", err))
	}
	if c.ThreadGovernor.Cooldown < 0 {
		errs = append(errs, errors.New("thread_governor: cooldown cannot be negative"))
	}
	if !oneOf(c.Summarizer.Primary, BackendLLM, BackendExtractive) {
		errs = append(errs, fmt.Errorf("summarizer: unknown primary backend %q", c.Summarizer.Primary))
	}
	if !oneOf(c.Summarizer.Secondary, BackendExtractive, BackendNone, "") {
		errs = append(errs, fmt.Errorf("summarizer: unknown secondary backend %q", c.Summarizer.Secondary))
	}
	if c.Summarizer.Primary == BackendLLM && c.LLM.Provider == BackendNone {
		errs = append(errs, errors.New("summarizer: primary backend llm requires llm.provider"))
	}
	if !oneOf(c.Embedding.Provider, BackendHashing, BackendOpenAI) {
		errs = append(errs, fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.RemoteCache && !c.Redis.Enabled {
		errs = append(errs, errors.New("embedding: remote_cache requires redis.enabled"))
	}
	if !oneOf(c.LLM.Provider, BackendNone, BackendOpenAI, BackendAnthropic) {
		errs = append(errs, fmt.Errorf("llm: unknown provider %q", c.LLM.Provider))
	}
	if !oneOf(c.LLM.Tokenizer, TokenizerEstimate, TokenizerTiktoken) {
		errs = append(errs, fmt.Errorf("llm: unknown tokenizer %q", c.LLM.Tokenizer))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm: max_retries cannot be negative"))
	}
	if !oneOf(c.Workflow.Store, WorkflowStoreMemory, WorkflowStoreDatabase) {
		errs = append(errs, fmt.Errorf("workflow: unknown store %q", c.Workflow.Store))
	}
	if c.Workflow.WatchPlans && c.Workflow.PlansDir == "" {
		errs = append(errs, errors.New("workflow: watch_plans requires plans_dir"))
	}
	if c.Workflow.Store == WorkflowStoreDatabase {
		if _, err := database.Dialector(c.Database.Driver, c.Database.DSN); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		if err := c.Database.Pool.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		if c.Database.TxRetries < 0 {
			errs = append(errs, errors.New("database: tx_retries must be non-negative"))
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if !oneOf(c.Log.Format, "json", "console") {
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics: addr is required when metrics are enabled"))
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
		case types.IsBroadcastAddress(a.ID):
			errs = append(errs, fmt.Errorf("agents[%d]: id %q is reserved", i, a.ID))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
	}
	if len(c.Agents) > 0 && !c.NATS.Enabled() {
		errs = append(errs, errors.New("agents: remote agents require nats.url or nats.embedded"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
