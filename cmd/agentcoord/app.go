package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/agent/collaboration"
	"github.com/BaSui01/agentcoord/agent/governor"
	"github.com/BaSui01/agentcoord/agent/summarizer"
	"github.com/BaSui01/agentcoord/config"
	"github.com/BaSui01/agentcoord/internal/cache"
	"github.com/BaSui01/agentcoord/internal/database"
	"github.com/BaSui01/agentcoord/internal/metrics"
	"github.com/BaSui01/agentcoord/internal/telemetry"
	"github.com/BaSui01/agentcoord/llm"
	"github.com/BaSui01/agentcoord/llm/embedding"
	anthropicprovider "github.com/BaSui01/agentcoord/llm/providers/anthropic"
	openaiprovider "github.com/BaSui01/agentcoord/llm/providers/openai"
	"github.com/BaSui01/agentcoord/llm/retry"
	"github.com/BaSui01/agentcoord/llm/tokenizer"
	"github.com/BaSui01/agentcoord/workflow"
	"github.com/BaSui01/agentcoord/workflow/nodes"
	"github.com/BaSui01/agentcoord/workflow/store"
)

// =============================================================================
// 🧩 运行时组装
// =============================================================================

// app 按配置组装好的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	telemetry *telemetry.Providers
	db        *database.PoolManager
	cache     *cache.Manager

	embedder   embedding.Provider
	completer  llm.Completer
	summarizer *summarizer.Summarizer
	governor   *governor.Governor
	threads    *governor.ThreadGovernor
	broker     *collaboration.Broker
	agents     *collaboration.Registry
	gate       *governor.Gate

	nodes  *nodes.MapRegistry
	store  workflow.Store
	engine *workflow.Engine
}

// newApp 组装运行时。失败时已创建的资源会被释放。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)

	a.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	if cfg.Redis.Enabled {
		a.cache, err = cache.NewManager(cfg.Redis.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	a.embedder = a.newEmbedder()
	a.completer = newCompleter(cfg.LLM, logger)
	a.summarizer = summarizer.New(cfg.Summarizer.Config,
		summaryBackend(cfg.Summarizer.Primary, a.completer, cfg.Summarizer.MaxBullets),
		summaryBackend(cfg.Summarizer.Secondary, a.completer, cfg.Summarizer.MaxBullets),
		logger,
		summarizer.WithRecorder(a.collector),
	)

	counter := newTokenCounter(cfg.LLM, logger)
	a.governor = governor.New(cfg.Governor, a.embedder, logger,
		governor.WithTokenCounter(counter),
		governor.WithRecorder(a.collector),
	)
	a.threads = governor.NewThreadGovernor(cfg.ThreadGovernor, a.embedder, a.summarizer, logger,
		governor.WithThreadTokenCounter(counter),
		governor.WithThreadRecorder(a.collector),
	)

	a.broker = collaboration.NewBroker(logger, collaboration.WithBrokerRecorder(a.collector))
	a.broker.AddTopologyObserver(a.collector.ObserveTopology)
	a.agents = collaboration.NewRegistry(a.broker, logger, collaboration.WithRegistryRecorder(a.collector))
	a.gate = governor.NewGate(a.broker, a.governor, a.threads, logger)

	a.nodes = nodes.NewDefaultRegistry().MustRegister(nodes.AgentNodes(a.gate, a.threads, a.summarizer)...)

	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	a.engine = workflow.NewEngine(a.nodes, a.store, logger, workflow.WithRecorder(a.collector))
	return a, nil
}

func (a *app) newEmbedder() embedding.Provider {
	cfg := a.cfg.Embedding
	var inner embedding.Provider
	switch cfg.Provider {
	case config.BackendOpenAI:
		inner = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: int64(cfg.Dimensions),
		})
	default:
		inner = embedding.NewHashingProvider(cfg.Dimensions)
	}

	opts := []embedding.CachedOption{embedding.WithCacheRecorder(a.collector)}
	if cfg.RemoteCache && a.cache != nil {
		opts = append(opts, embedding.WithRemoteCache(a.cache))
	}
	return embedding.NewCachedProvider(inner, cfg.Cache, a.logger, opts...)
}

// newCompleter 按配置创建补全后端，外层依次套上重试与追踪。provider 为 none 时返回 nil。
func newCompleter(cfg config.LLMConfig, logger *zap.Logger) llm.Completer {
	var c llm.Completer
	switch cfg.Provider {
	case config.BackendOpenAI:
		var reqOpts []openaioption.RequestOption
		if cfg.Timeout > 0 {
			reqOpts = append(reqOpts, openaioption.WithRequestTimeout(cfg.Timeout))
		}
		c = openaiprovider.New(openaiprovider.Options{
			APIKey:              cfg.APIKey,
			BaseURL:             cfg.BaseURL,
			Model:               cfg.Model,
			Temperature:         cfg.Temperature,
			MaxCompletionTokens: cfg.MaxTokens,
		}, reqOpts...)
	case config.BackendAnthropic:
		var reqOpts []anthropicoption.RequestOption
		if cfg.Timeout > 0 {
			reqOpts = append(reqOpts, anthropicoption.WithRequestTimeout(cfg.Timeout))
		}
		c = anthropicprovider.New(anthropicprovider.Options{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       anthropic.Model(cfg.Model),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, reqOpts...)
	default:
		return nil
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	if cfg.RetryDelay > 0 {
		policy.InitialDelay = cfg.RetryDelay
	}
	return llm.WithTracing(llm.WithRetry(c, policy, logger), nil)
}

// summaryBackend 把配置中的后端名称映射为摘要后端；llm 后端在没有补全器时不可用
func summaryBackend(name string, completer llm.Completer, limit int) summarizer.Backend {
	switch name {
	case config.BackendLLM:
		if completer != nil {
			return summarizer.NewCompleterBackend(completer)
		}
	case config.BackendExtractive:
		return summarizer.NewExtractiveBackend(limit)
	}
	return nil
}

func newTokenCounter(cfg config.LLMConfig, logger *zap.Logger) *tokenizer.Counter {
	if cfg.Tokenizer == config.TokenizerTiktoken {
		return tokenizer.NewCounter(tokenizer.ForModel(cfg.Model), logger)
	}
	return tokenizer.NewCounter(nil, logger)
}

func (a *app) openStore(ctx context.Context) (workflow.Store, error) {
	if a.cfg.Workflow.Store != config.WorkflowStoreDatabase {
		return workflow.NewMemoryStore(), nil
	}
	db, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	gs := store.NewGormStore(db.DB(), a.logger, store.WithTxRetries(a.cfg.Database.TxRetries))
	if err := gs.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate workflow store: %w", err)
	}
	return gs, nil
}

// Close 注销智能体并释放外部连接
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.agents != nil {
		if err := a.agents.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close agent registry: %w", err))
		}
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
