package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/internal/natsbus"
	"github.com/BaSui01/agentcoord/internal/server"
	"github.com/BaSui01/agentcoord/workflow/planfile"
)

// dbStatsInterval 连接池指标采样间隔
const dbStatsInterval = 15 * time.Second

// newServeCmd creates the "agentcoord serve" subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator until interrupted",
		Long: `Serve loads plans from workflow.plans_dir (reloading on change when
workflow.watch_plans is set), connects to NATS for triggers, remote agents and
routing signals, and exposes /metrics, /healthz, /readyz and /topology.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer logger.Sync()

			logger.Info("Starting AgentCoord",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			s := NewServer(a)
			if err := s.Start(ctx); err != nil {
				s.Shutdown(context.Background())
				return err
			}
			err = s.Wait(ctx)
			s.Shutdown(context.Background())
			logger.Info("AgentCoord stopped")
			return err
		},
	}
}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 常驻进程：计划目录、NATS 总线与运维端点
type Server struct {
	app    *app
	logger *zap.Logger

	bus        *natsbus.Bus
	client     *natsbus.Client
	detach     []func()
	dispatcher *natsbus.TriggerDispatcher
	ingress    *natsbus.Ingress
	watcher    *planfile.Watcher
	ops        *server.Manager

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer 创建服务器实例
func NewServer(a *app) *Server {
	return &Server{app: a, logger: a.logger.With(zap.String("component", "server"))}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有子系统。返回错误时调用方仍需 Shutdown。
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// 1. NATS：路由信号、远程智能体、入口与触发器
	if s.app.cfg.NATS.Enabled() {
		if err := s.startNATS(ctx); err != nil {
			return fmt.Errorf("failed to start nats: %w", err)
		}
	}

	// 2. 计划目录
	if err := s.loadPlans(ctx); err != nil {
		return fmt.Errorf("failed to load plans: %w", err)
	}

	// 3. 运维端点
	if s.app.cfg.Metrics.Enabled {
		if err := s.startOpsServer(); err != nil {
			return fmt.Errorf("failed to start ops server: %w", err)
		}
	}

	// 4. 连接池指标
	s.done = make(chan struct{})
	go s.sampleDBStats(ctx)

	s.logger.Info("All subsystems started",
		zap.Bool("nats", s.client != nil),
		zap.Bool("ops_server", s.ops != nil),
		zap.Int("remote_agents", len(s.app.cfg.Agents)),
	)
	return nil
}

func (s *Server) startNATS(ctx context.Context) error {
	cfg := s.app.cfg.NATS
	var err error
	if cfg.URL == "" {
		if s.bus, err = natsbus.NewBus(cfg, s.logger); err != nil {
			return err
		}
		s.client, err = natsbus.NewClient(s.bus, s.logger)
	} else {
		s.client, err = natsbus.Connect(cfg.URL, s.logger)
	}
	if err != nil {
		return err
	}

	subjects := natsbus.NewSubjects(cfg.SubjectPrefix)
	s.detach = append(s.detach,
		natsbus.NewBridge(s.client, subjects, s.logger).Attach(s.app.broker, s.app.agents))

	for _, ac := range s.app.cfg.Agents {
		agent := natsbus.NewRemoteAgent(ac.ID, ac.Name, ac.Role, s.client, subjects)
		if err := s.app.agents.Register(agent); err != nil {
			return fmt.Errorf("register agent %s: %w", ac.ID, err)
		}
		for _, topic := range ac.Topics {
			s.detach = append(s.detach, s.app.broker.Subscribe(topic, ac.ID))
		}
	}

	s.ingress = natsbus.NewIngress(s.client, s.app.gate, subjects, s.logger)
	if err := s.ingress.Start(ctx); err != nil {
		return err
	}

	s.dispatcher = natsbus.NewTriggerDispatcher(s.client, s.client, s.app.store, s.app.engine,
		subjects, s.app.cfg.Workflow.MaxConcurrentRuns, s.logger)
	return s.dispatcher.Start(ctx)
}

func (s *Server) loadPlans(ctx context.Context) error {
	cfg := s.app.cfg.Workflow
	if cfg.PlansDir == "" {
		return nil
	}

	if cfg.WatchPlans {
		// 监听器自行记录每次同步结果
		s.watcher = planfile.NewWatcher(cfg.PlansDir, s.app.store, s.app.nodes, planfile.WithLogger(s.logger))
		_, err := s.watcher.Start(ctx)
		return err
	}
	res, err := planfile.Sync(ctx, cfg.PlansDir, s.app.store, s.app.nodes)
	if err != nil {
		return err
	}
	s.logSync(res)
	return nil
}

func (s *Server) logSync(res planfile.SyncResult) {
	for path, err := range res.Failed {
		s.logger.Warn("plan file skipped", zap.String("path", path), zap.Error(err))
	}
	s.logger.Info("plans loaded", zap.Strings("workflows", res.Saved), zap.Int("failed", len(res.Failed)))
}

// =============================================================================
// 📊 运维服务器
// =============================================================================

func (s *Server) startOpsServer() error {
	cfg := s.app.cfg.Metrics
	checks := map[string]server.Check{}
	if s.app.db != nil {
		checks["database"] = s.app.db.Ping
	}
	if s.app.cache != nil {
		checks["redis"] = s.app.cache.Ping
	}
	if s.client != nil {
		checks["nats"] = func(context.Context) error { return s.client.Flush() }
	}

	handler := server.NewOpsHandler(server.OpsOptions{
		MetricsPath: cfg.Path,
		Metrics:     s.app.collector.Handler(),
		Topology:    func() any { return s.app.broker.Topology() },
		Checks:      checks,
	}, s.logger)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = cfg.Addr
	s.ops = server.NewManager(handler, serverConfig, s.logger)
	if err := s.ops.Start(); err != nil {
		return err
	}
	s.logger.Info("Ops server started", zap.String("addr", s.ops.Addr()), zap.String("metrics_path", cfg.Path))
	return nil
}

func (s *Server) sampleDBStats(ctx context.Context) {
	defer close(s.done)
	if s.app.db == nil {
		return
	}
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		stats := s.app.db.GetStats()
		s.app.collector.RecordDBConnections(s.app.db.Dialect(), stats.OpenConnections, stats.Idle)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait 阻塞直到 ctx 结束；运维服务器异常退出时返回其错误
func (s *Server) Wait(ctx context.Context) error {
	var errCh <-chan error
	if s.ops != nil {
		errCh = s.ops.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：先停止入口与触发器，等待进行中的运行，再断开外部连接
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	if s.ingress != nil {
		if err := s.ingress.Stop(); err != nil {
			s.logger.Warn("ingress stop error", zap.Error(err))
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Stop(); err != nil {
			s.logger.Warn("trigger dispatcher stop error", zap.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("plan watcher close error", zap.Error(err))
		}
	}
	for i := len(s.detach) - 1; i >= 0; i-- {
		s.detach[i]()
	}
	if s.ops != nil {
		if err := s.ops.Shutdown(ctx); err != nil {
			s.logger.Error("Ops server shutdown error", zap.Error(err))
		}
	}
	if err := s.app.Close(ctx); err != nil {
		s.logger.Error("runtime shutdown error", zap.Error(err))
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}

	s.logger.Info("Graceful shutdown completed")
}
