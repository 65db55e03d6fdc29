package natsbus

import (
	"fmt"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// Config NATS 配置。URL 为空且 Embedded 为 true 时在进程内启动服务器。
type Config struct {
	URL      string `yaml:"url" json:"url" env:"URL"`
	Embedded bool   `yaml:"embedded" json:"embedded" env:"EMBEDDED"`
	Host     string `yaml:"host" json:"host" env:"HOST"`
	Port     int    `yaml:"port" json:"port" env:"PORT"`

	// 非空时为内嵌服务器开启 JetStream 并用作存储目录
	DataDir string `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`

	// 所有 subject 的前缀
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// DefaultConfig 返回默认配置（不连接 NATS）
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          4222,
		SubjectPrefix: DefaultSubjectPrefix,
	}
}

// Enabled 是否需要连接 NATS
func (c Config) Enabled() bool {
	return c.URL != "" || c.Embedded
}

// Bus 进程内嵌的 NATS 服务器
type Bus struct {
	server *natsserver.Server
	logger *zap.Logger
}

// NewBus 启动内嵌服务器并等待其可连接
func NewBus(cfg Config, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &natsserver.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
		opts.JetStream = true
		opts.StoreDir = cfg.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	b := &Bus{server: ns, logger: logger.With(zap.String("component", "natsbus"))}
	b.logger.Info("embedded nats server started", zap.String("url", ns.ClientURL()))
	return b, nil
}

// ClientURL 返回客户端连接地址
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close 关闭服务器并等待退出
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
