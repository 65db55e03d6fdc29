package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Check 就绪检查，返回 nil 表示健康
type Check func(ctx context.Context) error

// OpsOptions 运维端点配置
type OpsOptions struct {
	// MetricsPath 为空时使用 /metrics
	MetricsPath string
	Metrics     http.Handler

	// Topology 返回可 JSON 编码的拓扑快照，nil 时不注册 /topology
	Topology func() any

	// Checks 按名称注册的就绪检查
	Checks map[string]Check

	CheckTimeout time.Duration
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewOpsHandler 构建运维路由：/healthz、/readyz、指标与拓扑
func NewOpsHandler(opts OpsOptions, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "ops_handler"))
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 3 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), opts.CheckTimeout)
		defer cancel()

		names := make([]string, 0, len(opts.Checks))
		for name := range opts.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status := http.StatusOK
		results := make(map[string]checkResult, len(names))
		for _, name := range names {
			if err := opts.Checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = checkResult{Status: "fail", Error: err.Error()}
				logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
				continue
			}
			results[name] = checkResult{Status: "ok"}
		}
		writeJSON(w, status, results, logger)
	})

	if opts.Metrics != nil {
		mux.Handle("GET "+opts.MetricsPath, opts.Metrics)
	}
	if opts.Topology != nil {
		mux.HandleFunc("GET /topology", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, opts.Topology(), logger)
		})
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", zap.Error(err))
	}
}
