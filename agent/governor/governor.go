package governor

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcoord/llm/embedding"
	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// embeddingWindow 相似度比较使用的最近嵌入数量上限
const embeddingWindow = 3

// Config 会话治理配置。零值关闭对应检查。
type Config struct {
	// 同一智能体两次放行之间的最小间隔
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" env:"COOLDOWN"`

	// 与最近嵌入均值的余弦相似度超过该值视为冗余；<= 0 关闭
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`

	// 每个周期的 token 上限；<= 0 关闭
	MaxTokensPerCycle int `yaml:"max_tokens_per_cycle" json:"max_tokens_per_cycle" env:"MAX_TOKENS_PER_CYCLE"`

	// token 周期长度；<= 0 时周期只在 ResetCycle 时结束
	CycleWindow time.Duration `yaml:"cycle_window" json:"cycle_window" env:"CYCLE_WINDOW"`

	// 连续相同 intent 的条数达到该值视为循环；< 2 关闭
	LoopDetectionWindow int `yaml:"loop_detection_window" json:"loop_detection_window" env:"LOOP_DETECTION_WINDOW"`

	// 每次冗余或循环拦截增加的噪声分；<= 0 时为 1
	NoisePenalty float64 `yaml:"noise_penalty" json:"noise_penalty" env:"NOISE_PENALTY"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Cooldown:            2 * time.Second,
		SimilarityThreshold: 0.92,
		MaxTokensPerCycle:   4000,
		CycleWindow:         time.Minute,
		LoopDetectionWindow: 3,
		NoisePenalty:        1,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Cooldown < 0 {
		return types.NewError(types.ErrInvalidRequest, "governor cooldown cannot be negative")
	}
	if c.SimilarityThreshold > 1 {
		return types.Errorf(types.ErrInvalidRequest, "similarity threshold %.2f is above 1", c.SimilarityThreshold)
	}
	return nil
}

// Reason 治理决策原因
type Reason string

const (
	ReasonAllowed     Reason = "allowed"
	ReasonCooldown    Reason = "cooldown"
	ReasonRedundant   Reason = "redundant"
	ReasonTokenBudget Reason = "token_budget"
	ReasonIntentLoop  Reason = "intent_loop"
	ReasonCycleLimit  Reason = "cycle_limit"
	ReasonComplete    Reason = "complete"
)

// GovernedMessage 待发送的候选消息
type GovernedMessage struct {
	Content string
	Intent  string

	// Tokens 为 0 时由 TokenCounter 计算
	Tokens int

	// Embedding 预先计算好的嵌入，为空时调用嵌入提供者
	Embedding embedding.Vector
}

// FromMessage 从智能体消息构造候选消息，intent 与 tokens 取自 Metadata
func FromMessage(msg types.AgentMessage) GovernedMessage {
	gm := GovernedMessage{Content: msg.Content, Intent: msg.MetadataString("intent")}
	switch v := msg.Metadata["tokens"].(type) {
	case int:
		gm.Tokens = v
	case int64:
		gm.Tokens = int(v)
	case float64:
		gm.Tokens = int(v)
	}
	return gm
}

// Decision 单次治理决策
type Decision struct {
	Allowed    bool    `json:"allowed"`
	Reason     Reason  `json:"reason"`
	Similarity float64 `json:"similarity,omitempty"`
	Tokens     int     `json:"tokens,omitempty"`
}

// Recorder 记录治理指标
type Recorder interface {
	GovernorDecision(reason Reason)
	NoiseScore(agentID string, score float64)
}

// agentState 单个智能体的治理状态，只在持有 mu 时读写
type agentState struct {
	mu              sync.Mutex
	limiter         *rate.Limiter
	lastSentAt      time.Time
	embeddings      []embedding.Vector
	tokensThisCycle int
	cycleStart      time.Time
	intents         []string
	noise           float64
}

// Governor 按智能体维护冷却、冗余、token 预算与意图循环检查
type Governor struct {
	config   Config
	embedder embedding.Provider
	counter  types.TokenCounter
	recorder Recorder
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	agents map[string]*agentState
}

// Option 配置 Governor
type Option func(*Governor)

// WithTokenCounter 设置 token 计数器
func WithTokenCounter(c types.TokenCounter) Option {
	return func(g *Governor) { g.counter = c }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(g *Governor) { g.recorder = r }
}

// WithClock 覆盖时间源
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// New 创建治理器。embedder 为 nil 时相似度检查关闭。
func New(config Config, embedder embedding.Provider, logger *zap.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.NoisePenalty <= 0 {
		config.NoisePenalty = 1
	}
	g := &Governor{
		config:   config,
		embedder: embedder,
		counter:  types.NewEstimateTokenizer(),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "governor")),
		agents:   make(map[string]*agentState),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldAllow 判断候选消息是否放行。拦截是预期结果，不返回错误。
func (g *Governor) ShouldAllow(ctx context.Context, agentID string, msg GovernedMessage) bool {
	return g.Evaluate(ctx, agentID, msg).Allowed
}

// Evaluate 依次执行冷却、冗余、预算、循环检查；任一失败即拦截且不修改放行相关状态
func (g *Governor) Evaluate(ctx context.Context, agentID string, msg GovernedMessage) Decision {
	st := g.state(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := g.now()
	decision := g.decide(ctx, agentID, st, msg, now)
	if g.recorder != nil {
		g.recorder.GovernorDecision(decision.Reason)
	}
	if !decision.Allowed {
		g.logger.Debug("message blocked",
			zap.String("agent_id", agentID),
			zap.String("reason", string(decision.Reason)),
			zap.Float64("similarity", decision.Similarity),
			zap.Float64("noise", st.noise),
		)
	}
	return decision
}

func (g *Governor) decide(ctx context.Context, agentID string, st *agentState, msg GovernedMessage, now time.Time) Decision {
	// 1. 冷却
	if st.limiter != nil && st.limiter.TokensAt(now) < 1 {
		return Decision{Reason: ReasonCooldown}
	}

	// 2. 冗余
	vec, similarity := g.similarity(ctx, agentID, st, msg)
	if g.config.SimilarityThreshold > 0 && similarity > g.config.SimilarityThreshold {
		g.addNoise(agentID, st, g.config.NoisePenalty)
		return Decision{Reason: ReasonRedundant, Similarity: similarity}
	}

	// 3. token 预算
	tokens := msg.Tokens
	if tokens <= 0 && msg.Content != "" {
		tokens = g.counter.CountTokens(msg.Content)
	}
	if g.config.MaxTokensPerCycle > 0 {
		if g.config.CycleWindow > 0 && !st.cycleStart.IsZero() && now.Sub(st.cycleStart) >= g.config.CycleWindow {
			st.tokensThisCycle = 0
			st.cycleStart = now
		}
		if st.tokensThisCycle+tokens > g.config.MaxTokensPerCycle {
			return Decision{Reason: ReasonTokenBudget, Similarity: similarity, Tokens: tokens}
		}
	}

	// 4. 意图循环
	if g.isLoop(st, msg.Intent) {
		g.addNoise(agentID, st, g.config.NoisePenalty)
		return Decision{Reason: ReasonIntentLoop, Similarity: similarity, Tokens: tokens}
	}

	// 5. 放行
	if g.config.Cooldown > 0 {
		if st.limiter == nil {
			st.limiter = rate.NewLimiter(rate.Every(g.config.Cooldown), 1)
		}
		st.limiter.AllowN(now, 1)
	}
	st.lastSentAt = now
	if vec != nil {
		st.embeddings = append(st.embeddings, vec)
		if len(st.embeddings) > embeddingWindow {
			st.embeddings = st.embeddings[len(st.embeddings)-embeddingWindow:]
		}
	}
	if st.cycleStart.IsZero() {
		st.cycleStart = now
	}
	st.tokensThisCycle += tokens
	if g.config.LoopDetectionWindow >= 2 {
		st.intents = append(st.intents, msg.Intent)
		if keep := g.config.LoopDetectionWindow - 1; len(st.intents) > keep {
			st.intents = st.intents[len(st.intents)-keep:]
		}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed, Similarity: similarity, Tokens: tokens}
}

// similarity 返回候选嵌入及其与最近嵌入均值的相似度。嵌入失败时跳过冗余检查。
func (g *Governor) similarity(ctx context.Context, agentID string, st *agentState, msg GovernedMessage) (embedding.Vector, float64) {
	if g.config.SimilarityThreshold <= 0 {
		return nil, 0
	}
	vec := msg.Embedding
	if vec == nil {
		if g.embedder == nil || msg.Content == "" {
			return nil, 0
		}
		var err error
		vec, err = g.embedder.Embed(ctx, msg.Content)
		if err != nil {
			g.logger.Warn("embedding failed, skipping redundancy check",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
			return nil, 0
		}
	}
	if len(st.embeddings) == 0 {
		return vec, 0
	}
	return vec, embedding.Cosine(vec, embedding.Mean(st.embeddings))
}

func (g *Governor) isLoop(st *agentState, intent string) bool {
	window := g.config.LoopDetectionWindow
	if window < 2 || intent == "" || len(st.intents) < window-1 {
		return false
	}
	for _, prev := range st.intents[len(st.intents)-(window-1):] {
		if prev != intent {
			return false
		}
	}
	return true
}

// Penalize 增加智能体的噪声分；amount <= 0 时忽略
func (g *Governor) Penalize(agentID, reason string, amount float64) {
	if amount <= 0 {
		return
	}
	st := g.state(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	g.addNoise(agentID, st, amount)
	g.logger.Info("agent penalized",
		zap.String("agent_id", agentID),
		zap.String("reason", reason),
		zap.Float64("amount", amount),
		zap.Float64("noise", st.noise),
	)
}

func (g *Governor) addNoise(agentID string, st *agentState, amount float64) {
	if amount <= 0 {
		return
	}
	st.noise += amount
	if g.recorder != nil {
		g.recorder.NoiseScore(agentID, st.noise)
	}
}

// NoiseScore 返回智能体的噪声分，只增不减
func (g *Governor) NoiseScore(agentID string) float64 {
	st := g.state(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.noise
}

// Priority 由噪声分推导的优先级，1/(1+noise)，随噪声严格递减
func (g *Governor) Priority(agentID string) float64 {
	return PriorityFor(g.NoiseScore(agentID))
}

// PriorityFor 噪声分到优先级的映射
func PriorityFor(noise float64) float64 {
	if noise < 0 {
		noise = 0
	}
	return 1 / (1 + noise)
}

// ResetCycle 结束当前 token 周期
func (g *Governor) ResetCycle(agentID string) {
	st := g.state(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.tokensThisCycle = 0
	st.cycleStart = time.Time{}
}

// TokensThisCycle 返回当前周期已用 token
func (g *Governor) TokensThisCycle(agentID string) int {
	st := g.state(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tokensThisCycle
}

// LastSentAt 返回最近一次放行时间
func (g *Governor) LastSentAt(agentID string) time.Time {
	st := g.state(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSentAt
}

func (g *Governor) state(agentID string) *agentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.agents[agentID]
	if !ok {
		st = &agentState{}
		g.agents[agentID] = st
	}
	return st
}
