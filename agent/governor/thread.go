package governor

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcoord/llm/embedding"
	"github.com/BaSui01/agentcoord/types"
	"go.uber.org/zap"
)

// Summarizer 生成线程摘要
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.AgentMessage) (string, error)
}

// ThreadConfig 线程级（跨智能体）治理配置
type ThreadConfig struct {
	// 放行轮次上限，达到后线程强制结束；<= 0 不限制
	MaxCycles int `yaml:"max_cycles" json:"max_cycles" env:"MAX_CYCLES"`

	// 同一线程两次放行之间的最小间隔
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" env:"COOLDOWN"`

	// 冗余阈值；<= 0 关闭
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`

	// 用于摘要的历史消息条数上限
	HistorySize int `yaml:"history_size" json:"history_size" env:"HISTORY_SIZE"`
}

// DefaultThreadConfig 返回默认线程治理配置
func DefaultThreadConfig() ThreadConfig {
	return ThreadConfig{
		MaxCycles:           10,
		SimilarityThreshold: 0.92,
		HistorySize:         20,
	}
}

// Outcome 线程治理结果
type Outcome string

const (
	OutcomeAllow            Outcome = "allow"
	OutcomeBlock            Outcome = "block"
	OutcomeForcedCompletion Outcome = "forced_completion"
)

// ThreadDecision 线程治理决策；强制结束时附带摘要（摘要失败时为空）
type ThreadDecision struct {
	Outcome    Outcome `json:"outcome"`
	Reason     Reason  `json:"reason"`
	Similarity float64 `json:"similarity,omitempty"`
	Summary    string  `json:"summary,omitempty"`
}

// ConversationState 线程状态快照
type ConversationState struct {
	CycleCount      int                `json:"cycle_count"`
	LastEmbeddings  []embedding.Vector `json:"last_embeddings,omitempty"`
	MaxCycles       int                `json:"max_cycles"`
	Complete        bool               `json:"complete"`
	LastSentAt      time.Time          `json:"last_sent_at"`
	TokensThisCycle int                `json:"tokens_this_cycle"`
}

type threadState struct {
	mu      sync.Mutex
	state   ConversationState
	history []types.AgentMessage
	pending int // 已放行但未结清的凭证数
}

// ThreadGovernor 按线程计数放行轮次，达到上限后强制结束并生成摘要。
// 与 Governor 的按智能体状态相互独立。
type ThreadGovernor struct {
	config     ThreadConfig
	embedder   embedding.Provider
	summarizer Summarizer
	counter    types.TokenCounter
	recorder   Recorder
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	threads map[string]*threadState
}

// ThreadOption 配置 ThreadGovernor
type ThreadOption func(*ThreadGovernor)

// WithThreadClock 覆盖时间源
func WithThreadClock(now func() time.Time) ThreadOption {
	return func(g *ThreadGovernor) { g.now = now }
}

// WithThreadRecorder 设置指标记录器
func WithThreadRecorder(r Recorder) ThreadOption {
	return func(g *ThreadGovernor) { g.recorder = r }
}

// WithThreadTokenCounter 设置 token 计数器
func WithThreadTokenCounter(c types.TokenCounter) ThreadOption {
	return func(g *ThreadGovernor) { g.counter = c }
}

// NewThreadGovernor 创建线程治理器
func NewThreadGovernor(config ThreadConfig, embedder embedding.Provider, summarizer Summarizer, logger *zap.Logger, opts ...ThreadOption) *ThreadGovernor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultThreadConfig().HistorySize
	}
	g := &ThreadGovernor{
		config:     config,
		embedder:   embedder,
		summarizer: summarizer,
		counter:    types.NewEstimateTokenizer(),
		now:        time.Now,
		logger:     logger.With(zap.String("component", "thread_governor")),
		threads:    make(map[string]*threadState),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate 对线程中的下一条消息做决策，放行时立即计入轮次。
// 已结束的线程直接返回摘要，不再做相似度检查。
func (g *ThreadGovernor) Evaluate(ctx context.Context, threadID string, msg types.AgentMessage) ThreadDecision {
	d, ticket := g.Check(ctx, threadID, msg)
	if ticket != nil {
		ticket.Commit(msg)
	}
	return d
}

// Check 只做决策，不改变线程状态。放行时返回的凭证占用一个轮次，
// 调用方必须在消息真正发出后 Commit，否则 Release。
// 凭证未结清期间，同线程的其他消息按冷却或轮次上限处理。
func (g *ThreadGovernor) Check(ctx context.Context, threadID string, msg types.AgentMessage) (ThreadDecision, *ThreadTicket) {
	th := g.thread(threadID)
	th.mu.Lock()
	defer th.mu.Unlock()

	if th.state.Complete {
		return g.forceComplete(ctx, threadID, th, ReasonComplete), nil
	}
	if g.config.MaxCycles > 0 && th.state.CycleCount >= g.config.MaxCycles {
		th.state.Complete = true
		g.logger.Info("thread reached cycle limit",
			zap.String("thread_id", threadID),
			zap.Int("cycles", th.state.CycleCount),
		)
		return g.forceComplete(ctx, threadID, th, ReasonCycleLimit), nil
	}
	if g.config.MaxCycles > 0 && th.state.CycleCount+th.pending >= g.config.MaxCycles {
		return g.block(threadID, ThreadDecision{Outcome: OutcomeBlock, Reason: ReasonCycleLimit}), nil
	}

	now := g.now()
	if g.config.Cooldown > 0 {
		if th.pending > 0 || (!th.state.LastSentAt.IsZero() && now.Sub(th.state.LastSentAt) < g.config.Cooldown) {
			return g.block(threadID, ThreadDecision{Outcome: OutcomeBlock, Reason: ReasonCooldown}), nil
		}
	}

	var (
		vec        embedding.Vector
		similarity float64
	)
	if g.config.SimilarityThreshold > 0 && g.embedder != nil && msg.Content != "" {
		var err error
		vec, err = g.embedder.Embed(ctx, msg.Content)
		if err != nil {
			g.logger.Warn("embedding failed, skipping redundancy check",
				zap.String("thread_id", threadID),
				zap.Error(err),
			)
			vec = nil
		} else if len(th.state.LastEmbeddings) > 0 {
			similarity = embedding.Cosine(vec, embedding.Mean(th.state.LastEmbeddings))
			if similarity > g.config.SimilarityThreshold {
				return g.block(threadID, ThreadDecision{Outcome: OutcomeBlock, Reason: ReasonRedundant, Similarity: similarity}), nil
			}
		}
	}

	th.pending++
	ticket := &ThreadTicket{gov: g, thread: th, vec: vec, at: now}
	return ThreadDecision{Outcome: OutcomeAllow, Reason: ReasonAllowed, Similarity: similarity}, ticket
}

// ThreadTicket 一次放行占用的轮次，Commit 与 Release 只有第一次调用生效
type ThreadTicket struct {
	gov    *ThreadGovernor
	thread *threadState
	vec    embedding.Vector
	at     time.Time
	done   bool
}

// Commit 消息已发出：计入轮次、冷却起点、token、嵌入窗口与摘要历史
func (t *ThreadTicket) Commit(msg types.AgentMessage) {
	th := t.thread
	th.mu.Lock()
	defer th.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	th.pending--

	g := t.gov
	th.state.CycleCount++
	th.state.LastSentAt = t.at
	th.state.TokensThisCycle += g.counter.CountTokens(msg.Content)
	if t.vec != nil {
		th.state.LastEmbeddings = append(th.state.LastEmbeddings, t.vec)
		if len(th.state.LastEmbeddings) > embeddingWindow {
			th.state.LastEmbeddings = th.state.LastEmbeddings[len(th.state.LastEmbeddings)-embeddingWindow:]
		}
	}
	th.history = append(th.history, msg)
	if len(th.history) > g.config.HistorySize {
		th.history = th.history[len(th.history)-g.config.HistorySize:]
	}
	if g.recorder != nil {
		g.recorder.GovernorDecision(ReasonAllowed)
	}
}

// Release 消息未发出：归还轮次，线程状态不变
func (t *ThreadTicket) Release() {
	th := t.thread
	th.mu.Lock()
	defer th.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	th.pending--
}

func (g *ThreadGovernor) block(threadID string, d ThreadDecision) ThreadDecision {
	if g.recorder != nil {
		g.recorder.GovernorDecision(d.Reason)
	}
	g.logger.Debug("thread message blocked",
		zap.String("thread_id", threadID),
		zap.String("reason", string(d.Reason)),
		zap.Float64("similarity", d.Similarity),
	)
	return d
}

// forceComplete 生成摘要；摘要失败只记录日志，结果仍为强制结束
func (g *ThreadGovernor) forceComplete(ctx context.Context, threadID string, th *threadState, reason Reason) ThreadDecision {
	if g.recorder != nil {
		g.recorder.GovernorDecision(reason)
	}
	d := ThreadDecision{Outcome: OutcomeForcedCompletion, Reason: reason}
	if g.summarizer == nil || len(th.history) == 0 {
		return d
	}
	history := append([]types.AgentMessage(nil), th.history...)
	summary, err := g.summarizer.Summarize(ctx, history)
	if err != nil {
		g.logger.Warn("thread summarization failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		return d
	}
	d.Summary = summary
	return d
}

// State 返回线程状态快照
func (g *ThreadGovernor) State(threadID string) (ConversationState, bool) {
	g.mu.Lock()
	th, ok := g.threads[threadID]
	g.mu.Unlock()
	if !ok {
		return ConversationState{}, false
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	out := th.state
	out.LastEmbeddings = make([]embedding.Vector, len(th.state.LastEmbeddings))
	for i, v := range th.state.LastEmbeddings {
		out.LastEmbeddings[i] = v.Clone()
	}
	return out, true
}

// History 返回线程中已放行的消息（最多 HistorySize 条）
func (g *ThreadGovernor) History(threadID string) []types.AgentMessage {
	g.mu.Lock()
	th, ok := g.threads[threadID]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	return append([]types.AgentMessage(nil), th.history...)
}

// Reset 丢弃线程状态，之后同 id 的线程从头计数
func (g *ThreadGovernor) Reset(threadID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.threads, threadID)
}

func (g *ThreadGovernor) thread(threadID string) *threadState {
	g.mu.Lock()
	defer g.mu.Unlock()
	th, ok := g.threads[threadID]
	if !ok {
		th = &threadState{state: ConversationState{MaxCycles: g.config.MaxCycles}}
		g.threads[threadID] = th
	}
	return th
}
