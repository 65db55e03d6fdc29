package governor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentcoord/llm/embedding"
	"github.com/BaSui01/agentcoord/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubSummarizer struct {
	calls atomic.Int32
	err   error
	last  []types.AgentMessage
}

func (s *stubSummarizer) Summarize(_ context.Context, messages []types.AgentMessage) (string, error) {
	s.calls.Add(1)
	s.last = messages
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("- %d messages", len(messages)), nil
}

type countingEmbedder struct {
	inner embedding.Provider
	calls atomic.Int32
}

func (c *countingEmbedder) Name() string { return "counting" }

func (c *countingEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func threadMsg(content string) types.AgentMessage {
	return types.AgentMessage{From: "a", To: "b", Type: types.MessageTypeResponse, Content: content}
}

func TestThreadGovernor_ForcedCompletionAtMaxCycles(t *testing.T) {
	sum := &stubSummarizer{}
	emb := &countingEmbedder{inner: embedding.NewHashingProvider(0)}
	rec := newDecisionRecorder()
	g := NewThreadGovernor(ThreadConfig{MaxCycles: 3, SimilarityThreshold: 0.9}, emb, sum, nil, WithThreadRecorder(rec))
	ctx := context.Background()

	for _, content := range []string{"draft the launch plan", "review budget numbers", "schedule the retro"} {
		d := g.Evaluate(ctx, "t1", threadMsg(content))
		require.Equal(t, OutcomeAllow, d.Outcome, content)
	}

	d := g.Evaluate(ctx, "t1", threadMsg("one more thing"))
	assert.Equal(t, OutcomeForcedCompletion, d.Outcome)
	assert.Equal(t, ReasonCycleLimit, d.Reason)
	assert.Equal(t, "- 3 messages", d.Summary)

	st, ok := g.State("t1")
	require.True(t, ok)
	assert.True(t, st.Complete)
	assert.Equal(t, 3, st.CycleCount)
	assert.Equal(t, 3, st.MaxCycles)
	assert.Len(t, st.LastEmbeddings, 3)

	// 已结束的线程直接摘要，不再计算嵌入
	embedCalls := emb.calls.Load()
	d = g.Evaluate(ctx, "t1", threadMsg("draft the launch plan"))
	assert.Equal(t, OutcomeForcedCompletion, d.Outcome)
	assert.Equal(t, ReasonComplete, d.Reason)
	assert.Equal(t, embedCalls, emb.calls.Load())
	assert.Equal(t, int32(2), sum.calls.Load())

	st, _ = g.State("t1")
	assert.Equal(t, 3, st.CycleCount)
	assert.Equal(t, 1, rec.reasons[ReasonCycleLimit])
	assert.Equal(t, 1, rec.reasons[ReasonComplete])
	assert.Equal(t, 3, rec.reasons[ReasonAllowed])
}

func TestThreadGovernor_SummarizationFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sum := &stubSummarizer{err: types.NewError(types.ErrSummarizationFailure, "both backends failed")}
	g := NewThreadGovernor(ThreadConfig{MaxCycles: 1}, nil, sum, zap.New(core))
	ctx := context.Background()

	require.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("hello")).Outcome)
	d := g.Evaluate(ctx, "t", threadMsg("again"))
	assert.Equal(t, OutcomeForcedCompletion, d.Outcome)
	assert.Empty(t, d.Summary)
	assert.Equal(t, 1, logs.FilterMessage("thread summarization failed").Len())
}

func TestThreadGovernor_RedundantMessageDoesNotCountCycle(t *testing.T) {
	g := NewThreadGovernor(ThreadConfig{MaxCycles: 5, SimilarityThreshold: 0.6}, embedding.NewHashingProvider(0), nil, nil)
	ctx := context.Background()

	require.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("Plans for launch")).Outcome)
	d := g.Evaluate(ctx, "t", threadMsg("Plan for launch"))
	assert.Equal(t, OutcomeBlock, d.Outcome)
	assert.Equal(t, ReasonRedundant, d.Reason)

	st, _ := g.State("t")
	assert.Equal(t, 1, st.CycleCount)
	assert.Len(t, g.History("t"), 1)
}

func TestThreadGovernor_Cooldown(t *testing.T) {
	clock := newClock()
	g := NewThreadGovernor(ThreadConfig{Cooldown: time.Second}, nil, nil, nil, WithThreadClock(clock.now))
	ctx := context.Background()

	require.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("a")).Outcome)
	clock.advance(500 * time.Millisecond)
	assert.Equal(t, ReasonCooldown, g.Evaluate(ctx, "t", threadMsg("b")).Reason)
	clock.advance(500 * time.Millisecond)
	assert.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("c")).Outcome)

	st, _ := g.State("t")
	assert.Equal(t, clock.now(), st.LastSentAt)
}

func TestThreadGovernor_HistoryIsBounded(t *testing.T) {
	sum := &stubSummarizer{}
	g := NewThreadGovernor(ThreadConfig{MaxCycles: 30, HistorySize: 4}, nil, sum, nil)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg(fmt.Sprintf("message %d", i))).Outcome)
	}
	history := g.History("t")
	require.Len(t, history, 4)
	assert.Equal(t, "message 26", history[0].Content)

	d := g.Evaluate(ctx, "t", threadMsg("over"))
	assert.Equal(t, "- 4 messages", d.Summary)
	assert.Len(t, sum.last, 4)
}

func TestThreadGovernor_TracksTokensAndResets(t *testing.T) {
	g := NewThreadGovernor(ThreadConfig{MaxCycles: 1}, nil, nil, nil)
	ctx := context.Background()

	require.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("abcdefghijklmnop")).Outcome)
	st, _ := g.State("t")
	assert.Equal(t, 4, st.TokensThisCycle)

	assert.Equal(t, OutcomeForcedCompletion, g.Evaluate(ctx, "t", threadMsg("x")).Outcome)
	g.Reset("t")
	_, ok := g.State("t")
	assert.False(t, ok)
	assert.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("fresh start")).Outcome)

	// 独立线程互不影响
	assert.Equal(t, OutcomeAllow, g.Evaluate(ctx, "other", threadMsg("hi")).Outcome)
	assert.Nil(t, g.History("missing"))
}

func TestThreadGovernor_EmbeddingFailureIsSkipped(t *testing.T) {
	g := NewThreadGovernor(ThreadConfig{SimilarityThreshold: 0.1}, &failingEmbedder{}, nil, nil)
	ctx := context.Background()
	assert.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("same")).Outcome)
	assert.Equal(t, OutcomeAllow, g.Evaluate(ctx, "t", threadMsg("same")).Outcome)
	st, _ := g.State("t")
	assert.Empty(t, st.LastEmbeddings)
}

var _ Summarizer = (*stubSummarizer)(nil)

func TestThreadGovernor_OutstandingTicketHoldsCycle(t *testing.T) {
	g := NewThreadGovernor(ThreadConfig{MaxCycles: 1}, nil, &stubSummarizer{}, nil)
	ctx := context.Background()

	d, ticket := g.Check(ctx, "t1", threadMsg("first"))
	require.Equal(t, OutcomeAllow, d.Outcome)
	require.NotNil(t, ticket)

	// 未结清的凭证占用最后一个轮次，但线程尚未结束
	d, other := g.Check(ctx, "t1", threadMsg("second"))
	assert.Equal(t, OutcomeBlock, d.Outcome)
	assert.Equal(t, ReasonCycleLimit, d.Reason)
	assert.Nil(t, other)

	ticket.Release()
	ticket.Release()
	st, _ := g.State("t1")
	assert.Zero(t, st.CycleCount)
	assert.False(t, st.Complete)

	d, ticket = g.Check(ctx, "t1", threadMsg("second"))
	require.Equal(t, OutcomeAllow, d.Outcome)
	ticket.Commit(threadMsg("second"))
	ticket.Release()

	st, _ = g.State("t1")
	assert.Equal(t, 1, st.CycleCount)
	d = g.Evaluate(ctx, "t1", threadMsg("third"))
	assert.Equal(t, OutcomeForcedCompletion, d.Outcome)
}

func TestThreadGovernor_OutstandingTicketHoldsCooldown(t *testing.T) {
	g := NewThreadGovernor(ThreadConfig{Cooldown: time.Second}, nil, nil, nil)
	ctx := context.Background()

	_, ticket := g.Check(ctx, "t1", threadMsg("first"))
	require.NotNil(t, ticket)
	d, _ := g.Check(ctx, "t1", threadMsg("second"))
	assert.Equal(t, ReasonCooldown, d.Reason)

	ticket.Release()
	d, ticket = g.Check(ctx, "t1", threadMsg("second"))
	assert.Equal(t, OutcomeAllow, d.Outcome)
	require.NotNil(t, ticket)
	ticket.Release()
}
