package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/BaSui01/agentcoord/llm"
	"github.com/BaSui01/agentcoord/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func conversation(n int) []types.AgentMessage {
	msgs := make([]types.AgentMessage, n)
	for i := range msgs {
		msgs[i] = types.AgentMessage{
			From:    fmt.Sprintf("agent-%d", i%2),
			To:      fmt.Sprintf("agent-%d", (i+1)%2),
			Type:    types.MessageTypeResponse,
			Content: fmt.Sprintf("Point number %d is settled. Extra detail follows.", i),
		}
	}
	return msgs
}

func completer(out string, err error) llm.Completer {
	return llm.CompleterFunc{ID: "fake-llm", Fn: func(context.Context, string) (string, error) { return out, err }}
}

type callRecorder struct{ calls []string }

func (r *callRecorder) SummarizerCall(backend string, ok bool) {
	r.calls = append(r.calls, fmt.Sprintf("%s:%v", backend, ok))
}

func TestSummarizer_PrimaryOutputIsNormalized(t *testing.T) {
	out := "Here you go:\n* Launch moved to Friday\n2. Budget approved\n\n- QA owns the checklist\n• Docs pending\n- Retro booked\n- Extra line"
	s := New(DefaultConfig(), NewCompleterBackend(completer(out, nil)), NewExtractiveBackend(0), nil)

	summary, err := s.Summarize(context.Background(), conversation(3))
	require.NoError(t, err)

	lines := strings.Split(summary, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{
		"- Here you go:",
		"- Launch moved to Friday",
		"- Budget approved",
		"- QA owns the checklist",
		"- Docs pending",
	}, lines)
}

func TestSummarizer_TruncatesLongBullets(t *testing.T) {
	long := strings.Repeat("数据", 200)
	s := New(Config{MaxBulletRunes: 20}, NewCompleterBackend(completer(long, nil)), nil, nil)

	summary, err := s.Summarize(context.Background(), conversation(1))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "- "))
	assert.True(t, strings.HasSuffix(summary, "…"))
	assert.Equal(t, 20, utf8.RuneCountInString(strings.TrimPrefix(summary, "- ")))
}

func TestSummarizer_FallsBackToSecondary(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &callRecorder{}
	s := New(DefaultConfig(),
		NewCompleterBackend(completer("", errors.New("rate limited"))),
		NewExtractiveBackend(0),
		zap.New(core),
		WithRecorder(rec),
	)

	summary, err := s.Summarize(context.Background(), conversation(8))
	require.NoError(t, err)

	lines := strings.Split(summary, "\n")
	require.Len(t, lines, 5)
	// 抽取式后端保留最近的 5 条，每条取首句
	assert.Equal(t, "- agent-1: Point number 3 is settled.", lines[0])
	assert.Equal(t, "- agent-1: Point number 7 is settled.", lines[4])
	assert.Equal(t, []string{"fake-llm:false", "extractive:true"}, rec.calls)
	assert.Equal(t, 1, logs.FilterMessage("summarization backend failed").Len())
}

func TestSummarizer_EmptyPrimaryOutputFallsBack(t *testing.T) {
	s := New(DefaultConfig(), NewCompleterBackend(completer(" \n - \n", nil)), NewExtractiveBackend(0), nil)
	summary, err := s.Summarize(context.Background(), conversation(1))
	require.NoError(t, err)
	assert.Equal(t, "- agent-0: Point number 0 is settled.", summary)
}

func TestSummarizer_BothBackendsFail(t *testing.T) {
	upstream := errors.New("connection refused")
	failing := NewCompleterBackend(completer("", upstream))
	s := New(DefaultConfig(), failing, failing, nil)

	_, err := s.Summarize(context.Background(), conversation(2))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSummarizationFailure))
	assert.ErrorIs(t, err, upstream)

	_, err = New(DefaultConfig(), nil, nil, nil).Summarize(context.Background(), conversation(1))
	assert.True(t, types.IsCode(err, types.ErrSummarizationFailure))
}

func TestSummarizer_BoundsInput(t *testing.T) {
	var prompt string
	c := llm.CompleterFunc{Fn: func(_ context.Context, p string) (string, error) {
		prompt = p
		return "- ok", nil
	}}
	s := New(Config{MaxMessages: 3}, NewCompleterBackend(c), nil, nil)

	summary, err := s.Summarize(context.Background(), conversation(10))
	require.NoError(t, err)
	assert.Equal(t, "- ok", summary)
	assert.NotContains(t, prompt, "Point number 6 ")
	assert.Contains(t, prompt, "Point number 7 is settled.")
	assert.Contains(t, prompt, "[response] agent-1 -> agent-0: Point number 9")
}

func TestSummarizer_EmptyInput(t *testing.T) {
	summary, err := New(DefaultConfig(), nil, nil, nil).Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestExtractiveBackend_DedupesAndSplitsSentences(t *testing.T) {
	b := NewExtractiveBackend(3)
	msgs := []types.AgentMessage{
		{From: "a", Content: "Ship it!  Then celebrate."},
		{From: "b", Content: "ship it! again"},
		{From: "c", Content: "   "},
		{Content: "部署完成。明天复盘"},
		{From: "d", Content: "no terminator here"},
	}
	bullets, err := b.Summarize(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a: Ship it!", "部署完成。", "d: no terminator here"}, bullets)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Summarize(ctx, msgs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanBullet(t *testing.T) {
	cases := map[string]string{
		"- item":          "item",
		"  * item  ":      "item",
		"1. item":         "item",
		"12) item":        "item",
		"• - nested":      "nested",
		"2024 roadmap":    "2024 roadmap",
		"-   spaced  out": "spaced out",
		"---":             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanBullet(in), in)
	}
}
