package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/agentcoord/llm"
	"github.com/BaSui01/agentcoord/types"
)

const summaryInstructions = `Summarize the conversation between agents below.
Reply with at most 5 short bullet points, one per line, each starting with "- ".
Focus on decisions, open questions and assigned tasks. Do not add any other text.`

// CompleterBackend 用 LLM 补全生成摘要
type CompleterBackend struct {
	completer llm.Completer
}

// NewCompleterBackend 创建 LLM 摘要后端
func NewCompleterBackend(c llm.Completer) *CompleterBackend {
	return &CompleterBackend{completer: c}
}

// Name 实现 Backend
func (b *CompleterBackend) Name() string {
	return b.completer.Name()
}

// Summarize 实现 Backend
func (b *CompleterBackend) Summarize(ctx context.Context, messages []types.AgentMessage) ([]string, error) {
	out, err := b.completer.Complete(ctx, buildPrompt(messages))
	if err != nil {
		return nil, err
	}
	var bullets []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			bullets = append(bullets, line)
		}
	}
	return bullets, nil
}

func buildPrompt(messages []types.AgentMessage) string {
	var sb strings.Builder
	sb.WriteString(summaryInstructions)
	sb.WriteString("\n\nConversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s] %s -> %s: %s\n", m.Type, m.From, m.To, strings.TrimSpace(m.Content))
	}
	return sb.String()
}

// ExtractiveBackend 离线后端：取每条消息的首句，去重后保留最近的几条
type ExtractiveBackend struct {
	limit int
}

// NewExtractiveBackend 创建抽取式后端，limit <= 0 时为 5
func NewExtractiveBackend(limit int) *ExtractiveBackend {
	if limit <= 0 {
		limit = DefaultConfig().MaxBullets
	}
	return &ExtractiveBackend{limit: limit}
}

// Name 实现 Backend
func (b *ExtractiveBackend) Name() string {
	return "extractive"
}

// Summarize 实现 Backend
func (b *ExtractiveBackend) Summarize(ctx context.Context, messages []types.AgentMessage) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(messages))
	var bullets []string
	for _, m := range messages {
		sentence := firstSentence(m.Content)
		if sentence == "" {
			continue
		}
		key := strings.ToLower(sentence)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if m.From != "" {
			sentence = m.From + ": " + sentence
		}
		bullets = append(bullets, sentence)
	}
	if len(bullets) > b.limit {
		bullets = bullets[len(bullets)-b.limit:]
	}
	return bullets, nil
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.IndexAny(text, ".!?。！？"); i >= 0 {
		// 保留句末标点
		_, size := utf8.DecodeRuneInString(text[i:])
		text = text[:i+size]
	}
	return strings.TrimSpace(text)
}

