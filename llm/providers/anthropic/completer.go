// Package anthropic 提供基于 anthropic-sdk-go 的补全后端。
package anthropic

import (
	"context"
	"strings"

	"github.com/BaSui01/agentcoord/types"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Options Anthropic 补全配置
type Options struct {
	APIKey       string
	BaseURL      string
	Model        anthropic.Model
	Temperature  float64
	MaxTokens    int64
	SystemPrompt string
}

// Completer 通过 Messages 接口实现 llm.Completer
type Completer struct {
	client *anthropic.Client
	opts   Options
}

// New 创建补全后端；APIKey 为空时 SDK 读取 ANTHROPIC_API_KEY
func New(opts Options, reqOpts ...option.RequestOption) *Completer {
	if opts.Model == "" {
		opts.Model = anthropic.ModelClaude3_5Sonnet20241022
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, reqOpts...)
	client := anthropic.NewClient(clientOpts...)
	return &Completer{client: &client, opts: opts}
}

// Name 实现 llm.Completer
func (c *Completer) Name() string {
	return "anthropic:" + string(c.opts.Model)
}

// Complete 实现 llm.Completer，拼接所有 text 块
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       c.opts.Model,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(c.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.opts.SystemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "anthropic completion failed").
			WithCause(err).
			WithRetryable(true).
			WithProvider("anthropic")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
