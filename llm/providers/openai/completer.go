// Package openai 提供基于 openai-go SDK 的补全后端。
package openai

import (
	"context"
	"strings"

	"github.com/BaSui01/agentcoord/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options OpenAI 补全配置
type Options struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	SystemPrompt        string
}

// Completer 通过 Chat Completions 接口实现 llm.Completer
type Completer struct {
	client *openai.Client
	opts   Options
}

// New 创建补全后端；APIKey 为空时 SDK 读取 OPENAI_API_KEY
func New(opts Options, reqOpts ...option.RequestOption) *Completer {
	if opts.Model == "" {
		opts.Model = openai.ChatModelGPT4oMini
	}
	if opts.MaxCompletionTokens == 0 {
		opts.MaxCompletionTokens = 1024
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, reqOpts...)
	client := openai.NewClient(clientOpts...)
	return &Completer{client: &client, opts: opts}
}

// Name 实现 llm.Completer
func (c *Completer) Name() string {
	return "openai:" + c.opts.Model
}

// Complete 实现 llm.Completer
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if c.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               c.opts.Model,
		Messages:            messages,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "openai completion failed").
			WithCause(err).
			WithRetryable(true).
			WithProvider("openai")
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "openai returned no choices").
			WithRetryable(true).
			WithProvider("openai")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
