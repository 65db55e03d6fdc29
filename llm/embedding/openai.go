package embedding

import (
	"context"

	"github.com/BaSui01/agentcoord/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig OpenAI 嵌入配置.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int64
}

// OpenAIProvider 通过官方 SDK 调用 OpenAI embeddings 接口.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider 创建 OpenAI 嵌入提供者；APIKey 为空时 SDK 读取 OPENAI_API_KEY.
func NewOpenAIProvider(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	client := openai.NewClient(clientOpts...)
	return &OpenAIProvider{client: &client, cfg: cfg}
}

// Name 实现 Provider.
func (p *OpenAIProvider) Name() string {
	return "openai:" + p.cfg.Model
}

// Embed 实现 Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (Vector, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.cfg.Model),
	}
	if p.cfg.Dimensions > 0 {
		params.Dimensions = openai.Int(p.cfg.Dimensions)
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingFailure, "openai embedding request failed").
			WithCause(err).
			WithRetryable(true).
			WithProvider("openai")
	}
	if len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrEmbeddingFailure, "openai returned no embedding").
			WithProvider("openai")
	}
	return Normalize(Vector(resp.Data[0].Embedding)), nil
}
