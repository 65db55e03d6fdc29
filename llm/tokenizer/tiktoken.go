package tokenizer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentcoord/types"
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型封装 tiktoken.
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 将模型名称映射到其 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4.1":                "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// lookupEncoding 精确匹配优先，其次按最长前缀匹配（"gpt-4o-2024" 匹配 "gpt-4o" 而不是 "gpt-4"）。
func lookupEncoding(model string) (string, bool) {
	if enc, ok := modelEncodings[model]; ok {
		return enc, true
	}
	prefixes := make([]string, 0, len(modelEncodings))
	for p := range modelEncodings {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if hasModelPrefix(model, p) {
			return modelEncodings[p], true
		}
	}
	return "", false
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器，未知模型默认 cl100k_base.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	encoding, ok := lookupEncoding(model)
	if !ok {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{model: model, encoding: encoding}
}

// init 延迟初始化 tiktoken 编码(首次使用时可能下载数据).
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []types.AgentMessage) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	total := conversationOverhead
	for _, msg := range messages {
		// 信封：类型标记、发送方、接收方
		total += len(t.enc.Encode(string(msg.Type), nil, nil))
		total += len(t.enc.Encode(msg.From, nil, nil))
		total += len(t.enc.Encode(msg.To, nil, nil))
		total += len(t.enc.Encode(msg.Content, nil, nil))
	}
	return total, nil
}

// Encoding 返回使用的编码名称.
func (t *TiktokenTokenizer) Encoding() string {
	return t.encoding
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
