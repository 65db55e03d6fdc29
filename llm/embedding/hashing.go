package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashingDimensions HashingProvider 默认维度.
const DefaultHashingDimensions = 256

// HashingProvider 离线、确定性的特征哈希嵌入：单词与带边界的字符三元组
// 哈希到固定维度后做 L2 归一化。词形相近的文本（"Plans" / "Plan"）共享大部分三元组，
// 相似度接近；无网络依赖，适合测试与离线环境。
type HashingProvider struct {
	dims int
}

// NewHashingProvider 创建哈希嵌入提供者，dims <= 0 时使用默认维度.
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingProvider{dims: dims}
}

// Name 实现 Provider.
func (p *HashingProvider) Name() string {
	return "hashing"
}

// Dimensions 返回向量维度.
func (p *HashingProvider) Dimensions() int {
	return p.dims
}

// Embed 实现 Provider，只在 ctx 已取消时返回错误.
func (p *HashingProvider) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make(Vector, p.dims)
	for _, word := range tokenize(text) {
		p.add(vec, "w:"+word)
		padded := []rune("#" + word + "#")
		for i := 0; i+3 <= len(padded); i++ {
			p.add(vec, "t:"+string(padded[i:i+3]))
		}
	}
	return Normalize(vec), nil
}

func (p *HashingProvider) add(vec Vector, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dims))
	// 高位决定符号，降低哈希碰撞带来的偏置
	if sum>>63 == 1 {
		vec[idx] -= 1
	} else {
		vec[idx] += 1
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
