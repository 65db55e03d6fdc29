// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import (
	"context"
	"math"
)

// Vector 嵌入向量.
type Vector []float64

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// Embed 为单段文本生成归一化向量.
	Embed(ctx context.Context, text string) (Vector, error)

	// Name 返回提供者名称，同时作为缓存键的命名空间.
	Name() string
}

// Cosine 计算余弦相似度。维度不一致时返回 -1，任一向量为零向量时返回 0.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Mean 返回逐维平均向量；输入为空或维度不一致时返回 nil.
func Mean(vectors []Vector) Vector {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	out := make(Vector, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// Normalize 原地 L2 归一化并返回 v，零向量保持不变.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Clone 返回向量副本.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
