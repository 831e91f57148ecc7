package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalProvider 本地特征哈希向量化，外部提供方全部不可用时的最终回退
// 确定性输出: 相同文本永远得到相同向量，向量做了L2归一化
type LocalProvider struct {
	dimensions int
}

// NewLocalProvider 创建本地向量化提供方
func NewLocalProvider(dimensions int) *LocalProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &LocalProvider{dimensions: dimensions}
}

// Embed 实现 Provider 接口
// 词级特征哈希: 每个词映射到一个维度，符号位由二次哈希决定
func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, l.dimensions)

	words := strings.Fields(strings.ToLower(text))
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()

		idx := int(sum % uint64(l.dimensions))
		// 用高位决定符号，减小哈希碰撞时的累积偏差
		if (sum>>63)&1 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	// L2归一化，保证余弦相似度计算有意义
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec, nil
}

// EmbedBatch 实现 Provider 接口
func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return sequentialBatch(ctx, l, texts)
}

// Dimensions 返回向量维度
func (l *LocalProvider) Dimensions() int {
	return l.dimensions
}

// Name 实现 Provider 接口
func (l *LocalProvider) Name() string {
	return "local"
}
