package embedding

import (
	"context"
	"errors"
	"fmt"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// ErrEmbeddingUnavailable 所有提供方（包括本地回退）都无法产出向量
var ErrEmbeddingUnavailable = errors.New("no embedding provider available")

// Provider 向量化提供方抽象
// 单次和批量两种调用形态输出形状一致，调用方无需关心底层用了哪条路径
type Provider interface {
	// Embed 向量化单段文本
	Embed(ctx context.Context, text string) ([]float64, error)
	// EmbedBatch 批量向量化，顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	// Dimensions 返回向量维度
	Dimensions() int
	// Name 提供方标识，用于日志
	Name() string
}

// NewProvider 按配置的优先级选定提供方
// 选择在配置加载时完成一次，单次流水线运行内维度保持一致
func NewProvider(cfg *config.Config) (Provider, error) {
	maxRunes := cfg.Embedding.MaxInputRunes

	for _, name := range cfg.Embedding.ProviderPriority {
		switch name {
		case "aliyun":
			if cfg.Aliyun.APIKey == "" {
				logger.Warn().Msg("aliyun提供方缺少API密钥，尝试下一个")
				continue
			}
			p, err := NewAliyunProvider(cfg.Aliyun.APIKey, cfg.Embedding)
			if err != nil {
				logger.Warn().Err(err).Msg("初始化aliyun提供方失败，尝试下一个")
				continue
			}
			logger.Info().Str("provider", p.Name()).Int("dimensions", p.Dimensions()).Msg("向量化提供方就绪")
			return newTruncatingProvider(p, maxRunes), nil
		case "gemini":
			if cfg.Gemini.APIKey == "" {
				logger.Warn().Msg("gemini提供方缺少API密钥，尝试下一个")
				continue
			}
			p, err := NewGeminiProvider(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.EmbedModel, cfg.Embedding.Dimensions)
			if err != nil {
				logger.Warn().Err(err).Msg("初始化gemini提供方失败，尝试下一个")
				continue
			}
			logger.Info().Str("provider", p.Name()).Int("dimensions", p.Dimensions()).Msg("向量化提供方就绪")
			return newTruncatingProvider(p, maxRunes), nil
		case "local":
			p := NewLocalProvider(cfg.Embedding.Dimensions)
			logger.Info().Str("provider", p.Name()).Int("dimensions", p.Dimensions()).Msg("向量化提供方就绪(本地回退)")
			return newTruncatingProvider(p, maxRunes), nil
		default:
			logger.Warn().Str("provider", name).Msg("未知的向量化提供方，跳过")
		}
	}

	return nil, fmt.Errorf("按优先级 %v 未找到可用提供方: %w", cfg.Embedding.ProviderPriority, ErrEmbeddingUnavailable)
}

// truncatingProvider 在发送前按rune数截断过长输入
type truncatingProvider struct {
	inner    Provider
	maxRunes int
}

func newTruncatingProvider(inner Provider, maxRunes int) Provider {
	if maxRunes <= 0 {
		maxRunes = 6000
	}
	return &truncatingProvider{inner: inner, maxRunes: maxRunes}
}

func (t *truncatingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	return t.inner.Embed(ctx, TruncateInput(text, t.maxRunes))
}

func (t *truncatingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	truncated := make([]string, len(texts))
	for i, text := range texts {
		truncated[i] = TruncateInput(text, t.maxRunes)
	}
	return t.inner.EmbedBatch(ctx, truncated)
}

func (t *truncatingProvider) Dimensions() int { return t.inner.Dimensions() }
func (t *truncatingProvider) Name() string    { return t.inner.Name() }

// TruncateInput 按rune数截断文本，近似于提供方的token预算
func TruncateInput(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

// sequentialBatch 不支持原生批量的提供方逐条调用，输出形状与批量一致
func sequentialBatch(ctx context.Context, p Provider, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("批量降级第%d条失败: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
