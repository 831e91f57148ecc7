package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"resume-match-go/internal/logger"
)

// GeminiProvider 基于Google genai SDK的备选向量化提供方
type GeminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int
	logger     zerolog.Logger
}

// NewGeminiProvider 创建Gemini向量化提供方
func NewGeminiProvider(ctx context.Context, apiKey, model string, dimensions int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	if model == "" {
		model = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建genai客户端失败: %w", err)
	}

	return &GeminiProvider{
		client:     client,
		model:      model,
		dimensions: dimensions,
		logger:     logger.Logger.With().Str("component", "gemini_embedder").Logger(),
	}, nil
}

// Embed 实现 Provider 接口
func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	result, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini向量化失败: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini返回空向量")
	}

	values := result.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}

// EmbedBatch 实现 Provider 接口
// SDK的EmbedContent是单条调用，批量降级为顺序请求
func (g *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return sequentialBatch(ctx, g, texts)
}

// Dimensions 返回向量维度
func (g *GeminiProvider) Dimensions() int {
	return g.dimensions
}

// Name 实现 Provider 接口
func (g *GeminiProvider) Name() string {
	return "gemini"
}
