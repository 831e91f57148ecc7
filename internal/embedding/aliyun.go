package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	einoembed "github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// AliyunProvider 通过阿里云OpenAI兼容端点做向量化
// 同时实现本包的 Provider 和 cloudwego/eino 的 embedding.Embedder
type AliyunProvider struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewAliyunProvider 创建阿里云向量化提供方
func NewAliyunProvider(apiKey string, embeddingCfg config.EmbeddingConfig) (*AliyunProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := embeddingCfg.Model
	if model == "" {
		model = "text-embedding-v3"
	}
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	}

	return &AliyunProvider{
		apiKey:     apiKey,
		model:      model,
		dimensions: embeddingCfg.Dimensions,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Logger.With().Str("component", "aliyun_embedder").Logger(),
	}, nil
}

// openAIEmbeddingRequest OpenAI兼容的请求结构
type openAIEmbeddingRequest struct {
	Input          interface{} `json:"input"` // string 或 []string
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
}

// openAIEmbeddingResponse OpenAI兼容的响应结构
type openAIEmbeddingResponse struct {
	Object string             `json:"object"`
	Data   []openAIDataEntry  `json:"data"`
	Model  string             `json:"model"`
	Usage  openAIUsage        `json:"usage"`
	ID     string             `json:"id,omitempty"`
	Error  *openAIErrorDetail `json:"error,omitempty"`
}

type openAIDataEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type openAIUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// openAIErrorDetail API可能在200响应体里夹带错误
type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param"`
	Code    string `json:"code"`
}

// EmbedStrings 实现 cloudwego/eino 的 embedding.Embedder 接口
func (a *AliyunProvider) EmbedStrings(ctx context.Context, texts []string, opts ...einoembed.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	options := &einoembed.Options{}
	einoembed.GetCommonOptions(options, opts...)

	effectiveModel := a.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	var inputBody interface{}
	if len(texts) == 1 {
		inputBody = texts[0]
	} else {
		inputBody = texts
	}

	reqBody := openAIEmbeddingRequest{
		Input: inputBody,
		Model: effectiveModel,
	}
	if a.dimensions > 0 {
		reqBody.Dimensions = a.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiError openAIErrorDetail
		if json.Unmarshal(body, &apiError) == nil && apiError.Message != "" {
			return nil, fmt.Errorf("API调用失败, 状态码: %d, 类型: %s, 错误: %s, Code: %s",
				resp.StatusCode, apiError.Type, apiError.Message, apiError.Code)
		}
		return nil, fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var parsedResp openAIEmbeddingResponse
	if err := json.Unmarshal(body, &parsedResp); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}

	if parsedResp.Error != nil && parsedResp.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s",
			parsedResp.Error.Type, parsedResp.Error.Message, parsedResp.Error.Code)
	}

	if len(parsedResp.Data) != len(texts) {
		return nil, fmt.Errorf("响应条目数不匹配: 请求%d条, 返回%d条", len(texts), len(parsedResp.Data))
	}

	// 按Index归位，响应顺序不保证与请求一致
	out := make([][]float64, len(texts))
	for _, entry := range parsedResp.Data {
		if entry.Index < 0 || entry.Index >= len(out) {
			return nil, fmt.Errorf("响应Index越界: %d", entry.Index)
		}
		out[entry.Index] = entry.Embedding
	}

	a.logger.Debug().
		Int("texts", len(texts)).
		Int("prompt_tokens", parsedResp.Usage.PromptTokens).
		Msg("向量化请求完成")
	return out, nil
}

// Embed 实现 Provider 接口
func (a *AliyunProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := a.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 实现 Provider 接口，该端点原生支持批量
func (a *AliyunProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	return a.EmbedStrings(ctx, texts)
}

// Dimensions 返回配置的向量维度
func (a *AliyunProvider) Dimensions() int {
	return a.dimensions
}

// Name 实现 Provider 接口
func (a *AliyunProvider) Name() string {
	return "aliyun"
}
