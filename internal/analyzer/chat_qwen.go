package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	defaultQwenAPIURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName = "qwen-plus"
)

// QwenChatModel 通过DashScope的OpenAI兼容接口访问通义千问
// 只实现结构化分析所需的 Generate；本服务不走流式输出
type QwenChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      zerolog.Logger
}

var _ model.BaseChatModel = (*QwenChatModel)(nil)

// QwenOption 聊天模型配置选项
type QwenOption func(*QwenChatModel)

// WithTemperature 设置采样温度
func WithTemperature(t float64) QwenOption {
	return func(m *QwenChatModel) {
		if t > 0 {
			m.temperature = t
		}
	}
}

// WithMaxTokens 设置单次生成的token上限
func WithMaxTokens(n int) QwenOption {
	return func(m *QwenChatModel) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

// WithQwenLogger 注入上下文日志
func WithQwenLogger(logger zerolog.Logger) QwenOption {
	return func(m *QwenChatModel) {
		m.logger = logger
	}
}

// NewQwenChatModel 创建通义千问聊天模型客户端
func NewQwenChatModel(apiKey, modelName, apiURL string, options ...QwenOption) (*QwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultQwenModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultQwenAPIURL
	}

	m := &QwenChatModel{
		apiKey:      apiKey,
		modelName:   modelName,
		apiURL:      apiURL,
		temperature: 0.1,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      zerolog.Nop(),
	}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

type qwenChatRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type qwenChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type qwenChatResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []qwenChatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate 实现 model.BaseChatModel
func (m *QwenChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	payload := qwenChatRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var resp qwenChatResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化API响应失败: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API返回错误: %s (%s)", resp.Error.Message, resp.Error.Type)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("API返回空choices")
	}

	content := ""
	if resp.Choices[0].Message.Content != nil {
		content = *resp.Choices[0].Message.Content
	}
	m.logger.Debug().
		Str("model", resp.Model).
		Str("finish_reason", resp.Choices[0].FinishReason).
		Int("content_len", len(content)).
		Msg("聊天模型生成完成")

	role := schema.RoleType(resp.Choices[0].Message.Role)
	if role == "" {
		role = schema.Assistant
	}
	return &schema.Message{Role: role, Content: content}, nil
}

// Stream 实现 model.BaseChatModel，本服务不使用流式输出
func (m *QwenChatModel) Stream(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("QwenChatModel 不支持流式输出")
}
