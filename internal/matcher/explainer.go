package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/types"
)

// LLMExplainer 用LLM生成一段人类可读的匹配解释
type LLMExplainer struct {
	llm    model.BaseChatModel
	logger zerolog.Logger
}

// NewLLMExplainer 创建LLM解释器
func NewLLMExplainer(llm model.BaseChatModel) *LLMExplainer {
	return &LLMExplainer{
		llm:    llm,
		logger: logger.Logger.With().Str("component", "match_explainer").Logger(),
	}
}

const explainPromptTemplate = `你是一位招聘顾问。请根据以下匹配结果，用两到三句话向候选人解释这次匹配:

岗位: %s
综合分: %d/100
分项: 技能 %.0f, 经验 %.0f, 学历 %.0f, 语义相关性 %.0f
命中技能: %s
缺失技能: %s

直接输出解释文字，不要输出JSON或markdown。`

// Explain 实现 Explainer 接口
func (e *LLMExplainer) Explain(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement, score *types.MatchScore) (string, error) {
	prompt := fmt.Sprintf(explainPromptTemplate,
		req.Title, score.OverallScore,
		score.ComponentScores.Skill, score.ComponentScores.Experience,
		score.ComponentScores.Education, score.ComponentScores.Keyword,
		joinOrNone(score.MatchedSkills), joinOrNone(score.MissingSkills))

	response, err := e.llm.Generate(ctx, []*einoschema.Message{
		einoschema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("解释生成调用失败: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", fmt.Errorf("解释生成返回空内容")
	}
	return strings.TrimSpace(response.Content), nil
}

func joinOrNone(skills []string) string {
	if len(skills) == 0 {
		return "(无)"
	}
	return strings.Join(skills, ", ")
}
