package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/types"
)

// Analyzer 结构化分析器抽象
// 对流水线而言是一次不透明的可失败调用，输出schema固定
type Analyzer interface {
	AnalyzeProfile(ctx context.Context, text string) (*types.ResumeProfile, error)
	AnalyzeRequirement(ctx context.Context, text, title string) (*types.JobRequirement, error)
}

// LLMAnalyzer 基于LLM的结构化分析器实现
// 单次调用即单次LLM请求；重试预算由调用方(流水线)统一掌握
type LLMAnalyzer struct {
	llm    model.BaseChatModel
	logger zerolog.Logger
}

// NewLLMAnalyzer 创建LLM结构化分析器
func NewLLMAnalyzer(llm model.BaseChatModel) *LLMAnalyzer {
	return &LLMAnalyzer{
		llm:    llm,
		logger: logger.Logger.With().Str("component", "llm_analyzer").Logger(),
	}
}

const profileSystemPrompt = `你是一位资深的简历解析助手。你的任务是把简历纯文本转换为严格的JSON结构。
只输出JSON对象本身，不要输出任何解释、markdown围栏或多余文字。`

const profileUserTemplate = `请从以下简历文本中抽取结构化信息，输出严格符合该schema的JSON:
{
  "skills": ["技能1", "技能2"],
  "years_of_experience": 5.0,
  "experience_level": "ENTRY|MID|SENIOR|LEAD",
  "highest_degree": "学位名称，无学历记录时为空字符串",
  "education": "教育经历描述",
  "ats_issues": ["影响机器可读性的问题"]
}

要求:
1. skills 去重，保留原始大小写
2. years_of_experience 为非负数字
3. experience_level 必须是四个枚举值之一
4. 字段全部必填，没有内容时用空数组或空字符串

简历文本:
"""
%s
"""`

const requirementSystemPrompt = `你是一位资深的岗位描述解析助手。你的任务是把岗位描述转换为严格的JSON结构。
只输出JSON对象本身，不要输出任何解释、markdown围栏或多余文字。`

const requirementUserTemplate = `请从以下岗位描述中抽取结构化要求，输出严格符合该schema的JSON:
{
  "required_skills": ["必备技能"],
  "preferred_skills": ["加分技能"],
  "min_years_experience": 3.0,
  "max_years_experience": 8.0,
  "education_required": "学历要求，无要求时为空字符串"
}

要求:
1. 技能列表去重
2. 年限为非负数字，max为0表示不设上限
3. 字段全部必填，没有内容时用空数组、0或空字符串

岗位标题: %s
岗位描述:
"""
%s
"""`

// llmProfilePayload 简历分析的LLM输出结构
type llmProfilePayload struct {
	Skills            []string `json:"skills"`
	YearsOfExperience *float64 `json:"years_of_experience"`
	ExperienceLevel   string   `json:"experience_level"`
	HighestDegree     *string  `json:"highest_degree"`
	Education         string   `json:"education"`
	ATSIssues         []string `json:"ats_issues"`
}

// llmRequirementPayload 岗位分析的LLM输出结构
type llmRequirementPayload struct {
	RequiredSkills     []string `json:"required_skills"`
	PreferredSkills    []string `json:"preferred_skills"`
	MinYearsExperience *float64 `json:"min_years_experience"`
	MaxYearsExperience *float64 `json:"max_years_experience"`
	EducationRequired  string   `json:"education_required"`
}

// AnalyzeProfile 从简历文本抽取结构化档案
func (a *LLMAnalyzer) AnalyzeProfile(ctx context.Context, text string) (*types.ResumeProfile, error) {
	const op = "AnalyzeProfile"

	content, err := a.generate(ctx,
		profileSystemPrompt,
		fmt.Sprintf(profileUserTemplate, text))
	if err != nil {
		return nil, NewAnalysisError(op, err, "")
	}

	var payload llmProfilePayload
	if err := a.parseInto(content, &payload); err != nil {
		return nil, NewAnalysisError(op, err, "")
	}

	// 先校验再使用，schema不完整时报错而不是静默兜底
	if err := validateProfilePayload(&payload); err != nil {
		return nil, NewAnalysisError(op, ErrSchemaValidation, err.Error())
	}

	return &types.ResumeProfile{
		Skills:            dedupeSkills(payload.Skills),
		YearsOfExperience: *payload.YearsOfExperience,
		ExperienceLevel:   types.ExperienceLevel(strings.ToUpper(payload.ExperienceLevel)),
		HighestDegree:     *payload.HighestDegree,
		Education:         payload.Education,
		ATSIssues:         payload.ATSIssues,
	}, nil
}

// AnalyzeRequirement 从岗位描述抽取结构化要求
func (a *LLMAnalyzer) AnalyzeRequirement(ctx context.Context, text, title string) (*types.JobRequirement, error) {
	const op = "AnalyzeRequirement"

	content, err := a.generate(ctx,
		requirementSystemPrompt,
		fmt.Sprintf(requirementUserTemplate, title, text))
	if err != nil {
		return nil, NewAnalysisError(op, err, "")
	}

	var payload llmRequirementPayload
	if err := a.parseInto(content, &payload); err != nil {
		return nil, NewAnalysisError(op, err, "")
	}

	if err := validateRequirementPayload(&payload); err != nil {
		return nil, NewAnalysisError(op, ErrSchemaValidation, err.Error())
	}

	return &types.JobRequirement{
		Title:              title,
		RequiredSkills:     dedupeSkills(payload.RequiredSkills),
		PreferredSkills:    dedupeSkills(payload.PreferredSkills),
		MinYearsExperience: *payload.MinYearsExperience,
		MaxYearsExperience: *payload.MaxYearsExperience,
		EducationRequired:  payload.EducationRequired,
	}, nil
}

// generate 发起一次LLM调用
func (a *LLMAnalyzer) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []*einoschema.Message{
		einoschema.SystemMessage(systemPrompt),
		einoschema.UserMessage(userPrompt),
	}

	response, err := a.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		return "", ErrEmptyResponse
	}
	return response.Content, nil
}

// parseInto 从LLM响应中提取、修复并反序列化JSON
func (a *LLMAnalyzer) parseInto(content string, target interface{}) error {
	processed := strings.TrimPrefix(content, "\uFEFF")

	jsonStr := extractJSON(processed)
	if jsonStr == "" {
		return fmt.Errorf("%w: 响应中找不到JSON对象", ErrMalformedOutput)
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		// 解析失败先自动修复再试一次
		a.logger.Debug().Err(err).Msg("JSON反序列化失败，自动修复后重试")
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), target); jsonErr != nil {
			return fmt.Errorf("%w: 反序列化失败: %v (修复后: %v)", ErrMalformedOutput, err, jsonErr)
		}
	}
	return nil
}

var validLevels = map[string]bool{
	string(types.LevelEntry):  true,
	string(types.LevelMid):    true,
	string(types.LevelSenior): true,
	string(types.LevelLead):   true,
}

func validateProfilePayload(p *llmProfilePayload) error {
	if p.Skills == nil {
		return fmt.Errorf("缺少 skills 字段")
	}
	if p.YearsOfExperience == nil {
		return fmt.Errorf("缺少 years_of_experience 字段")
	}
	if *p.YearsOfExperience < 0 {
		return fmt.Errorf("years_of_experience 不能为负: %f", *p.YearsOfExperience)
	}
	if !validLevels[strings.ToUpper(p.ExperienceLevel)] {
		return fmt.Errorf("experience_level 取值非法: %q", p.ExperienceLevel)
	}
	if p.HighestDegree == nil {
		return fmt.Errorf("缺少 highest_degree 字段")
	}
	return nil
}

func validateRequirementPayload(p *llmRequirementPayload) error {
	if p.RequiredSkills == nil {
		return fmt.Errorf("缺少 required_skills 字段")
	}
	if p.MinYearsExperience == nil {
		return fmt.Errorf("缺少 min_years_experience 字段")
	}
	if p.MaxYearsExperience == nil {
		return fmt.Errorf("缺少 max_years_experience 字段")
	}
	if *p.MinYearsExperience < 0 {
		return fmt.Errorf("min_years_experience 不能为负")
	}
	if *p.MaxYearsExperience > 0 && *p.MaxYearsExperience < *p.MinYearsExperience {
		return fmt.Errorf("max_years_experience (%f) 小于 min_years_experience (%f)",
			*p.MaxYearsExperience, *p.MinYearsExperience)
	}
	return nil
}

// dedupeSkills 大小写不敏感去重，保留首次出现的写法和顺序
func dedupeSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
