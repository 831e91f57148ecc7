package matcher

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/types"
)

// 四个分项的固定权重
const (
	weightSkill      = 0.40
	weightExperience = 0.25
	weightEducation  = 0.15
	weightKeyword    = 0.20
)

// 经验分的惩罚系数
const (
	penaltyPerMissingYear = 15.0 // 年限不足，每缺一年
	penaltyPerExcessYear  = 5.0  // 超出上限，每多一年
	overqualifiedFloor    = 50.0 // 超编只是软惩罚，不低于50
)

// Explainer 可选的自然语言解释生成器
// 不可用或失败时引擎回退到模板文案，绝不因解释器故障而使评分失败
type Explainer interface {
	Explain(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement, score *types.MatchScore) (string, error)
}

// Engine 确定性的加权评分引擎
// 除解释文案外，相同输入永远得到相同输出
type Engine struct {
	explainer Explainer
	logger    zerolog.Logger
}

// NewEngine 创建评分引擎，explainer 允许为nil
func NewEngine(explainer Explainer) *Engine {
	return &Engine{
		explainer: explainer,
		logger:    logger.Logger.With().Str("component", "match_engine").Logger(),
	}
}

// Score 计算一份档案与一个岗位的匹配分
func (e *Engine) Score(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement) (*types.MatchScore, error) {
	if profile == nil || req == nil {
		return nil, fmt.Errorf("档案和岗位要求都不能为空")
	}

	skillScore, matchedRequired, missing := scoreSkills(profile.Skills, req.RequiredSkills)
	_, matchedPreferred, _ := scoreSkills(profile.Skills, req.PreferredSkills)

	components := types.ComponentScores{
		Skill:      skillScore,
		Experience: scoreExperience(profile.YearsOfExperience, req.MinYearsExperience, req.MaxYearsExperience),
		Education:  scoreEducation(profile.HighestDegree),
		Keyword:    scoreKeyword(profile.Embedding, req.Embedding),
	}

	score := &types.MatchScore{
		SubjectID:       profile.SubjectID,
		JobID:           req.JobID,
		OverallScore:    CalculateOverall(components),
		ComponentScores: components,
		MatchedSkills:   unionSkills(matchedRequired, matchedPreferred),
		MissingSkills:   missing,
	}

	score.Explanation = e.explain(ctx, profile, req, score)

	e.logger.Debug().
		Str("subject_id", profile.SubjectID).
		Str("job_id", req.JobID).
		Int("overall", score.OverallScore).
		Msg("匹配评分完成")
	return score, nil
}

// CalculateOverall 按固定权重合成总分，四舍五入后夹紧到[0,100]
func CalculateOverall(c types.ComponentScores) int {
	weighted := c.Skill*weightSkill +
		c.Experience*weightExperience +
		c.Education*weightEducation +
		c.Keyword*weightKeyword

	overall := int(math.Round(weighted))
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	return overall
}

// scoreSkills 技能匹配: 双向大小写不敏感的子串匹配
// 必备技能为空时返回中性的50分，避免惩罚描述不全的岗位
func scoreSkills(profileSkills, wantedSkills []string) (float64, []string, []string) {
	if len(wantedSkills) == 0 {
		return 50, nil, nil
	}

	var matched, missing []string
	for _, wanted := range wantedSkills {
		if skillPresent(profileSkills, wanted) {
			matched = append(matched, wanted)
		} else {
			missing = append(missing, wanted)
		}
	}

	score := float64(len(matched)) / float64(len(wantedSkills)) * 100
	return score, matched, missing
}

// skillPresent 双向子串匹配: "Go"命中"Golang"，"Amazon Web Services"也能被"AWS"部分覆盖
func skillPresent(profileSkills []string, wanted string) bool {
	w := strings.ToLower(strings.TrimSpace(wanted))
	if w == "" {
		return false
	}
	for _, have := range profileSkills {
		h := strings.ToLower(strings.TrimSpace(have))
		if h == "" {
			continue
		}
		if strings.Contains(h, w) || strings.Contains(w, h) {
			return true
		}
	}
	return false
}

// scoreExperience 年限评分
// 区间内满分；不足按每年15分扣，最低0；超出按每年5分扣，最低50
func scoreExperience(years, min, max float64) float64 {
	if years < min {
		score := 100 - (min-years)*penaltyPerMissingYear
		if score < 0 {
			score = 0
		}
		return score
	}
	if max > 0 && years > max {
		score := 100 - (years-max)*penaltyPerExcessYear
		if score < overqualifiedFloor {
			score = overqualifiedFloor
		}
		return score
	}
	return 100
}

// scoreEducation 简化的二值启发式: 有学历记录80分，否则60分
func scoreEducation(highestDegree string) float64 {
	if strings.TrimSpace(highestDegree) != "" {
		return 80
	}
	return 60
}

// scoreKeyword 语义分: 余弦相似度从[-1,1]重缩放到[0,100]
// 任一向量缺失或维度不一致时给中性的50分
func scoreKeyword(a, b []float64) float64 {
	cos, ok := cosineSimilarity(a, b)
	if !ok {
		return 50
	}
	return math.Round((cos + 1) / 2 * 100)
}

// cosineSimilarity 计算余弦相似度，向量非法时第二个返回值为false
func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// unionSkills 合并必备与加分的命中技能，大小写不敏感去重
func unionSkills(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// explain 生成解释文案，解释器失败时回退到确定性模板
func (e *Engine) explain(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement, score *types.MatchScore) string {
	if e.explainer != nil {
		text, err := e.explainer.Explain(ctx, profile, req, score)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			e.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("解释生成失败，回退到模板文案")
		}
	}
	return templateExplanation(req, score)
}

// templateExplanation 确定性的模板文案
func templateExplanation(req *types.JobRequirement, score *types.MatchScore) string {
	return fmt.Sprintf(
		"候选人与岗位 %q 的综合匹配度为 %d/100 (技能 %.0f, 经验 %.0f, 学历 %.0f, 语义 %.0f)。命中技能 %d 项，缺失技能 %d 项。",
		req.Title, score.OverallScore,
		score.ComponentScores.Skill, score.ComponentScores.Experience,
		score.ComponentScores.Education, score.ComponentScores.Keyword,
		len(score.MatchedSkills), len(score.MissingSkills))
}
