package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

func TestCalculateOverall(t *testing.T) {
	tests := []struct {
		name       string
		components types.ComponentScores
		want       int
	}{
		{"加权求和并四舍五入", types.ComponentScores{Skill: 80, Experience: 70, Education: 60, Keyword: 90}, 77},
		{"全零", types.ComponentScores{}, 0},
		{"全满", types.ComponentScores{Skill: 100, Experience: 100, Education: 100, Keyword: 100}, 100},
		{"单项技能", types.ComponentScores{Skill: 100}, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateOverall(tt.components))
		})
	}
}

func TestScoreSkills(t *testing.T) {
	profile := []string{"Golang", "MySQL", "Amazon Web Services"}

	score, matched, missing := scoreSkills(profile, []string{"Go", "Redis", "AWS"})
	assert.InDelta(t, 100.0/3, score, 1e-9)
	assert.Equal(t, []string{"Go"}, matched, "Go应通过子串命中Golang")
	assert.Equal(t, []string{"Redis", "AWS"}, missing)

	// 零必备技能 -> 中性50分
	score, matched, missing = scoreSkills(profile, nil)
	assert.Equal(t, 50.0, score)
	assert.Nil(t, matched)
	assert.Nil(t, missing)
}

func TestSkillPresent_Bidirectional(t *testing.T) {
	assert.True(t, skillPresent([]string{"Golang"}, "go"), "子串正向匹配")
	assert.True(t, skillPresent([]string{"Go"}, "Golang"), "子串反向匹配")
	assert.True(t, skillPresent([]string{"MYSQL"}, "mysql"), "大小写不敏感")
	assert.False(t, skillPresent([]string{"Java"}, "Go"))
	assert.False(t, skillPresent([]string{"Go"}, "  "))
}

func TestScoreExperience(t *testing.T) {
	tests := []struct {
		name  string
		years float64
		min   float64
		max   float64
		want  float64
	}{
		{"区间内满分", 5, 3, 8, 100},
		{"正好在下界", 3, 3, 8, 100},
		{"缺两年", 1, 3, 8, 70},
		{"严重不足扣穿归零", 0, 10, 0, 0},
		{"超两年软惩罚", 10, 3, 8, 90},
		{"严重超编不低于50", 30, 3, 8, 50},
		{"max为0表示不设上限", 40, 3, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreExperience(tt.years, tt.min, tt.max))
		})
	}
}

func TestScoreEducation(t *testing.T) {
	assert.Equal(t, 80.0, scoreEducation("Bachelor"))
	assert.Equal(t, 60.0, scoreEducation(""))
	assert.Equal(t, 60.0, scoreEducation("   "))
}

func TestScoreKeyword(t *testing.T) {
	// 同向向量 cos=1 -> 100
	assert.Equal(t, 100.0, scoreKeyword([]float64{1, 0}, []float64{2, 0}))
	// 反向向量 cos=-1 -> 0
	assert.Equal(t, 0.0, scoreKeyword([]float64{1, 0}, []float64{-1, 0}))
	// 正交 cos=0 -> 50
	assert.Equal(t, 50.0, scoreKeyword([]float64{1, 0}, []float64{0, 1}))
	// 向量缺失 -> 中性50
	assert.Equal(t, 50.0, scoreKeyword(nil, []float64{1}))
	assert.Equal(t, 50.0, scoreKeyword([]float64{1, 2}, []float64{1}))
}

// failingExplainer 永远失败的解释器
type failingExplainer struct{}

func (f *failingExplainer) Explain(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement, score *types.MatchScore) (string, error) {
	return "", errors.New("explainer is down")
}

func TestScore_ExplainerFailureFallsBackToTemplate(t *testing.T) {
	engine := NewEngine(&failingExplainer{})

	profile := &types.ResumeProfile{
		SubjectID:         "s1",
		Skills:            []string{"Go", "MySQL"},
		YearsOfExperience: 5,
		HighestDegree:     "Bachelor",
		Embedding:         []float64{1, 0},
	}
	req := &types.JobRequirement{
		JobID:              "j1",
		Title:              "Backend Engineer",
		RequiredSkills:     []string{"Go"},
		MinYearsExperience: 3,
		MaxYearsExperience: 8,
		Embedding:          []float64{1, 0},
	}

	score, err := engine.Score(context.Background(), profile, req)
	require.NoError(t, err, "解释器故障不能使评分失败")
	assert.NotEmpty(t, score.Explanation, "应回退到模板文案")
	assert.Contains(t, score.Explanation, "Backend Engineer")
}

func TestScore_Deterministic(t *testing.T) {
	engine := NewEngine(nil)

	profile := &types.ResumeProfile{
		SubjectID:         "s1",
		Skills:            []string{"Go", "Redis", "Docker"},
		YearsOfExperience: 4,
		HighestDegree:     "Master",
		Embedding:         []float64{0.5, 0.5},
	}
	req := &types.JobRequirement{
		JobID:              "j1",
		Title:              "Platform Engineer",
		RequiredSkills:     []string{"Go", "Kubernetes"},
		PreferredSkills:    []string{"Redis"},
		MinYearsExperience: 2,
		MaxYearsExperience: 6,
		Embedding:          []float64{0.5, 0.5},
	}

	first, err := engine.Score(context.Background(), profile, req)
	require.NoError(t, err)
	second, err := engine.Score(context.Background(), profile, req)
	require.NoError(t, err)
	assert.Equal(t, first, second, "相同输入必须得到相同输出")

	// skill 50, exp 100, edu 80, keyword 100 -> 20+25+12+20 = 77
	assert.Equal(t, 77, first.OverallScore)
	assert.Equal(t, []string{"Go", "Redis"}, first.MatchedSkills)
	assert.Equal(t, []string{"Kubernetes"}, first.MissingSkills)
}

func TestScoreAll_BoundedFanout(t *testing.T) {
	engine := NewEngine(nil)

	profile := &types.ResumeProfile{
		SubjectID:         "s1",
		Skills:            []string{"Go"},
		YearsOfExperience: 5,
	}
	reqs := make([]*types.JobRequirement, 10)
	for i := range reqs {
		reqs[i] = &types.JobRequirement{
			JobID:          string(rune('a' + i)),
			RequiredSkills: []string{"Go"},
		}
	}

	scores, err := engine.ScoreAll(context.Background(), profile, reqs, 3)
	require.NoError(t, err)
	require.Len(t, scores, 10)
	// 输出顺序与输入岗位顺序一致
	for i, s := range scores {
		assert.Equal(t, reqs[i].JobID, s.JobID)
	}
}
