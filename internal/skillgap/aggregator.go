package skillgap

import (
	"sort"
	"strings"

	"resume-match-go/internal/types"
)

// 重要程度对应的频次权重
var importanceWeights = map[types.SkillImportance]int{
	types.ImportanceHigh:   3,
	types.ImportanceMedium: 2,
	types.ImportanceLow:    1,
}

// DefaultTopN 默认返回的条目上限
const DefaultTopN = 10

// Aggregator 对单个候选人的全部差距记录做纯聚合
// 不发起任何网络或AI调用
type Aggregator struct {
	topN int
}

// NewAggregator 创建聚合器，topN非法时用默认值
func NewAggregator(topN int) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Aggregator{topN: topN}
}

// Aggregate 汇总一个候选人的所有差距记录
// 缺失技能按重要程度加权计频后取前N；课程按名称去重，保留首次出现顺序，截断到N
func (a *Aggregator) Aggregate(records []types.SkillGapRecord) *types.Recommendation {
	rec := &types.Recommendation{
		TopMissingSkills:   []types.WeightedSkill{},
		RecommendedCourses: []types.CourseSuggestion{},
		ResumeImprovements: []string{},
	}
	if len(records) == 0 {
		return rec
	}

	type tally struct {
		display     string // 首次出现的写法
		weighted    int
		occurrences int
		firstSeen   int
	}
	tallies := make(map[string]*tally)
	order := 0

	seenCourse := make(map[string]bool)
	seenImprovement := make(map[string]bool)

	for _, record := range records {
		for _, item := range record.MissingSkills {
			name := strings.TrimSpace(item.Skill)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)

			weight, ok := importanceWeights[item.Importance]
			if !ok {
				weight = importanceWeights[types.ImportanceLow]
			}

			t, exists := tallies[key]
			if !exists {
				t = &tally{display: name, firstSeen: order}
				tallies[key] = t
				order++
			}
			t.weighted += weight
			t.occurrences++
		}

		for _, course := range record.Courses {
			name := strings.TrimSpace(course.Name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if seenCourse[key] {
				continue
			}
			seenCourse[key] = true
			rec.RecommendedCourses = append(rec.RecommendedCourses, course)
		}

		for _, improvement := range record.ResumeImprovements {
			improvement = strings.TrimSpace(improvement)
			if improvement == "" || seenImprovement[strings.ToLower(improvement)] {
				continue
			}
			seenImprovement[strings.ToLower(improvement)] = true
			rec.ResumeImprovements = append(rec.ResumeImprovements, improvement)
		}
	}

	// 加权计数降序，并列时按首次出现顺序保证确定性
	skills := make([]*tally, 0, len(tallies))
	for _, t := range tallies {
		skills = append(skills, t)
	}
	sort.Slice(skills, func(i, j int) bool {
		if skills[i].weighted != skills[j].weighted {
			return skills[i].weighted > skills[j].weighted
		}
		return skills[i].firstSeen < skills[j].firstSeen
	})

	if len(skills) > a.topN {
		skills = skills[:a.topN]
	}
	for _, t := range skills {
		rec.TopMissingSkills = append(rec.TopMissingSkills, types.WeightedSkill{
			Skill:         t.display,
			WeightedCount: t.weighted,
			Occurrences:   t.occurrences,
		})
	}

	if len(rec.RecommendedCourses) > a.topN {
		rec.RecommendedCourses = rec.RecommendedCourses[:a.topN]
	}
	if len(rec.ResumeImprovements) > a.topN {
		rec.ResumeImprovements = rec.ResumeImprovements[:a.topN]
	}

	return rec
}
