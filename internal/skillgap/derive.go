package skillgap

import (
	"resume-match-go/internal/types"
)

// DeriveRecord 从一条匹配结果推导差距记录
// 缺失的必备技能一律记为高重要度；课程与改进建议留待后续环节补充
func DeriveRecord(score *types.MatchScore) types.SkillGapRecord {
	record := types.SkillGapRecord{
		SubjectID:     score.SubjectID,
		JobID:         score.JobID,
		MissingSkills: make([]types.SkillGapItem, 0, len(score.MissingSkills)),
	}
	for _, skill := range score.MissingSkills {
		record.MissingSkills = append(record.MissingSkills, types.SkillGapItem{
			Skill:      skill,
			Importance: types.ImportanceHigh,
		})
	}
	return record
}
