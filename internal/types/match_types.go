package types

// ExtractionMethod 表示文本提取所使用的策略
type ExtractionMethod string

const (
	// ExtractionDirect 直接结构化解析PDF文本
	ExtractionDirect ExtractionMethod = "direct"
	// ExtractionOCR 光学字符识别提取
	ExtractionOCR ExtractionMethod = "ocr"
	// ExtractionHybrid 直接解析与OCR结果拼接
	ExtractionHybrid ExtractionMethod = "hybrid"
)

// ExtractionResult 单个文档的提取结果
// 一经产生即不可变；Confidence 仅为启发式参考值，不作为硬性门槛
type ExtractionResult struct {
	Text       string           `json:"text"`
	Method     ExtractionMethod `json:"method"`
	Confidence float64          `json:"confidence"` // [0,1]
	PageCount  int              `json:"page_count"`
	Warnings   []string         `json:"warnings"`
}

// ExperienceLevel 经验级别枚举
type ExperienceLevel string

const (
	LevelEntry  ExperienceLevel = "ENTRY"
	LevelMid    ExperienceLevel = "MID"
	LevelSenior ExperienceLevel = "SENIOR"
	LevelLead   ExperienceLevel = "LEAD"
)

// ResumeProfile 结构化简历档案
// 由结构化分析器 + 向量化组件共同产出；存储后不可变，重新分析时整体替换
type ResumeProfile struct {
	SubjectID         string          `json:"subject_id"`
	Skills            []string        `json:"skills"` // 去重后的技能列表，顺序无意义
	YearsOfExperience float64         `json:"years_of_experience"`
	ExperienceLevel   ExperienceLevel `json:"experience_level"`
	HighestDegree     string          `json:"highest_degree"` // 为空表示无学历记录
	Education         string          `json:"education"`
	ATSIssues         []string        `json:"ats_issues"`
	Embedding         []float64       `json:"embedding,omitempty"`
}

// JobRequirement 结构化岗位要求
type JobRequirement struct {
	JobID              string    `json:"job_id"`
	Title              string    `json:"title"`
	RequiredSkills     []string  `json:"required_skills"`
	PreferredSkills    []string  `json:"preferred_skills"`
	MinYearsExperience float64   `json:"min_years_experience"`
	MaxYearsExperience float64   `json:"max_years_experience"`
	EducationRequired  string    `json:"education_required"`
	Embedding          []float64 `json:"embedding,omitempty"`
}

// ComponentScores 匹配分数的四个分项，均在 [0,100] 区间
type ComponentScores struct {
	Skill      float64 `json:"skill"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
	Keyword    float64 `json:"keyword"`
}

// MatchScore 一份简历档案与一个岗位的匹配评估结果
// 以 (SubjectID, JobID) 为唯一键，重复计算时原地覆盖
type MatchScore struct {
	SubjectID       string          `json:"subject_id"`
	JobID           string          `json:"job_id"`
	OverallScore    int             `json:"overall_score"` // [0,100]
	ComponentScores ComponentScores `json:"component_scores"`
	MatchedSkills   []string        `json:"matched_skills"`
	MissingSkills   []string        `json:"missing_skills"`
	Explanation     string          `json:"explanation"`
}

// SkillImportance 缺失技能的重要程度
type SkillImportance string

const (
	ImportanceHigh   SkillImportance = "high"
	ImportanceMedium SkillImportance = "medium"
	ImportanceLow    SkillImportance = "low"
)

// SkillGapItem 单个缺失技能及其学习建议
type SkillGapItem struct {
	Skill        string          `json:"skill"`
	Importance   SkillImportance `json:"importance"`
	LearningTime string          `json:"learning_time,omitempty"`
	Suggestion   string          `json:"suggestion,omitempty"`
}

// CourseSuggestion 课程推荐
type CourseSuggestion struct {
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
	URL      string `json:"url,omitempty"`
}

// SkillGapRecord 由一条 MatchScore 派生的技能差距记录
// 与 MatchScore 使用相同的 (SubjectID, JobID) 唯一性规则
type SkillGapRecord struct {
	SubjectID          string             `json:"subject_id"`
	JobID              string             `json:"job_id"`
	MissingSkills      []SkillGapItem     `json:"missing_skills"`
	Courses            []CourseSuggestion `json:"courses"`
	LearningPath       []string           `json:"learning_path"`
	ResumeImprovements []string           `json:"resume_improvements"`
}

// WeightedSkill 按重要程度加权统计后的缺失技能
type WeightedSkill struct {
	Skill         string `json:"skill"`
	WeightedCount int    `json:"weighted_count"`
	Occurrences   int    `json:"occurrences"`
}

// Recommendation 面向单个候选人的汇总建议
type Recommendation struct {
	TopMissingSkills   []WeightedSkill    `json:"top_missing_skills"`
	RecommendedCourses []CourseSuggestion `json:"recommended_courses"`
	ResumeImprovements []string           `json:"resume_improvements"`
}
