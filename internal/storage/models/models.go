package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResumeDocument 简历文档处理记录表
// ProcessingStatus 是粗粒度状态，Redis里的进度记录过期后对外回退到该字段
type ResumeDocument struct {
	JobID            string         `gorm:"type:char(36);primaryKey"`
	SubjectID        string         `gorm:"type:char(36);not null;index:idx_rd_subject_id"`
	SourceLocation   string         `gorm:"type:varchar(1024)"`
	OriginalPathOSS  string         `gorm:"type:varchar(1024)"`
	ParsedTextPathOSS string        `gorm:"type:varchar(1024)"`
	ParsedTextMD5    string         `gorm:"type:char(32);index:idx_rd_parsed_text_md5"`
	ExtractionMethod string         `gorm:"type:varchar(20)"`
	Confidence       float64        `gorm:"type:float"`
	PageCount        int            `gorm:"type:int"`
	WarningsJSON     datatypes.JSON `gorm:"type:json"`
	ProcessingStatus string         `gorm:"type:varchar(50);default:'PENDING';index:idx_rd_processing_status"`
	ExtractorVersion string         `gorm:"type:varchar(50)"`
	ErrorMessage     string         `gorm:"type:text"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeDocument) TableName() string {
	return "resume_documents"
}

// SubjectProfile 候选人结构化档案表
// 重新分析时整行替换，不做字段级patch
type SubjectProfile struct {
	SubjectID         string         `gorm:"type:char(36);primaryKey"`
	SkillsJSON        datatypes.JSON `gorm:"type:json"`
	YearsOfExperience float64        `gorm:"type:float"`
	ExperienceLevel   string         `gorm:"type:varchar(20)"`
	HighestDegree     string         `gorm:"type:varchar(100)"`
	Education         string         `gorm:"type:text"`
	ATSIssuesJSON     datatypes.JSON `gorm:"type:json"`
	EmbeddingJSON     datatypes.JSON `gorm:"type:json"` // 技能文本的向量表示
	EmbeddingProvider string         `gorm:"type:varchar(50)"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (SubjectProfile) TableName() string {
	return "subject_profiles"
}

// JobPosting 岗位信息表
type JobPosting struct {
	JobPostingID       string         `gorm:"type:char(36);primaryKey"`
	Title              string         `gorm:"type:varchar(255);not null"`
	DescriptionText    string         `gorm:"type:text;not null"`
	RequiredSkillsJSON datatypes.JSON `gorm:"type:json"`
	PreferredSkillsJSON datatypes.JSON `gorm:"type:json"`
	MinYearsExperience float64        `gorm:"type:float"`
	MaxYearsExperience float64        `gorm:"type:float"`
	EducationRequired  string         `gorm:"type:varchar(100)"`
	EmbeddingJSON      datatypes.JSON `gorm:"type:json"`
	Status             string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jp_status"`
	CreatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (JobPosting) TableName() string {
	return "job_postings"
}

// MatchScoreRecord 档案与岗位的匹配评估表
// (SubjectID, JobPostingID) 唯一，重复计算原地覆盖
type MatchScoreRecord struct {
	MatchID           uint64         `gorm:"primaryKey;autoIncrement"`
	PairID            string         `gorm:"type:char(36);not null;index:idx_msr_pair_id"` // (subject, job) 派生的确定性UUID，对外引用号
	SubjectID         string         `gorm:"type:char(36);not null;index:idx_msr_subject_id;uniqueIndex:idx_msr_subject_job_unique,priority:1"`
	JobPostingID      string         `gorm:"type:char(36);not null;uniqueIndex:idx_msr_subject_job_unique,priority:2"`
	OverallScore      int            `gorm:"type:int;not null"`
	SkillScore        float64        `gorm:"type:float"`
	ExperienceScore   float64        `gorm:"type:float"`
	EducationScore    float64        `gorm:"type:float"`
	KeywordScore      float64        `gorm:"type:float"`
	MatchedSkillsJSON datatypes.JSON `gorm:"type:json"`
	MissingSkillsJSON datatypes.JSON `gorm:"type:json"`
	Explanation       string         `gorm:"type:text"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (MatchScoreRecord) TableName() string {
	return "match_scores"
}

// SkillGapEntry 单对(候选人, 岗位)的技能差距表
// 唯一性规则与 MatchScoreRecord 相同
type SkillGapEntry struct {
	GapID                  uint64         `gorm:"primaryKey;autoIncrement"`
	PairID                 string         `gorm:"type:char(36);not null;index:idx_sge_pair_id"`
	SubjectID              string         `gorm:"type:char(36);not null;index:idx_sge_subject_id;uniqueIndex:idx_sge_subject_job_unique,priority:1"`
	JobPostingID           string         `gorm:"type:char(36);not null;uniqueIndex:idx_sge_subject_job_unique,priority:2"`
	MissingSkillsJSON      datatypes.JSON `gorm:"type:json"`
	CoursesJSON            datatypes.JSON `gorm:"type:json"`
	LearningPathJSON       datatypes.JSON `gorm:"type:json"`
	ResumeImprovementsJSON datatypes.JSON `gorm:"type:json"`
	CreatedAt              time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt              time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (SkillGapEntry) TableName() string {
	return "skill_gaps"
}
