package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var mysqlTracer = otel.Tracer("resume-match-go/storage/mysql")

type gormSpanKey struct{}

// GormTracingPlugin GORM插件，为数据库操作打OpenTelemetry追踪点
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			attribute.String("db.statement", tracing.SafeSQL(db.Statement.SQL.String())),
		)

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中是正常业务路径，不记为错误
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.ConnectTimeoutSeconds)

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = gormlogger.Silent
	case 2:
		logLevel = gormlogger.Error
	case 3:
		logLevel = gormlogger.Warn
	default:
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 静默迁移全部模型
func (m *MySQL) autoMigrateSchema() error {
	silentDB := m.db.Session(&gorm.Session{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	return silentDB.AutoMigrate(
		&models.ResumeDocument{},
		&models.SubjectProfile{},
		&models.JobPosting{},
		&models.MatchScoreRecord{},
		&models.SkillGapEntry{},
	)
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateDocument 创建文档处理记录
func (m *MySQL) CreateDocument(ctx context.Context, doc *models.ResumeDocument) error {
	return m.db.WithContext(ctx).Create(doc).Error
}

// GetDocument 按jobID查询文档记录，不存在返回 (nil, nil)
func (m *MySQL) GetDocument(ctx context.Context, jobID string) (*models.ResumeDocument, error) {
	var doc models.ResumeDocument
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetLatestDocumentBySubject 查询候选人最近一次提交的文档记录，不存在返回 (nil, nil)
func (m *MySQL) GetLatestDocumentBySubject(ctx context.Context, subjectID string) (*models.ResumeDocument, error) {
	var doc models.ResumeDocument
	err := m.db.WithContext(ctx).Where("subject_id = ?", subjectID).
		Order("created_at DESC").First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocumentStatus 更新文档粗粒度状态
func (m *MySQL) UpdateDocumentStatus(ctx context.Context, jobID, status, errorMessage string) error {
	updates := map[string]interface{}{"processing_status": status}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	return m.db.WithContext(ctx).Model(&models.ResumeDocument{}).
		Where("job_id = ?", jobID).Updates(updates).Error
}

// UpdateDocumentFields 更新文档的任意字段集合
func (m *MySQL) UpdateDocumentFields(ctx context.Context, jobID string, updates map[string]interface{}) error {
	return m.db.WithContext(ctx).Model(&models.ResumeDocument{}).
		Where("job_id = ?", jobID).Updates(updates).Error
}

// SaveProfile 事务性整行替换候选人档案，不存在则创建
// 重新分析是full replace语义，不做字段级patch
func (m *MySQL) SaveProfile(ctx context.Context, profile *types.ResumeProfile, provider string) error {
	row, err := profileToModel(profile, provider)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}},
			UpdateAll: true,
		}).Create(row).Error
	})
}

// GetProfile 查询候选人档案，不存在返回 (nil, nil)
func (m *MySQL) GetProfile(ctx context.Context, subjectID string) (*types.ResumeProfile, error) {
	var row models.SubjectProfile
	err := m.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profileFromModel(&row)
}

// SaveJobPosting 创建或整行更新岗位
func (m *MySQL) SaveJobPosting(ctx context.Context, posting *models.JobPosting) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_posting_id"}},
		UpdateAll: true,
	}).Create(posting).Error
}

// SaveJobRequirement 落库结构化岗位要求，新岗位默认ACTIVE
func (m *MySQL) SaveJobRequirement(ctx context.Context, req *types.JobRequirement, description string) error {
	row, err := requirementToModel(req, description)
	if err != nil {
		return err
	}
	return m.SaveJobPosting(ctx, row)
}

// GetJobRequirement 查询单个岗位的结构化要求，不存在返回 (nil, nil)
func (m *MySQL) GetJobRequirement(ctx context.Context, jobPostingID string) (*types.JobRequirement, error) {
	var row models.JobPosting
	err := m.db.WithContext(ctx).Where("job_posting_id = ?", jobPostingID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return requirementFromModel(&row)
}

// ListActiveJobRequirements 列出所有激活岗位的结构化要求
func (m *MySQL) ListActiveJobRequirements(ctx context.Context) ([]*types.JobRequirement, error) {
	var rows []models.JobPosting
	if err := m.db.WithContext(ctx).Where("status = ?", "ACTIVE").Find(&rows).Error; err != nil {
		return nil, err
	}
	reqs := make([]*types.JobRequirement, 0, len(rows))
	for i := range rows {
		req, err := requirementFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// UpsertMatchScore 幂等落库匹配分: (subject, job) 冲突时原地覆盖
func (m *MySQL) UpsertMatchScore(ctx context.Context, score *types.MatchScore) error {
	row, err := matchScoreToModel(score)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_id"}, {Name: "job_posting_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"overall_score", "skill_score", "experience_score", "education_score",
			"keyword_score", "matched_skills_json", "missing_skills_json", "explanation",
		}),
	}).Create(row).Error
}

// GetMatchScore 查询匹配分，不存在返回 (nil, nil)
func (m *MySQL) GetMatchScore(ctx context.Context, subjectID, jobPostingID string) (*types.MatchScore, error) {
	var row models.MatchScoreRecord
	err := m.db.WithContext(ctx).
		Where("subject_id = ? AND job_posting_id = ?", subjectID, jobPostingID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return matchScoreFromModel(&row)
}

// UpsertSkillGap 幂等落库差距记录
func (m *MySQL) UpsertSkillGap(ctx context.Context, record *types.SkillGapRecord) error {
	row, err := skillGapToModel(record)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subject_id"}, {Name: "job_posting_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"missing_skills_json", "courses_json", "learning_path_json", "resume_improvements_json",
		}),
	}).Create(row).Error
}

// ListSkillGapsBySubject 取一个候选人的全部差距记录，供聚合器使用
func (m *MySQL) ListSkillGapsBySubject(ctx context.Context, subjectID string) ([]types.SkillGapRecord, error) {
	var rows []models.SkillGapEntry
	if err := m.db.WithContext(ctx).Where("subject_id = ?", subjectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]types.SkillGapRecord, 0, len(rows))
	for i := range rows {
		record, err := skillGapFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// ---- 模型与领域类型的转换 ----

func toJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化JSON列失败: %w", err)
	}
	return datatypes.JSON(data), nil
}

func fromJSON(data datatypes.JSON, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("反序列化JSON列失败: %w", err)
	}
	return nil
}

func profileToModel(p *types.ResumeProfile, provider string) (*models.SubjectProfile, error) {
	skills, err := toJSON(p.Skills)
	if err != nil {
		return nil, err
	}
	issues, err := toJSON(p.ATSIssues)
	if err != nil {
		return nil, err
	}
	embedding, err := toJSON(p.Embedding)
	if err != nil {
		return nil, err
	}
	return &models.SubjectProfile{
		SubjectID:         p.SubjectID,
		SkillsJSON:        skills,
		YearsOfExperience: p.YearsOfExperience,
		ExperienceLevel:   string(p.ExperienceLevel),
		HighestDegree:     p.HighestDegree,
		Education:         p.Education,
		ATSIssuesJSON:     issues,
		EmbeddingJSON:     embedding,
		EmbeddingProvider: provider,
	}, nil
}

func profileFromModel(row *models.SubjectProfile) (*types.ResumeProfile, error) {
	p := &types.ResumeProfile{
		SubjectID:         row.SubjectID,
		YearsOfExperience: row.YearsOfExperience,
		ExperienceLevel:   types.ExperienceLevel(row.ExperienceLevel),
		HighestDegree:     row.HighestDegree,
		Education:         row.Education,
	}
	if err := fromJSON(row.SkillsJSON, &p.Skills); err != nil {
		return nil, err
	}
	if err := fromJSON(row.ATSIssuesJSON, &p.ATSIssues); err != nil {
		return nil, err
	}
	if err := fromJSON(row.EmbeddingJSON, &p.Embedding); err != nil {
		return nil, err
	}
	return p, nil
}

func requirementToModel(req *types.JobRequirement, description string) (*models.JobPosting, error) {
	required, err := toJSON(req.RequiredSkills)
	if err != nil {
		return nil, err
	}
	preferred, err := toJSON(req.PreferredSkills)
	if err != nil {
		return nil, err
	}
	embedding, err := toJSON(req.Embedding)
	if err != nil {
		return nil, err
	}
	return &models.JobPosting{
		JobPostingID:        req.JobID,
		Title:               req.Title,
		DescriptionText:     description,
		RequiredSkillsJSON:  required,
		PreferredSkillsJSON: preferred,
		MinYearsExperience:  req.MinYearsExperience,
		MaxYearsExperience:  req.MaxYearsExperience,
		EducationRequired:   req.EducationRequired,
		EmbeddingJSON:       embedding,
		Status:              "ACTIVE",
	}, nil
}

func requirementFromModel(row *models.JobPosting) (*types.JobRequirement, error) {
	req := &types.JobRequirement{
		JobID:              row.JobPostingID,
		Title:              row.Title,
		MinYearsExperience: row.MinYearsExperience,
		MaxYearsExperience: row.MaxYearsExperience,
		EducationRequired:  row.EducationRequired,
	}
	if err := fromJSON(row.RequiredSkillsJSON, &req.RequiredSkills); err != nil {
		return nil, err
	}
	if err := fromJSON(row.PreferredSkillsJSON, &req.PreferredSkills); err != nil {
		return nil, err
	}
	if err := fromJSON(row.EmbeddingJSON, &req.Embedding); err != nil {
		return nil, err
	}
	return req, nil
}

func matchScoreToModel(s *types.MatchScore) (*models.MatchScoreRecord, error) {
	matched, err := toJSON(s.MatchedSkills)
	if err != nil {
		return nil, err
	}
	missing, err := toJSON(s.MissingSkills)
	if err != nil {
		return nil, err
	}
	return &models.MatchScoreRecord{
		PairID:            PairUUID(s.SubjectID, s.JobID),
		SubjectID:         s.SubjectID,
		JobPostingID:      s.JobID,
		OverallScore:      s.OverallScore,
		SkillScore:        s.ComponentScores.Skill,
		ExperienceScore:   s.ComponentScores.Experience,
		EducationScore:    s.ComponentScores.Education,
		KeywordScore:      s.ComponentScores.Keyword,
		MatchedSkillsJSON: matched,
		MissingSkillsJSON: missing,
		Explanation:       s.Explanation,
	}, nil
}

func matchScoreFromModel(row *models.MatchScoreRecord) (*types.MatchScore, error) {
	s := &types.MatchScore{
		SubjectID:    row.SubjectID,
		JobID:        row.JobPostingID,
		OverallScore: row.OverallScore,
		ComponentScores: types.ComponentScores{
			Skill:      row.SkillScore,
			Experience: row.ExperienceScore,
			Education:  row.EducationScore,
			Keyword:    row.KeywordScore,
		},
		Explanation: row.Explanation,
	}
	if err := fromJSON(row.MatchedSkillsJSON, &s.MatchedSkills); err != nil {
		return nil, err
	}
	if err := fromJSON(row.MissingSkillsJSON, &s.MissingSkills); err != nil {
		return nil, err
	}
	return s, nil
}

func skillGapToModel(r *types.SkillGapRecord) (*models.SkillGapEntry, error) {
	missing, err := toJSON(r.MissingSkills)
	if err != nil {
		return nil, err
	}
	courses, err := toJSON(r.Courses)
	if err != nil {
		return nil, err
	}
	path, err := toJSON(r.LearningPath)
	if err != nil {
		return nil, err
	}
	improvements, err := toJSON(r.ResumeImprovements)
	if err != nil {
		return nil, err
	}
	return &models.SkillGapEntry{
		PairID:                 PairUUID(r.SubjectID, r.JobID),
		SubjectID:              r.SubjectID,
		JobPostingID:           r.JobID,
		MissingSkillsJSON:      missing,
		CoursesJSON:            courses,
		LearningPathJSON:       path,
		ResumeImprovementsJSON: improvements,
	}, nil
}

func skillGapFromModel(row *models.SkillGapEntry) (*types.SkillGapRecord, error) {
	r := &types.SkillGapRecord{
		SubjectID: row.SubjectID,
		JobID:     row.JobPostingID,
	}
	if err := fromJSON(row.MissingSkillsJSON, &r.MissingSkills); err != nil {
		return nil, err
	}
	if err := fromJSON(row.CoursesJSON, &r.Courses); err != nil {
		return nil, err
	}
	if err := fromJSON(row.LearningPathJSON, &r.LearningPath); err != nil {
		return nil, err
	}
	if err := fromJSON(row.ResumeImprovementsJSON, &r.ResumeImprovements); err != nil {
		return nil, err
	}
	return r, nil
}
