package handler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/progress"
	"resume-match-go/internal/skillgap"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

// Repository API层依赖的关系库操作，生产实现为 storage.MySQL
type Repository interface {
	CreateDocument(ctx context.Context, doc *models.ResumeDocument) error
	GetDocument(ctx context.Context, jobID string) (*models.ResumeDocument, error)
	GetLatestDocumentBySubject(ctx context.Context, subjectID string) (*models.ResumeDocument, error)
	GetProfile(ctx context.Context, subjectID string) (*types.ResumeProfile, error)
	GetJobRequirement(ctx context.Context, jobPostingID string) (*types.JobRequirement, error)
	GetMatchScore(ctx context.Context, subjectID, jobPostingID string) (*types.MatchScore, error)
	UpsertMatchScore(ctx context.Context, score *types.MatchScore) error
	UpsertSkillGap(ctx context.Context, record *types.SkillGapRecord) error
	ListSkillGapsBySubject(ctx context.Context, subjectID string) ([]types.SkillGapRecord, error)
	SaveJobRequirement(ctx context.Context, req *types.JobRequirement, description string) error
}

// Publisher 处理请求投递
type Publisher interface {
	PublishProcessRequest(ctx context.Context, msg storage.ProcessRequestMessage) error
}

// Scorer 单对(档案, 岗位)评分
type Scorer interface {
	Score(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement) (*types.MatchScore, error)
}

// RequirementAnalyzer 岗位描述的结构化抽取
type RequirementAnalyzer interface {
	AnalyzeRequirement(ctx context.Context, text, title string) (*types.JobRequirement, error)
}

// Embedder 技能文本向量化
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ObjectStore API层依赖的对象存储操作，生产实现为 storage.MinIO
type ObjectStore interface {
	UploadOriginalPDF(ctx context.Context, id string, reader io.Reader, size int64) (string, string, error)
	GetExtractedText(ctx context.Context, objectName string) (string, error)
	GetPresignedOriginalURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ErrNotFound 资源不存在，路由层转为404
var ErrNotFound = fmt.Errorf("resource not found")

// Handler 汇聚全部API业务逻辑，路由层只做参数绑定
type Handler struct {
	repo         Repository
	publisher    Publisher
	objects      ObjectStore
	requirements RequirementAnalyzer
	embedder     Embedder
	tracker      *progress.Tracker
	scorer       Scorer
	aggregator   *skillgap.Aggregator
	logger       zerolog.Logger
}

// NewHandler 创建API处理器
func NewHandler(
	repo Repository,
	publisher Publisher,
	objects ObjectStore,
	requirements RequirementAnalyzer,
	embedder Embedder,
	tracker *progress.Tracker,
	scorer Scorer,
	aggregator *skillgap.Aggregator,
	logger zerolog.Logger,
) *Handler {
	if aggregator == nil {
		aggregator = skillgap.NewAggregator(skillgap.DefaultTopN)
	}
	return &Handler{
		repo:         repo,
		publisher:    publisher,
		objects:      objects,
		requirements: requirements,
		embedder:     embedder,
		tracker:      tracker,
		scorer:       scorer,
		aggregator:   aggregator,
		logger:       logger.With().Str("component", "api_handler").Logger(),
	}
}

// ProcessRequest 入队请求体
type ProcessRequest struct {
	SubjectID      string `json:"subject_id"`
	SourceLocation string `json:"source_location"`
}

// ProcessResponse 入队响应体
type ProcessResponse struct {
	JobID string `json:"job_id"`
}

// HandleProcess 创建文档记录、初始化进度并投递处理请求
func (h *Handler) HandleProcess(ctx context.Context, req ProcessRequest) (*ProcessResponse, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	sourceLocation := strings.TrimSpace(req.SourceLocation)
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id不能为空")
	}
	if sourceLocation == "" {
		return nil, fmt.Errorf("source_location不能为空")
	}

	jobID := uuid.NewString()
	doc := &models.ResumeDocument{
		JobID:            jobID,
		SubjectID:        subjectID,
		SourceLocation:   sourceLocation,
		OriginalPathOSS:  sourceLocation,
		ProcessingStatus: constants.StatusQueued,
	}
	if err := h.repo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	if _, err := h.tracker.Init(ctx, jobID, subjectID); err != nil {
		// 进度是可观测性数据，初始化失败不阻断入队
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("初始化进度记录失败")
	}

	msg := storage.ProcessRequestMessage{
		JobID:          jobID,
		SubjectID:      subjectID,
		SourceLocation: sourceLocation,
	}
	if err := h.publisher.PublishProcessRequest(ctx, msg); err != nil {
		// 投递失败时进度置失败，文档停留在QUEUED，调用方可重新提交
		if _, failErr := h.tracker.Fail(ctx, jobID, "消息投递失败"); failErr != nil {
			h.logger.Warn().Err(failErr).Str("job_id", jobID).Msg("标记进度失败状态出错")
		}
		return nil, fmt.Errorf("投递处理请求失败: %w", err)
	}

	h.logger.Info().Str("job_id", jobID).Str("subject_id", subjectID).Msg("处理请求已入队")
	return &ProcessResponse{JobID: jobID}, nil
}

// ProgressResponse 进度查询响应体
type ProgressResponse struct {
	JobID          string `json:"job_id"`
	Stage          string `json:"stage"`
	OverallPercent int    `json:"overall_percent"`
	Message        string `json:"message,omitempty"`
	IsComplete     bool   `json:"is_complete"`
}

// HandleProgressByJob 查询任务进度
// Redis记录过期后回退到MySQL中的粗粒度状态
func (h *Handler) HandleProgressByJob(ctx context.Context, jobID string) (*ProgressResponse, error) {
	record, err := h.tracker.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("查询进度失败: %w", err)
	}
	if record != nil {
		return progressResponseFromRecord(record), nil
	}
	return h.coarseProgress(ctx, jobID)
}

// HandleProgressBySubject 按候选人查询其进行中任务的进度
// Redis记录过期后回退到该候选人最近一次任务的粗粒度状态
func (h *Handler) HandleProgressBySubject(ctx context.Context, subjectID string) (*ProgressResponse, error) {
	record, err := h.tracker.GetBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("查询候选人进度失败: %w", err)
	}
	if record != nil {
		return progressResponseFromRecord(record), nil
	}

	doc, err := h.repo.GetLatestDocumentBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("查询候选人文档记录失败: %w", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return coarseFromDocument(doc), nil
}

func progressResponseFromRecord(record *progress.JobProgress) *ProgressResponse {
	resp := &ProgressResponse{
		JobID:          record.JobID,
		Stage:          string(record.Stage),
		OverallPercent: record.OverallPercent,
		Message:        record.Error,
		IsComplete:     record.Stage == progress.StageCompleted,
	}
	return resp
}

// coarseProgress 进度记录过期后从文档粗粒度状态推算一个降级响应
func (h *Handler) coarseProgress(ctx context.Context, jobID string) (*ProgressResponse, error) {
	doc, err := h.repo.GetDocument(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("查询文档记录失败: %w", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return coarseFromDocument(doc), nil
}

// coarseFromDocument 把文档粗粒度状态映射为进度响应
func coarseFromDocument(doc *models.ResumeDocument) *ProgressResponse {
	resp := &ProgressResponse{
		JobID:   doc.JobID,
		Stage:   doc.ProcessingStatus,
		Message: doc.ErrorMessage,
	}
	switch doc.ProcessingStatus {
	case constants.StatusCompleted, constants.StatusDuplicateSkipped:
		resp.OverallPercent = 100
		resp.IsComplete = true
	case constants.StatusFailed, constants.StatusPending, constants.StatusQueued:
		resp.OverallPercent = 0
	default:
		// 中间状态对应阶段起点
		resp.OverallPercent = progress.ComputePercent(progress.Stage(doc.ProcessingStatus), 0)
	}
	return resp
}

// HandleScore 查询匹配分，首次访问时现算并落库(cache-aside)
func (h *Handler) HandleScore(ctx context.Context, subjectID, jobPostingID string) (*types.MatchScore, error) {
	score, err := h.repo.GetMatchScore(ctx, subjectID, jobPostingID)
	if err != nil {
		return nil, fmt.Errorf("查询匹配分失败: %w", err)
	}
	if score != nil {
		return score, nil
	}

	profile, err := h.repo.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("查询档案失败: %w", err)
	}
	if profile == nil {
		return nil, ErrNotFound
	}
	req, err := h.repo.GetJobRequirement(ctx, jobPostingID)
	if err != nil {
		return nil, fmt.Errorf("查询岗位失败: %w", err)
	}
	if req == nil {
		return nil, ErrNotFound
	}

	score, err = h.scorer.Score(ctx, profile, req)
	if err != nil {
		return nil, fmt.Errorf("现算匹配分失败: %w", err)
	}

	if err := h.repo.UpsertMatchScore(ctx, score); err != nil {
		h.logger.Warn().Err(err).Str("subject_id", subjectID).Str("job_posting_id", jobPostingID).Msg("匹配分落库失败")
	}
	record := skillgap.DeriveRecord(score)
	if err := h.repo.UpsertSkillGap(ctx, &record); err != nil {
		h.logger.Warn().Err(err).Str("subject_id", subjectID).Str("job_posting_id", jobPostingID).Msg("差距记录落库失败")
	}
	return score, nil
}

// HandleRecommendations 聚合一个候选人的全部差距记录
func (h *Handler) HandleRecommendations(ctx context.Context, subjectID string) (*types.Recommendation, error) {
	records, err := h.repo.ListSkillGapsBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("查询差距记录失败: %w", err)
	}
	return h.aggregator.Aggregate(records), nil
}

// UploadResponse 简历上传响应体
// SourceLocation 直接作为 /process 的入参使用
type UploadResponse struct {
	SourceLocation string `json:"source_location"`
	ContentMD5     string `json:"content_md5"`
}

// HandleUpload 上传原始PDF到对象存储，返回可入队的对象路径
func (h *Handler) HandleUpload(ctx context.Context, reader io.Reader, size int64) (*UploadResponse, error) {
	uploadID := uuid.NewString()
	path, md5Hex, err := h.objects.UploadOriginalPDF(ctx, uploadID, reader, size)
	if err != nil {
		return nil, fmt.Errorf("上传原始PDF失败: %w", err)
	}

	h.logger.Info().Str("source_location", path).Int64("size", size).Msg("简历原件上传完成")
	return &UploadResponse{SourceLocation: path, ContentMD5: md5Hex}, nil
}

// CreateJobRequest 岗位创建请求体
type CreateJobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateJobResponse 岗位创建响应体
type CreateJobResponse struct {
	JobPostingID   string   `json:"job_posting_id"`
	RequiredSkills []string `json:"required_skills"`
}

// HandleCreateJob 结构化分析岗位描述并落库为激活岗位
// 描述文本的技能向量一并生成，缺失时该岗位的语义分项退化为中性值
func (h *Handler) HandleCreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	if title == "" {
		return nil, fmt.Errorf("title不能为空")
	}
	if description == "" {
		return nil, fmt.Errorf("description不能为空")
	}

	requirement, err := h.requirements.AnalyzeRequirement(ctx, description, title)
	if err != nil {
		return nil, fmt.Errorf("岗位结构化分析失败: %w", err)
	}
	requirement.JobID = uuid.NewString()

	if h.embedder != nil && len(requirement.RequiredSkills) > 0 {
		skillsText := strings.Join(requirement.RequiredSkills, ", ")
		vector, embedErr := h.embedder.Embed(ctx, skillsText)
		if embedErr != nil {
			h.logger.Warn().Err(embedErr).Str("job_posting_id", requirement.JobID).Msg("岗位技能向量化失败，语义分项将使用中性分")
		} else {
			requirement.Embedding = vector
		}
	}

	if err := h.repo.SaveJobRequirement(ctx, requirement, description); err != nil {
		return nil, fmt.Errorf("岗位落库失败: %w", err)
	}

	h.logger.Info().Str("job_posting_id", requirement.JobID).Str("title", title).Msg("岗位创建完成")
	return &CreateJobResponse{
		JobPostingID:   requirement.JobID,
		RequiredSkills: requirement.RequiredSkills,
	}, nil
}

// DocumentResponse 文档详情响应体
type DocumentResponse struct {
	JobID            string  `json:"job_id"`
	SubjectID        string  `json:"subject_id"`
	Status           string  `json:"status"`
	ExtractionMethod string  `json:"extraction_method,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	PageCount        int     `json:"page_count,omitempty"`
	ExtractedText    string  `json:"extracted_text,omitempty"`
	OriginalURL      string  `json:"original_url,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
}

// presignedURLExpiry 原件下载链接的有效期
const presignedURLExpiry = 15 * time.Minute

// HandleGetDocument 查询文档详情，附带提取文本和原件限时下载链接
// 对象存储的附加信息获取失败只降级，不影响主记录返回
func (h *Handler) HandleGetDocument(ctx context.Context, jobID string) (*DocumentResponse, error) {
	doc, err := h.repo.GetDocument(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("查询文档记录失败: %w", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}

	resp := &DocumentResponse{
		JobID:            doc.JobID,
		SubjectID:        doc.SubjectID,
		Status:           doc.ProcessingStatus,
		ExtractionMethod: doc.ExtractionMethod,
		Confidence:       doc.Confidence,
		PageCount:        doc.PageCount,
		ErrorMessage:     doc.ErrorMessage,
	}

	if doc.ParsedTextPathOSS != "" {
		text, textErr := h.objects.GetExtractedText(ctx, doc.ParsedTextPathOSS)
		if textErr != nil {
			h.logger.Warn().Err(textErr).Str("job_id", jobID).Msg("获取提取文本失败")
		} else {
			resp.ExtractedText = text
		}
	}
	if doc.OriginalPathOSS != "" {
		url, urlErr := h.objects.GetPresignedOriginalURL(ctx, doc.OriginalPathOSS, presignedURLExpiry)
		if urlErr != nil {
			h.logger.Warn().Err(urlErr).Str("job_id", jobID).Msg("生成原件下载链接失败")
		} else {
			resp.OriginalURL = url
		}
	}
	return resp, nil
}
