package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/analyzer"
	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/embedding"
	"resume-match-go/internal/progress"
	"resume-match-go/internal/skillgap"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var pipelineTracer = otel.Tracer("resume-match-go/pipeline")

// Extractor 文本提取引擎抽象
type Extractor interface {
	Extract(ctx context.Context, data []byte, uri string) (*types.ExtractionResult, error)
}

// Matcher 匹配引擎抽象
type Matcher interface {
	ScoreAll(ctx context.Context, profile *types.ResumeProfile, reqs []*types.JobRequirement, concurrency int) ([]*types.MatchScore, error)
}

// Repository 流水线依赖的关系库操作，生产实现为 storage.MySQL
type Repository interface {
	GetDocument(ctx context.Context, jobID string) (*models.ResumeDocument, error)
	UpdateDocumentStatus(ctx context.Context, jobID, status, errorMessage string) error
	UpdateDocumentFields(ctx context.Context, jobID string, updates map[string]interface{}) error
	SaveProfile(ctx context.Context, profile *types.ResumeProfile, provider string) error
	ListActiveJobRequirements(ctx context.Context) ([]*types.JobRequirement, error)
	UpsertMatchScore(ctx context.Context, score *types.MatchScore) error
	UpsertSkillGap(ctx context.Context, record *types.SkillGapRecord) error
}

// ObjectStore 流水线依赖的对象存储操作，生产实现为 storage.MinIO
type ObjectStore interface {
	GetOriginalPDF(ctx context.Context, objectName string) ([]byte, error)
	UploadExtractedText(ctx context.Context, jobID string, text string) (string, error)
}

// Deduper 解析文本内容去重，生产实现为 storage.Redis
type Deduper interface {
	CheckParsedTextMD5Exists(ctx context.Context, md5Hex string) (bool, error)
	AddParsedTextMD5(ctx context.Context, md5Hex string) error
}

// Pipeline 简历处理流水线
// 提取 -> 分析 -> 向量化 -> 匹配 -> 落库，进度与粗粒度状态同步推进
type Pipeline struct {
	extractor Extractor
	analyzer  analyzer.Analyzer
	embedder  embedding.Provider
	matcher   Matcher
	tracker   *progress.Tracker
	repo      Repository
	objects   ObjectStore
	deduper   Deduper

	matchConcurrency int
	maxRetries       int
	retryBaseWait    time.Duration
	logger           zerolog.Logger
}

// NewPipeline 组装流水线
func NewPipeline(
	extractor Extractor,
	anlz analyzer.Analyzer,
	embedder embedding.Provider,
	m Matcher,
	tracker *progress.Tracker,
	repo Repository,
	objects ObjectStore,
	deduper Deduper,
	cfg config.PipelineConfig,
	logger zerolog.Logger,
) *Pipeline {
	matchConcurrency := cfg.MatchConcurrency
	if matchConcurrency <= 0 {
		matchConcurrency = 4
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseWait := time.Duration(cfg.RetryBaseWaitMS) * time.Millisecond
	if baseWait <= 0 {
		baseWait = 500 * time.Millisecond
	}

	return &Pipeline{
		extractor:        extractor,
		analyzer:         anlz,
		embedder:         embedder,
		matcher:          m,
		tracker:          tracker,
		repo:             repo,
		objects:          objects,
		deduper:          deduper,
		matchConcurrency: matchConcurrency,
		maxRetries:       maxRetries,
		retryBaseWait:    baseWait,
		logger:           logger.With().Str("component", "pipeline").Logger(),
	}
}

// Process 处理一条简历处理请求
// 返回error表示任务已标记失败；幂等跳过和内容去重返回nil
func (p *Pipeline) Process(ctx context.Context, msg storage.ProcessRequestMessage) error {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(
			attribute.String("job_id", msg.JobID),
			attribute.String("subject_id", msg.SubjectID),
		),
	)
	defer span.End()

	log := p.logger.With().Str("job_id", msg.JobID).Str("subject_id", msg.SubjectID).Logger()

	doc, err := p.repo.GetDocument(ctx, msg.JobID)
	if err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("查询文档记录失败: %w", err))
	}
	if doc == nil {
		// 消息指向不存在的任务，确认后丢弃
		log.Warn().Msg("文档记录不存在，跳过处理")
		return nil
	}
	if !constants.IsStatusAllowed(doc.ProcessingStatus, constants.AllowedStatusesForProcessing) {
		// 重复投递的消息直接跳过，保证幂等
		log.Info().Str("status", doc.ProcessingStatus).Msg("文档状态不允许重复处理，跳过")
		return nil
	}

	// 投递方通常已Init过进度记录；记录过期或缺失时在此补建，否则后续推进都是空操作
	if record, getErr := p.tracker.Get(ctx, msg.JobID); getErr == nil && record == nil {
		if _, initErr := p.tracker.Init(ctx, msg.JobID, msg.SubjectID); initErr != nil {
			log.Warn().Err(initErr).Msg("补建进度记录失败")
		}
	}

	// ---- 提取 ----
	if err := p.advance(ctx, msg.JobID, progress.StageExtracting, 0, constants.StatusExtracting); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeInternal, err)
	}

	pdfData, err := p.objects.GetOriginalPDF(ctx, doc.OriginalPathOSS)
	if err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeExternal, fmt.Errorf("下载原始PDF失败: %w", err))
	}

	result, err := p.extractor.Extract(ctx, pdfData, doc.OriginalPathOSS)
	if err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeExtraction, fmt.Errorf("文本提取失败: %w", err))
	}
	log.Info().
		Str("method", string(result.Method)).
		Float64("confidence", result.Confidence).
		Int("page_count", result.PageCount).
		Str("preview", tracing.SafeDocumentText(result.Text)).
		Msg("文本提取完成")

	// 内容去重：同一份文本已处理过则短路
	textMD5 := storage.TextMD5(result.Text)
	exists, err := p.deduper.CheckParsedTextMD5Exists(ctx, textMD5)
	if err != nil {
		// 去重检查失败不阻断主流程
		log.Warn().Err(err).Msg("内容去重检查失败，继续处理")
	} else if exists {
		log.Info().Str("md5", textMD5).Msg("解析文本内容重复，跳过后续处理")
		if err := p.repo.UpdateDocumentStatus(ctx, msg.JobID, constants.StatusDuplicateSkipped, ""); err != nil {
			log.Error().Err(err).Msg("更新重复跳过状态失败")
		}
		if _, err := p.tracker.Complete(ctx, msg.JobID, map[string]string{"duplicate": "true"}); err != nil {
			log.Error().Err(err).Msg("标记进度完成失败")
		}
		return nil
	}

	parsedPath, err := p.objects.UploadExtractedText(ctx, msg.JobID, result.Text)
	if err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeExternal, fmt.Errorf("上传提取文本失败: %w", err))
	}

	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		warningsJSON = []byte("[]")
	}
	updates := map[string]interface{}{
		"parsed_text_path_oss": parsedPath,
		"parsed_text_md5":      textMD5,
		"extraction_method":    string(result.Method),
		"confidence":           result.Confidence,
		"page_count":           result.PageCount,
		"warnings_json":        warningsJSON,
		"extractor_version":    constants.DefaultExtractorVer,
	}
	if err := p.repo.UpdateDocumentFields(ctx, msg.JobID, updates); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("更新提取结果失败: %w", err))
	}
	if _, err := p.tracker.Advance(ctx, msg.JobID, progress.StageExtracting, 100, nil); err != nil {
		log.Warn().Err(err).Msg("推进提取进度失败")
	}

	// ---- 结构化分析 ----
	if err := p.advance(ctx, msg.JobID, progress.StageAnalyzing, 0, constants.StatusAnalyzing); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeInternal, err)
	}

	var profile *types.ResumeProfile
	err = retryWithBackoff(ctx, p.maxRetries, p.retryBaseWait, func() error {
		var analyzeErr error
		profile, analyzeErr = p.analyzer.AnalyzeProfile(ctx, result.Text)
		return analyzeErr
	})
	if err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeExternal, fmt.Errorf("结构化分析失败: %w", err))
	}
	profile.SubjectID = msg.SubjectID

	// ---- 向量化 ----
	if err := p.advance(ctx, msg.JobID, progress.StageEmbedding, 0, constants.StatusEmbedding); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeInternal, err)
	}

	providerName := ""
	if p.embedder != nil && len(profile.Skills) > 0 {
		skillsText := strings.Join(profile.Skills, ", ")
		var vector []float64
		embedErr := retryWithBackoff(ctx, p.maxRetries, p.retryBaseWait, func() error {
			var e error
			vector, e = p.embedder.Embed(ctx, skillsText)
			return e
		})
		if embedErr != nil {
			// 向量化不可用对本次任务是致命的，档案不落库，等待显式重新处理
			return p.fail(ctx, msg.JobID, tracing.ErrorTypeEmbedding, fmt.Errorf("技能向量化失败: %w", embedErr))
		}
		profile.Embedding = vector
		providerName = p.embedder.Name()
	}

	// 档案整行落库，失败时不留半成品
	if err := p.repo.SaveProfile(ctx, profile, providerName); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("保存档案失败: %w", err))
	}

	// ---- 匹配 ----
	if err := p.advance(ctx, msg.JobID, progress.StageMatching, 0, constants.StatusMatching); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeInternal, err)
	}

	reqs, err := p.repo.ListActiveJobRequirements(ctx)
	if err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("获取激活岗位列表失败: %w", err))
	}

	if len(reqs) > 0 {
		scores, scoreErr := p.matcher.ScoreAll(ctx, profile, reqs, p.matchConcurrency)
		if scoreErr != nil {
			return p.fail(ctx, msg.JobID, tracing.ErrorTypeInternal, fmt.Errorf("批量匹配失败: %w", scoreErr))
		}
		for _, score := range scores {
			if err := p.repo.UpsertMatchScore(ctx, score); err != nil {
				return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("保存匹配分失败: %w", err))
			}
			record := skillgap.DeriveRecord(score)
			if err := p.repo.UpsertSkillGap(ctx, &record); err != nil {
				return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("保存技能差距失败: %w", err))
			}
		}
		log.Info().Int("jobs", len(reqs)).Int("scored", len(scores)).Msg("岗位匹配完成")
	} else {
		log.Info().Msg("无激活岗位，跳过匹配")
	}

	// ---- 收尾 ----
	if err := p.advance(ctx, msg.JobID, progress.StageFinalizing, 50, ""); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeInternal, err)
	}

	// 去重集合在全部落库成功后才写入，避免失败任务占位
	if err := p.deduper.AddParsedTextMD5(ctx, textMD5); err != nil {
		log.Warn().Err(err).Msg("写入内容去重集合失败")
	}

	if err := p.repo.UpdateDocumentStatus(ctx, msg.JobID, constants.StatusCompleted, ""); err != nil {
		return p.fail(ctx, msg.JobID, tracing.ErrorTypeDB, fmt.Errorf("更新完成状态失败: %w", err))
	}
	if _, err := p.tracker.Complete(ctx, msg.JobID, nil); err != nil {
		log.Warn().Err(err).Msg("标记进度完成失败")
	}

	log.Info().Msg("简历处理流水线完成")
	return nil
}

// advance 同步推进进度记录与文档粗粒度状态
func (p *Pipeline) advance(ctx context.Context, jobID string, stage progress.Stage, localPercent int, status string) error {
	if _, err := p.tracker.Advance(ctx, jobID, stage, localPercent, nil); err != nil {
		return fmt.Errorf("推进进度到 %s 失败: %w", stage, err)
	}
	if status != "" {
		if err := p.repo.UpdateDocumentStatus(ctx, jobID, status, ""); err != nil {
			return fmt.Errorf("更新文档状态到 %s 失败: %w", status, err)
		}
	}
	return nil
}

// fail 标记任务失败：进度置FAILED，文档状态持久化失败原因，错误记到当前span
func (p *Pipeline) fail(ctx context.Context, jobID string, errType tracing.ErrorType, cause error) error {
	p.logger.Error().Err(cause).Str("job_id", jobID).Str("error_type", string(errType)).Msg("流水线处理失败")
	tracing.RecordErrorWithInfo(trace.SpanFromContext(ctx), cause, errType,
		attribute.String("job_id", jobID),
	)

	if _, err := p.tracker.Fail(ctx, jobID, cause.Error()); err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("标记进度失败状态出错")
	}
	if err := p.repo.UpdateDocumentStatus(ctx, jobID, constants.StatusFailed, cause.Error()); err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("更新文档失败状态出错")
	}
	return cause
}
