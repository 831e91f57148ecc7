package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/progress"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

type fakeExtractor struct {
	result *types.ExtractionResult
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, uri string) (*types.ExtractionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAnalyzer struct {
	profile *types.ResumeProfile
	err     error
	calls   int
}

func (f *fakeAnalyzer) AnalyzeProfile(ctx context.Context, text string) (*types.ResumeProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeAnalyzer) AnalyzeRequirement(ctx context.Context, text, title string) (*types.JobRequirement, error) {
	return nil, errors.New("not implemented")
}

type fakeEmbedder struct {
	vector []float64
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeMatcher struct{}

func (f *fakeMatcher) ScoreAll(ctx context.Context, profile *types.ResumeProfile, reqs []*types.JobRequirement, concurrency int) ([]*types.MatchScore, error) {
	scores := make([]*types.MatchScore, 0, len(reqs))
	for _, req := range reqs {
		scores = append(scores, &types.MatchScore{
			SubjectID:     profile.SubjectID,
			JobID:         req.JobID,
			OverallScore:  75,
			MissingSkills: []string{"Kubernetes"},
		})
	}
	return scores, nil
}

type fakeRepo struct {
	doc          *models.ResumeDocument
	statuses     []string
	fieldUpdates []map[string]interface{}
	savedProfile *types.ResumeProfile
	savedProvider string
	reqs         []*types.JobRequirement
	matchScores  []*types.MatchScore
	skillGaps    []*types.SkillGapRecord
}

func (f *fakeRepo) GetDocument(ctx context.Context, jobID string) (*models.ResumeDocument, error) {
	return f.doc, nil
}

func (f *fakeRepo) UpdateDocumentStatus(ctx context.Context, jobID, status, errorMessage string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeRepo) UpdateDocumentFields(ctx context.Context, jobID string, updates map[string]interface{}) error {
	f.fieldUpdates = append(f.fieldUpdates, updates)
	return nil
}

func (f *fakeRepo) SaveProfile(ctx context.Context, profile *types.ResumeProfile, provider string) error {
	f.savedProfile = profile
	f.savedProvider = provider
	return nil
}

func (f *fakeRepo) ListActiveJobRequirements(ctx context.Context) ([]*types.JobRequirement, error) {
	return f.reqs, nil
}

func (f *fakeRepo) UpsertMatchScore(ctx context.Context, score *types.MatchScore) error {
	f.matchScores = append(f.matchScores, score)
	return nil
}

func (f *fakeRepo) UpsertSkillGap(ctx context.Context, record *types.SkillGapRecord) error {
	f.skillGaps = append(f.skillGaps, record)
	return nil
}

func (f *fakeRepo) lastStatus() string {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeObjects struct {
	pdf       []byte
	uploaded  string
	uploadErr error
}

func (f *fakeObjects) GetOriginalPDF(ctx context.Context, objectName string) ([]byte, error) {
	return f.pdf, nil
}

func (f *fakeObjects) UploadExtractedText(ctx context.Context, jobID string, text string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded = text
	return fmt.Sprintf("parsed/%s.txt", jobID), nil
}

type fakeDeduper struct {
	exists bool
	added  []string
}

func (f *fakeDeduper) CheckParsedTextMD5Exists(ctx context.Context, md5Hex string) (bool, error) {
	return f.exists, nil
}

func (f *fakeDeduper) AddParsedTextMD5(ctx context.Context, md5Hex string) error {
	f.added = append(f.added, md5Hex)
	return nil
}

func newTestPipeline(t *testing.T, repo *fakeRepo, anlz *fakeAnalyzer, embedder *fakeEmbedder, deduper *fakeDeduper) (*Pipeline, *progress.Tracker) {
	t.Helper()
	tracker := progress.NewTracker(progress.NewMemoryStore())
	p := NewPipeline(
		&fakeExtractor{result: &types.ExtractionResult{
			Text:       "工作经历丰富的后端工程师简历全文",
			Method:     types.ExtractionDirect,
			Confidence: 0.9,
			PageCount:  2,
		}},
		anlz,
		embedder,
		&fakeMatcher{},
		tracker,
		repo,
		&fakeObjects{pdf: []byte("%PDF-1.4 fake")},
		deduper,
		config.PipelineConfig{MatchConcurrency: 2, MaxRetries: 1, RetryBaseWaitMS: 1},
		zerolog.Nop(),
	)
	return p, tracker
}

func newPendingDoc(jobID string) *models.ResumeDocument {
	return &models.ResumeDocument{
		JobID:            jobID,
		SubjectID:        "subject-1",
		OriginalPathOSS:  "originals/" + jobID + ".pdf",
		ProcessingStatus: constants.StatusPending,
	}
}

func baseProfile() *types.ResumeProfile {
	return &types.ResumeProfile{
		Skills:            []string{"Go", "MySQL"},
		YearsOfExperience: 5,
		ExperienceLevel:   types.LevelSenior,
	}
}

func TestProcess_HappyPath(t *testing.T) {
	repo := &fakeRepo{
		doc: newPendingDoc("job-1"),
		reqs: []*types.JobRequirement{
			{JobID: "posting-1", Title: "后端工程师"},
			{JobID: "posting-2", Title: "平台工程师"},
		},
	}
	anlz := &fakeAnalyzer{profile: baseProfile()}
	deduper := &fakeDeduper{}
	p, tracker := newTestPipeline(t, repo, anlz, &fakeEmbedder{vector: []float64{0.1, 0.2}}, deduper)

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "job-1", SubjectID: "subject-1"})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusCompleted, repo.lastStatus(), "最终状态应为COMPLETED")
	require.NotNil(t, repo.savedProfile)
	assert.Equal(t, "subject-1", repo.savedProfile.SubjectID, "档案带上消息中的候选人ID")
	assert.Equal(t, []float64{0.1, 0.2}, repo.savedProfile.Embedding)
	assert.Equal(t, "fake", repo.savedProvider)

	assert.Len(t, repo.matchScores, 2, "每个激活岗位一条匹配分")
	assert.Len(t, repo.skillGaps, 2, "每条匹配分派生一条差距记录")
	assert.Equal(t, "Kubernetes", repo.skillGaps[0].MissingSkills[0].Skill)
	assert.Equal(t, types.ImportanceHigh, repo.skillGaps[0].MissingSkills[0].Importance)

	assert.Len(t, deduper.added, 1, "处理成功后写入去重集合")

	record, err := tracker.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, progress.StageCompleted, record.Stage)
	assert.Equal(t, 100, record.OverallPercent)

	// 提取结果字段落库
	require.Len(t, repo.fieldUpdates, 1)
	assert.Equal(t, "direct", repo.fieldUpdates[0]["extraction_method"])
	assert.Equal(t, 2, repo.fieldUpdates[0]["page_count"])
}

func TestProcess_DuplicateContentSkipped(t *testing.T) {
	repo := &fakeRepo{doc: newPendingDoc("job-2")}
	anlz := &fakeAnalyzer{profile: baseProfile()}
	deduper := &fakeDeduper{exists: true}
	p, tracker := newTestPipeline(t, repo, anlz, &fakeEmbedder{vector: []float64{1}}, deduper)

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "job-2", SubjectID: "subject-1"})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusDuplicateSkipped, repo.lastStatus())
	assert.Equal(t, 0, anlz.calls, "重复内容不触发分析")
	assert.Nil(t, repo.savedProfile)
	assert.Empty(t, deduper.added, "短路路径不再写去重集合")

	record, err := tracker.Get(context.Background(), "job-2")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 100, record.OverallPercent)
	assert.Equal(t, "true", record.Metadata["duplicate"])
}

func TestProcess_IdempotentSkipOnDisallowedStatus(t *testing.T) {
	doc := newPendingDoc("job-3")
	doc.ProcessingStatus = constants.StatusCompleted
	repo := &fakeRepo{doc: doc}
	anlz := &fakeAnalyzer{profile: baseProfile()}
	p, _ := newTestPipeline(t, repo, anlz, &fakeEmbedder{vector: []float64{1}}, &fakeDeduper{})

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "job-3", SubjectID: "subject-1"})
	require.NoError(t, err)

	assert.Empty(t, repo.statuses, "重复投递的消息不产生任何状态变更")
	assert.Equal(t, 0, anlz.calls)
}

func TestProcess_MissingDocumentIsNoop(t *testing.T) {
	repo := &fakeRepo{doc: nil}
	p, _ := newTestPipeline(t, repo, &fakeAnalyzer{profile: baseProfile()}, &fakeEmbedder{vector: []float64{1}}, &fakeDeduper{})

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "ghost", SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Empty(t, repo.statuses)
}

func TestProcess_AnalyzerFailureMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: newPendingDoc("job-4")}
	anlz := &fakeAnalyzer{err: errors.New("模型输出无法解析")}
	p, tracker := newTestPipeline(t, repo, anlz, &fakeEmbedder{vector: []float64{1}}, &fakeDeduper{})

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "job-4", SubjectID: "subject-1"})
	require.Error(t, err)

	assert.Equal(t, constants.StatusFailed, repo.lastStatus())
	assert.Equal(t, 2, anlz.calls, "MaxRetries=1时共尝试两次")

	record, getErr := tracker.Get(context.Background(), "job-4")
	require.NoError(t, getErr)
	require.NotNil(t, record)
	assert.Equal(t, progress.StageFailed, record.Stage)
	assert.Equal(t, 0, record.OverallPercent, "失败时进度归零")
	assert.NotEmpty(t, record.Error)
}

func TestProcess_EmbeddingExhaustionMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: newPendingDoc("job-5")}
	anlz := &fakeAnalyzer{profile: baseProfile()}
	p, tracker := newTestPipeline(t, repo, anlz, &fakeEmbedder{err: errors.New("provider unavailable")}, &fakeDeduper{})

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "job-5", SubjectID: "subject-1"})
	require.Error(t, err, "向量化重试耗尽对本次任务是致命的")

	assert.Equal(t, constants.StatusFailed, repo.lastStatus())
	assert.Nil(t, repo.savedProfile, "失败任务不落库半成品档案")

	record, getErr := tracker.Get(context.Background(), "job-5")
	require.NoError(t, getErr)
	require.NotNil(t, record)
	assert.Equal(t, progress.StageFailed, record.Stage)
	assert.Equal(t, 0, record.OverallPercent)
}

func TestProcess_NoSkillsSkipsEmbedding(t *testing.T) {
	// 无技能时没有可向量化的文本，不算失败
	repo := &fakeRepo{doc: newPendingDoc("job-6")}
	anlz := &fakeAnalyzer{profile: &types.ResumeProfile{
		Skills:            []string{},
		YearsOfExperience: 1,
		ExperienceLevel:   types.LevelEntry,
	}}
	p, _ := newTestPipeline(t, repo, anlz, &fakeEmbedder{err: errors.New("provider unavailable")}, &fakeDeduper{})

	err := p.Process(context.Background(), storage.ProcessRequestMessage{JobID: "job-6", SubjectID: "subject-1"})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusCompleted, repo.lastStatus())
	require.NotNil(t, repo.savedProfile)
	assert.Nil(t, repo.savedProfile.Embedding)
	assert.Empty(t, repo.savedProvider)
}

func TestRetryWithBackoff_StopsAfterBudget(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), 2, 1, func() error {
		calls++
		return errors.New("持续失败")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_SucceedsMidway(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), 3, 1, func() error {
		calls++
		if calls < 2 {
			return errors.New("第一次失败")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
