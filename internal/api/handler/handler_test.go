package handler

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/progress"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

type fakeRepo struct {
	createdDoc   *models.ResumeDocument
	doc          *models.ResumeDocument
	subjectDoc   *models.ResumeDocument
	profile      *types.ResumeProfile
	requirement  *types.JobRequirement
	storedScore  *types.MatchScore
	upsertScores []*types.MatchScore
	upsertGaps   []*types.SkillGapRecord
	gapRecords   []types.SkillGapRecord
	savedReq     *types.JobRequirement
	savedReqDesc string
}

func (f *fakeRepo) CreateDocument(ctx context.Context, doc *models.ResumeDocument) error {
	f.createdDoc = doc
	return nil
}

func (f *fakeRepo) GetDocument(ctx context.Context, jobID string) (*models.ResumeDocument, error) {
	return f.doc, nil
}

func (f *fakeRepo) GetLatestDocumentBySubject(ctx context.Context, subjectID string) (*models.ResumeDocument, error) {
	return f.subjectDoc, nil
}

func (f *fakeRepo) GetProfile(ctx context.Context, subjectID string) (*types.ResumeProfile, error) {
	return f.profile, nil
}

func (f *fakeRepo) GetJobRequirement(ctx context.Context, jobPostingID string) (*types.JobRequirement, error) {
	return f.requirement, nil
}

func (f *fakeRepo) GetMatchScore(ctx context.Context, subjectID, jobPostingID string) (*types.MatchScore, error) {
	return f.storedScore, nil
}

func (f *fakeRepo) UpsertMatchScore(ctx context.Context, score *types.MatchScore) error {
	f.upsertScores = append(f.upsertScores, score)
	return nil
}

func (f *fakeRepo) UpsertSkillGap(ctx context.Context, record *types.SkillGapRecord) error {
	f.upsertGaps = append(f.upsertGaps, record)
	return nil
}

func (f *fakeRepo) ListSkillGapsBySubject(ctx context.Context, subjectID string) ([]types.SkillGapRecord, error) {
	return f.gapRecords, nil
}

func (f *fakeRepo) SaveJobRequirement(ctx context.Context, req *types.JobRequirement, description string) error {
	f.savedReq = req
	f.savedReqDesc = description
	return nil
}

type fakePublisher struct {
	published []storage.ProcessRequestMessage
	err       error
}

func (f *fakePublisher) PublishProcessRequest(ctx context.Context, msg storage.ProcessRequestMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

type fakeScorer struct {
	score *types.MatchScore
	calls int
}

func (f *fakeScorer) Score(ctx context.Context, profile *types.ResumeProfile, req *types.JobRequirement) (*types.MatchScore, error) {
	f.calls++
	if f.score == nil {
		return nil, errors.New("no score configured")
	}
	return f.score, nil
}

type fakeObjects struct {
	uploadedBytes int64
	text          string
	textErr       error
	urlErr        error
}

func (f *fakeObjects) UploadOriginalPDF(ctx context.Context, id string, reader io.Reader, size int64) (string, string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", "", err
	}
	f.uploadedBytes = int64(len(data))
	return "originals/" + id + ".pdf", "d41d8cd98f00b204e9800998ecf8427e", nil
}

func (f *fakeObjects) GetExtractedText(ctx context.Context, objectName string) (string, error) {
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func (f *fakeObjects) GetPresignedOriginalURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://minio.local/" + objectName + "?signed", nil
}

type fakeReqAnalyzer struct {
	requirement *types.JobRequirement
	err         error
	gotText     string
	gotTitle    string
}

func (f *fakeReqAnalyzer) AnalyzeRequirement(ctx context.Context, text, title string) (*types.JobRequirement, error) {
	f.gotText = text
	f.gotTitle = title
	if f.err != nil {
		return nil, f.err
	}
	r := *f.requirement
	return &r, nil
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

func newTestHandler(repo *fakeRepo, pub *fakePublisher, scorer *fakeScorer) (*Handler, *progress.Tracker) {
	tracker := progress.NewTracker(progress.NewMemoryStore())
	h := NewHandler(repo, pub, &fakeObjects{}, &fakeReqAnalyzer{}, &fakeEmbedder{}, tracker, scorer, nil, zerolog.Nop())
	return h, tracker
}

func newTestHandlerFull(repo *fakeRepo, objects *fakeObjects, anlz *fakeReqAnalyzer, embedder *fakeEmbedder) *Handler {
	tracker := progress.NewTracker(progress.NewMemoryStore())
	return NewHandler(repo, &fakePublisher{}, objects, anlz, embedder, tracker, &fakeScorer{}, nil, zerolog.Nop())
}

func TestHandleProcess_EnqueuesJob(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	h, tracker := newTestHandler(repo, pub, &fakeScorer{})

	resp, err := h.HandleProcess(context.Background(), ProcessRequest{
		SubjectID:      "subject-1",
		SourceLocation: "originals/subject-1.pdf",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)

	require.NotNil(t, repo.createdDoc)
	assert.Equal(t, constants.StatusQueued, repo.createdDoc.ProcessingStatus)
	assert.Equal(t, "originals/subject-1.pdf", repo.createdDoc.OriginalPathOSS)

	require.Len(t, pub.published, 1)
	assert.Equal(t, resp.JobID, pub.published[0].JobID)
	assert.Equal(t, "subject-1", pub.published[0].SubjectID)

	record, err := tracker.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, record, "入队时初始化进度记录")
	assert.Equal(t, progress.StageQueued, record.Stage)
	assert.Equal(t, 0, record.OverallPercent)
}

func TestHandleProcess_RejectsMissingFields(t *testing.T) {
	h, _ := newTestHandler(&fakeRepo{}, &fakePublisher{}, &fakeScorer{})

	_, err := h.HandleProcess(context.Background(), ProcessRequest{SourceLocation: "a.pdf"})
	assert.Error(t, err, "缺少subject_id")

	_, err = h.HandleProcess(context.Background(), ProcessRequest{SubjectID: "s"})
	assert.Error(t, err, "缺少source_location")
}

func TestHandleProcess_PublishFailureMarksProgressFailed(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	h, _ := newTestHandler(repo, pub, &fakeScorer{})

	_, err := h.HandleProcess(context.Background(), ProcessRequest{
		SubjectID:      "subject-1",
		SourceLocation: "a.pdf",
	})
	require.Error(t, err)
	require.NotNil(t, repo.createdDoc, "文档记录已创建，留待重新提交")
}

func TestHandleProgressByJob_LiveRecord(t *testing.T) {
	repo := &fakeRepo{}
	h, tracker := newTestHandler(repo, &fakePublisher{}, &fakeScorer{})

	_, err := tracker.Init(context.Background(), "job-1", "subject-1")
	require.NoError(t, err)
	_, err = tracker.Advance(context.Background(), "job-1", progress.StageAnalyzing, 50, nil)
	require.NoError(t, err)

	resp, err := h.HandleProgressByJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "ANALYZING", resp.Stage)
	assert.Equal(t, 50, resp.OverallPercent)
	assert.False(t, resp.IsComplete)
}

func TestHandleProgressByJob_DegradesToCoarseStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		wantPercent int
		wantDone    bool
	}{
		{"已完成", constants.StatusCompleted, 100, true},
		{"重复跳过", constants.StatusDuplicateSkipped, 100, true},
		{"失败", constants.StatusFailed, 0, false},
		{"提取中", constants.StatusExtracting, 5, false},
		{"分析中", constants.StatusAnalyzing, 25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{doc: &models.ResumeDocument{JobID: "job-x", ProcessingStatus: tt.status}}
			h, _ := newTestHandler(repo, &fakePublisher{}, &fakeScorer{})

			resp, err := h.HandleProgressByJob(context.Background(), "job-x")
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Stage)
			assert.Equal(t, tt.wantPercent, resp.OverallPercent)
			assert.Equal(t, tt.wantDone, resp.IsComplete)
		})
	}
}

func TestHandleProgressByJob_NotFound(t *testing.T) {
	h, _ := newTestHandler(&fakeRepo{}, &fakePublisher{}, &fakeScorer{})

	_, err := h.HandleProgressByJob(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleProgressBySubject(t *testing.T) {
	h, tracker := newTestHandler(&fakeRepo{}, &fakePublisher{}, &fakeScorer{})

	_, err := tracker.Init(context.Background(), "job-1", "subject-1")
	require.NoError(t, err)

	resp, err := h.HandleProgressBySubject(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)

	_, err = h.HandleProgressBySubject(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleProgressBySubject_DegradesToCoarseStatus(t *testing.T) {
	// 进度记录过期后回退到该候选人最近一次任务的粗粒度状态
	repo := &fakeRepo{subjectDoc: &models.ResumeDocument{
		JobID:            "job-old",
		SubjectID:        "subject-1",
		ProcessingStatus: constants.StatusCompleted,
	}}
	h, _ := newTestHandler(repo, &fakePublisher{}, &fakeScorer{})

	resp, err := h.HandleProgressBySubject(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "job-old", resp.JobID)
	assert.Equal(t, constants.StatusCompleted, resp.Stage)
	assert.Equal(t, 100, resp.OverallPercent)
	assert.True(t, resp.IsComplete)
}

func TestHandleScore_ReturnsStoredValue(t *testing.T) {
	stored := &types.MatchScore{SubjectID: "s", JobID: "j", OverallScore: 80}
	scorer := &fakeScorer{}
	h, _ := newTestHandler(&fakeRepo{storedScore: stored}, &fakePublisher{}, scorer)

	score, err := h.HandleScore(context.Background(), "s", "j")
	require.NoError(t, err)
	assert.Equal(t, 80, score.OverallScore)
	assert.Equal(t, 0, scorer.calls, "已有落库值时不重算")
}

func TestHandleScore_ComputesOnFirstAccess(t *testing.T) {
	repo := &fakeRepo{
		profile:     &types.ResumeProfile{SubjectID: "s", Skills: []string{"Go"}},
		requirement: &types.JobRequirement{JobID: "j", Title: "后端工程师"},
	}
	scorer := &fakeScorer{score: &types.MatchScore{
		SubjectID:     "s",
		JobID:         "j",
		OverallScore:  66,
		MissingSkills: []string{"Redis"},
	}}
	h, _ := newTestHandler(repo, &fakePublisher{}, scorer)

	score, err := h.HandleScore(context.Background(), "s", "j")
	require.NoError(t, err)
	assert.Equal(t, 66, score.OverallScore)
	assert.Equal(t, 1, scorer.calls)

	require.Len(t, repo.upsertScores, 1, "现算结果落库")
	require.Len(t, repo.upsertGaps, 1, "同时派生差距记录")
	assert.Equal(t, "Redis", repo.upsertGaps[0].MissingSkills[0].Skill)
}

func TestHandleScore_MissingProfileIs404(t *testing.T) {
	h, _ := newTestHandler(&fakeRepo{}, &fakePublisher{}, &fakeScorer{})

	_, err := h.HandleScore(context.Background(), "nobody", "j")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleRecommendations(t *testing.T) {
	repo := &fakeRepo{gapRecords: []types.SkillGapRecord{
		{MissingSkills: []types.SkillGapItem{{Skill: "Kubernetes", Importance: types.ImportanceHigh}}},
		{MissingSkills: []types.SkillGapItem{{Skill: "kubernetes", Importance: types.ImportanceLow}}},
	}}
	h, _ := newTestHandler(repo, &fakePublisher{}, &fakeScorer{})

	rec, err := h.HandleRecommendations(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, rec.TopMissingSkills, 1)
	assert.Equal(t, "Kubernetes", rec.TopMissingSkills[0].Skill)
	assert.Equal(t, 4, rec.TopMissingSkills[0].WeightedCount)
}

func TestHandleRecommendations_EmptyIsNotError(t *testing.T) {
	h, _ := newTestHandler(&fakeRepo{}, &fakePublisher{}, &fakeScorer{})

	rec, err := h.HandleRecommendations(context.Background(), "s")
	require.NoError(t, err)
	assert.Empty(t, rec.TopMissingSkills)
	assert.Empty(t, rec.RecommendedCourses)
}

func TestHandleUpload(t *testing.T) {
	objects := &fakeObjects{}
	h := newTestHandlerFull(&fakeRepo{}, objects, &fakeReqAnalyzer{}, &fakeEmbedder{})

	resp, err := h.HandleUpload(context.Background(), strings.NewReader("%PDF-1.4 content"), 16)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.SourceLocation, "originals/"), "返回可直接入队的对象路径")
	assert.True(t, strings.HasSuffix(resp.SourceLocation, ".pdf"))
	assert.NotEmpty(t, resp.ContentMD5)
	assert.Equal(t, int64(16), objects.uploadedBytes)
}

func TestHandleCreateJob(t *testing.T) {
	repo := &fakeRepo{}
	anlz := &fakeReqAnalyzer{requirement: &types.JobRequirement{
		Title:          "后端工程师",
		RequiredSkills: []string{"Go", "MySQL"},
	}}
	embedder := &fakeEmbedder{vector: []float64{0.3, 0.7}}
	h := newTestHandlerFull(repo, &fakeObjects{}, anlz, embedder)

	resp, err := h.HandleCreateJob(context.Background(), CreateJobRequest{
		Title:       "后端工程师",
		Description: "负责服务端开发，要求熟悉Go和MySQL",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobPostingID)
	assert.Equal(t, []string{"Go", "MySQL"}, resp.RequiredSkills)

	assert.Equal(t, "后端工程师", anlz.gotTitle)
	require.NotNil(t, repo.savedReq)
	assert.Equal(t, resp.JobPostingID, repo.savedReq.JobID)
	assert.Equal(t, []float64{0.3, 0.7}, repo.savedReq.Embedding, "岗位技能向量一并落库")
	assert.Equal(t, "负责服务端开发，要求熟悉Go和MySQL", repo.savedReqDesc)
}

func TestHandleCreateJob_EmbeddingFailureDegrades(t *testing.T) {
	repo := &fakeRepo{}
	anlz := &fakeReqAnalyzer{requirement: &types.JobRequirement{
		Title:          "平台工程师",
		RequiredSkills: []string{"Kubernetes"},
	}}
	h := newTestHandlerFull(repo, &fakeObjects{}, anlz, &fakeEmbedder{err: errors.New("provider unavailable")})

	resp, err := h.HandleCreateJob(context.Background(), CreateJobRequest{
		Title:       "平台工程师",
		Description: "维护容器平台",
	})
	require.NoError(t, err, "向量化失败不阻断岗位创建")
	require.NotEmpty(t, resp.JobPostingID)
	require.NotNil(t, repo.savedReq)
	assert.Nil(t, repo.savedReq.Embedding)
}

func TestHandleCreateJob_RejectsMissingFields(t *testing.T) {
	h := newTestHandlerFull(&fakeRepo{}, &fakeObjects{}, &fakeReqAnalyzer{}, &fakeEmbedder{})

	_, err := h.HandleCreateJob(context.Background(), CreateJobRequest{Description: "d"})
	assert.Error(t, err, "缺少title")

	_, err = h.HandleCreateJob(context.Background(), CreateJobRequest{Title: "t"})
	assert.Error(t, err, "缺少description")
}

func TestHandleGetDocument(t *testing.T) {
	repo := &fakeRepo{doc: &models.ResumeDocument{
		JobID:             "job-1",
		SubjectID:         "subject-1",
		ProcessingStatus:  constants.StatusCompleted,
		ExtractionMethod:  "direct",
		Confidence:        0.9,
		PageCount:         2,
		OriginalPathOSS:   "originals/job-1.pdf",
		ParsedTextPathOSS: "parsed/job-1.txt",
	}}
	objects := &fakeObjects{text: "提取后的简历全文"}
	h := newTestHandlerFull(repo, objects, &fakeReqAnalyzer{}, &fakeEmbedder{})

	resp, err := h.HandleGetDocument(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, resp.Status)
	assert.Equal(t, "提取后的简历全文", resp.ExtractedText)
	assert.Contains(t, resp.OriginalURL, "originals/job-1.pdf")
}

func TestHandleGetDocument_ObjectFailuresDegrade(t *testing.T) {
	repo := &fakeRepo{doc: &models.ResumeDocument{
		JobID:             "job-2",
		SubjectID:         "subject-1",
		ProcessingStatus:  constants.StatusCompleted,
		OriginalPathOSS:   "originals/job-2.pdf",
		ParsedTextPathOSS: "parsed/job-2.txt",
	}}
	objects := &fakeObjects{
		textErr: errors.New("object missing"),
		urlErr:  errors.New("presign failed"),
	}
	h := newTestHandlerFull(repo, objects, &fakeReqAnalyzer{}, &fakeEmbedder{})

	resp, err := h.HandleGetDocument(context.Background(), "job-2")
	require.NoError(t, err, "附加信息失败不影响主记录")
	assert.Empty(t, resp.ExtractedText)
	assert.Empty(t, resp.OriginalURL)
}

func TestHandleGetDocument_NotFound(t *testing.T) {
	h := newTestHandlerFull(&fakeRepo{}, &fakeObjects{}, &fakeReqAnalyzer{}, &fakeEmbedder{})

	_, err := h.HandleGetDocument(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
