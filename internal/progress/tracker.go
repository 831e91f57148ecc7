package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
)

// JobProgress 一次处理任务的进度快照
// 所有写入都是last-write-wins，不保留历史
type JobProgress struct {
	JobID          string            `json:"job_id"`
	SubjectID      string            `json:"subject_id"`
	Stage          Stage             `json:"stage"`
	LocalPercent   int               `json:"local_percent"`
	OverallPercent int               `json:"overall_percent"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Tracker 任务进度跟踪器
// 进度是可观测性数据而非正确性关键状态: 记录缺失时所有写操作都是安全的空操作
type Tracker struct {
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
}

// TrackerOption 跟踪器配置选项
type TrackerOption func(*Tracker)

// WithRecordTTL 配置进度记录的过期时间
func WithRecordTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// NewTracker 创建进度跟踪器
func NewTracker(store Store, options ...TrackerOption) *Tracker {
	t := &Tracker{
		store:  store,
		ttl:    constants.ProgressRecordTTL,
		logger: logger.Logger.With().Str("component", "progress_tracker").Logger(),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Init 初始化一条进度记录并建立候选人到任务的索引
func (t *Tracker) Init(ctx context.Context, jobID, subjectID string) (*JobProgress, error) {
	record := &JobProgress{
		JobID:          jobID,
		SubjectID:      subjectID,
		Stage:          StageQueued,
		OverallPercent: 0,
		UpdatedAt:      time.Now(),
	}
	if err := t.put(ctx, record); err != nil {
		return nil, err
	}

	// 二级索引: subject -> 进行中的jobID
	indexKey := fmt.Sprintf(constants.KeyProgressBySubject, subjectID)
	if err := t.store.Put(ctx, indexKey, jobID, t.ttl); err != nil {
		return nil, fmt.Errorf("写入候选人进度索引失败: %w", err)
	}
	return record, nil
}

// Advance 推进到指定阶段
// localPercent 为当前阶段内部进度[0,100]；总进度只增不减，COMPLETED前封顶99
func (t *Tracker) Advance(ctx context.Context, jobID string, stage Stage, localPercent int, metadata map[string]string) (*JobProgress, error) {
	if !IsValidStage(stage) {
		return nil, fmt.Errorf("非法的进度阶段: %q", stage)
	}

	record, err := t.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// 记录缺失是安全的空操作
		t.logger.Debug().Str("job_id", jobID).Str("stage", string(stage)).Msg("进度记录不存在，跳过推进")
		return nil, nil
	}

	percent := ComputePercent(stage, localPercent)
	if percent < record.OverallPercent {
		// 正向推进时进度不回退
		percent = record.OverallPercent
	}

	record.Stage = stage
	record.LocalPercent = localPercent
	record.OverallPercent = percent
	record.UpdatedAt = time.Now()
	if metadata != nil {
		record.Metadata = metadata
	}

	if err := t.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Fail 标记任务失败，总进度强制归0
func (t *Tracker) Fail(ctx context.Context, jobID, errorMessage string) (*JobProgress, error) {
	record, err := t.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		t.logger.Debug().Str("job_id", jobID).Msg("进度记录不存在，跳过失败标记")
		return nil, nil
	}

	record.Stage = StageFailed
	record.LocalPercent = 0
	record.OverallPercent = 0
	record.Error = errorMessage
	record.UpdatedAt = time.Now()

	if err := t.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Complete 标记任务完成，总进度强制为100
func (t *Tracker) Complete(ctx context.Context, jobID string, metadata map[string]string) (*JobProgress, error) {
	record, err := t.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		t.logger.Debug().Str("job_id", jobID).Msg("进度记录不存在，跳过完成标记")
		return nil, nil
	}

	record.Stage = StageCompleted
	record.LocalPercent = 100
	record.OverallPercent = 100
	record.UpdatedAt = time.Now()
	if metadata != nil {
		record.Metadata = metadata
	}

	if err := t.put(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get 查询任务进度，记录不存在返回 (nil, nil)
func (t *Tracker) Get(ctx context.Context, jobID string) (*JobProgress, error) {
	key := fmt.Sprintf(constants.KeyProgressByJob, jobID)
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取进度记录失败: %w", err)
	}

	var record JobProgress
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("进度记录反序列化失败: %w", err)
	}
	return &record, nil
}

// GetBySubject 按候选人查询其进行中任务的进度，索引或记录缺失都返回 (nil, nil)
func (t *Tracker) GetBySubject(ctx context.Context, subjectID string) (*JobProgress, error) {
	indexKey := fmt.Sprintf(constants.KeyProgressBySubject, subjectID)
	jobID, err := t.store.Get(ctx, indexKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取候选人进度索引失败: %w", err)
	}
	return t.Get(ctx, jobID)
}

func (t *Tracker) put(ctx context.Context, record *JobProgress) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("进度记录序列化失败: %w", err)
	}
	key := fmt.Sprintf(constants.KeyProgressByJob, record.JobID)
	if err := t.store.Put(ctx, key, string(data), t.ttl); err != nil {
		return fmt.Errorf("写入进度记录失败: %w", err)
	}
	return nil
}
