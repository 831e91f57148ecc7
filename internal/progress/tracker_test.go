package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePercent(t *testing.T) {
	tests := []struct {
		name    string
		stage   Stage
		local   int
		want    int
	}{
		{"排队中为0", StageQueued, 50, 0},
		{"上传阶段过半", StageUploading, 100, 5},
		{"提取开始", StageExtracting, 0, 5},
		{"提取完成", StageExtracting, 100, 25},
		{"分析过半", StageAnalyzing, 50, 50},
		{"向量化完成", StageEmbedding, 100, 90},
		{"匹配完成", StageMatching, 100, 98},
		{"收尾阶段封顶99", StageFinalizing, 100, 99},
		{"局部进度越界取边界", StageExtracting, 150, 25},
		{"局部进度为负按0算", StageExtracting, -5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputePercent(tt.stage, tt.local))
		})
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryStore())

	record, err := tracker.Init(ctx, "job-1", "subject-1")
	require.NoError(t, err)
	assert.Equal(t, StageQueued, record.Stage)
	assert.Equal(t, 0, record.OverallPercent)

	// 正向推进，进度单调不减
	prev := 0
	steps := []struct {
		stage Stage
		local int
	}{
		{StageUploading, 100},
		{StageExtracting, 50},
		{StageExtracting, 100},
		{StageAnalyzing, 30},
		{StageEmbedding, 100},
		{StageMatching, 100},
		{StageFinalizing, 50},
	}
	for _, step := range steps {
		record, err = tracker.Advance(ctx, "job-1", step.stage, step.local, nil)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.GreaterOrEqual(t, record.OverallPercent, prev, "正向推进时总进度不能回退")
		assert.LessOrEqual(t, record.OverallPercent, 99, "COMPLETED之前进度封顶99")
		prev = record.OverallPercent
	}

	record, err = tracker.Complete(ctx, "job-1", map[string]string{"matches": "12"})
	require.NoError(t, err)
	assert.Equal(t, 100, record.OverallPercent, "完成时强制为100")
	assert.Equal(t, StageCompleted, record.Stage)
	assert.Equal(t, "12", record.Metadata["matches"])
}

func TestTracker_FailForcesZero(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryStore())

	_, err := tracker.Init(ctx, "job-2", "subject-2")
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "job-2", StageAnalyzing, 80, nil)
	require.NoError(t, err)

	record, err := tracker.Fail(ctx, "job-2", "analysis exploded")
	require.NoError(t, err)
	assert.Equal(t, StageFailed, record.Stage)
	assert.Equal(t, 0, record.OverallPercent, "失败时进度强制归0")
	assert.Equal(t, "analysis exploded", record.Error)
}

func TestTracker_MissingRecordIsNoOp(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryStore())

	record, err := tracker.Advance(ctx, "ghost-job", StageExtracting, 50, nil)
	require.NoError(t, err, "记录缺失不是错误")
	assert.Nil(t, record)

	record, err = tracker.Fail(ctx, "ghost-job", "boom")
	require.NoError(t, err)
	assert.Nil(t, record)

	record, err = tracker.Complete(ctx, "ghost-job", nil)
	require.NoError(t, err)
	assert.Nil(t, record)

	record, err = tracker.Get(ctx, "ghost-job")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestTracker_GetBySubject(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemoryStore())

	_, err := tracker.Init(ctx, "job-3", "subject-3")
	require.NoError(t, err)
	_, err = tracker.Advance(ctx, "job-3", StageExtracting, 100, nil)
	require.NoError(t, err)

	record, err := tracker.GetBySubject(ctx, "subject-3")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "job-3", record.JobID)
	assert.Equal(t, StageExtracting, record.Stage)

	record, err = tracker.GetBySubject(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestTracker_InvalidStageRejected(t *testing.T) {
	tracker := NewTracker(NewMemoryStore())
	_, err := tracker.Advance(context.Background(), "job", Stage("BOGUS"), 10, nil)
	assert.Error(t, err)
}
