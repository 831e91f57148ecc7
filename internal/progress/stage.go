package progress

// Stage 流水线阶段
type Stage string

const (
	StageQueued     Stage = "QUEUED"
	StageUploading  Stage = "UPLOADING"
	StageExtracting Stage = "EXTRACTING"
	StageAnalyzing  Stage = "ANALYZING"
	StageEmbedding  Stage = "GENERATING_EMBEDDINGS"
	StageMatching   Stage = "MATCHING"
	StageFinalizing Stage = "FINALIZING"
	StageCompleted  Stage = "COMPLETED"
	StageFailed     Stage = "FAILED"
)

// stageOrder 正向推进的阶段顺序，FAILED可从任意非终态进入
var stageOrder = []Stage{
	StageQueued,
	StageUploading,
	StageExtracting,
	StageAnalyzing,
	StageEmbedding,
	StageMatching,
	StageFinalizing,
	StageCompleted,
}

// stageWeights 各阶段占总进度的固定权重，合计100
var stageWeights = map[Stage]int{
	StageQueued:     0,
	StageUploading:  5,
	StageExtracting: 20,
	StageAnalyzing:  50,
	StageEmbedding:  15,
	StageMatching:   8,
	StageFinalizing: 2,
}

// stageIndex 阶段在推进顺序中的下标，未知阶段返回-1
func stageIndex(s Stage) int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsValidStage 判断是否为可推进的已知阶段
func IsValidStage(s Stage) bool {
	return stageIndex(s) >= 0 && s != StageCompleted
}

// ComputePercent 计算总体进度
// 已完成阶段的权重之和 + 当前阶段局部进度折算，COMPLETED之前封顶99
func ComputePercent(stage Stage, localPercent int) int {
	if localPercent < 0 {
		localPercent = 0
	}
	if localPercent > 100 {
		localPercent = 100
	}

	idx := stageIndex(stage)
	if idx < 0 {
		return 0
	}

	completed := 0
	for i := 0; i < idx; i++ {
		completed += stageWeights[stageOrder[i]]
	}

	percent := completed + localPercent*stageWeights[stage]/100
	if percent > 99 {
		percent = 99
	}
	return percent
}
