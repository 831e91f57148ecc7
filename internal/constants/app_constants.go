package constants

import "time"

const (
	// DefaultExtractorVer 当前提取流程版本号，写入文档记录便于回溯
	DefaultExtractorVer = "1.0"

	// ProgressRecordTTL 进度记录的默认过期时间
	ProgressRecordTTL = 24 * time.Hour
)

// 文档的粗粒度处理状态（进度记录过期后对外回退到该字段）
const (
	StatusPending          = "PENDING"
	StatusQueued           = "QUEUED"
	StatusExtracting       = "EXTRACTING"
	StatusAnalyzing        = "ANALYZING"
	StatusEmbedding        = "GENERATING_EMBEDDINGS"
	StatusMatching         = "MATCHING"
	StatusCompleted        = "COMPLETED"
	StatusFailed           = "FAILED"
	StatusDuplicateSkipped = "CONTENT_DUPLICATE_SKIPPED"
)

// AllowedStatusesForProcessing 允许进入处理流程的状态集合
// 用于消费端的幂等性检查：重复投递的消息直接确认跳过
var AllowedStatusesForProcessing = map[string]bool{
	StatusPending: true,
	StatusQueued:  true,
	StatusFailed:  true, // 显式重新处理
}

// IsStatusAllowed 判断给定状态是否在允许集合内
func IsStatusAllowed(status string, allowed map[string]bool) bool {
	return allowed[status]
}
