package constants

// Redis Key 前缀和格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// ProgressModulePrefix 进度模块
	ProgressModulePrefix = "progress"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityJob 任务实体
	EntityJob = "job"
	// EntitySubject 候选人实体
	EntitySubject = "subject"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"

	// KeyProgressByJob 任务进度记录 (STRING, JSON值, 带TTL)
	// 格式: app:progress:job:{jobID}
	KeyProgressByJob = AppPrefix + ":" + ProgressModulePrefix + ":" + EntityJob + ":%s"

	// KeyProgressBySubject 候选人到进行中任务的二级索引 (STRING, 带TTL)
	// 格式: app:progress:subject:{subjectID}
	KeyProgressBySubject = AppPrefix + ":" + ProgressModulePrefix + ":" + EntitySubject + ":%s"

	// KeyTextMD5Set 解析文本MD5集合，用于内容去重 (SET)
	// 格式: app:file:dedup_set
	KeyTextMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet
)
