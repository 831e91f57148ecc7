package storage

import (
	gofrsuuid "github.com/gofrs/uuid/v5"
)

// pairNamespace (候选人, 岗位) 对ID的命名空间
var pairNamespace = gofrsuuid.Must(gofrsuuid.FromString("8f2d1f3a-6c54-4c1e-9b2a-7d8e4a1b0c3d"))

// PairUUID 由 (subjectID, jobPostingID) 派生确定性UUID
// 同一对输入永远得到同一个ID，可作为匹配结果的外部引用号
func PairUUID(subjectID, jobPostingID string) string {
	return gofrsuuid.NewV5(pairNamespace, subjectID+"/"+jobPostingID).String()
}
