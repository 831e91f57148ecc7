package analyzer

import (
	"errors"
	"fmt"
)

// 分析阶段的基础错误
var (
	// ErrEmptyResponse LLM返回了空内容
	ErrEmptyResponse = errors.New("分析器返回空响应")
	// ErrMalformedOutput 响应中无法提取出合法JSON
	ErrMalformedOutput = errors.New("分析器输出格式错误")
	// ErrSchemaValidation 输出缺少必需字段或字段取值非法
	ErrSchemaValidation = errors.New("分析结果未通过字段校验")
)

// AnalysisError 带操作上下文的分析错误
type AnalysisError struct {
	Op      string // 出错的操作，如 "AnalyzeProfile"
	BaseErr error  // 基础错误
	Detail  string // 额外细节
}

// Error 实现error接口
func (e *AnalysisError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("分析错误 [操作: %s]: %v (%s)", e.Op, e.BaseErr, e.Detail)
	}
	return fmt.Sprintf("分析错误 [操作: %s]: %v", e.Op, e.BaseErr)
}

// Unwrap 支持errors.Is/As链式判断
func (e *AnalysisError) Unwrap() error {
	return e.BaseErr
}

// NewAnalysisError 创建分析错误
func NewAnalysisError(op string, baseErr error, detail string) *AnalysisError {
	return &AnalysisError{Op: op, BaseErr: baseErr, Detail: detail}
}
