package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// 质量评分的惩罚权重，从1.0起扣，触发一项记一条警告
const (
	penaltyShortText    = 0.30
	penaltyLowWordCount = 0.25
	penaltyNonPrintable = 0.30
	penaltyNoSections   = 0.20

	// 非标准字符占比超过该阈值视为乱码严重
	nonPrintableRatioLimit = 0.10
)

// sectionKeywords 简历常见章节标题，至少命中两个才算结构完整
var sectionKeywords = []string{
	"experience", "education", "skills", "work", "employment",
	"projects", "summary", "objective", "certifications",
	"工作经历", "教育", "技能", "项目", "证书",
}

// QualityScorer 基于结构启发式给提取文本打分
type QualityScorer struct {
	minTextLength int
	minWordCount  int
}

// NewQualityScorer 创建质量评分器，非法阈值回退到默认值
func NewQualityScorer(minTextLength, minWordCount int) *QualityScorer {
	if minTextLength <= 0 {
		minTextLength = 200
	}
	if minWordCount <= 0 {
		minWordCount = 50
	}
	return &QualityScorer{
		minTextLength: minTextLength,
		minWordCount:  minWordCount,
	}
}

// Score 返回 [0,1] 的置信度和触发的警告列表
// 空文本直接判零分，不走惩罚累加
func (s *QualityScorer) Score(text string) (float64, []string) {
	if strings.TrimSpace(text) == "" {
		return 0, []string{"no text could be extracted from the document"}
	}

	confidence := 1.0
	var warnings []string

	runeCount := len([]rune(text))
	if runeCount < s.minTextLength {
		confidence -= penaltyShortText
		warnings = append(warnings,
			fmt.Sprintf("extracted text is short (%d chars, expected at least %d)", runeCount, s.minTextLength))
	}

	wordCount := len(strings.Fields(text))
	if wordCount < s.minWordCount {
		confidence -= penaltyLowWordCount
		warnings = append(warnings,
			fmt.Sprintf("low word count (%d words, expected at least %d)", wordCount, s.minWordCount))
	}

	if ratio := nonPrintableRatio(text); ratio > nonPrintableRatioLimit {
		confidence -= penaltyNonPrintable
		warnings = append(warnings,
			fmt.Sprintf("high ratio of non-standard characters (%.1f%%)", ratio*100))
	}

	if hits := countSectionKeywords(text); hits < 2 {
		confidence -= penaltyNoSections
		warnings = append(warnings,
			fmt.Sprintf("document structure unclear: only %d recognizable section headers found", hits))
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence, warnings
}

// nonPrintableRatio 统计非常规字符占比
// 换行和制表符是正常排版字符，不计入
func nonPrintableRatio(text string) float64 {
	total := 0
	bad := 0
	for _, r := range text {
		total++
		if r == '\n' || r == '\t' || r == ' ' {
			continue
		}
		if !unicode.IsPrint(r) || r == unicode.ReplacementChar {
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

// countSectionKeywords 统计命中的不同章节关键词个数
func countSectionKeywords(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range sectionKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}
