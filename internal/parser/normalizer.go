package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// 解析器偶尔会把PDF里的排版宏原样吐出来，统一清理
var markupCommandPattern = regexp.MustCompile(`\\[a-zA-Z]+\{[^{}]*\}`)

// 连续空白（不含换行）压缩为单个空格
var horizontalSpacePattern = regexp.MustCompile(`[ \t\x{00A0}]+`)

// 三个以上连续换行压缩为两个
var blankLinePattern = regexp.MustCompile(`\n{3,}`)

// punctuationReplacer 修复常见的乱码标点
var punctuationReplacer = strings.NewReplacer(
	"‘", "'", // 左单引号
	"’", "'", // 右单引号
	"“", `"`, // 左双引号
	"”", `"`, // 右双引号
	"–", "-", // en dash
	"—", "-", // em dash
	"•", "- ", // 项目符号
	"●", "- ",
	"·", "- ",
	"…", "...", // 省略号
	"ﬁ", "fi", // 连字
	"ﬂ", "fl",
)

// NormalizeText 清理提取出的原始文本
// 顺序: 去排版宏 -> 修标点 -> 去控制字符(保留换行) -> 压缩空白
func NormalizeText(raw string) string {
	if raw == "" {
		return ""
	}

	text := markupCommandPattern.ReplaceAllString(raw, " ")
	text = punctuationReplacer.Replace(text)

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			sb.WriteRune(r)
			continue
		}
		// 丢弃其余控制字符和替换符
		if unicode.IsControl(r) || r == '�' {
			continue
		}
		sb.WriteRune(r)
	}
	text = sb.String()

	text = horizontalSpacePattern.ReplaceAllString(text, " ")

	// 去掉每行首尾空白后再压缩空行
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLinePattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
