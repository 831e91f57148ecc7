package analyzer

import "strings"

// extractJSON 从LLM自由文本里提取第一个完整的JSON对象
// 用大括号配对计数，容忍对象前后的解释性文字和markdown围栏
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 把字符串字面量内部未转义的双引号改写成 \"
// 通过看下一个非空白字符是否为 :, ], }, 或 , 来判断当前 " 是否为真正的字符串结束
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					// 字符串内部的裸引号，补转义
					b.WriteString("\\\"")
				}
			}
			escaped = false
		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)
		} else {
			escaped = false
			b.WriteByte(c)
		}
	}
	return b.String()
}
