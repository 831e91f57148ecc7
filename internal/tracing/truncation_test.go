package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10), "未超长时原样返回")

	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	truncated := TruncateString(long, 21)
	assert.LessOrEqual(t, len([]rune(truncated)), 21)
	assert.Contains(t, truncated, "...", "截断后带省略号")
	assert.True(t, strings.HasPrefix(truncated, "aaa"), "保留开头")
	assert.True(t, strings.HasSuffix(truncated, "bbb"), "保留结尾")

	assert.Equal(t, "ab", TruncateString("abcdef", 2), "极短上限直接截断")
}

func TestTruncateString_Unicode(t *testing.T) {
	text := strings.Repeat("简历内容", 100)
	truncated := TruncateString(text, 15)
	assert.LessOrEqual(t, len([]rune(truncated)), 15, "按rune计数，不截断多字节字符")
}

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "a*", MaskPII("ab"))
	assert.Equal(t, "a**d", MaskPII("abcd"))
	assert.Equal(t, "zh*******om", MaskPII("zhang@x.com"), "保留前后各两位")
}

func TestSafeAttributeValue(t *testing.T) {
	masked := SafeAttributeValue("user.email", "zhang@example.com", DefaultMaxLength)
	assert.NotEqual(t, "zhang@example.com", masked, "敏感字段名触发掩码")
	assert.Contains(t, masked, "*")

	long := strings.Repeat("x", 300)
	plain := SafeAttributeValue("db.operation", long, DefaultMaxLength)
	assert.LessOrEqual(t, len([]rune(plain)), DefaultMaxLength, "非敏感字段只做截断")
}

func TestSafeHelpers(t *testing.T) {
	sql := "SELECT * FROM resume_documents WHERE " + strings.Repeat("job_id = 'x' OR ", 100) + "1=1"
	assert.LessOrEqual(t, len([]rune(SafeSQL(sql))), MaxSQLLength)

	key := "app:progress:" + strings.Repeat("f", 200)
	assert.LessOrEqual(t, len([]rune(SafeRedisKey(key))), MaxRedisLength)

	doc := strings.Repeat("工作经历：后端开发。", 100)
	assert.LessOrEqual(t, len([]rune(SafeDocumentText(doc))), MaxDocumentLength)
}
