package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

// fakeDirect 返回预设文本的直接解析器
type fakeDirect struct {
	text  string
	pages int
	err   error
}

func (f *fakeDirect) ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, int, error) {
	return f.text, f.pages, f.err
}

// fakeOCR 记录是否被调用的OCR引擎
type fakeOCR struct {
	available bool
	text      string
	pages     int
	err       error
	called    bool
}

func (f *fakeOCR) Available() bool { return f.available }

func (f *fakeOCR) ExtractText(ctx context.Context, pdfPath string) (string, int, error) {
	f.called = true
	return f.text, f.pages, f.err
}

var pdfBytes = []byte("%PDF-1.4\nfake content for tests")

func TestDecideMethod(t *testing.T) {
	tests := []struct {
		name       string
		directConf float64
		ocrConf    float64
		want       types.ExtractionMethod
	}{
		{"OCR明显更优时选OCR", 0.2, 0.6, types.ExtractionOCR},
		{"两边都不够强时拼hybrid", 0.6, 0.5, types.ExtractionHybrid},
		{"OCR太弱时保留直接解析", 0.45, 0.2, types.ExtractionDirect},
		{"直接解析足够强时不用hybrid", 0.75, 0.5, types.ExtractionDirect},
		{"OCR与直接解析持平时保守选直接解析", 0.3, 0.3, types.ExtractionDirect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decideMethod(tt.directConf, tt.ocrConf))
		})
	}
}

func TestExtract_InvalidDocument(t *testing.T) {
	engine := NewExtractionEngine(&fakeDirect{}, NewQualityScorer(200, 50), nil)

	_, err := engine.Extract(context.Background(), []byte("not a pdf at all"), "test.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDocument), "非PDF内容应返回ErrInvalidDocument")
}

func TestExtract_ConfidentDirectSkipsOCR(t *testing.T) {
	ocr := &fakeOCR{available: true, text: richResumeText()}
	direct := &fakeDirect{text: richResumeText(), pages: 2}
	engine := NewExtractionEngine(direct, NewQualityScorer(200, 50), ocr)

	result, err := engine.Extract(context.Background(), pdfBytes, "good.pdf")
	require.NoError(t, err)
	assert.Equal(t, types.ExtractionDirect, result.Method)
	assert.GreaterOrEqual(t, result.Confidence, 0.5)
	assert.Equal(t, 2, result.PageCount)
	assert.False(t, ocr.called, "直接解析置信度达标时不应触发OCR")
}

func TestExtract_OCRFallbackWins(t *testing.T) {
	// 直接解析只拿到零星碎片，OCR拿到完整文本
	ocr := &fakeOCR{available: true, text: richResumeText(), pages: 3}
	direct := &fakeDirect{text: "ab cd", pages: 3}
	engine := NewExtractionEngine(direct, NewQualityScorer(200, 50), ocr)

	result, err := engine.Extract(context.Background(), pdfBytes, "scanned.pdf")
	require.NoError(t, err)
	assert.True(t, ocr.called, "低置信度时应触发OCR")
	assert.Equal(t, types.ExtractionOCR, result.Method)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestExtract_DirectFailureIsNotFatal(t *testing.T) {
	// 直接解析抛错按空文本处理，OCR不可用时得到零置信度结果
	direct := &fakeDirect{err: errors.New("parse exploded")}
	engine := NewExtractionEngine(direct, NewQualityScorer(200, 50), &fakeOCR{available: false})

	result, err := engine.Extract(context.Background(), pdfBytes, "broken.pdf")
	require.NoError(t, err, "直接解析失败不应是硬错误")
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, types.ExtractionDirect, result.Method)
	assert.NotEmpty(t, result.Warnings, "失败路径必须附带警告")
}

func TestExtract_OCRErrorKeepsDirectResult(t *testing.T) {
	ocr := &fakeOCR{available: true, err: errors.New("tesseract crashed")}
	direct := &fakeDirect{text: "tiny fragment", pages: 1}
	engine := NewExtractionEngine(direct, NewQualityScorer(200, 50), ocr)

	result, err := engine.Extract(context.Background(), pdfBytes, "stubborn.pdf")
	require.NoError(t, err)
	assert.True(t, ocr.called)
	assert.Equal(t, types.ExtractionDirect, result.Method, "OCR失败时保留直接解析结果")
}
