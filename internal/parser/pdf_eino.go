package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"resume-match-go/internal/logger"
)

// EinoPDFExtractor 使用 Eino PDF Parser 做直接结构化文本提取
type EinoPDFExtractor struct {
	parser  *pdf.PDFParser
	logger  zerolog.Logger
	timeout time.Duration
}

// EinoPDFOption PDF提取器的配置选项
type EinoPDFOption func(*EinoPDFExtractor)

// WithExtractTimeout 配置单次解析超时
func WithExtractTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEinoPDFExtractor 初始化 Eino PDF 文本提取器
// 按页分割解析，页数信息需要写入提取结果
func NewEinoPDFExtractor(ctx context.Context, options ...EinoPDFOption) (*EinoPDFExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: true, // 按页返回，len(docs)即页数
	})
	if err != nil {
		return nil, fmt.Errorf("创建Eino PDF解析器失败: %w", err)
	}

	extractor := &EinoPDFExtractor{
		parser:  p,
		logger:  logger.Logger.With().Str("component", "pdf_extractor").Logger(),
		timeout: 30 * time.Second,
	}

	for _, option := range options {
		option(extractor)
	}

	return extractor, nil
}

// ExtractFromReader 从 io.Reader 中提取纯文本，返回文本和页数
func (e *EinoPDFExtractor) ExtractFromReader(ctx context.Context, reader io.Reader, uri string) (string, int, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
	)

	duration := time.Since(startTime)
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).
			Float64("duration_s", duration.Seconds()).
			Msg("直接解析PDF失败")
		return "", 0, fmt.Errorf("eino PDF parser failed for URI %s: %w", uri, err)
	}

	if len(docs) == 0 {
		e.logger.Warn().Str("uri", uri).Msg("PDF解析无结果")
		return "", 0, nil
	}

	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString(doc.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n\n")
		}
	}

	text := sb.String()
	e.logger.Debug().Str("uri", uri).
		Int("pages", len(docs)).
		Int("chars", len(text)).
		Float64("duration_s", duration.Seconds()).
		Msg("直接解析PDF完成")

	return text, len(docs), nil
}

// ExtractFromBytes 从字节数组提取文本，返回文本和页数
func (e *EinoPDFExtractor) ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, int, error) {
	return e.ExtractFromReader(ctx, bytes.NewReader(data), uri)
}
