package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/types"
)

// ErrInvalidDocument 文件根本不是合法的PDF容器
// 低质量提取不是错误，只会得到低置信度的成功结果
var ErrInvalidDocument = errors.New("document is not a valid PDF container")

// OCR介入与结果选择的阈值
const (
	ocrTriggerConfidence = 0.5 // 直接解析低于该值才尝试OCR
	directStrongThresh   = 0.7 // 直接解析达到该值视为足够强
	ocrWeakThresh        = 0.3 // OCR高于该值才有资格参与hybrid
)

var pdfMagic = []byte("%PDF-")

// DirectExtractor 直接结构化解析的抽象，生产实现为 EinoPDFExtractor
type DirectExtractor interface {
	ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, int, error)
}

// ExtractionEngine 文本提取引擎
// 组合直接解析、质量评分和OCR回退三个环节
type ExtractionEngine struct {
	direct DirectExtractor
	scorer *QualityScorer
	ocr    OCREngine
	logger zerolog.Logger
}

// NewExtractionEngine 构造提取引擎
// ocr 允许为nil，表示OCR完全不可用
func NewExtractionEngine(direct DirectExtractor, scorer *QualityScorer, ocr OCREngine) *ExtractionEngine {
	return &ExtractionEngine{
		direct: direct,
		scorer: scorer,
		ocr:    ocr,
		logger: logger.Logger.With().Str("component", "extraction_engine").Logger(),
	}
}

// NewExtractionEngineFromConfig 按配置装配完整的提取引擎
func NewExtractionEngineFromConfig(ctx context.Context, cfg *config.Config) (*ExtractionEngine, error) {
	direct, err := NewEinoPDFExtractor(ctx,
		WithExtractTimeout(time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}
	scorer := NewQualityScorer(cfg.Extractor.MinTextLength, cfg.Extractor.MinWordCount)
	ocr := NewExecOCREngine(cfg.OCR)
	return NewExtractionEngine(direct, scorer, ocr), nil
}

// Extract 对一份PDF字节内容执行完整提取流程
// 结果一经返回不再修改；任何临时文件在返回前清理完毕
func (e *ExtractionEngine) Extract(ctx context.Context, data []byte, uri string) (*types.ExtractionResult, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, fmt.Errorf("文档 %s 校验失败: %w", uri, ErrInvalidDocument)
	}

	// 第一步: 直接结构化解析。失败按空文本处理，让OCR有机会补救
	rawText, pageCount, err := e.direct.ExtractFromBytes(ctx, data, uri)
	var directWarnings []string
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Msg("直接解析失败，按空文本继续")
		rawText = ""
		pageCount = 0
		directWarnings = append(directWarnings, "direct text extraction failed: "+err.Error())
	}

	directText := NormalizeText(rawText)
	directConf, scoreWarnings := e.scorer.Score(directText)
	directWarnings = append(directWarnings, scoreWarnings...)

	result := &types.ExtractionResult{
		Text:       directText,
		Method:     types.ExtractionDirect,
		Confidence: directConf,
		PageCount:  pageCount,
		Warnings:   directWarnings,
	}

	if directConf >= ocrTriggerConfidence || e.ocr == nil || !e.ocr.Available() {
		return result, nil
	}

	// 第二步: 直接解析太弱且OCR可用，走逐页识别
	ocrText, ocrPages, ocrConf, ocrWarnings, ocrErr := e.runOCR(ctx, data)
	if ocrErr != nil {
		e.logger.Warn().Err(ocrErr).Str("uri", uri).Msg("OCR回退失败，保留直接解析结果")
		result.Warnings = append(result.Warnings, "ocr fallback failed: "+ocrErr.Error())
		return result, nil
	}

	allWarnings := append(directWarnings, ocrWarnings...)

	switch decideMethod(directConf, ocrConf) {
	case types.ExtractionOCR:
		result = &types.ExtractionResult{
			Text:       ocrText,
			Method:     types.ExtractionOCR,
			Confidence: ocrConf,
			PageCount:  maxInt(pageCount, ocrPages),
			Warnings:   allWarnings,
		}
	case types.ExtractionHybrid:
		// 两边都不够强，拼接为hybrid，置信度取两者较大值
		result = &types.ExtractionResult{
			Text:       directText + "\n\n" + ocrText,
			Method:     types.ExtractionHybrid,
			Confidence: maxFloat(directConf, ocrConf),
			PageCount:  maxInt(pageCount, ocrPages),
			Warnings:   allWarnings,
		}
	default:
		result.Warnings = allWarnings
	}

	e.logger.Info().Str("uri", uri).
		Str("method", string(result.Method)).
		Float64("confidence", result.Confidence).
		Int("pages", result.PageCount).
		Msg("文本提取完成")
	return result, nil
}

// decideMethod 在直接解析和OCR两份候选之间做选择
// OCR更优则用OCR；两边都不够强则拼hybrid；否则保留直接解析
func decideMethod(directConf, ocrConf float64) types.ExtractionMethod {
	if ocrConf > directConf {
		return types.ExtractionOCR
	}
	if directConf < directStrongThresh && ocrConf > ocrWeakThresh {
		return types.ExtractionHybrid
	}
	return types.ExtractionDirect
}

// runOCR 把字节内容落到临时文件后执行OCR并重新评分
func (e *ExtractionEngine) runOCR(ctx context.Context, data []byte) (string, int, float64, []string, error) {
	tmpFile, err := os.CreateTemp("", "extract-*.pdf")
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("创建OCR临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", 0, 0, nil, fmt.Errorf("写入OCR临时文件失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", 0, 0, nil, fmt.Errorf("关闭OCR临时文件失败: %w", err)
	}

	rawText, pages, err := e.ocr.ExtractText(ctx, tmpPath)
	if err != nil {
		return "", 0, 0, nil, err
	}

	text := NormalizeText(rawText)
	conf, warnings := e.scorer.Score(text)
	return text, pages, conf, warnings, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
