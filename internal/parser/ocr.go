package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// OCREngine 光学识别引擎抽象
// Available 在构造时探测一次，之后调用方按该标志分支
type OCREngine interface {
	Available() bool
	ExtractText(ctx context.Context, pdfPath string) (string, int, error)
}

// ExecOCREngine 基于外部命令的OCR实现
// 先用光栅化命令把PDF逐页转成PNG，再逐页跑识别命令
type ExecOCREngine struct {
	rasterCmd string
	ocrCmd    string
	language  string
	maxPages  int
	workDir   string
	timeout   time.Duration
	available bool
	logger    zerolog.Logger
}

// NewExecOCREngine 构造OCR引擎并探测外部命令可用性
// 配置禁用或命令缺失时 Available 返回 false，引擎仍可安全持有
func NewExecOCREngine(cfg config.OCRConfig) *ExecOCREngine {
	engine := &ExecOCREngine{
		rasterCmd: cfg.RasterCommand,
		ocrCmd:    cfg.OCRCommand,
		language:  cfg.Language,
		maxPages:  cfg.MaxPages,
		workDir:   cfg.WorkDir,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:    logger.Logger.With().Str("component", "ocr_engine").Logger(),
	}
	if engine.rasterCmd == "" {
		engine.rasterCmd = "pdftoppm"
	}
	if engine.ocrCmd == "" {
		engine.ocrCmd = "tesseract"
	}
	if engine.language == "" {
		engine.language = "eng"
	}
	if engine.maxPages <= 0 {
		engine.maxPages = 10
	}
	if engine.timeout <= 0 {
		engine.timeout = 120 * time.Second
	}

	if !cfg.Enabled {
		engine.logger.Info().Msg("OCR已在配置中禁用")
		return engine
	}

	// 启动时探测一次，运行期间不再动态检查
	if _, err := exec.LookPath(engine.rasterCmd); err != nil {
		engine.logger.Warn().Str("command", engine.rasterCmd).Msg("光栅化命令不可用，OCR降级为禁用")
		return engine
	}
	if _, err := exec.LookPath(engine.ocrCmd); err != nil {
		engine.logger.Warn().Str("command", engine.ocrCmd).Msg("OCR命令不可用，OCR降级为禁用")
		return engine
	}

	engine.available = true
	engine.logger.Info().
		Str("raster", engine.rasterCmd).
		Str("ocr", engine.ocrCmd).
		Int("max_pages", engine.maxPages).
		Msg("OCR引擎就绪")
	return engine
}

// Available 返回启动探测的结果
func (e *ExecOCREngine) Available() bool {
	return e.available
}

// ExtractText 对PDF执行逐页OCR，返回拼接文本和处理的页数
// 临时图片目录在函数返回时整体删除
func (e *ExecOCREngine) ExtractText(ctx context.Context, pdfPath string) (string, int, error) {
	if !e.available {
		return "", 0, fmt.Errorf("OCR引擎不可用")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp(e.workDir, "ocr-pages-")
	if err != nil {
		return "", 0, fmt.Errorf("创建OCR临时目录失败: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// pdftoppm -png -r 150 -l <maxPages> input.pdf <prefix>
	prefix := filepath.Join(tmpDir, "page")
	rasterArgs := []string{
		"-png", "-r", "150",
		"-l", strconv.Itoa(e.maxPages),
		pdfPath, prefix,
	}
	if out, err := runCommand(ctx, e.rasterCmd, rasterArgs...); err != nil {
		return "", 0, fmt.Errorf("PDF光栅化失败: %w (output: %s)", err, out)
	}

	images, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(images) == 0 {
		return "", 0, fmt.Errorf("光栅化未产生任何页面图片")
	}
	sort.Strings(images)
	if len(images) > e.maxPages {
		images = images[:e.maxPages]
	}

	var sb strings.Builder
	processed := 0
	for _, img := range images {
		select {
		case <-ctx.Done():
			return "", processed, ctx.Err()
		default:
		}

		// tesseract <image> stdout -l <lang>
		out, err := runCommand(ctx, e.ocrCmd, img, "stdout", "-l", e.language)
		if err != nil {
			// 单页失败不中断整份文档
			e.logger.Warn().Err(err).Str("image", filepath.Base(img)).Msg("单页OCR失败，跳过")
			continue
		}
		sb.WriteString(out)
		sb.WriteString("\n")
		processed++
	}

	if processed == 0 {
		return "", 0, fmt.Errorf("所有页面OCR均失败")
	}

	e.logger.Debug().Int("pages", processed).Int("chars", sb.Len()).Msg("OCR提取完成")
	return sb.String(), processed, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stderr.String(), err
	}
	return stdout.String(), nil
}
