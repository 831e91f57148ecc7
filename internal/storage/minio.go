package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadOriginalPDF 流式上传原始PDF，返回对象路径和内容MD5
	UploadOriginalPDF(ctx context.Context, jobID string, reader io.Reader, size int64) (string, string, error)
	// UploadExtractedText 上传规范化后的提取文本
	UploadExtractedText(ctx context.Context, jobID string, text string) (string, error)
	// GetOriginalPDF 下载原始PDF
	GetOriginalPDF(ctx context.Context, objectName string) ([]byte, error)
	// GetExtractedText 下载提取文本
	GetExtractedText(ctx context.Context, objectName string) (string, error)
	// GetPresignedOriginalURL 获取原始PDF的限时下载链接
	GetPresignedOriginalURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	originalsBucket string
	parsedBucket    string
	logger          zerolog.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶与生命周期规则就绪
func NewMinIO(cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	originalsBucket := cfg.OriginalsBucket
	if originalsBucket == "" {
		originalsBucket = "resume-originals"
	}
	parsedBucket := cfg.ParsedBucket
	if parsedBucket == "" {
		parsedBucket = "resume-parsed"
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		originalsBucket: originalsBucket,
		parsedBucket:    parsedBucket,
		logger:          logger.With().Str("component", "minio").Logger(),
	}

	if err := m.ensureBucketExists(originalsBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保原始文档存储桶 %s 存在失败: %w", originalsBucket, err)
	}
	if err := m.ensureBucketExists(parsedBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保解析文本存储桶 %s 存在失败: %w", parsedBucket, err)
	}

	if cfg.OriginalFileExpireDays > 0 || cfg.ParsedTextExpireDays > 0 {
		if err := m.setupLifecycleRules(context.Background()); err != nil {
			// 生命周期规则失败不阻塞启动，部分MinIO兼容实现不支持
			m.logger.Warn().Err(err).Msg("设置对象生命周期规则失败")
		}
	}

	m.logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("originals_bucket", originalsBucket).
		Str("parsed_bucket", parsedBucket).
		Msg("MinIO客户端初始化完成")
	return m, nil
}

func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Info().Str("bucket", bucketName).Msg("存储桶已创建")
	return nil
}

func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	if m.cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalsBucket, "expire-originals", m.cfg.OriginalFileExpireDays); err != nil {
			return fmt.Errorf("为原始文档存储桶 %s 设置生命周期失败: %w", m.originalsBucket, err)
		}
	}
	if m.cfg.ParsedTextExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.parsedBucket, "expire-parsed-text", m.cfg.ParsedTextExpireDays); err != nil {
			return fmt.Errorf("为解析文本存储桶 %s 设置生命周期失败: %w", m.parsedBucket, err)
		}
	}
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lc)
}

// OriginalObjectName 原始PDF的对象路径
func OriginalObjectName(jobID string) string {
	return fmt.Sprintf("originals/%s.pdf", jobID)
}

// ParsedTextObjectName 解析文本的对象路径
func ParsedTextObjectName(jobID string) string {
	return fmt.Sprintf("parsed/%s.txt", jobID)
}

// UploadOriginalPDF 流式上传原始PDF并边传边算MD5
// size为-1时走分块上传
func (m *MinIO) UploadOriginalPDF(ctx context.Context, jobID string, reader io.Reader, size int64) (string, string, error) {
	objectName := OriginalObjectName(jobID)

	hasher := md5.New()
	teeReader := io.TeeReader(reader, hasher)

	info, err := m.client.PutObject(ctx, m.originalsBucket, objectName, teeReader, size,
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", "", fmt.Errorf("上传原始PDF %s/%s 失败: %w", m.originalsBucket, objectName, err)
	}

	md5Hex := hex.EncodeToString(hasher.Sum(nil))
	m.logger.Debug().
		Str("object", objectName).
		Int64("size", info.Size).
		Str("md5", md5Hex).
		Msg("原始PDF上传完成")
	return objectName, md5Hex, nil
}

// UploadExtractedText 上传规范化后的提取文本
func (m *MinIO) UploadExtractedText(ctx context.Context, jobID string, text string) (string, error) {
	objectName := ParsedTextObjectName(jobID)
	data := []byte(text)

	_, err := m.client.PutObject(ctx, m.parsedBucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("上传提取文本 %s/%s 失败: %w", m.parsedBucket, objectName, err)
	}
	return objectName, nil
}

// GetOriginalPDF 下载原始PDF内容
func (m *MinIO) GetOriginalPDF(ctx context.Context, objectName string) ([]byte, error) {
	return m.downloadObject(ctx, m.originalsBucket, objectName)
}

// GetExtractedText 下载提取文本内容
func (m *MinIO) GetExtractedText(ctx context.Context, objectName string) (string, error) {
	data, err := m.downloadObject(ctx, m.parsedBucket, objectName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *MinIO) downloadObject(ctx context.Context, bucket, objectName string) ([]byte, error) {
	objectName = strings.TrimPrefix(objectName, bucket+"/")
	obj, err := m.client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 内容失败: %w", bucket, objectName, err)
	}
	return data, nil
}

// GetPresignedOriginalURL 获取原始PDF的限时下载链接
func (m *MinIO) GetPresignedOriginalURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	objectName = strings.TrimPrefix(objectName, m.originalsBucket+"/")
	u, err := m.client.PresignedGetObject(ctx, m.originalsBucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成预签名URL失败: %w", err)
	}
	return u.String(), nil
}
