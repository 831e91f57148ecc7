package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
)

// Storage 存储管理器，聚合所有存储相关依赖
// 单个组件初始化失败记为警告，全部失败才返回错误
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis
}

// NewStorage 创建存储管理器
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var err error
	var initErrors []string

	if cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(&cfg.MinIO, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	} else {
		logger.Info().Msg("MinIO未配置, 跳过初始化")
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	} else {
		logger.Info().Msg("RabbitMQ未配置, 跳过初始化")
	}

	if cfg.MySQL.Host != "" {
		s.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	} else {
		logger.Info().Msg("MySQL未配置, 跳过初始化")
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		logger.Info().Msg("Redis未配置, 跳过初始化")
	}

	if s.MinIO == nil && s.RabbitMQ == nil && s.MySQL == nil && s.Redis == nil {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	if len(initErrors) > 0 {
		logger.Warn().Strs("failures", initErrors).Msg("部分存储组件初始化失败")
	}

	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close(logger zerolog.Logger) {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	// MinIO客户端无需显式关闭
}
