package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"
)

// Worker 消费处理请求队列并驱动流水线
// 每个消费者持有独立通道，失败任务已持久化FAILED状态，消息一律ACK避免毒消息循环
type Worker struct {
	mq       *storage.RabbitMQ
	pipeline *Pipeline
	cfg      config.RabbitMQConfig
	count    int
	logger   zerolog.Logger

	stopChans []chan struct{}
}

// NewWorker 创建消费者池
func NewWorker(mq *storage.RabbitMQ, p *Pipeline, cfg *config.Config, logger zerolog.Logger) *Worker {
	count := cfg.Pipeline.WorkerCount
	if count <= 0 {
		count = 5
	}
	return &Worker{
		mq:       mq,
		pipeline: p,
		cfg:      cfg.RabbitMQ,
		count:    count,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Start 声明拓扑并启动全部消费者
func (w *Worker) Start(ctx context.Context) error {
	if err := w.mq.EnsureProcessTopology(); err != nil {
		return fmt.Errorf("声明处理队列拓扑失败: %w", err)
	}

	prefetch := w.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	for i := 0; i < w.count; i++ {
		stopCh, err := w.mq.StartConsumer(w.cfg.ProcessQueue, prefetch, w.handle(ctx))
		if err != nil {
			w.Stop()
			return fmt.Errorf("启动消费者 %d 失败: %w", i, err)
		}
		w.stopChans = append(w.stopChans, stopCh)
	}

	w.logger.Info().Int("consumers", w.count).Str("queue", w.cfg.ProcessQueue).Msg("处理消费者池已启动")
	return nil
}

// Stop 停止全部消费者
func (w *Worker) Stop() {
	for _, ch := range w.stopChans {
		close(ch)
	}
	w.stopChans = nil
}

// handle 返回单条消息的处理函数
// 返回true表示ACK。解析失败与处理失败都ACK：前者无法重试，后者已落库FAILED
func (w *Worker) handle(ctx context.Context) func([]byte) bool {
	return func(body []byte) bool {
		var msg storage.ProcessRequestMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			w.logger.Error().Err(err).Msg("解析处理请求消息失败，丢弃")
			return true
		}
		if msg.JobID == "" {
			w.logger.Error().Msg("处理请求缺少job_id，丢弃")
			return true
		}

		if err := w.pipeline.Process(ctx, msg); err != nil {
			w.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("任务处理失败，已标记FAILED")
		}
		return true
	}
}
