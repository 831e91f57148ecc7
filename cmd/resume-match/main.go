package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resume-match-go/internal/analyzer"
	apihandler "resume-match-go/internal/api/handler"
	"resume-match-go/internal/api/router"
	"resume-match-go/internal/config"
	"resume-match-go/internal/embedding"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/matcher"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/progress"
	"resume-match-go/internal/skillgap"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	logger.Info().Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
		SampleRatio:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	storageManager, err := storage.NewStorage(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储管理器失败")
	}
	defer storageManager.Close(logger.Logger)
	// 本服务的处理链路要求四个存储组件全部可用
	if storageManager.MySQL == nil || storageManager.Redis == nil ||
		storageManager.MinIO == nil || storageManager.RabbitMQ == nil {
		logger.Fatal().Msg("MySQL/Redis/MinIO/RabbitMQ 必须全部初始化成功")
	}

	extractionEngine, err := parser.NewExtractionEngineFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化提取引擎失败")
	}
	logger.Info().Msg("提取引擎初始化成功")

	if cfg.Aliyun.APIKey == "" {
		logger.Fatal().Msg("缺少阿里云API密钥，无法初始化结构化分析器")
	}
	chatModel, err := analyzer.NewQwenChatModel(
		cfg.Aliyun.APIKey,
		cfg.GetModelForTask("analyze"),
		cfg.Aliyun.APIURL,
		analyzer.WithTemperature(cfg.Analyzer.Temperature),
		analyzer.WithMaxTokens(cfg.Analyzer.MaxTokens),
		analyzer.WithQwenLogger(logger.Logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化聊天模型失败")
	}

	llmAnalyzer := analyzer.NewLLMAnalyzer(chatModel)
	logger.Info().Msg("结构化分析器初始化成功")

	embedder, err := embedding.NewProvider(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化向量化提供方失败")
	}
	logger.Info().Str("provider", embedder.Name()).Msg("向量化提供方初始化成功")

	matchEngine := matcher.NewEngine(matcher.NewLLMExplainer(chatModel))
	tracker := progress.NewTracker(storageManager.Redis,
		progress.WithRecordTTL(time.Duration(cfg.Redis.ProgressTTLHours)*time.Hour),
	)

	pipe := pipeline.NewPipeline(
		extractionEngine,
		llmAnalyzer,
		embedder,
		matchEngine,
		tracker,
		storageManager.MySQL,
		storageManager.MinIO,
		storageManager.Redis,
		cfg.Pipeline,
		logger.Logger,
	)
	worker := pipeline.NewWorker(storageManager.RabbitMQ, pipe, cfg, logger.Logger)
	if err := worker.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("启动处理消费者失败")
	}
	logger.Info().Msg("处理消费者池已启动")

	hd := apihandler.NewHandler(
		storageManager.MySQL,
		storageManager.RabbitMQ,
		storageManager.MinIO,
		llmAnalyzer,
		embedder,
		tracker,
		matchEngine,
		skillgap.NewAggregator(skillgap.DefaultTopN),
		logger.Logger,
	)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	router.RegisterRoutes(h, hd, cfg.Server.APIKeys)
	logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出")

	worker.Stop()
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP服务器关闭失败")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("链路追踪关闭失败")
	}
	logger.Info().Msg("优雅退出完成")
}
