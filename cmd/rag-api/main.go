// Package main 问答服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"immigration-qa-api/internal/application/pipeline"
	"immigration-qa-api/internal/config"
	"immigration-qa-api/internal/infrastructure/embedding"
	"immigration-qa-api/internal/infrastructure/llm"
	"immigration-qa-api/internal/infrastructure/persistence/milvus"
	"immigration-qa-api/internal/infrastructure/persistence/redis"
	"immigration-qa-api/internal/infrastructure/rerank"
	"immigration-qa-api/internal/interfaces/http/handler"
	"immigration-qa-api/internal/interfaces/http/router"
	"immigration-qa-api/pkg/logger"
	"immigration-qa-api/pkg/retry"
	"immigration-qa-api/pkg/tracer"

	"github.com/joho/godotenv"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting rag-api",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	// 初始化追踪
	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Redis 客户端，承载会话历史与限流
	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	// Milvus 客户端与知识库集合
	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Fatal(ctx, "failed to init milvus", err)
	}
	defer func() { _ = milvusClient.Close() }()

	milvusRepo := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)
	if err := milvusRepo.EnsurePassagesCollection(ctx); err != nil {
		logger.Fatal(ctx, "failed to ensure passages collection", err)
	}
	searcher := milvus.NewPassageSearcher(milvusRepo)

	// 使用 Eino Embedder
	einoEmbedder, err := embedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to init eino embedder", err)
	}
	queryEmbedder := embedding.NewQueryEmbedder(einoEmbedder, cfg.Embedding.Dimension)

	// LLM 生成器
	factory := llm.NewEinoFactory(&cfg.LLM)
	generator := llm.NewAnswerGenerator(factory, cfg.LLM.Provider, cfg.LLM.Model, cfg.Pipeline.MaxContextPassages)

	// 重排客户端，未启用时流水线保持检索顺序
	var reranker pipeline.Reranker
	if cfg.Rerank.Enabled {
		reranker = rerank.NewClient(cfg.Rerank.Endpoint, cfg.Rerank.Model, cfg.Rerank.Timeout)
	}

	// 会话存储与维度扩展
	sessions := redis.NewSessionStore(redisClient, cfg.Session.KeyPrefix, cfg.Session.TTL, cfg.Session.MaxHistoryTurns)
	expander := pipeline.NewFacetExpander(searcher, pipeline.FacetConfig{
		Facets:         cfg.Pipeline.Facets,
		MaxFacetValues: cfg.Pipeline.MaxFacetValues,
		ExtraLimit:     cfg.Pipeline.FacetExtraLimit,
		Concurrency:    cfg.Pipeline.FacetConcurrency,
	})

	orchestrator := pipeline.NewOrchestrator(
		sessions,
		queryEmbedder,
		searcher,
		expander,
		reranker,
		generator,
		retry.Policy{
			MaxAttempts:         cfg.Retry.MaxAttempts,
			InitialInterval:     cfg.Retry.InitialInterval,
			MaxInterval:         cfg.Retry.MaxInterval,
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
		},
		pipeline.Options{
			Timeout:            cfg.Pipeline.Timeout,
			DefaultK:           cfg.Pipeline.DefaultK,
			MaxContextPassages: cfg.Pipeline.MaxContextPassages,
			SaveGrace:          cfg.Session.SaveGrace,
		},
	)

	// 路由与 HTTP 服务器
	r := router.New(cfg, router.Handlers{
		Chat:   handler.NewChatHandler(orchestrator),
		Health: handler.NewHealthHandler(redisClient, milvusClient),
	}, redis.NewRateLimiter(redisClient))

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	// 启动服务器
	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	// 等待后台历史落盘完成
	orchestrator.Wait()

	log.Info("server exited")
}
