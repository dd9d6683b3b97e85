package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/book-rag-chatbot/api"
	"github.com/fyerfyer/book-rag-chatbot/api/handler"
	"github.com/fyerfyer/book-rag-chatbot/api/middleware"
	"github.com/fyerfyer/book-rag-chatbot/config"
	"github.com/fyerfyer/book-rag-chatbot/internal/cache"
	"github.com/fyerfyer/book-rag-chatbot/internal/document"
	"github.com/fyerfyer/book-rag-chatbot/internal/embedding"
	"github.com/fyerfyer/book-rag-chatbot/internal/llm"
	"github.com/fyerfyer/book-rag-chatbot/internal/pdf"
	"github.com/fyerfyer/book-rag-chatbot/internal/services"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
	"github.com/fyerfyer/book-rag-chatbot/internal/vectordb"
	"github.com/fyerfyer/book-rag-chatbot/pkg/storage"
	"github.com/fyerfyer/book-rag-chatbot/pkg/taskqueue"
)

func main() {
	// .env文件中的变量仅在未设置时生效
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	// 上传文件存储
	files, err := newStorage(cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize file storage")
	}
	defer files.Close()

	// 会话存储
	sessionStore, err := newSessionStore(cfg.Session)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize session store")
	}
	defer sessionStore.Close()
	sessions := session.NewManager(sessionStore, session.WithManagerLogger(logger))

	// 向量化客户端
	embedder, err := embedding.NewClient(cfg.Embed.Provider,
		embedding.WithAPIKey(cfg.OpenAI.APIKey),
		embedding.WithBaseURL(cfg.OpenAI.BaseURL),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize embedding client")
	}

	// 大模型客户端
	llmClient, err := llm.NewClient(cfg.LLM.Provider,
		llm.WithAPIKey(cfg.OpenAI.APIKey),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize llm client")
	}
	answerer := llm.NewGroundedAnswerer(llmClient)

	// 每个会话绑定独立索引
	storeFor := func(indexName string) (vectordb.Store, error) {
		return vectordb.NewStore("pinecone",
			vectordb.WithAPIKey(cfg.Pinecone.APIKey),
			vectordb.WithBaseURL(cfg.Pinecone.BaseURL),
			vectordb.WithIndexName(indexName),
			vectordb.WithDimensions(cfg.Embed.Dimensions),
			vectordb.WithServerless(cfg.Pinecone.Cloud, cfg.Pinecone.Region),
		)
	}

	// 问答缓存
	var answerCache cache.Cache
	if cfg.Cache.Enable {
		answerCache, err = newCache(cfg.Cache)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize cache")
		}
		defer answerCache.Close()
	}

	loader := pdf.NewLoader(
		pdf.WithMinPages(cfg.Document.MinPages),
		pdf.WithLogger(logger),
	)
	splitter := document.NewRecursiveSplitter(
		document.WithChunkSize(cfg.Document.ChunkSize),
		document.WithChunkOverlap(cfg.Document.ChunkOverlap),
	)

	pipeline := services.NewPipeline(loader, splitter, embedder, storeFor, sessions,
		services.WithPipelineLogger(logger),
		services.WithPipelineStorage(files),
		services.WithPipelineCache(answerCache),
	)

	chatService := services.NewChatService(sessions, embedder, storeFor, answerer,
		services.WithChatLogger(logger),
		services.WithChatCache(answerCache),
		services.WithChatConfig(services.ChatConfig{
			TopK:     cfg.Retrieval.TopK,
			MinScore: cfg.Retrieval.MinScore,
			CacheTTL: cfg.Cache.CacheTTL(),
		}),
	)

	// 入库任务提交：默认进程内工作池，可切换到Redis队列
	pool := services.NewIngestPool(pipeline, cfg.Ingest.Workers, logger)
	var submitter handler.IngestSubmitter = pool
	var worker *taskqueue.Worker
	if cfg.Queue.Enable {
		queue := taskqueue.NewRedisQueue(taskqueue.RedisQueueConfig{
			Addr:       cfg.Queue.RedisAddr,
			Password:   cfg.Queue.RedisPassword,
			DB:         cfg.Queue.RedisDB,
			RetryLimit: cfg.Queue.RetryLimit,
		})
		defer queue.Close()
		submitter = &queueSubmitter{queue: queue}

		worker = taskqueue.NewWorker(taskqueue.WorkerConfig{
			Addr:        cfg.Queue.RedisAddr,
			Password:    cfg.Queue.RedisPassword,
			DB:          cfg.Queue.RedisDB,
			Concurrency: cfg.Queue.Concurrency,
		}, func(ctx context.Context, payload taskqueue.IngestPayload) error {
			return pipeline.Ingest(ctx, payload.SessionID, payload.StorageKey)
		}, logger)

		if err := worker.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start task queue worker")
		}
	}

	middleware.SetLogger(logger)
	sessionHandler := handler.NewSessionHandler(sessions, files, pipeline, submitter, logger)
	chatHandler := handler.NewChatHandler(chatService, logger)
	router := api.SetupRouter(sessionHandler, chatHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// 等待退出信号，优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if worker != nil {
		worker.Shutdown()
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Ingest pool shutdown timed out")
	}

	logger.Info("Server exited")
}

// queueSubmitter 将入库任务提交到Redis队列
type queueSubmitter struct {
	queue taskqueue.Queue
}

// Submit 提交入库任务
func (s *queueSubmitter) Submit(sessionID string, storageKey string) error {
	return s.queue.EnqueueIngest(context.Background(), taskqueue.IngestPayload{
		SessionID:  sessionID,
		StorageKey: storageKey,
	})
}

// setupLogger 构建服务日志记录器
// 配置了日志文件时按大小滚动，同时输出到标准输出
func setupLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	if level >= logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return logger
}

// newStorage 根据配置创建上传文件存储
func newStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "minio":
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return storage.NewLocalStorage(cfg.Path)
	}
}

// newSessionStore 根据配置创建会话存储
func newSessionStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Type {
	case "sqlite":
		return session.NewGormStore(cfg.DBPath, session.WithGormTTL(cfg.SessionTTL()))
	default:
		return session.NewMemoryStore(session.WithTTL(cfg.SessionTTL())), nil
	}
}

// newCache 根据配置创建问答缓存
func newCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "redis":
		return cache.NewRedisCache(cfg.Address, cfg.Password, cfg.DB)
	default:
		return cache.NewMemoryCache(cfg.CacheTTL(), 10*time.Minute), nil
	}
}
