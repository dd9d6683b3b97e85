package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/book-rag-chatbot/config"
	"github.com/fyerfyer/book-rag-chatbot/internal/document"
	"github.com/fyerfyer/book-rag-chatbot/internal/embedding"
	"github.com/fyerfyer/book-rag-chatbot/internal/llm"
	"github.com/fyerfyer/book-rag-chatbot/internal/pdf"
	"github.com/fyerfyer/book-rag-chatbot/internal/services"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
	"github.com/fyerfyer/book-rag-chatbot/internal/vectordb"
)

// exitWords 退出命令，不区分大小写
var exitWords = map[string]bool{
	"exit": true,
	"quit": true,
	"q":    true,
}

func main() {
	// .env文件中的变量仅在未设置时生效
	_ = godotenv.Load()

	pdfPath := flag.String("pdf", "", "path to the PDF file (required)")
	indexName := flag.String("index", "", "vector index name")
	topK := flag.Int("top-k", 0, "number of chunks to retrieve per question")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if *pdfPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --pdf is required")
		flag.Usage()
		os.Exit(1)
	}

	// 配置校验包含必需的API密钥，缺失时在任何处理开始前退出
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *indexName == "" {
		*indexName = cfg.Pinecone.IndexName
	}
	if *topK <= 0 {
		*topK = cfg.Retrieval.TopK
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := run(cfg, logger, *pdfPath, *indexName, *topK); err != nil {
		logger.WithError(err).Fatal("Chatbot failed")
	}
}

// run 索引文档并进入交互式问答循环
func run(cfg *config.Config, logger *logrus.Logger, pdfPath, indexName string, topK int) error {
	ctx := context.Background()

	embedder, err := embedding.NewClient(cfg.Embed.Provider,
		embedding.WithAPIKey(cfg.OpenAI.APIKey),
		embedding.WithBaseURL(cfg.OpenAI.BaseURL),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM.Provider,
		llm.WithAPIKey(cfg.OpenAI.APIKey),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}
	answerer := llm.NewGroundedAnswerer(llmClient)

	storeFor := func(name string) (vectordb.Store, error) {
		return vectordb.NewStore("pinecone",
			vectordb.WithAPIKey(cfg.Pinecone.APIKey),
			vectordb.WithBaseURL(cfg.Pinecone.BaseURL),
			vectordb.WithIndexName(name),
			vectordb.WithDimensions(cfg.Embed.Dimensions),
			vectordb.WithServerless(cfg.Pinecone.Cloud, cfg.Pinecone.Region),
		)
	}

	sessions := session.NewManager(session.NewMemoryStore(), session.WithManagerLogger(logger))
	sess, err := sessions.CreateWithIndex(ctx, pdfPath, indexName)
	if err != nil {
		return err
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
	)

	logger.WithField("pdf", pdfPath).Info("Indexing document, this may take a while")
	if err := pipeline.IngestPath(ctx, sess.ID, pdfPath); err != nil {
		return err
	}

	chat := services.NewChatService(sessions, embedder, storeFor, answerer,
		services.WithChatLogger(logger),
		services.WithChatConfig(services.ChatConfig{
			TopK:     topK,
			MinScore: cfg.Retrieval.MinScore,
		}),
	)

	// Ctrl+C时和正常退出保持同样的告别输出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nBye!")
		os.Exit(0)
	}()

	fmt.Printf("Ready! Ask questions about %s (type 'exit' to quit)\n", pdfPath)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if exitWords[strings.ToLower(question)] {
			fmt.Println("Bye!")
			return nil
		}

		answer, err := chat.Ask(ctx, sess.ID, question)
		if err != nil {
			logger.WithError(err).Error("Failed to answer question")
			continue
		}
		fmt.Println(answer.Text)
	}

	fmt.Println("Bye!")
	return scanner.Err()
}
