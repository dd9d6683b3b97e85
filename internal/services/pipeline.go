package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/book-rag-chatbot/internal/cache"
	"github.com/fyerfyer/book-rag-chatbot/internal/document"
	"github.com/fyerfyer/book-rag-chatbot/internal/embedding"
	"github.com/fyerfyer/book-rag-chatbot/internal/pdf"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
	"github.com/fyerfyer/book-rag-chatbot/internal/vectordb"
	"github.com/fyerfyer/book-rag-chatbot/pkg/storage"
)

// StoreFactory 按索引名创建向量库实例
// 每个会话绑定独立的索引，实现会话之间的数据隔离
type StoreFactory func(indexName string) (vectordb.Store, error)

// DocumentLoader 文档加载能力
// 由pdf.Loader实现
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*pdf.Document, error)
}

// 各阶段内部的进度里程碑
const (
	progressEmbedDone    = 80 // 向量全部写入完成
	progressVerifyDone   = 95 // 索引校验完成
	progressEmbedStart   = 60
	progressEmbedScale   = progressEmbedDone - progressEmbedStart
)

// Pipeline 文档入库流水线
// 将PDF文件经过解析、分块、向量化写入向量索引，
// 处理过程中持续更新会话状态和进度
type Pipeline struct {
	loader   DocumentLoader
	splitter *document.RecursiveSplitter
	embedder embedding.Client
	storeFor StoreFactory
	sessions *session.Manager
	files    storage.Storage
	cache    cache.Cache
	logger   *logrus.Logger
}

// PipelineOption 流水线配置选项
type PipelineOption func(*Pipeline)

// WithPipelineLogger 设置日志记录器
func WithPipelineLogger(logger *logrus.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPipelineCache 设置问答缓存，清理会话时一并清空
func WithPipelineCache(c cache.Cache) PipelineOption {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// WithPipelineStorage 设置上传文件存储
func WithPipelineStorage(files storage.Storage) PipelineOption {
	return func(p *Pipeline) {
		p.files = files
	}
}

// NewPipeline 创建文档入库流水线
func NewPipeline(
	loader DocumentLoader,
	splitter *document.RecursiveSplitter,
	embedder embedding.Client,
	storeFor StoreFactory,
	sessions *session.Manager,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		storeFor: storeFor,
		sessions: sessions,
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest 处理以存储键标识的上传文件
// 先从存储取回本地路径，再执行完整入库流程
func (p *Pipeline) Ingest(ctx context.Context, sessionID string, storageKey string) error {
	if p.files == nil {
		return fmt.Errorf("pipeline has no file storage configured")
	}
	localPath, err := p.files.Fetch(ctx, storageKey)
	if err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("failed to fetch uploaded file: %v", err))
		return err
	}

	if err := p.IngestPath(ctx, sessionID, localPath); err != nil {
		// 失败时保留上传文件，重试还需要它
		return err
	}

	if err := p.files.Delete(ctx, storageKey); err != nil {
		p.logger.WithError(err).WithField("storage_key", storageKey).
			Warn("Failed to delete uploaded file after ingest")
	}
	return nil
}

// IngestPath 将本地PDF文件入库
// 任意阶段出错时会话被标记为失败，进度归零
func (p *Pipeline) IngestPath(ctx context.Context, sessionID string, pdfPath string) error {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	store, err := p.storeFor(sess.IndexName)
	if err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("failed to open vector store: %v", err))
		return err
	}
	defer store.Close()

	// 阶段1：解析PDF
	if _, err := p.sessions.Advance(ctx, sessionID, session.StatusLoading); err != nil {
		return err
	}
	doc, err := p.loader.Load(ctx, pdfPath)
	if err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("failed to load PDF: %v", err))
		return err
	}

	// 阶段2：分块
	if err := p.checkCancelled(ctx, sessionID); err != nil {
		return err
	}
	if _, err := p.sessions.Advance(ctx, sessionID, session.StatusChunking); err != nil {
		return err
	}
	chunks := p.splitDocument(doc)
	if len(chunks) == 0 {
		err := fmt.Errorf("no text could be extracted from %s", pdfPath)
		p.fail(ctx, sessionID, err.Error())
		return err
	}
	p.sessions.SetStats(ctx, sessionID, session.SessionStats{
		Pages:  doc.PageCount(),
		Chunks: len(chunks),
	})

	// 阶段3：向量化并写入索引
	if err := p.checkCancelled(ctx, sessionID); err != nil {
		return err
	}
	if _, err := p.sessions.Advance(ctx, sessionID, session.StatusEmbedding); err != nil {
		return err
	}
	if err := store.EnsureIndex(ctx, p.embedder.Dimensions()); err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("failed to ensure index: %v", err))
		return err
	}
	if err := p.embedAndUpsert(ctx, sessionID, store, doc.Source, chunks); err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("failed to index document: %v", err))
		return err
	}

	// 阶段4：校验索引可检索
	if err := p.checkCancelled(ctx, sessionID); err != nil {
		return err
	}
	if _, err := p.sessions.Advance(ctx, sessionID, session.StatusFinalizing); err != nil {
		return err
	}
	if err := p.verifyIndex(ctx, store, chunks); err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("index verification failed: %v", err))
		return err
	}
	p.sessions.SetProgress(ctx, sessionID, progressVerifyDone)

	// 阶段5：就绪
	if _, err := p.sessions.Advance(ctx, sessionID, session.StatusReady); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"pages":      doc.PageCount(),
		"chunks":     len(chunks),
	}).Info("Document indexed successfully")

	return nil
}

// splitDocument 将全部页面切分为带页码的分块
// 块序号跨页面连续递增，空页被跳过
func (p *Pipeline) splitDocument(doc *pdf.Document) []document.Chunk {
	var chunks []document.Chunk
	index := 0
	for _, page := range doc.Pages {
		var pageChunks []document.Chunk
		pageChunks, index = p.splitter.SplitPage(page.Text, page.Number, index)
		chunks = append(chunks, pageChunks...)
	}
	return chunks
}

// embedAndUpsert 分批向量化并写入索引
// 记录ID由文档、页码和块序号确定，重复处理同一文档不会产生冗余记录
func (p *Pipeline) embedAndUpsert(
	ctx context.Context,
	sessionID string,
	store vectordb.Store,
	source string,
	chunks []document.Chunk,
) error {
	batchSize := 64
	total := len(chunks)

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}

		entries := make([]vectordb.Entry, len(batch))
		for i, chunk := range batch {
			entries[i] = vectordb.Entry{
				ID:     vectordb.ChunkID(source, chunk.Page, chunk.Index),
				Text:   chunk.Text,
				Vector: vectors[i],
				Page:   chunk.Page,
				Source: source,
			}
		}

		if err := store.Upsert(ctx, entries); err != nil {
			return fmt.Errorf("failed to upsert chunks %d-%d: %w", start, end, err)
		}

		// 按批次推进embedding阶段内的进度
		progress := progressEmbedStart + progressEmbedScale*end/total
		p.sessions.SetProgress(ctx, sessionID, progress)
	}

	return nil
}

// verifyIndex 用第一个分块做一次检索，确认索引可用
func (p *Pipeline) verifyIndex(ctx context.Context, store vectordb.Store, chunks []document.Chunk) error {
	vector, err := p.embedder.Embed(ctx, chunks[0].Text)
	if err != nil {
		return fmt.Errorf("failed to embed probe text: %w", err)
	}
	results, err := store.Search(ctx, vector, 1, 0)
	if err != nil {
		return fmt.Errorf("probe search failed: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("probe search returned no results")
	}
	return nil
}

// Cleanup 清理会话及其关联资源
// 依次删除向量索引、问答缓存和会话记录；会话不存在时直接返回成功
func (p *Pipeline) Cleanup(ctx context.Context, sessionID string) error {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == session.ErrSessionNotFound {
			return nil
		}
		return err
	}

	store, err := p.storeFor(sess.IndexName)
	if err == nil {
		if err := store.DeleteIndex(ctx); err != nil {
			p.logger.WithError(err).WithField("session_id", sessionID).
				Warn("Failed to delete vector index during cleanup")
		}
		store.Close()
	}

	if p.cache != nil {
		if err := p.cache.DeletePrefix(ctx, cache.SessionPrefix(sessionID)); err != nil {
			p.logger.WithError(err).WithField("session_id", sessionID).
				Warn("Failed to clear answer cache during cleanup")
		}
	}

	if err := p.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	p.logger.WithField("session_id", sessionID).Info("Session cleaned up")
	return nil
}

// checkCancelled 在阶段边界响应取消
// 分块是纯CPU工作，不经过会观察ctx的下游调用，必须在边界上显式检查
func (p *Pipeline) checkCancelled(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		p.fail(ctx, sessionID, fmt.Sprintf("ingestion cancelled: %v", err))
		return err
	}
	return nil
}

// fail 标记会话失败并记录日志
func (p *Pipeline) fail(ctx context.Context, sessionID string, reason string) {
	if err := p.sessions.Fail(ctx, sessionID, reason); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Failed to mark session as failed")
	}
}
