package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/book-rag-chatbot/internal/cache"
	"github.com/fyerfyer/book-rag-chatbot/internal/embedding"
	"github.com/fyerfyer/book-rag-chatbot/internal/llm"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
)

// Answer 一次问答的结果
type Answer struct {
	Text    string             // 回答文本
	Sources []llm.ContextBlock // 回答依据的上下文片段
	Cached  bool               // 是否命中缓存
}

// ChatConfig 问答服务配置
type ChatConfig struct {
	TopK     int           // 检索结果数量
	MinScore float32       // 最低相似度分数
	CacheTTL time.Duration // 回答缓存存活时间
}

// DefaultChatConfig 默认问答配置
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		TopK:     4,
		MinScore: 0.2,
		CacheTTL: time.Hour,
	}
}

// ChatService 基于已索引文档的问答服务
// 只有就绪状态的会话可以提问，回答完全基于检索到的上下文
type ChatService struct {
	sessions *session.Manager
	embedder embedding.Client
	storeFor StoreFactory
	answerer *llm.GroundedAnswerer
	cache    cache.Cache
	config   ChatConfig
	logger   *logrus.Logger
}

// ChatOption 问答服务配置选项
type ChatOption func(*ChatService)

// WithChatConfig 设置问答配置
func WithChatConfig(cfg ChatConfig) ChatOption {
	return func(s *ChatService) {
		if cfg.TopK > 0 {
			s.config.TopK = cfg.TopK
		}
		if cfg.MinScore >= 0 {
			s.config.MinScore = cfg.MinScore
		}
		if cfg.CacheTTL > 0 {
			s.config.CacheTTL = cfg.CacheTTL
		}
	}
}

// WithChatCache 启用问答缓存
func WithChatCache(c cache.Cache) ChatOption {
	return func(s *ChatService) {
		s.cache = c
	}
}

// WithChatLogger 设置日志记录器
func WithChatLogger(logger *logrus.Logger) ChatOption {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewChatService 创建问答服务
func NewChatService(
	sessions *session.Manager,
	embedder embedding.Client,
	storeFor StoreFactory,
	answerer *llm.GroundedAnswerer,
	opts ...ChatOption,
) *ChatService {
	s := &ChatService{
		sessions: sessions,
		embedder: embedder,
		storeFor: storeFor,
		answerer: answerer,
		config:   DefaultChatConfig(),
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask 对指定会话的文档提问
// 会话不存在返回ErrSessionNotFound，未就绪返回ErrSessionNotReady
func (s *ChatService) Ask(ctx context.Context, sessionID string, question string) (*Answer, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Ready() {
		return nil, fmt.Errorf("%w: status is %s", session.ErrSessionNotReady, sess.Status)
	}

	// 缓存命中时不走检索和生成
	if s.cache != nil {
		key := cache.AnswerKey(sessionID, question)
		if cached, err := s.cache.Get(ctx, key); err == nil {
			s.logger.WithField("session_id", sessionID).Debug("Answer cache hit")
			return &Answer{Text: cached, Cached: true}, nil
		}
	}

	blocks, err := s.Retrieve(ctx, sess, question)
	if err != nil {
		return nil, err
	}

	text, err := s.answerer.Answer(ctx, question, blocks)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		key := cache.AnswerKey(sessionID, question)
		if err := s.cache.Set(ctx, key, text, s.config.CacheTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to cache answer")
		}
	}

	return &Answer{Text: text, Sources: blocks}, nil
}

// Retrieve 检索与问题最相关的上下文片段
// 结果按相似度降序排列，低于最低分数的结果被过滤
func (s *ChatService) Retrieve(ctx context.Context, sess *session.Session, question string) ([]llm.ContextBlock, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	store, err := s.storeFor(sess.IndexName)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	results, err := store.Search(ctx, vector, s.config.TopK, s.config.MinScore)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	blocks := make([]llm.ContextBlock, 0, len(results))
	for _, result := range results {
		blocks = append(blocks, llm.ContextBlock{
			Page: result.Page,
			Text: result.Text,
		})
	}
	return blocks, nil
}
