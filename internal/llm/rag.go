package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FallbackAnswer 检索不到相关内容时的固定回答
// 客户端依赖该精确文案判断未命中，不要修改
const FallbackAnswer = "I could not find it"

// DefaultGroundedTemplate 默认的基于上下文问答的提示词模板
// 包含变量：
// {{.Question}} - 用户问题
// {{.Context}} - 检索的上下文
const DefaultGroundedTemplate = `You are a helpful assistant answering questions about a book.
Answer the question using ONLY the context below. Do not use any outside knowledge.
If the context does not contain the information needed to answer the question, reply with exactly: "` + FallbackAnswer + `"

Context:
{{.Context}}

Question: {{.Question}}

Answer:`

// ContextBlock 一段带页码的检索结果
type ContextBlock struct {
	Page int    // 来源页码
	Text string // 片段文本
}

// FormatContext 格式化上下文内容
// 每个片段带页码标注，片段之间用分隔线隔开
func FormatContext(blocks []ContextBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		parts = append(parts, fmt.Sprintf("[Page %d]\n%s", block.Page, block.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// GroundedConfig 基于上下文问答的配置
type GroundedConfig struct {
	Template  string        // 提示词模板
	MaxTokens int           // 最大Token数
	Timeout   time.Duration // 超时时间
}

// DefaultGroundedConfig 默认配置
// 温度固定为0，保证相同的上下文与问题产生可复现的回答
func DefaultGroundedConfig() *GroundedConfig {
	return &GroundedConfig{
		Template:  DefaultGroundedTemplate,
		MaxTokens: 1024,
		Timeout:   60 * time.Second,
	}
}

// GroundedAnswerer 基于检索上下文生成回答的服务
// 上下文为空时直接返回兜底回答，不调用大模型
type GroundedAnswerer struct {
	Client Client          // 大模型客户端
	config *GroundedConfig // 配置
	mu     sync.RWMutex    // 配置互斥锁
}

// GroundedOption 配置选项函数类型
type GroundedOption func(*GroundedConfig)

// WithTemplate 设置提示词模板
func WithTemplate(template string) GroundedOption {
	return func(c *GroundedConfig) {
		if template != "" {
			c.Template = template
		}
	}
}

// WithAnswerMaxTokens 设置最大Token数
func WithAnswerMaxTokens(tokens int) GroundedOption {
	return func(c *GroundedConfig) {
		if tokens > 0 {
			c.MaxTokens = tokens
		}
	}
}

// WithAnswerTimeout 设置请求超时时间
func WithAnswerTimeout(timeout time.Duration) GroundedOption {
	return func(c *GroundedConfig) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// NewGroundedAnswerer 创建基于上下文问答的服务
func NewGroundedAnswerer(client Client, opts ...GroundedOption) *GroundedAnswerer {
	cfg := DefaultGroundedConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &GroundedAnswerer{
		Client: client,
		config: cfg,
	}
}

// Answer 根据上下文和问题生成回答
func (g *GroundedAnswerer) Answer(ctx context.Context, question string, blocks []ContextBlock) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", NewLLMError(ErrCodeEmptyPrompt, "question cannot be empty")
	}

	// 没有检索到任何上下文时不调用大模型，直接兜底
	if len(blocks) == 0 {
		return FallbackAnswer, nil
	}

	g.mu.RLock()
	cfg := g.config
	g.mu.RUnlock()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	prompt := g.buildPrompt(question, blocks)

	response, err := g.Client.Generate(
		ctxWithTimeout,
		prompt,
		WithGenerateMaxTokens(cfg.MaxTokens),
		WithGenerateTemperature(0),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	return strings.TrimSpace(response.Text), nil
}

// buildPrompt 构建增强提示词
func (g *GroundedAnswerer) buildPrompt(question string, blocks []ContextBlock) string {
	g.mu.RLock()
	template := g.config.Template
	g.mu.RUnlock()

	prompt := template
	prompt = strings.ReplaceAll(prompt, "{{.Context}}", FormatContext(blocks))
	prompt = strings.ReplaceAll(prompt, "{{.Question}}", question)

	return prompt
}

// SetTemplate 设置自定义提示词模板
func (g *GroundedAnswerer) SetTemplate(template string) *GroundedAnswerer {
	g.mu.Lock()
	g.config.Template = template
	g.mu.Unlock()
	return g
}
