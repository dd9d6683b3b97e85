package services

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/fyerfyer/book-rag-chatbot/internal/document"
	"github.com/fyerfyer/book-rag-chatbot/internal/llm"
	"github.com/fyerfyer/book-rag-chatbot/internal/pdf"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
	"github.com/fyerfyer/book-rag-chatbot/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// fakeLoader 返回预置文档的加载器，不读取真实PDF
type fakeLoader struct {
	doc *pdf.Document
	err error
}

func (l *fakeLoader) Load(ctx context.Context, path string) (*pdf.Document, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.doc, nil
}

const hashEmbedderDims = 64

// hashEmbedder 基于词袋哈希的确定性向量化实现
// 共享词越多的文本余弦相似度越高，用于验证检索排序
type hashEmbedder struct {
	mu  sync.Mutex
	err error // 非空时每次调用都返回该错误
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vector := make([]float32, hashEmbedderDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vector[h.Sum32()%hashEmbedderDims]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *hashEmbedder) Name() string { return "hash-embedder" }

func (e *hashEmbedder) Dimensions() int { return hashEmbedderDims }

func (e *hashEmbedder) setErr(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

// fakeLLM 记录收到的提示词并返回固定文本
type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	prompts []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Response, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return &llm.Response{Text: f.reply, ModelName: f.Name()}, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, options ...llm.ChatOption) (*llm.Response, error) {
	return &llm.Response{Text: f.reply, ModelName: f.Name()}, nil
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newTestSplitter 使用默认分块参数的分块器
func newTestSplitter() *document.RecursiveSplitter {
	return document.NewRecursiveSplitter()
}

// quietLogger 测试时不输出日志
func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// bookPages 含有可检索事实的三页测试文档
func bookPages() *pdf.Document {
	return &pdf.Document{
		Source: "freedonia-guide.pdf",
		Pages: []pdf.Page{
			{Number: 1, Text: "Freedonia is a small country in the eastern mountains. Travelers praise its quiet valleys and winding rivers."},
			{Number: 2, Text: "The capital of Freedonia is Zembla. Zembla sits on the northern plateau and hosts the national archive."},
			{Number: 3, Text: "Freedonian cuisine relies on barley, trout and mountain herbs. Markets open before sunrise in most towns."},
		},
	}
}

// newTestEnv 组装以内存实现为后端的流水线和问答服务
type testEnv struct {
	sessions *session.Manager
	registry *vectordb.MemoryRegistry
	embedder *hashEmbedder
	llm      *fakeLLM
	pipeline *Pipeline
	chat     *ChatService
}

func newTestEnv(loader DocumentLoader) *testEnv {
	registry := vectordb.NewMemoryRegistry()
	storeFor := func(indexName string) (vectordb.Store, error) {
		return registry.Get(indexName)
	}

	embedder := &hashEmbedder{}
	model := &fakeLLM{reply: "Zembla."}
	sessions := session.NewManager(session.NewMemoryStore(),
		session.WithManagerLogger(quietLogger()))

	pipeline := NewPipeline(
		loader,
		newTestSplitter(),
		embedder,
		storeFor,
		sessions,
		WithPipelineLogger(quietLogger()),
	)

	chat := NewChatService(
		sessions,
		embedder,
		storeFor,
		llm.NewGroundedAnswerer(model),
		WithChatLogger(quietLogger()),
	)

	return &testEnv{
		sessions: sessions,
		registry: registry,
		embedder: embedder,
		llm:      model,
		pipeline: pipeline,
		chat:     chat,
	}
}
