package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// errIndexExists 创建索引时同名索引已存在
var errIndexExists = errors.New("index already exists")

const (
	// Pinecone控制面API端点
	defaultPineconeEndpoint = "https://api.pinecone.io"

	// 索引创建后等待就绪的轮询间隔和上限
	indexReadyPollInterval = 2 * time.Second
	indexReadyMaxWait      = 2 * time.Minute
)

func init() {
	RegisterStore("pinecone", NewPineconeStore)
}

// PineconeStore Pinecone向量库实现
// 控制面负责索引的创建和删除，数据面地址在索引就绪后从描述接口获取
type PineconeStore struct {
	config     Config
	controlURL string       // 控制面地址
	dataURL    string       // 数据面地址，EnsureIndex成功后可用
	httpClient *http.Client // HTTP客户端
}

// NewPineconeStore 创建Pinecone向量库客户端
func NewPineconeStore(opts ...StoreOption) (Store, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	controlURL := config.BaseURL
	if controlURL == "" {
		controlURL = defaultPineconeEndpoint
	}

	return &PineconeStore{
		config:     config,
		controlURL: strings.TrimRight(controlURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// indexDescription 索引描述接口的响应
type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// EnsureIndex 确保索引存在
// 同名索引存在且维度一致时直接复用，维度不一致时返回ErrDimensionMismatch
func (s *PineconeStore) EnsureIndex(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		dimensions = s.config.Dimensions
	}

	desc, err := s.describeIndex(ctx)
	if err == nil {
		if desc.Dimension != dimensions {
			return fmt.Errorf("%w: index %s has dimension %d, want %d",
				ErrDimensionMismatch, s.config.IndexName, desc.Dimension, dimensions)
		}
		return s.waitReady(ctx, desc)
	}
	if err != ErrIndexNotFound {
		return err
	}

	createReq := map[string]any{
		"name":      s.config.IndexName,
		"dimension": dimensions,
		"metric":    "cosine",
		"spec": map[string]any{
			"serverless": map[string]any{
				"cloud":  s.config.Cloud,
				"region": s.config.Region,
			},
		},
	}
	// 并发摄取可能同时看到404并竞争创建，输家的409按已存在处理
	if err := s.doControl(ctx, http.MethodPost, "/indexes", createReq, nil); err != nil && !errors.Is(err, errIndexExists) {
		return fmt.Errorf("failed to create index %s: %w", s.config.IndexName, err)
	}

	desc, err = s.describeIndex(ctx)
	if err != nil {
		return err
	}
	return s.waitReady(ctx, desc)
}

// waitReady 轮询等待索引可用并记录数据面地址
func (s *PineconeStore) waitReady(ctx context.Context, desc *indexDescription) error {
	deadline := time.Now().Add(indexReadyMaxWait)
	for !desc.Status.Ready {
		if time.Now().After(deadline) {
			return fmt.Errorf("index %s not ready after %s", s.config.IndexName, indexReadyMaxWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(indexReadyPollInterval):
		}
		var err error
		desc, err = s.describeIndex(ctx)
		if err != nil {
			return err
		}
	}

	host := desc.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	s.dataURL = strings.TrimRight(host, "/")
	return nil
}

// describeIndex 查询索引描述
func (s *PineconeStore) describeIndex(ctx context.Context) (*indexDescription, error) {
	var desc indexDescription
	err := s.doControl(ctx, http.MethodGet, "/indexes/"+s.config.IndexName, nil, &desc)
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

// resolveDataURL 确保数据面地址可用
// 客户端可能在索引已存在的情况下直接读写，此时按需解析一次
func (s *PineconeStore) resolveDataURL(ctx context.Context) error {
	if s.dataURL != "" {
		return nil
	}
	desc, err := s.describeIndex(ctx)
	if err != nil {
		return err
	}
	return s.waitReady(ctx, desc)
}

// Upsert 批量写入记录
// 超出批量上限时拆分为多次请求，ID相同的记录被覆盖
func (s *PineconeStore) Upsert(ctx context.Context, entries []Entry) error {
	if err := s.resolveDataURL(ctx); err != nil {
		return err
	}
	for _, entry := range entries {
		if len(entry.Vector) != s.config.Dimensions {
			return fmt.Errorf("%w: got %d, want %d",
				ErrDimensionMismatch, len(entry.Vector), s.config.Dimensions)
		}
	}

	for start := 0; start < len(entries); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(entries) {
			end = len(entries)
		}

		vectors := make([]map[string]any, 0, end-start)
		for _, entry := range entries[start:end] {
			vectors = append(vectors, map[string]any{
				"id":     entry.ID,
				"values": entry.Vector,
				"metadata": map[string]any{
					"text":   entry.Text,
					"page":   entry.Page,
					"source": entry.Source,
				},
			})
		}

		req := map[string]any{"vectors": vectors}
		if err := s.doData(ctx, "/vectors/upsert", req, nil); err != nil {
			return fmt.Errorf("failed to upsert vectors: %w", err)
		}
	}
	return nil
}

// queryResponse 检索接口的响应
type queryResponse struct {
	Matches []struct {
		ID       string  `json:"id"`
		Score    float32 `json:"score"`
		Metadata struct {
			Text   string  `json:"text"`
			Page   float64 `json:"page"`
			Source string  `json:"source"`
		} `json:"metadata"`
	} `json:"matches"`
}

// Search 按向量相似度检索
func (s *PineconeStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]SearchResult, error) {
	if err := s.resolveDataURL(ctx); err != nil {
		return nil, err
	}
	if len(vector) != s.config.Dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrDimensionMismatch, len(vector), s.config.Dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	var resp queryResponse
	if err := s.doData(ctx, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Score < minScore {
			continue
		}
		results = append(results, SearchResult{
			ID:    match.ID,
			Text:  match.Metadata.Text,
			Page:  int(match.Metadata.Page),
			Score: match.Score,
		})
	}
	return results, nil
}

// DeleteIndex 删除整个索引
// 索引不存在时视为已删除，不返回错误
func (s *PineconeStore) DeleteIndex(ctx context.Context) error {
	err := s.doControl(ctx, http.MethodDelete, "/indexes/"+s.config.IndexName, nil, nil)
	if err != nil && err != ErrIndexNotFound {
		return fmt.Errorf("failed to delete index %s: %w", s.config.IndexName, err)
	}
	s.dataURL = ""
	return nil
}

// Close 释放底层连接
func (s *PineconeStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// doControl 调用控制面接口
func (s *PineconeStore) doControl(ctx context.Context, method, path string, body any, out any) error {
	return s.doRequest(ctx, method, s.controlURL+path, body, out)
}

// doData 调用数据面接口
func (s *PineconeStore) doData(ctx context.Context, path string, body any, out any) error {
	return s.doRequest(ctx, http.MethodPost, s.dataURL+path, body, out)
}

// doRequest 发送HTTP请求，5xx和限流错误按指数退避重试
func (s *PineconeStore) doRequest(ctx context.Context, method, url string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt)) * 100 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Api-Key", s.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrIndexNotFound
		case resp.StatusCode == http.StatusConflict:
			return errIndexExists
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("pinecone API error (status %d): %s", resp.StatusCode, string(respBody))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("request failed after %d retries: %w", s.config.MaxRetries, lastErr)
}
