package vectordb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Entry 写入向量库的一条记录
type Entry struct {
	ID     string    // 记录ID（相同内容重复写入会覆盖而不是累积）
	Text   string    // 原始文本
	Vector []float32 // 向量
	Page   int       // 来源页码
	Source string    // 来源文档标识
}

// SearchResult 相似度检索命中结果
type SearchResult struct {
	ID    string  // 记录ID
	Text  string  // 原始文本
	Page  int     // 来源页码
	Score float32 // 相似度得分
}

// ChunkID 根据文档标识、页码和块序号生成确定性记录ID
// 同一个块重复入库时ID相同，保证写入幂等
func ChunkID(source string, page int, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", source, page, index)))
	return hex.EncodeToString(sum[:20])
}

var (
	// ErrDimensionMismatch 向量维度与索引维度不一致
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexNotFound 索引不存在
	ErrIndexNotFound = errors.New("index not found")

	// ErrUnknownStore 未注册的向量库类型
	ErrUnknownStore = errors.New("unknown vector store type")

	// ErrMissingAPIKey 缺少API密钥
	ErrMissingAPIKey = errors.New("vector store API key is required")
)
