package session

import (
	"errors"
	"time"
)

// Status 会话处理状态
type Status string

// 会话状态常量
// 状态沿固定顺序推进，error为终态，ready之后不再变化
const (
	StatusInitialized Status = "initialized" // 已创建，等待处理
	StatusLoading     Status = "loading"     // 正在解析PDF
	StatusChunking    Status = "chunking"    // 正在分块
	StatusEmbedding   Status = "embedding"   // 正在向量化并写入索引
	StatusFinalizing  Status = "finalizing"  // 正在校验索引
	StatusReady       Status = "ready"       // 可以开始问答
	StatusError       Status = "error"       // 处理失败
)

// stageProgress 各状态对应的进度值
// 进度只增不减，进入error状态时归零
var stageProgress = map[Status]int{
	StatusInitialized: 10,
	StatusLoading:     20,
	StatusChunking:    40,
	StatusEmbedding:   60,
	StatusFinalizing:  90,
	StatusReady:       100,
	StatusError:       0,
}

// StageProgress 返回状态对应的进度值
func StageProgress(status Status) int {
	return stageProgress[status]
}

// Terminal 判断状态是否为终态
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Session 一次PDF问答会话
// 记录文档处理进度和索引信息，Stats在处理过程中逐步填充
type Session struct {
	ID        string       `json:"id"`         // 会话ID
	Filename  string       `json:"filename"`   // 上传的文件名
	IndexName string       `json:"index_name"` // 绑定的向量索引名
	Status    Status       `json:"status"`     // 当前状态
	Progress  int          `json:"progress"`   // 处理进度(0-100)
	Error     string       `json:"error"`      // 失败原因（status为error时有效）
	Stats     SessionStats `json:"stats"`      // 处理统计
	CreatedAt time.Time    `json:"created_at"` // 创建时间
	UpdatedAt time.Time    `json:"updated_at"` // 最后更新时间
}

// SessionStats 会话处理统计
type SessionStats struct {
	Pages  int `json:"pages"`  // 文档页数
	Chunks int `json:"chunks"` // 分块数量
}

// Ready 判断会话是否可以开始问答
func (s *Session) Ready() bool {
	return s.Status == StatusReady
}

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotReady 会话尚未就绪，不能问答
	ErrSessionNotReady = errors.New("session is not ready")

	// ErrInvalidTransition 非法的状态迁移
	ErrInvalidTransition = errors.New("invalid session status transition")
)
