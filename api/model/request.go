package model

// ChatRequest 问答请求
type ChatRequest struct {
	SessionID string `json:"session_id" binding:"required"` // 会话ID
	Question  string `json:"question" binding:"required"`   // 问题文本
}
