package model

// UploadResponse 上传接口响应
type UploadResponse struct {
	SessionID string `json:"session_id"` // 会话ID
	Status    string `json:"status"`     // 处理状态
}

// StatusResponse 状态查询接口响应
type StatusResponse struct {
	SessionID string  `json:"session_id"`      // 会话ID
	Status    string  `json:"status"`          // 当前状态
	Progress  int     `json:"progress"`        // 处理进度(0-100)
	Message   string  `json:"message"`         // 当前阶段说明
	Error     *string `json:"error"`           // 失败原因，未失败时为null
	Pages     int     `json:"pages,omitempty"` // 文档页数
	Chunks    int     `json:"chunks,omitempty"`
}

// ChatResponse 问答接口响应
type ChatResponse struct {
	Answer  string       `json:"answer"`            // 回答文本
	Sources []SourceItem `json:"sources,omitempty"` // 回答依据
}

// SourceItem 回答依据的上下文片段
type SourceItem struct {
	Page int    `json:"page"` // 来源页码
	Text string `json:"text"` // 片段文本
}

// CleanupResponse 清理接口响应
type CleanupResponse struct {
	Status string `json:"status"` // 固定为cleaned
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`              // 错误描述
	TraceID string `json:"trace_id,omitempty"` // 请求追踪ID
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}
