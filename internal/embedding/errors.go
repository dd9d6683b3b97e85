package embedding

import "errors"

var (
	// ErrUnknownProvider 未注册的提供商
	ErrUnknownProvider = errors.New("unknown embedding provider")

	// ErrMissingAPIKey 缺少API密钥
	ErrMissingAPIKey = errors.New("embedding API key is required")

	// ErrEmptyInput 输入文本为空
	ErrEmptyInput = errors.New("embedding input is empty")

	// ErrRequestFailed 请求失败（已耗尽重试）
	ErrRequestFailed = errors.New("embedding request failed")
)
