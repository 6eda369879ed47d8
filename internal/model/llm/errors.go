// Copyright 2026 chat-platform authors
// Typed errors for the LLM provider boundary

package llm

import "fmt"

// ConfigError 配置错误：缺少凭证、未知模型、模型能力不匹配等。
// 属于致命错误，调用方不应重试。
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "llm config error: " + e.Message
}

// NewConfigError 创建配置错误
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ProviderError 上游 Provider 返回的 HTTP 错误，保留上游状态码和错误信息。
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llm provider error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("llm provider error: status=%d: %s", e.StatusCode, e.Message)
}
