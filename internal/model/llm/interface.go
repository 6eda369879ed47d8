package llm

import (
	"context"
	"io"
)

// Client LLM 客户端接口
type Client interface {
	// Complete 发起缓冲式 chat completion 请求
	Complete(ctx context.Context, req Request) (*Response, error)
	// CompleteStream 发起流式请求，返回上游原始字节流（SSE 编码），由调用方负责关闭
	CompleteStream(ctx context.Context, req Request) (io.ReadCloser, error)
	// Provider 返回提供商名称
	Provider() string
}

// Request chat completion 请求参数
type Request struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// ChatMessage 发往 Provider 的消息。Content 是 string（纯文本）
// 或 []ContentPart（含图片），二者择一。
type ChatMessage struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ContentPart 消息内容分片
type ContentPart struct {
	Type     string    `json:"type"` // text | image_url
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 图片引用（外部已上传的 URL，不含原始二进制）
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // low | high | auto
}

// ToolCall 模型提议的工具调用
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // 恒为 "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall 工具调用的函数名与 JSON 编码参数
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec 暴露给模型的工具声明
type ToolSpec struct {
	Type     string       `json:"type"` // 恒为 "function"
	Function FunctionSpec `json:"function"`
}

// FunctionSpec 工具函数声明（JSON Schema 参数）
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Response 缓冲式请求的响应
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// Usage token 用量报告
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient 创建 LLM 客户端；目前所有 provider 走 OpenAI 兼容端点，
// baseURL 为空时用默认或 OPENAI_BASE_URL 环境变量。
func NewClient(provider, apiKey, baseURL string, catalog *Catalog) (Client, error) {
	if apiKey == "" {
		return nil, NewConfigError("missing API key for provider %s", provider)
	}
	switch provider {
	case "", "openai", "openrouter", "qwen":
		return NewOpenAIClient(provider, apiKey, baseURL, catalog), nil
	default:
		return nil, NewConfigError("unsupported provider: %s", provider)
	}
}
