// Copyright 2026 chat-platform authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient OpenAI 兼容端点客户端（OpenAI/OpenRouter/DashScope 等）
type OpenAIClient struct {
	provider string
	apiKey   string
	baseURL  string
	catalog  *Catalog
	client   *resty.Client // 缓冲式请求，带超时
	stream   *resty.Client // 流式请求，无整体超时
}

// NewOpenAIClient 创建 OpenAI 兼容客户端；baseURL 为空时用默认或 OPENAI_BASE_URL
func NewOpenAIClient(provider, apiKey, baseURL string, catalog *Catalog) *OpenAIClient {
	if provider == "" {
		provider = "openai"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
		if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}
	if catalog == nil {
		catalog = NewCatalog()
	}

	// 重试不在网关层做，由编排器按工具调用状态决定
	client := resty.New()
	client.SetTimeout(60 * time.Second)

	stream := resty.New()

	return &OpenAIClient{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  baseURL,
		catalog:  catalog,
		client:   client,
		stream:   stream,
	}
}

// SetTimeout 设置缓冲式请求超时
func (c *OpenAIClient) SetTimeout(d time.Duration) {
	c.client.SetTimeout(d)
}

// Provider 返回提供商名称
func (c *OpenAIClient) Provider() string {
	return c.provider
}

// wire 请求体（OpenAI chat completions 格式）
type completionPayload struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Tools         []ToolSpec     `json:"tools,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type completionResult struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type errorResult struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete 发起缓冲式 chat completion 请求
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if _, err := c.catalog.Lookup(req.Model); err != nil {
		return nil, err
	}

	payload := completionPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(payload).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, providerErrorFromBody(resp.StatusCode(), resp.Body())
	}

	var result completionResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Message: "无法解析 provider 响应: " + err.Error()}
	}
	if len(result.Choices) == 0 {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Message: "provider 没有返回结果"}
	}

	choice := result.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        result.Usage,
	}, nil
}

// CompleteStream 发起流式请求，返回上游 SSE 字节流。
// 调用方负责 Close；非 2xx 在此处读完 body 并转为 ProviderError。
func (c *OpenAIClient) CompleteStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	model, err := c.catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}
	if !model.SupportsStreaming {
		return nil, NewConfigError("model %s does not support streaming", req.Model)
	}

	payload := completionPayload{
		Model:         req.Model,
		Messages:      req.Messages,
		Tools:         req.Tools,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(payload).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, err
	}

	body := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		body.Close()
		return nil, providerErrorFromBody(resp.StatusCode(), raw)
	}
	return body, nil
}

// providerErrorFromBody 解析上游错误 body，保留状态码和错误信息
func providerErrorFromBody(status int, body []byte) *ProviderError {
	var er errorResult
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		code, _ := er.Error.Code.(string)
		if code == "" {
			code = er.Error.Type
		}
		return &ProviderError{StatusCode: status, Code: code, Message: er.Error.Message}
	}
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &ProviderError{StatusCode: status, Message: msg}
}
