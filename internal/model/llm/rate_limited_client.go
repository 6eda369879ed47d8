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
	"io"
	"sync"
	"time"

	"chat-platform/pkg/metrics"
)

// RateLimitedClient 包装任意 LLM Client，在真实调用前执行限流控制。
type RateLimitedClient struct {
	inner       Client
	rateLimiter *RateLimiter
}

// NewRateLimitedClient 创建带限流的 LLM 客户端。rateLimiter 为 nil 时退化为直接调用。
func NewRateLimitedClient(inner Client, rateLimiter *RateLimiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, rateLimiter: rateLimiter}
}

// Provider 返回底层 Client 的提供商名称。
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }

// Complete 实现 Client.Complete，调用前执行限流并记录实际用量。
func (c *RateLimitedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.rateLimiter == nil {
		return c.inner.Complete(ctx, req)
	}

	provider := c.inner.Provider()
	if err := c.acquire(ctx, provider, req); err != nil {
		return nil, err
	}
	defer c.rateLimiter.Release(provider)

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Usage != nil {
		c.rateLimiter.RecordTokenUsage(provider, resp.Usage.TotalTokens)
	}
	return resp, nil
}

// CompleteStream 实现 Client.CompleteStream。并发 slot 在流关闭时释放，
// 而不是在请求返回时，保证整个流读取期间占用配额。
func (c *RateLimitedClient) CompleteStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if c.rateLimiter == nil {
		return c.inner.CompleteStream(ctx, req)
	}

	provider := c.inner.Provider()
	if err := c.acquire(ctx, provider, req); err != nil {
		return nil, err
	}

	body, err := c.inner.CompleteStream(ctx, req)
	if err != nil {
		c.rateLimiter.Release(provider)
		return nil, err
	}
	return &releasingReadCloser{
		ReadCloser: body,
		release:    func() { c.rateLimiter.Release(provider) },
	}, nil
}

func (c *RateLimitedClient) acquire(ctx context.Context, provider string, req Request) error {
	estimated := estimateRequestTokens(req)
	start := time.Now()
	if err := c.rateLimiter.Wait(ctx, provider, estimated); err != nil {
		return err
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		metrics.RateLimitWaitSeconds.WithLabelValues("llm", provider).Observe(waited.Seconds())
	}
	return nil
}

type releasingReadCloser struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (r *releasingReadCloser) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)
	return err
}

// estimateRequestTokens 粗略估算请求的 token 数（4 字符 ≈ 1 token）。
func estimateRequestTokens(req Request) int {
	chars := 0
	for _, m := range req.Messages {
		switch content := m.Content.(type) {
		case string:
			chars += len(content)
		case []ContentPart:
			for _, p := range content {
				chars += len(p.Text)
			}
		}
	}
	estimated := chars / 4
	if req.MaxTokens > 0 {
		estimated += req.MaxTokens
	}
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}
