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

import "sync"

// Model 模型目录条目，决定上下文窗口与能力（流式、图片输入）
type Model struct {
	Name              string `json:"name"`
	ContextWindow     int    `json:"context_window"`
	MaxOutputTokens   int    `json:"max_output_tokens"`
	SupportsStreaming bool   `json:"supports_streaming"`
	SupportsImages    bool   `json:"supports_images"`
}

// Catalog 模型目录，支持按名称解析模型元数据，便于运行时切换
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewCatalog 创建带内置默认条目的模型目录
func NewCatalog() *Catalog {
	c := &Catalog{models: make(map[string]Model)}
	for _, m := range builtinModels {
		c.models[m.Name] = m
	}
	return c
}

// builtinModels OpenAI 兼容端点的常见模型默认值
var builtinModels = []Model{
	{Name: "gpt-4o", ContextWindow: 128000, MaxOutputTokens: 16384, SupportsStreaming: true, SupportsImages: true},
	{Name: "gpt-4o-mini", ContextWindow: 128000, MaxOutputTokens: 16384, SupportsStreaming: true, SupportsImages: true},
	{Name: "gpt-4-turbo", ContextWindow: 128000, MaxOutputTokens: 4096, SupportsStreaming: true, SupportsImages: true},
	{Name: "gpt-3.5-turbo", ContextWindow: 16385, MaxOutputTokens: 4096, SupportsStreaming: true, SupportsImages: false},
	{Name: "qwen-plus", ContextWindow: 131072, MaxOutputTokens: 8192, SupportsStreaming: true, SupportsImages: false},
	{Name: "qwen-vl-plus", ContextWindow: 32768, MaxOutputTokens: 2048, SupportsStreaming: true, SupportsImages: true},
}

// Register 注册或覆盖模型条目
func (c *Catalog) Register(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.Name] = m
}

// Lookup 按名称获取模型；未知模型返回 ConfigError
func (c *Catalog) Lookup(name string) (Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	if !ok {
		return Model{}, NewConfigError("unknown model: %s", name)
	}
	return m, nil
}

// Names 返回所有已注册模型名
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	return names
}
