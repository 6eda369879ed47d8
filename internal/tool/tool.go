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

// Package tool 定义工具执行边界：模型提议的参数是不可信输入，
// 由具体 Tool 实现校验；执行失败、超时、panic 都折叠为失败的 Result，
// 不会中断整个轮次。
package tool

import (
	"context"
	"fmt"
	"sync"

	"chat-platform/internal/model/llm"
)

// Result 工具执行结果
type Result struct {
	Success bool    `json:"success"`
	Data    any     `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
	Cost    float64 `json:"cost,omitempty"` // 消耗的资源额度（如 credits）
}

// Tool 工具接口
type Tool interface {
	// Name 工具名（模型可见）
	Name() string
	// Description 工具说明（模型可见）
	Description() string
	// Schema 参数的 JSON Schema
	Schema() map[string]any
	// Execute 执行工具；args 是模型提议的未验证参数
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Registry 工具注册表
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建工具注册表
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register 注册工具（同名覆盖）
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get 按名称获取工具
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not registered: %s", name)
	}
	return t, nil
}

// Specs 返回所有工具的声明，供 provider 请求携带
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.tools) == 0 {
		return nil
	}
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return specs
}
