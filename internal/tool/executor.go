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

package tool

import (
	"context"
	"fmt"
	"time"

	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
)

const defaultTimeout = 30 * time.Second

// Executor 带超时和 panic 保护的工具执行器。
// 任何失败路径（未注册、超时、panic、业务失败）都返回失败的 Result，
// 让编排循环继续，模型有机会对失败作出反应。
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *log.Logger
}

// NewExecutor 创建工具执行器；timeout <= 0 时用默认 30s
func NewExecutor(registry *Registry, timeout time.Duration, logger *log.Logger) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Executor{registry: registry, timeout: timeout, logger: logger}
}

// Registry 返回执行器持有的注册表
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute 执行一次工具调用
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	t, err := e.registry.Get(name)
	if err != nil {
		e.observe(name, "failed", 0)
		return Result{Success: false, Error: err.Error()}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := e.runProtected(execCtx, t, args)
	elapsed := time.Since(start)

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		e.logger.Warn("工具执行超时", "tool", name, "timeout", e.timeout)
		e.observe(name, "timeout", elapsed)
		return Result{Success: false, Error: fmt.Sprintf("tool %s timed out after %s", name, e.timeout)}
	case err != nil:
		e.logger.Warn("工具执行失败", "tool", name, "error", err)
		e.observe(name, "failed", elapsed)
		return Result{Success: false, Error: err.Error()}
	case !result.Success:
		e.observe(name, "failed", elapsed)
		return result
	default:
		e.observe(name, "completed", elapsed)
		return result
	}
}

// runProtected 在独立 goroutine 中执行工具，panic 转为错误，
// 超时后不再等待工具返回。
func (e *Executor) runProtected(ctx context.Context, t Tool, args map[string]any) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool %s panicked: %v", t.Name(), r)}
			}
		}()
		result, err := t.Execute(ctx, args)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (e *Executor) observe(name, status string, elapsed time.Duration) {
	metrics.ToolTotal.WithLabelValues(name, status).Inc()
	if elapsed > 0 {
		metrics.ToolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}
