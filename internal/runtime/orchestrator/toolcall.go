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

package orchestrator

import (
	"encoding/json"
	"fmt"

	"chat-platform/internal/tool"
)

// InvocationStatus 工具调用状态
type InvocationStatus string

const (
	StatusRequested InvocationStatus = "requested"
	StatusExecuting InvocationStatus = "executing"
	StatusCompleted InvocationStatus = "completed"
	StatusFailed    InvocationStatus = "failed"
)

// ToolInvocation 单轮内的工具调用。状态只能沿
// requested -> executing -> {completed, failed} 推进，终态不再变化。
// 轮次结束后折叠为 tool-result 消息，不整体持久化。
type ToolInvocation struct {
	ID           string
	ToolName     string
	RawArguments string
	Arguments    map[string]any

	status InvocationStatus
	Result *tool.Result
}

// newInvocation 从流事件创建工具调用。参数是模型提议的 JSON 文本，
// 解析失败不在这里报错，留给执行器以失败 Result 折叠。
func newInvocation(id, name, rawArgs string) *ToolInvocation {
	inv := &ToolInvocation{
		ID:           id,
		ToolName:     name,
		RawArguments: rawArgs,
		status:       StatusRequested,
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err == nil {
		inv.Arguments = args
	}
	return inv
}

// Status 返回当前状态
func (inv *ToolInvocation) Status() InvocationStatus {
	return inv.status
}

// beginExecution requested -> executing
func (inv *ToolInvocation) beginExecution() error {
	if inv.status != StatusRequested {
		return fmt.Errorf("tool call %s: cannot execute from state %s", inv.ID, inv.status)
	}
	inv.status = StatusExecuting
	return nil
}

// complete executing -> completed/failed（由 Result.Success 决定）
func (inv *ToolInvocation) complete(result tool.Result) error {
	if inv.status != StatusExecuting {
		return fmt.Errorf("tool call %s: cannot complete from state %s", inv.ID, inv.status)
	}
	inv.Result = &result
	if result.Success {
		inv.status = StatusCompleted
	} else {
		inv.status = StatusFailed
	}
	return nil
}

// resultPayload 将终态结果编码为 tool-result 消息的文本载荷，
// 供下一轮模型调用读取。
func (inv *ToolInvocation) resultPayload() string {
	if inv.Result == nil {
		return `{"success":false,"error":"no result"}`
	}
	raw, err := json.Marshal(inv.Result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(raw)
}
