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

// Package stream 将上游 provider 的原始 SSE 字节流转换为
// 面向客户端的归一化事件序列。
package stream

import "chat-platform/internal/model/llm"

// EventType 归一化事件类型
type EventType string

const (
	EventThinking         EventType = "thinking"
	EventContentChunk     EventType = "content_chunk"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallComplete EventType = "tool_call_complete"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// ToolCallResult 工具调用的终态结果（tool_call_complete 事件载荷）
type ToolCallResult struct {
	Success bool    `json:"success"`
	Data    any     `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
	Cost    float64 `json:"cost,omitempty"`
}

// Event 归一化事件（发往客户端的 wire contract）。
// 每轮恰好以一个 done 或 error 结束，之后不再有任何事件。
type Event struct {
	Type EventType `json:"type"`

	// thinking / content_chunk：增量文本（不是累计值）
	Text string `json:"text,omitempty"`

	// tool_call_start / tool_call_complete
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  string          `json:"arguments,omitempty"` // JSON 编码的参数
	Result     *ToolCallResult `json:"result,omitempty"`

	// done
	FinalText    string     `json:"final_text,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *llm.Usage `json:"usage,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// IsTerminal 判断事件是否是终止事件
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
