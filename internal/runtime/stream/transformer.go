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

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chat-platform/internal/model/llm"
)

const readChunkSize = 4096

// Transformer 增量消费上游 SSE 字节流，产出归一化事件。
// 跨 chunk 的不完整行保留在缓冲区，永远不解析半行；
// 解析失败的 data 帧静默丢弃，不中断健康的流。
// 状态机保证终止事件（done 或 error）至多产出一次，之后的输入全部丢弃。
type Transformer struct {
	buf  []byte
	text strings.Builder

	usage        *llm.Usage
	finishReason string
	partials     []partialToolCall
	terminal     bool
}

type partialToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

// NewTransformer 创建流转换器（每轮模型调用一个，不可复用）
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Feed 追加一段原始字节并返回由此产生的归一化事件。
// 事件可能为空（chunk 未凑满一行，或帧不携带可见内容）。
func (t *Transformer) Feed(chunk []byte) []Event {
	if t.terminal {
		return nil
	}
	t.buf = append(t.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(t.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(t.buf[:idx])
		t.buf = t.buf[idx+1:]

		events = append(events, t.processLine(line)...)
		if t.terminal {
			t.buf = nil
			break
		}
	}
	return events
}

// CloseInput 在上游流结束时调用。缓冲区里可能残留一个没有换行的
// 完整帧，先尝试解析；若仍未产出终止事件且已累计到内容，
// 补发一个 best-effort done。
func (t *Transformer) CloseInput() []Event {
	if t.terminal {
		return nil
	}

	var events []Event
	if len(t.buf) > 0 {
		line := string(t.buf)
		t.buf = nil
		events = append(events, t.processLine(line)...)
	}
	if !t.terminal && (t.text.Len() > 0 || len(t.partials) > 0) {
		events = append(events, t.finalize()...)
	}
	return events
}

// Terminated 返回是否已产出终止事件
func (t *Transformer) Terminated() bool {
	return t.terminal
}

// FinalText 返回累计的完整文本
func (t *Transformer) FinalText() string {
	return t.text.String()
}

// Usage 返回最后一次上报的用量（可能为 nil）
func (t *Transformer) Usage() *llm.Usage {
	return t.usage
}

// wire 帧结构（OpenAI chat completions 流式格式）
type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          string          `json:"content"`
			ReasoningContent string          `json:"reasoning_content"`
			ToolCalls        []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (t *Transformer) processLine(line string) []Event {
	line = strings.TrimSuffix(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return nil
	}

	// 只处理 data 字段；event/id/retry 等 SSE 字段忽略
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return nil
	}
	payload = strings.TrimPrefix(payload, " ")

	if payload == "[DONE]" {
		return t.finalize()
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// 坏帧丢弃，流继续
		return nil
	}

	// 上游把错误作为普通 data 帧下发：无 choices、无 usage、无 model
	if len(chunk.Choices) == 0 && chunk.Usage == nil && chunk.Model == "" {
		var errChunk struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal([]byte(payload), &errChunk) == nil && errChunk.Error.Message != "" {
			t.terminal = true
			return []Event{{
				Type:    EventError,
				Message: fmt.Sprintf("provider stream error: %s", errChunk.Error.Message),
			}}
		}
		return nil
	}

	// 最后一次上报的 usage 生效
	if chunk.Usage != nil {
		t.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return nil
	}

	var events []Event
	choice := chunk.Choices[0]

	if choice.Delta.ReasoningContent != "" {
		events = append(events, Event{Type: EventThinking, Text: choice.Delta.ReasoningContent})
	}
	if choice.Delta.Content != "" {
		t.text.WriteString(choice.Delta.Content)
		events = append(events, Event{Type: EventContentChunk, Text: choice.Delta.Content})
	}

	for _, delta := range choice.Delta.ToolCalls {
		for len(t.partials) <= delta.Index {
			t.partials = append(t.partials, partialToolCall{})
		}
		partial := &t.partials[delta.Index]
		if delta.ID != "" {
			partial.id = delta.ID
		}
		if delta.Function != nil {
			if delta.Function.Name != "" {
				partial.name = delta.Function.Name
			}
			if delta.Function.Arguments != "" {
				partial.arguments.WriteString(delta.Function.Arguments)
			}
		}
	}

	// 模型可能在最后一个内容帧里同时报告 finish_reason，
	// 不等待 [DONE] 立即收尾
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		t.finishReason = *choice.FinishReason
		events = append(events, t.finalize()...)
	}
	return events
}

// finalize 产出累积的 tool_call_start 事件和唯一的 done 事件
func (t *Transformer) finalize() []Event {
	if t.terminal {
		return nil
	}
	t.terminal = true

	var events []Event
	for i := range t.partials {
		p := &t.partials[i]
		if p.name == "" {
			continue
		}
		id := p.id
		if id == "" {
			id = fmt.Sprintf("call-%d", i)
		}
		args := p.arguments.String()
		if args == "" {
			args = "{}"
		}
		events = append(events, Event{
			Type:       EventToolCallStart,
			ToolCallID: id,
			ToolName:   p.name,
			Arguments:  args,
		})
	}

	events = append(events, Event{
		Type:         EventDone,
		FinalText:    t.text.String(),
		FinishReason: t.finishReason,
		Usage:        t.usage,
	})
	return events
}

// Run 从 r 读取上游字节流直到终止事件或 EOF，把每个事件交给 sink。
// sink 返回错误（如客户端断开）时中止读取并透传该错误；
// ctx 取消时返回 ctx.Err()。EOF 后调用方用 Terminated 判断流是否完整。
func (t *Transformer) Run(ctx context.Context, r io.Reader, sink func(Event) error) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range t.Feed(buf[:n]) {
				if sinkErr := sink(ev); sinkErr != nil {
					return sinkErr
				}
			}
			if t.terminal {
				return nil
			}
		}
		if err == io.EOF {
			for _, ev := range t.CloseInput() {
				if sinkErr := sink(ev); sinkErr != nil {
					return sinkErr
				}
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
