package session

import (
	"strings"
	"time"
)

// 消息角色
const (
	RoleSystem     = "system"
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool-result"
)

// Part 消息内容分片：纯文本或图片引用（外部已上传的 URL）
type Part struct {
	Type     string `json:"type"` // text | image_url
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"` // low | high | auto，仅 image_url
}

// ToolCallRef 助手消息发起的工具调用引用。持久化最小信息，
// 保证下一轮对话中 tool-result 与调用的配对关系不丢失。
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 对话消息。Parts 为内容分片序列；含图片时永远用分片表示，
// 不退化为裸字符串。
type Message struct {
	Role       string        `json:"role"`
	Parts      []Part        `json:"parts"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`   // 仅 assistant
	ToolCallID string        `json:"tool_call_id,omitempty"` // 仅 tool-result
	ToolName   string        `json:"tool_name,omitempty"`    // 仅 tool-result
	Timestamp  time.Time     `json:"timestamp"`
}

// NewTextMessage 创建纯文本消息
func NewTextMessage(role, text string) *Message {
	return &Message{
		Role:      role,
		Parts:     []Part{{Type: "text", Text: text}},
		Timestamp: time.Now(),
	}
}

// NewUserMessage 创建用户消息，images 为外部已上传的图片 URL
func NewUserMessage(text string, images []string) *Message {
	parts := []Part{{Type: "text", Text: text}}
	for _, url := range images {
		parts = append(parts, Part{Type: "image_url", ImageURL: url, Detail: "auto"})
	}
	return &Message{Role: RoleUser, Parts: parts, Timestamp: time.Now()}
}

// NewToolResultMessage 创建工具结果消息
func NewToolResultMessage(callID, toolName, payload string) *Message {
	return &Message{
		Role:       RoleToolResult,
		Parts:      []Part{{Type: "text", Text: payload}},
		ToolCallID: callID,
		ToolName:   toolName,
		Timestamp:  time.Now(),
	}
}

// Text 返回所有文本分片拼接后的内容
func (m *Message) Text() string {
	if len(m.Parts) == 1 && m.Parts[0].Type == "text" {
		return m.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ImageCount 返回图片分片数量（用于 token 估算）
func (m *Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == "image_url" {
			n++
		}
	}
	return n
}

// Clone 返回消息的深拷贝
func (m *Message) Clone() *Message {
	out := *m
	out.Parts = make([]Part, len(m.Parts))
	copy(out.Parts, m.Parts)
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCallRef, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return &out
}
