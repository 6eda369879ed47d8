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

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenUsage 会话累计 token 用量（用于成本展示，非计费真值）
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Session 一个对话的唯一状态载体。历史只追加，不重排不改写。
type Session struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner,omitempty"` // 鉴权开启时为创建者标识
	Model        string     `json:"model"`
	Messages     []*Message `json:"messages"`
	Usage        TokenUsage `json:"usage"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`

	mu sync.RWMutex
}

// New 创建新 Session（ID 为空时自动分配）
func New(id, model string) *Session {
	now := time.Now()
	if id == "" {
		id = "session-" + uuid.New().String()
	}
	return &Session{
		ID:           id,
		Model:        model,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Append 追加消息并更新活跃时间。只追加，调用方保证 system 消息
// 至多一条且在首位。
func (s *Session) Append(msgs ...*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
	s.Messages = append(s.Messages, msgs...)
}

// AddUsage 累加一轮的 token 用量
func (s *Session) AddUsage(prompt, completion int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Usage.PromptTokens += prompt
	s.Usage.CompletionTokens += completion
	s.Usage.TotalTokens += prompt + completion
}

// CopyMessages 返回历史的深拷贝，供编排器构造工作副本
func (s *Session) CopyMessages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.Messages) == 0 {
		return nil
	}
	out := make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.Clone()
	}
	return out
}

// SystemMessage 返回 system 消息（无则为 nil）
func (s *Session) SystemMessage() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.Messages) > 0 && s.Messages[0].Role == RoleSystem {
		return s.Messages[0].Clone()
	}
	return nil
}

// Len 返回历史长度
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}
