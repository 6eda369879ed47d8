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
	"context"
	"sync"

	apperrors "chat-platform/pkg/errors"
)

// Manager 管理会话生命周期与每会话的轮次互斥。
// 同一会话同时至多一个轮次在途，第二个请求被拒绝而不是排队。
type Manager struct {
	store Store

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewManager 创建会话管理器
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		inFlight: make(map[string]struct{}),
	}
}

// Create 创建新会话并持久化
func (m *Manager) Create(ctx context.Context, model, owner string) (*Session, error) {
	s := New("", model)
	s.Owner = owner
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get 按 ID 获取会话；不存在返回 ErrNotFound
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Delete 删除会话（外部管理操作，核心自身不调用）
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// BeginTurn 获取会话的轮次锁；已有轮次在途时返回 ErrTurnInFlight
func (m *Manager) BeginTurn(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return apperrors.Wrapf(apperrors.ErrTurnInFlight, "session %s", id)
	}
	m.inFlight[id] = struct{}{}
	return nil
}

// EndTurn 释放会话的轮次锁。必须在 BeginTurn 成功后调用，
// 无论轮次正常完成、出错还是被取消。
func (m *Manager) EndTurn(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

// AppendTurn 将一个完成轮次的消息追加到会话并持久化。
// 只在轮次正常 done 时调用；出错或取消的轮次不落任何消息。
func (m *Manager) AppendTurn(ctx context.Context, id string, msgs []*Message, promptTokens, completionTokens int) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	s.Append(msgs...)
	if promptTokens > 0 || completionTokens > 0 {
		s.AddUsage(promptTokens, completionTokens)
	}
	return m.store.Put(ctx, s)
}
