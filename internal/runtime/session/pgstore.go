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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "chat-platform/pkg/errors"
)

// PostgresStore 基于 PostgreSQL 的会话存储。历史以 JSONB 存一行，
// 行级更新发生在 Manager 的 turn lock 内，不需要额外的行锁。
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL,
	history        JSONB NOT NULL DEFAULT '[]',
	usage          JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore 创建 PostgreSQL 会话存储；dsn 为连接串
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createSessionsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("初始化 chat_sessions 表 failed: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close 关闭连接池（用于优雅退出）
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Get 实现 Store
func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		sess    Session
		history []byte
		usage   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, model, history, usage, created_at, last_active_at
		 FROM chat_sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Owner, &sess.Model, &history, &usage, &sess.CreatedAt, &sess.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(history, &sess.Messages); err != nil {
		return nil, fmt.Errorf("解析会话历史 failed: %w", err)
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &sess.Usage); err != nil {
			return nil, fmt.Errorf("解析会话用量 failed: %w", err)
		}
	}
	return &sess, nil
}

// Put 实现 Store（upsert 整行）
func (s *PostgresStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	history, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("序列化会话历史 failed: %w", err)
	}
	usage, err := json.Marshal(sess.Usage)
	if err != nil {
		return fmt.Errorf("序列化会话用量 failed: %w", err)
	}

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	lastActive := sess.LastActiveAt
	if lastActive.IsZero() {
		lastActive = createdAt
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, owner_id, model, history, usage, created_at, last_active_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			history = EXCLUDED.history,
			usage = EXCLUDED.usage,
			last_active_at = EXCLUDED.last_active_at`,
		sess.ID, sess.Owner, sess.Model, history, usage, createdAt, lastActive)
	return err
}

// Delete 实现 Store
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	return err
}
