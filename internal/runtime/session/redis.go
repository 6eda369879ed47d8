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

	"github.com/redis/go-redis/v9"

	apperrors "chat-platform/pkg/errors"
)

const redisKeyPrefix = "chat:session:"

// RedisStore 基于 Redis 的会话存储。每个会话一个 JSON blob，
// TTL > 0 时设置过期时间（每次 Put 续期）。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig Redis 存储配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore 创建 Redis 会话存储，连接失败直接报错
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("无法连接 Redis: %w", err)
	}
	return &RedisStore{client: client, ttl: config.TTL}, nil
}

// Get 实现 Store
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话 failed: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("解析会话 failed: %w", err)
	}
	return &s, nil
}

// Put 实现 Store
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("序列化会话 failed: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+s.ID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("写入会话 failed: %w", err)
	}
	return nil
}

// Delete 实现 Store
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, redisKeyPrefix+id).Err()
}

// Close 关闭 Redis 连接
func (r *RedisStore) Close() error {
	return r.client.Close()
}
