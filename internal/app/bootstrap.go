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

package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"chat-platform/internal/model/llm"
	"chat-platform/internal/runtime/orchestrator"
	"chat-platform/internal/runtime/session"
	"chat-platform/internal/tool"
	"chat-platform/internal/tool/builtin"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
	"chat-platform/pkg/secrets"
)

// Bootstrap 统一初始化：装配存储、LLM 客户端、工具与编排器，供 cmd/api 复用
type Bootstrap struct {
	Config       *config.Config
	Logger       *log.Logger
	Secrets      secrets.Store
	Catalog      *llm.Catalog
	LLM          llm.Client
	Sessions     *session.Manager
	Tools        *tool.Executor
	Orchestrator *orchestrator.Orchestrator

	closers []func(context.Context) error
}

// NewBootstrap 根据配置创建 Bootstrap
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}

	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志 failed: %w", err)
	}

	secretStore, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Config:   cfg.Secrets.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store failed: %w", err)
	}

	apiKey, err := resolveAPIKey(ctx, cfg, secretStore)
	if err != nil {
		return nil, err
	}

	catalog := llm.NewCatalog()
	for name, info := range cfg.Model.Models {
		catalog.Register(llm.Model{
			Name:              name,
			ContextWindow:     info.ContextWindow,
			MaxOutputTokens:   info.MaxOutputTokens,
			SupportsStreaming: info.Streaming,
			SupportsImages:    info.Images,
		})
	}

	client, err := llm.NewClient(cfg.Model.Provider, apiKey, cfg.Model.BaseURL, catalog)
	if err != nil {
		return nil, fmt.Errorf("初始化 LLM 客户端 failed: %w", err)
	}
	if d := parseDuration(cfg.Model.Timeout, 0); d > 0 {
		if oc, ok := client.(*llm.OpenAIClient); ok {
			oc.SetTimeout(d)
		}
	}
	limitConfigs := make(map[string]llm.LimitConfig, len(cfg.RateLimits.LLM))
	for provider, rl := range cfg.RateLimits.LLM {
		limitConfigs[provider] = llm.LimitConfig{
			TokensPerMinute:   rl.TokensPerMinute,
			RequestsPerMinute: rl.RequestsPerMinute,
			MaxConcurrent:     rl.MaxConcurrent,
		}
	}
	rateLimited := llm.NewRateLimitedClient(client, llm.NewRateLimiter(limitConfigs, nil))

	b := &Bootstrap{
		Config:  cfg,
		Logger:  logger,
		Secrets: secretStore,
		Catalog: catalog,
		LLM:     rateLimited,
	}

	store, err := b.newSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Sessions = session.NewManager(store)

	registry := tool.NewRegistry()
	registry.Register(builtin.NewResizeImage(builtin.NewURLResizer(cfg.Tools.ImageProxy)))
	if apiKey != "" {
		imageBackend := builtin.NewOpenAIImageBackend(apiKey, cfg.Model.BaseURL, cfg.Tools.ImageModel)
		registry.Register(builtin.NewGenerateImage(imageBackend))
	}
	b.Tools = tool.NewExecutor(registry, parseDuration(cfg.Tools.Timeout, 0), logger)

	b.Orchestrator = orchestrator.New(b.Sessions, b.LLM, catalog, b.Tools, logger, orchestrator.Config{
		MaxRounds:     cfg.Orchestra.MaxRounds,
		ReserveOutput: cfg.Orchestra.ReserveTokens,
		Temperature:   cfg.Model.Temperature,
	})
	return b, nil
}

// Close 释放会话存储等外部连接
func (b *Bootstrap) Close(ctx context.Context) error {
	var firstErr error
	for _, closeFn := range b.closers {
		if err := closeFn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resolveAPIKey 按 secrets store > 配置值 > OPENAI_API_KEY 的顺序取 API Key
func resolveAPIKey(ctx context.Context, cfg *config.Config, store secrets.Store) (string, error) {
	if cfg.Model.APIKeySecret != "" {
		key, err := store.Get(ctx, cfg.Model.APIKeySecret)
		if err != nil {
			return "", fmt.Errorf("从 secret store 读取 API Key failed: %w", err)
		}
		return key, nil
	}
	if cfg.Model.APIKey != "" {
		return cfg.Model.APIKey, nil
	}
	return os.Getenv("OPENAI_API_KEY"), nil
}

// newSessionStore 按配置选择会话存储后端
func (b *Bootstrap) newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Store {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		store, err := session.NewRedisStore(ctx, session.RedisConfig{
			Addr:     cfg.Session.Addr,
			Password: cfg.Session.Password,
			DB:       cfg.Session.DB,
			TTL:      parseDuration(cfg.Session.TTL, 0),
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Redis 会话存储 failed: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case "postgres":
		store, err := session.NewPostgresStore(ctx, cfg.Session.DSN)
		if err != nil {
			return nil, fmt.Errorf("初始化 Postgres 会话存储 failed: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("未知的会话存储类型: %s", cfg.Session.Store)
	}
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
