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

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Model      ModelConfig      `mapstructure:"model"`
	Session    SessionConfig    `mapstructure:"session"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Orchestra  OrchestraConfig  `mapstructure:"orchestrator"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// ModelConfig 模型提供商配置（OpenAI 兼容端点）
type ModelConfig struct {
	Provider     string               `mapstructure:"provider"`       // openai | openrouter | qwen 等兼容端点
	BaseURL      string               `mapstructure:"base_url"`       // 空则用默认或 OPENAI_BASE_URL
	APIKey       string               `mapstructure:"api_key"`        // 支持 ${ENV_VAR} 形式
	APIKeySecret string               `mapstructure:"api_key_secret"` // secrets store 中的 key，优先于 api_key
	Default      string               `mapstructure:"default"`        // 默认模型名
	Models       map[string]ModelInfo `mapstructure:"models"`         // 按模型名覆盖目录元数据
	Temperature  float64              `mapstructure:"temperature"`
	Timeout      string               `mapstructure:"timeout"` // 非流式请求超时，如 "30s"
}

// ModelInfo 模型目录条目（上下文窗口与能力开关）
type ModelInfo struct {
	ContextWindow   int  `mapstructure:"context_window"`
	MaxOutputTokens int  `mapstructure:"max_output_tokens"`
	Streaming       bool `mapstructure:"streaming"`
	Images          bool `mapstructure:"images"`
}

// SessionConfig 会话存储配置
type SessionConfig struct {
	Store    string `mapstructure:"store"` // memory | redis | postgres
	Addr     string `mapstructure:"addr"`  // Redis 地址
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	DSN      string `mapstructure:"dsn"` // Postgres 连接串，store=postgres 时必填
	TTL      string `mapstructure:"ttl"` // Redis 会话过期时间，如 "720h"，空则不过期
}

// ToolsConfig 工具执行配置
type ToolsConfig struct {
	Timeout    string `mapstructure:"timeout"`     // 单次工具调用超时，如 "30s"
	ImageProxy string `mapstructure:"image_proxy"` // resize_image 的代理 URL 模板，空则用默认代理
	ImageModel string `mapstructure:"image_model"` // generate_image 的模型名，空则 dall-e-3
}

// OrchestraConfig 编排器配置
type OrchestraConfig struct {
	MaxRounds     int `mapstructure:"max_rounds"`     // 工具循环最大模型往返次数，<=0 默认 8
	ReserveTokens int `mapstructure:"reserve_tokens"` // 上下文预算中为输出保留的 token 数，<=0 默认 1024
}

// SecretsConfig Secret Store 配置
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // vault | env | memory
	Config   map[string]string `mapstructure:"config"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// RateLimitsConfig 限流配置（LLM Provider 维度）
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// LoadConfigFromPaths 在常见路径查找 config.yaml（CHAT_CONFIG 环境变量优先）
func LoadConfigFromPaths() (*Config, error) {
	if p := os.Getenv("CHAT_CONFIG"); p != "" {
		return LoadConfig(p)
	}
	for _, p := range []string{"config.yaml", "configs/config.yaml", "/etc/chat-platform/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return LoadConfig(p)
		}
	}
	// 无配置文件时返回默认值（api_key 仍可经 secrets/env 注入）
	cfg := &Config{}
	cfg.API.Port = 8080
	cfg.Session.Store = "memory"
	replaceEnvVars(cfg)
	return cfg, nil
}

// replaceEnvVars 替换配置中 ${ENV_VAR} 形式的值
func replaceEnvVars(config *Config) {
	config.Model.APIKey = expandEnv(config.Model.APIKey)
	config.Model.BaseURL = expandEnv(config.Model.BaseURL)
	config.Session.DSN = expandEnv(config.Session.DSN)
	config.Session.Password = expandEnv(config.Session.Password)
	config.API.Middleware.JWTKey = expandEnv(config.API.Middleware.JWTKey)
}

func expandEnv(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		if v := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")); v != "" {
			return v
		}
	}
	return val
}
