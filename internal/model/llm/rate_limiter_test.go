package llm

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterConcurrencyCap(t *testing.T) {
	limiter := NewRateLimiter(map[string]LimitConfig{
		"openai": {MaxConcurrent: 1},
	}, nil)

	ctx := context.Background()
	if err := limiter.Wait(ctx, "openai", 0); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	// 第二个请求应阻塞直到 Release
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(blocked, "openai", 0); err == nil {
		t.Fatal("expected second wait to block while slot is held")
	}

	limiter.Release("openai")
	ok, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	if err := limiter.Wait(ok, "openai", 0); err != nil {
		t.Fatalf("wait after release failed: %v", err)
	}
}

func TestRateLimiterDefaultsForUnknownProvider(t *testing.T) {
	limiter := NewRateLimiter(nil, &LimitConfig{MaxConcurrent: 2})

	if err := limiter.Wait(context.Background(), "anything", 100); err != nil {
		t.Fatalf("wait with default config failed: %v", err)
	}
	limiter.Release("anything")

	stats := limiter.GetStats("anything")
	if stats == nil {
		t.Fatal("expected stats for lazily created limiter")
	}
	if stats["max_concurrent"] != 2 {
		t.Errorf("max_concurrent = %v, want 2", stats["max_concurrent"])
	}
}

func TestRateLimiterTokenBudgetClampedToBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]LimitConfig{
		"openai": {TokensPerMinute: 60}, // burst = 2 tokens
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// 请求量远超 burst 也不应直接报错，而是等待可用配额
	if err := limiter.Wait(ctx, "openai", 1000); err != nil {
		t.Fatalf("oversized token request should be clamped, got %v", err)
	}
}

func TestRateLimiterRecordTokenUsage(t *testing.T) {
	limiter := NewRateLimiter(map[string]LimitConfig{
		"openai": {MaxConcurrent: 4},
	}, nil)

	limiter.RecordTokenUsage("openai", 123)
	stats := limiter.GetStats("openai")
	if stats["tokens_used_minute"] != 123 {
		t.Errorf("tokens_used_minute = %v, want 123", stats["tokens_used_minute"])
	}
}
