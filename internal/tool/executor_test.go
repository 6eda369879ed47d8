package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"chat-platform/pkg/log"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) (Result, error)
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "fake" }
func (f *fakeTool) Schema() map[string]any  { return map[string]any{"type": "object"} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return f.execute(ctx, args)
}

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return logger
}

func newExecutor(t *testing.T, timeout time.Duration, tools ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	for _, tl := range tools {
		reg.Register(tl)
	}
	return NewExecutor(reg, timeout, testLogger(t))
}

func TestExecuteSuccess(t *testing.T) {
	exec := newExecutor(t, time.Second, &fakeTool{
		name: "echo",
		execute: func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{Success: true, Data: args["msg"], Cost: 1}, nil
		},
	})

	result := exec.Execute(context.Background(), "echo", map[string]any{"msg": "hi"})
	if !result.Success || result.Data != "hi" || result.Cost != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := newExecutor(t, time.Second)

	result := exec.Execute(context.Background(), "nope", nil)
	if result.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(result.Error, "not registered") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecuteTimeout(t *testing.T) {
	exec := newExecutor(t, 20*time.Millisecond, &fakeTool{
		name: "slow",
		execute: func(ctx context.Context, args map[string]any) (Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return Result{Success: true}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		},
	})

	start := time.Now()
	result := exec.Execute(context.Background(), "slow", nil)
	if time.Since(start) > time.Second {
		t.Fatal("executor must not wait for the slow tool")
	}
	if result.Success {
		t.Fatal("timed-out tool must fail")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("error = %q, want timeout message", result.Error)
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	exec := newExecutor(t, time.Second, &fakeTool{
		name: "boom",
		execute: func(ctx context.Context, args map[string]any) (Result, error) {
			panic("kaboom")
		},
	})

	result := exec.Execute(context.Background(), "boom", nil)
	if result.Success {
		t.Fatal("panicking tool must fail")
	}
	if !strings.Contains(result.Error, "panicked") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecuteBusinessFailurePassedThrough(t *testing.T) {
	exec := newExecutor(t, time.Second, &fakeTool{
		name: "validator",
		execute: func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{Success: false, Error: "width out of range"}, nil
		},
	})

	result := exec.Execute(context.Background(), "validator", map[string]any{"width": -1})
	if result.Success || result.Error != "width out of range" {
		t.Errorf("result = %+v", result)
	}
}

func TestRegistrySpecs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "a", execute: nil})
	reg.Register(&fakeTool{name: "b", execute: nil})

	specs := reg.Specs()
	if len(specs) != 2 {
		t.Fatalf("specs len = %d, want 2", len(specs))
	}
	for _, s := range specs {
		if s.Type != "function" || s.Function.Name == "" {
			t.Errorf("spec = %+v", s)
		}
	}
}
