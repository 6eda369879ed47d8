// Copyright 2026 chat-platform authors

package tracing

import (
	"context"
	"testing"
)

func TestInitTracer(t *testing.T) {
	tp, err := InitTracer(OTelConfig{
		ServiceName:    "chat-test",
		ExportEndpoint: "localhost:4318",
		Insecure:       true,
	})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	// 不连接 collector：用已取消的 ctx 关闭，丢弃未导出的 span
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	defer tp.Shutdown(cancelled)

	ctx, turnSpan := StartTurnSpan(context.Background(), "session-1", "gpt-4o")
	defer turnSpan.End()
	if !turnSpan.SpanContext().IsValid() {
		t.Fatal("turn span context must be valid")
	}

	roundCtx, roundSpan := StartRoundSpan(ctx, 0)
	defer roundSpan.End()
	if roundSpan.SpanContext().TraceID() != turnSpan.SpanContext().TraceID() {
		t.Error("round span must share the turn trace")
	}

	_, toolSpan := StartToolSpan(roundCtx, "resize_image", "call_1")
	defer toolSpan.End()
	if toolSpan.SpanContext().TraceID() != turnSpan.SpanContext().TraceID() {
		t.Error("tool span must share the turn trace")
	}
}
