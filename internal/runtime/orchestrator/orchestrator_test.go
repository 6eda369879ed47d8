package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-platform/internal/model/llm"
	"chat-platform/internal/runtime/session"
	"chat-platform/internal/runtime/stream"
	"chat-platform/internal/tool"
	apperrors "chat-platform/pkg/errors"
	"chat-platform/pkg/log"
)

// fakeClient 按轮次回放预置的 SSE 字节流
type fakeClient struct {
	mu       sync.Mutex
	rounds   []string
	requests []llm.Request
	blockCtx bool // 回放完预置轮次后阻塞到 ctx 取消
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) CompleteStream(ctx context.Context, req llm.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx < len(f.rounds) {
		return io.NopCloser(bytes.NewReader([]byte(f.rounds[idx]))), nil
	}
	if f.blockCtx {
		return &blockingBody{ctx: ctx}, nil
	}
	return nil, errors.New("no more scripted rounds")
}

// blockingBody 一直阻塞直到 ctx 取消
type blockingBody struct{ ctx context.Context }

func (b *blockingBody) Read(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}
func (b *blockingBody) Close() error { return nil }

func sseFrame(payload string) string { return "data: " + payload + "\n\n" }

func sseContent(text string) string {
	return sseFrame(fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text))
}

func sseFinish(reason string) string {
	return sseFrame(fmt.Sprintf(`{"choices":[{"delta":{},"finish_reason":%q}]}`, reason))
}

func sseToolCall(id, name, args string) string {
	return sseFrame(fmt.Sprintf(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":%q,"function":{"name":%q,"arguments":%q}}]}}]}`,
		id, name, args))
}

const sseDone = "data: [DONE]\n\n"

type harness struct {
	orch     *Orchestrator
	sessions *session.Manager
	client   *fakeClient
	sess     *session.Session
}

type countingTool struct {
	name  string
	calls int
	mu    sync.Mutex
	run   func(ctx context.Context, args map[string]any) (tool.Result, error)
}

func (c *countingTool) Name() string           { return c.name }
func (c *countingTool) Description() string    { return "test tool" }
func (c *countingTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (c *countingTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.run(ctx, args)
}

func newHarness(t *testing.T, rounds []string, cfg Config, toolTimeout time.Duration, tools ...tool.Tool) *harness {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	catalog := llm.NewCatalog()
	catalog.Register(llm.Model{
		Name: "test-model", ContextWindow: 8192, MaxOutputTokens: 256,
		SupportsStreaming: true, SupportsImages: true,
	})

	reg := tool.NewRegistry()
	for _, tl := range tools {
		reg.Register(tl)
	}

	sessions := session.NewManager(session.NewMemoryStore())
	sess, err := sessions.Create(context.Background(), "test-model", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	client := &fakeClient{rounds: rounds}
	orch := New(sessions, client, catalog, tool.NewExecutor(reg, toolTimeout, logger), logger, cfg)
	return &harness{orch: orch, sessions: sessions, client: client, sess: sess}
}

func collectEvents(t *testing.T, h *harness, req TurnRequest) ([]stream.Event, error) {
	t.Helper()
	var events []stream.Event
	err := h.orch.RunTurn(context.Background(), req, func(ev stream.Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func TestPlainTextTurn(t *testing.T) {
	rounds := []string{
		sseContent("Hello") + sseContent(" there") +
			sseFrame(`{"choices":[],"model":"test-model","usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`) +
			sseFinish("stop") + sseDone,
	}
	h := newHarness(t, rounds, Config{}, time.Second)

	events, err := collectEvents(t, h, TurnRequest{SessionID: h.sess.ID, Message: "hi"})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("events = %d, want 2 chunks + done", len(events))
	}
	done := events[2]
	if done.Type != stream.EventDone || done.FinalText != "Hello there" {
		t.Errorf("done = %+v", done)
	}
	if done.Usage == nil || done.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", done.Usage)
	}

	got, _ := h.sessions.Get(context.Background(), h.sess.ID)
	if got.Len() != 2 {
		t.Fatalf("history len = %d, want user + assistant", got.Len())
	}
	if got.Messages[1].Role != session.RoleAssistant || got.Messages[1].Text() != "Hello there" {
		t.Errorf("assistant message = %+v", got.Messages[1])
	}
	if got.Usage.TotalTokens != 16 {
		t.Errorf("session usage = %+v", got.Usage)
	}
}

func TestToolCallLifecycle(t *testing.T) {
	rounds := []string{
		sseToolCall("call_1", "resize_image", `{"width":800,"url":"https://img/a.png"}`) +
			sseFinish("tool_calls") + sseDone,
		sseContent("Resized!") + sseFinish("stop") + sseDone,
	}
	resize := &countingTool{
		name: "resize_image",
		run: func(ctx context.Context, args map[string]any) (tool.Result, error) {
			if args["width"] != float64(800) {
				return tool.Result{Success: false, Error: "bad args"}, nil
			}
			return tool.Result{Success: true, Data: map[string]any{"url": "https://img/a_800.png"}, Cost: 1}, nil
		},
	}
	h := newHarness(t, rounds, Config{}, time.Second, resize)

	events, err := collectEvents(t, h, TurnRequest{SessionID: h.sess.ID, Message: "resize it"})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	types := make([]stream.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	want := []stream.EventType{
		stream.EventToolCallStart, stream.EventToolCallComplete,
		stream.EventContentChunk, stream.EventDone,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	start, complete := events[0], events[1]
	if start.ToolCallID != "call_1" || start.ToolName != "resize_image" {
		t.Errorf("tool_call_start = %+v", start)
	}
	if complete.ToolCallID != "call_1" || complete.Result == nil || !complete.Result.Success {
		t.Errorf("tool_call_complete = %+v", complete)
	}
	if complete.Result.Cost != 1 {
		t.Errorf("cost = %v, want 1", complete.Result.Cost)
	}

	// 持久化顺序：user, assistant(带调用), tool-result, assistant
	got, _ := h.sessions.Get(context.Background(), h.sess.ID)
	roles := []string{session.RoleUser, session.RoleAssistant, session.RoleToolResult, session.RoleAssistant}
	if got.Len() != len(roles) {
		t.Fatalf("history len = %d, want %d", got.Len(), len(roles))
	}
	for i, want := range roles {
		if got.Messages[i].Role != want {
			t.Errorf("message %d role = %s, want %s", i, got.Messages[i].Role, want)
		}
	}
	if got.Messages[2].ToolCallID != "call_1" || got.Messages[2].ToolName != "resize_image" {
		t.Errorf("tool-result message = %+v", got.Messages[2])
	}

	// 第二轮请求必须带上 tool 结果消息
	secondReq := h.client.requests[1]
	foundTool := false
	for _, m := range secondReq.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Error("second round request must include the tool result message")
	}
}

func TestCancellationEmitsNoTerminalAndPersistsNothing(t *testing.T) {
	rounds := []string{} // 直接走 blockingBody
	h := newHarness(t, rounds, Config{}, time.Second)
	h.client.blockCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	var events []stream.Event
	var mu sync.Mutex

	done := make(chan error, 1)
	go func() {
		done <- h.orch.RunTurn(ctx, TurnRequest{SessionID: h.sess.ID, Message: "hi"}, func(ev stream.Event) error {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunTurn = %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range events {
		if ev.IsTerminal() {
			t.Errorf("cancelled turn must not emit terminal events, got %+v", ev)
		}
	}

	got, _ := h.sessions.Get(context.Background(), h.sess.ID)
	if got.Len() != 0 {
		t.Errorf("history must be unchanged after cancellation, len = %d", got.Len())
	}

	// 取消后锁必须释放，新轮次可以开始
	if err := h.sessions.BeginTurn(h.sess.ID); err != nil {
		t.Errorf("turn lock not released after cancellation: %v", err)
	}
}

func TestToolTimeoutContinuesLoop(t *testing.T) {
	rounds := []string{
		sseToolCall("call_1", "slow_tool", `{}`) + sseFinish("tool_calls") + sseDone,
		sseContent("The tool failed, sorry.") + sseFinish("stop") + sseDone,
	}
	slow := &countingTool{
		name: "slow_tool",
		run: func(ctx context.Context, args map[string]any) (tool.Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return tool.Result{Success: true}, nil
			case <-ctx.Done():
				return tool.Result{}, ctx.Err()
			}
		},
	}
	h := newHarness(t, rounds, Config{}, 20*time.Millisecond, slow)

	events, err := collectEvents(t, h, TurnRequest{SessionID: h.sess.ID, Message: "go"})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	var complete *stream.Event
	for i := range events {
		if events[i].Type == stream.EventToolCallComplete {
			complete = &events[i]
		}
	}
	if complete == nil {
		t.Fatal("missing tool_call_complete event")
	}
	if complete.Result.Success || !strings.Contains(complete.Result.Error, "timed out") {
		t.Errorf("timeout result = %+v", complete.Result)
	}

	last := events[len(events)-1]
	if last.Type != stream.EventDone {
		t.Fatalf("turn must finish with done after a tool timeout, got %s", last.Type)
	}
	if last.FinalText != "The tool failed, sorry." {
		t.Errorf("final text = %q", last.FinalText)
	}
}

func TestRoundCapIsFatal(t *testing.T) {
	loop := sseToolCall("call_x", "echo", `{}`) + sseFinish("tool_calls") + sseDone
	echo := &countingTool{
		name: "echo",
		run: func(ctx context.Context, args map[string]any) (tool.Result, error) {
			return tool.Result{Success: true, Data: "again"}, nil
		},
	}
	h := newHarness(t, []string{loop, loop, loop}, Config{MaxRounds: 3}, time.Second, echo)

	events, err := collectEvents(t, h, TurnRequest{SessionID: h.sess.ID, Message: "loop"})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	last := events[len(events)-1]
	if last.Type != stream.EventError {
		t.Fatalf("round cap must surface as error, got %s", last.Type)
	}
	if !strings.Contains(last.Message, "rounds") {
		t.Errorf("error message = %q, want round cap mention", last.Message)
	}
	if echo.calls != 3 {
		t.Errorf("tool calls = %d, want 3", echo.calls)
	}

	got, _ := h.sessions.Get(context.Background(), h.sess.ID)
	if got.Len() != 0 {
		t.Errorf("failed turn must not be persisted, len = %d", got.Len())
	}
}

func TestSecondTurnRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t, nil, Config{}, time.Second)

	if err := h.sessions.BeginTurn(h.sess.ID); err != nil {
		t.Fatalf("begin turn: %v", err)
	}
	err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: h.sess.ID, Message: "hi"}, func(stream.Event) error {
		t.Fatal("no events expected for a rejected turn")
		return nil
	})
	if !errors.Is(err, apperrors.ErrTurnInFlight) {
		t.Fatalf("err = %v, want ErrTurnInFlight", err)
	}
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t, nil, Config{}, time.Second)

	err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "missing", Message: "hi"}, func(stream.Event) error {
		return nil
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProviderErrorBecomesErrorEvent(t *testing.T) {
	rounds := []string{
		sseFrame(`{"error":{"type":"server_error","message":"upstream exploded"}}`),
	}
	h := newHarness(t, rounds, Config{}, time.Second)

	events, err := collectEvents(t, h, TurnRequest{SessionID: h.sess.ID, Message: "hi"})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != stream.EventError {
		t.Fatalf("events = %+v, want single error", events)
	}

	got, _ := h.sessions.Get(context.Background(), h.sess.ID)
	if got.Len() != 0 {
		t.Error("errored turn must not be persisted")
	}
}

func TestInvocationStateMachine(t *testing.T) {
	inv := newInvocation("call_1", "resize_image", `{"width":800}`)
	if inv.Status() != StatusRequested {
		t.Fatalf("initial status = %s", inv.Status())
	}
	if inv.Arguments["width"] != float64(800) {
		t.Errorf("arguments = %+v", inv.Arguments)
	}

	// 不能跳过 executing
	if err := inv.complete(tool.Result{Success: true}); err == nil {
		t.Error("complete before execute must fail")
	}

	if err := inv.beginExecution(); err != nil {
		t.Fatalf("beginExecution: %v", err)
	}
	if err := inv.beginExecution(); err == nil {
		t.Error("double beginExecution must fail")
	}

	if err := inv.complete(tool.Result{Success: false, Error: "nope"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if inv.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", inv.Status())
	}

	// 终态不再变化
	if err := inv.complete(tool.Result{Success: true}); err == nil {
		t.Error("completing a terminal invocation must fail")
	}
	if err := inv.beginExecution(); err == nil {
		t.Error("re-executing a terminal invocation must fail")
	}
}
