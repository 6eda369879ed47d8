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

// Package orchestrator 实现单轮对话的控制循环：构造 prompt、裁剪预算、
// 流式请求模型、解释工具调用、执行工具并把结果喂回模型，
// 直到轮次 done、出错或被取消。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-platform/internal/model/llm"
	"chat-platform/internal/runtime/session"
	"chat-platform/internal/runtime/stream"
	"chat-platform/internal/runtime/tokens"
	"chat-platform/internal/tool"
	apperrors "chat-platform/pkg/errors"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
	"chat-platform/pkg/tracing"
)

const (
	defaultMaxRounds     = 8
	defaultReserveOutput = 1024
)

// Config 编排器配置
type Config struct {
	MaxRounds     int     // 单轮最大模型往返次数，<=0 用默认
	ReserveOutput int     // 上下文预算中为输出保留的 token 数
	Temperature   float64 // 透传给 provider
}

// TurnRequest 一次用户轮次的入参。Images 是外部已上传的图片 URL。
type TurnRequest struct {
	SessionID string
	Message   string
	Images    []string
}

// Orchestrator 对话编排器。每个在途轮次对应一个调用中的 RunTurn；
// 同会话的并发轮次由 session.Manager 的轮次锁拒绝。
type Orchestrator struct {
	sessions *session.Manager
	client   llm.Client
	catalog  *llm.Catalog
	tools    *tool.Executor
	logger   *log.Logger

	maxRounds     int
	reserveOutput int
	temperature   float64
}

// New 创建编排器
func New(sessions *session.Manager, client llm.Client, catalog *llm.Catalog, tools *tool.Executor, logger *log.Logger, cfg Config) *Orchestrator {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	reserve := cfg.ReserveOutput
	if reserve <= 0 {
		reserve = defaultReserveOutput
	}
	return &Orchestrator{
		sessions:      sessions,
		client:        client,
		catalog:       catalog,
		tools:         tools,
		logger:        logger,
		maxRounds:     maxRounds,
		reserveOutput: reserve,
		temperature:   cfg.Temperature,
	}
}

// RunTurn 执行一个用户轮次，把归一化事件依次交给 sink。
//
// 事件契约：正常完成或出错时恰好产出一个终止事件（done 或 error）；
// 取消时不产出终止事件、不持久化，错误通过返回值上报。
// sink 返回错误（客户端断开）时中止并透传。
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, sink func(stream.Event) error) error {
	sess, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if err := o.sessions.BeginTurn(req.SessionID); err != nil {
		return err
	}
	defer o.sessions.EndTurn(req.SessionID)

	model, err := o.catalog.Lookup(sess.Model)
	if err != nil {
		return o.emitError(sink, err.Error())
	}
	if len(req.Images) > 0 && !model.SupportsImages {
		return o.emitError(sink, fmt.Sprintf("model %s does not accept image input", model.Name))
	}

	ctx, span := tracing.StartTurnSpan(ctx, sess.ID, model.Name)
	defer span.End()

	start := time.Now()
	status, err := o.runTurn(ctx, sess, model, req, sink)
	metrics.TurnDuration.WithLabelValues(model.Name).Observe(time.Since(start).Seconds())
	metrics.TurnTotal.WithLabelValues(status).Inc()
	return err
}

// runTurn 执行实际的轮次循环，返回用于指标的终态
func (o *Orchestrator) runTurn(ctx context.Context, sess *session.Session, model llm.Model, req TurnRequest, sink func(stream.Event) error) (string, error) {
	userMsg := session.NewUserMessage(req.Message, req.Images)
	working := append(sess.CopyMessages(), userMsg)
	turnMsgs := []*session.Message{userMsg}

	var promptTokens, completionTokens int

	for round := 0; round < o.maxRounds; round++ {
		budgeted := tokens.TruncateConversation(working, model.ContextWindow, o.reserveOutput)

		providerReq := llm.Request{
			Model:       model.Name,
			Messages:    toProviderMessages(budgeted),
			Tools:       o.tools.Registry().Specs(),
			Temperature: o.temperature,
			MaxTokens:   model.MaxOutputTokens,
		}

		roundCtx, roundSpan := tracing.StartRoundSpan(ctx, round)
		doneEv, invocations, status, err := o.streamRound(roundCtx, providerReq, sink)
		roundSpan.End()
		if err != nil || status != "" {
			return statusOr(status, "error"), err
		}

		if doneEv.Usage != nil {
			promptTokens += doneEv.Usage.PromptTokens
			completionTokens += doneEv.Usage.CompletionTokens
			metrics.LLMTokensTotal.WithLabelValues("prompt").Add(float64(doneEv.Usage.PromptTokens))
			metrics.LLMTokensTotal.WithLabelValues("completion").Add(float64(doneEv.Usage.CompletionTokens))
		}

		// 没有工具调用：轮次结束，持久化后把 done 发给客户端
		if len(invocations) == 0 {
			assistantMsg := session.NewTextMessage(session.RoleAssistant, doneEv.FinalText)
			turnMsgs = append(turnMsgs, assistantMsg)
			if err := o.sessions.AppendTurn(ctx, sess.ID, turnMsgs, promptTokens, completionTokens); err != nil {
				o.logger.Error("持久化轮次失败", "session", sess.ID, "error", err)
				return "error", o.emitError(sink, "failed to persist turn: "+err.Error())
			}
			if err := o.emit(sink, *doneEv); err != nil {
				return "error", err
			}
			metrics.TurnRounds.WithLabelValues(model.Name).Observe(float64(round + 1))
			return "done", nil
		}

		// 有工具调用：折叠 assistant 消息 + 逐个执行，结果喂回下一轮
		assistantMsg := assistantMessageWithCalls(doneEv.FinalText, invocations)
		working = append(working, assistantMsg)
		turnMsgs = append(turnMsgs, assistantMsg)

		for _, inv := range invocations {
			if ctx.Err() != nil {
				return "cancelled", ctx.Err()
			}
			toolMsg, err := o.executeInvocation(ctx, inv, sink)
			if err != nil {
				return "cancelled", err
			}
			working = append(working, toolMsg)
			turnMsgs = append(turnMsgs, toolMsg)
		}
	}

	// 工具循环不收敛：致命，与 provider 错误区分开
	o.logger.Warn("工具循环超过轮数上限", "session", sess.ID, "max_rounds", o.maxRounds)
	return "error", o.emitError(sink,
		fmt.Sprintf("%s: tool loop did not converge after %d rounds", apperrors.ErrRoundCap.Error(), o.maxRounds))
}

// streamRound 执行一次模型流式往返。
// 返回 done 事件和本往返请求的工具调用；status 非空表示轮次已在
// 这里终结（error 事件已发出或流被取消）。
func (o *Orchestrator) streamRound(ctx context.Context, req llm.Request, sink func(stream.Event) error) (*stream.Event, []*ToolInvocation, string, error) {
	body, err := o.client.CompleteStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, "cancelled", ctx.Err()
		}
		return nil, nil, "error", o.emitError(sink, err.Error())
	}
	defer body.Close()

	var (
		doneEv       *stream.Event
		invocations  []*ToolInvocation
		errorEmitted bool
	)

	tr := stream.NewTransformer()
	runErr := tr.Run(ctx, body, func(ev stream.Event) error {
		switch ev.Type {
		case stream.EventDone:
			// done 由编排器决定何时转发：还有工具要执行时不发
			doneEv = &ev
			return nil
		case stream.EventToolCallStart:
			invocations = append(invocations, newInvocation(ev.ToolCallID, ev.ToolName, ev.Arguments))
			return o.emit(sink, ev)
		case stream.EventError:
			errorEmitted = true
			return o.emit(sink, ev)
		default:
			return o.emit(sink, ev)
		}
	})

	switch {
	case ctx.Err() != nil:
		// 取消：不产出终止事件，不持久化
		return nil, nil, "cancelled", ctx.Err()
	case runErr != nil:
		// sink 失败（客户端断开）或底层传输错误
		if errors.Is(runErr, context.Canceled) {
			return nil, nil, "cancelled", runErr
		}
		return nil, nil, "error", o.emitError(sink, "provider stream failed: "+runErr.Error())
	case errorEmitted:
		return nil, nil, "error", nil
	case doneEv == nil:
		// EOF 且无任何内容
		return nil, nil, "error", o.emitError(sink, "provider stream ended without completion")
	default:
		return doneEv, invocations, "", nil
	}
}

// executeInvocation 执行单个工具调用并发出 tool_call_complete 事件
func (o *Orchestrator) executeInvocation(ctx context.Context, inv *ToolInvocation, sink func(stream.Event) error) (*session.Message, error) {
	if err := inv.beginExecution(); err != nil {
		return nil, err
	}

	toolCtx, span := tracing.StartToolSpan(ctx, inv.ToolName, inv.ID)
	result := o.tools.Execute(toolCtx, inv.ToolName, inv.Arguments)
	span.End()

	if err := inv.complete(result); err != nil {
		return nil, err
	}
	o.logger.Debug("工具调用完成", "tool", inv.ToolName, "call_id", inv.ID, "success", result.Success)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ev := stream.Event{
		Type:       stream.EventToolCallComplete,
		ToolCallID: inv.ID,
		ToolName:   inv.ToolName,
		Result: &stream.ToolCallResult{
			Success: result.Success,
			Data:    result.Data,
			Error:   result.Error,
			Cost:    result.Cost,
		},
	}
	if err := o.emit(sink, ev); err != nil {
		return nil, err
	}

	return session.NewToolResultMessage(inv.ID, inv.ToolName, inv.resultPayload()), nil
}

func (o *Orchestrator) emit(sink func(stream.Event) error, ev stream.Event) error {
	metrics.StreamEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	return sink(ev)
}

// emitError 发出终止 error 事件。发不出去（客户端已断开）时返回
// sink 的错误，否则返回 nil。
func (o *Orchestrator) emitError(sink func(stream.Event) error, message string) error {
	return o.emit(sink, stream.Event{Type: stream.EventError, Message: message})
}

func statusOr(status, fallback string) string {
	if status != "" {
		return status
	}
	return fallback
}

// assistantMessageWithCalls 构造携带工具调用引用的 assistant 消息
func assistantMessageWithCalls(text string, invocations []*ToolInvocation) *session.Message {
	msg := session.NewTextMessage(session.RoleAssistant, text)
	for _, inv := range invocations {
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCallRef{
			ID:        inv.ID,
			Name:      inv.ToolName,
			Arguments: inv.RawArguments,
		})
	}
	return msg
}

// toProviderMessages 把会话历史转换为 provider 的 wire 格式
func toProviderMessages(msgs []*session.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case session.RoleToolResult:
			out = append(out, llm.ChatMessage{
				Role:       "tool",
				Content:    m.Text(),
				ToolCallID: m.ToolCallID,
			})
		case session.RoleAssistant:
			cm := llm.ChatMessage{Role: "assistant", Content: m.Text()}
			for _, ref := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, llm.ToolCall{
					ID:   ref.ID,
					Type: "function",
					Function: llm.FunctionCall{
						Name:      ref.Name,
						Arguments: ref.Arguments,
					},
				})
			}
			out = append(out, cm)
		default:
			if m.ImageCount() == 0 {
				out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Text()})
				continue
			}
			parts := make([]llm.ContentPart, 0, len(m.Parts))
			for _, p := range m.Parts {
				switch p.Type {
				case "text":
					parts = append(parts, llm.ContentPart{Type: "text", Text: p.Text})
				case "image_url":
					parts = append(parts, llm.ContentPart{
						Type:     "image_url",
						ImageURL: &llm.ImageURL{URL: p.ImageURL, Detail: p.Detail},
					})
				}
			}
			out = append(out, llm.ChatMessage{Role: m.Role, Content: parts})
		}
	}
	return out
}
