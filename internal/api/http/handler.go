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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/network"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/http1/resp"

	"chat-platform/internal/api/http/middleware"
	"chat-platform/internal/model/llm"
	"chat-platform/internal/runtime/orchestrator"
	"chat-platform/internal/runtime/session"
	"chat-platform/internal/runtime/stream"
	apperrors "chat-platform/pkg/errors"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
)

// Handler HTTP 处理器
type Handler struct {
	sessions     *session.Manager
	orch         *orchestrator.Orchestrator
	catalog      *llm.Catalog
	logger       *log.Logger
	defaultModel string
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(sessions *session.Manager, orch *orchestrator.Orchestrator, catalog *llm.Catalog, logger *log.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		orch:     orch,
		catalog:  catalog,
		logger:   logger,
	}
}

// SetDefaultModel 设置创建会话时未指定 model 的默认模型
func (h *Handler) SetDefaultModel(name string) {
	h.defaultModel = name
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "chat-platform",
	})
}

// ListModels 列出可用模型及其能力
// GET /api/chat/models
func (h *Handler) ListModels(c context.Context, ctx *app.RequestContext) {
	names := h.catalog.Names()
	models := make([]llm.Model, 0, len(names))
	for _, name := range names {
		if m, err := h.catalog.Lookup(name); err == nil {
			models = append(models, m)
		}
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"models": models,
		"total":  len(models),
	})
}

// CreateSession 创建会话
// POST /api/chat/sessions
func (h *Handler) CreateSession(c context.Context, ctx *app.RequestContext) {
	var req struct {
		Model        string `json:"model"`
		SystemPrompt string `json:"system_prompt"`
	}
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}
	if req.Model == "" {
		req.Model = h.defaultModel
	}
	if req.Model == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "model is required",
		})
		return
	}
	if _, err := h.catalog.Lookup(req.Model); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	sess, err := h.sessions.Create(c, req.Model, middleware.UserID(ctx))
	if err != nil {
		hlog.CtxErrorf(c, "create session failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "create session failed",
		})
		return
	}
	if req.SystemPrompt != "" {
		msg := session.NewTextMessage(session.RoleSystem, req.SystemPrompt)
		if err := h.sessions.AppendTurn(c, sess.ID, []*session.Message{msg}, 0, 0); err != nil {
			hlog.CtxErrorf(c, "persist system prompt failed: %v", err)
			ctx.JSON(consts.StatusInternalServerError, map[string]string{
				"error": "create session failed",
			})
			return
		}
	}

	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"model":      sess.Model,
		"created_at": sess.CreatedAt,
	})
}

// GetSession 获取会话及其完整历史
// GET /api/chat/sessions/:id
func (h *Handler) GetSession(c context.Context, ctx *app.RequestContext) {
	sess, ok := h.loadOwnedSession(c, ctx)
	if !ok {
		return
	}
	ctx.JSON(consts.StatusOK, sess)
}

// DeleteSession 删除会话
// DELETE /api/chat/sessions/:id
func (h *Handler) DeleteSession(c context.Context, ctx *app.RequestContext) {
	sess, ok := h.loadOwnedSession(c, ctx)
	if !ok {
		return
	}
	if err := h.sessions.Delete(c, sess.ID); err != nil {
		hlog.CtxErrorf(c, "delete session %s failed: %v", sess.ID, err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "delete session failed",
		})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"status": "success"})
}

// ChatTurn 执行一轮对话，以 SSE 推送归一化事件流
// POST /api/chat/sessions/:id/turns
func (h *Handler) ChatTurn(c context.Context, ctx *app.RequestContext) {
	var req struct {
		Message string   `json:"message"`
		Images  []string `json:"images"`
	}
	if err := ctx.BindJSON(&req); err != nil || req.Message == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "message is required",
		})
		return
	}
	sess, ok := h.loadOwnedSession(c, ctx)
	if !ok {
		return
	}

	// 首个事件到达时才切换为 SSE，之前的失败还能用 JSON 状态码表达
	started := false
	var writer network.ExtWriter
	sink := func(ev stream.Event) error {
		if !started {
			ctx.SetStatusCode(consts.StatusOK)
			ctx.Response.Header.Set("Content-Type", "text/event-stream; charset=utf-8")
			ctx.Response.Header.Set("Cache-Control", "no-cache")
			writer = resp.NewChunkedBodyWriter(&ctx.Response, ctx.GetWriter())
			ctx.Response.HijackWriter(writer)
			started = true
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		frame := make([]byte, 0, len(payload)+8)
		frame = append(frame, "data: "...)
		frame = append(frame, payload...)
		frame = append(frame, '\n', '\n')
		if _, err := writer.Write(frame); err != nil {
			return err
		}
		return writer.Flush()
	}

	err := h.orch.RunTurn(c, orchestrator.TurnRequest{
		SessionID: sess.ID,
		Message:   req.Message,
		Images:    req.Images,
	}, sink)
	if err == nil {
		return
	}
	if !started {
		switch {
		case errors.Is(err, apperrors.ErrTurnInFlight):
			ctx.JSON(consts.StatusConflict, map[string]string{
				"error": "a turn is already running for this session",
			})
		case errors.Is(err, apperrors.ErrNotFound):
			ctx.JSON(consts.StatusNotFound, map[string]string{
				"error": "session not found",
			})
		case errors.Is(err, context.Canceled):
			// 客户端已断开，应答写不出去了
		default:
			hlog.CtxErrorf(c, "turn failed before streaming: %v", err)
			ctx.JSON(consts.StatusInternalServerError, map[string]string{
				"error": "turn failed",
			})
		}
		return
	}
	// 流已经开始：取消或写失败时不再补终止帧，由客户端按连接中断处理
	hlog.CtxWarnf(c, "turn stream aborted for session %s: %v", sess.ID, err)
}

// Metrics Prometheus 指标导出
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "gather metrics failed",
		})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// loadOwnedSession 解析 :id 并做归属检查；失败时已写应答，返回 ok=false
func (h *Handler) loadOwnedSession(c context.Context, ctx *app.RequestContext) (*session.Session, bool) {
	id := ctx.Param("id")
	if id == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "session id is required",
		})
		return nil, false
	}
	sess, err := h.sessions.Get(c, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{
				"error": "session not found",
			})
		} else {
			hlog.CtxErrorf(c, "load session %s failed: %v", id, err)
			ctx.JSON(consts.StatusInternalServerError, map[string]string{
				"error": "load session failed",
			})
		}
		return nil, false
	}
	if user := middleware.UserID(ctx); user != "" && sess.Owner != "" && sess.Owner != user {
		ctx.JSON(consts.StatusForbidden, map[string]string{
			"error": "session belongs to another user",
		})
		return nil, false
	}
	return sess, true
}
