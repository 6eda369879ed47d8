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
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"chat-platform/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwtAuth    *jwt.HertzJWTMiddleware
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler:    handler,
		middleware: mw,
	}
}

// SetJWT 启用 JWT 认证；需在 Build 之前调用
func (r *Router) SetJWT(auth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = auth
}

// Build 创建 Hertz Server 并挂载路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	serverOpts := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(serverOpts...)

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.Use(r.middleware.CORS())
	api.GET("/health", r.handler.HealthCheck)

	if r.jwtAuth != nil {
		auth := api.Group("/auth")
		auth.POST("/login", r.jwtAuth.LoginHandler)
		auth.POST("/refresh", r.jwtAuth.RefreshHandler)
	}

	chat := api.Group("/chat")
	if r.jwtAuth != nil {
		chat.Use(r.jwtAuth.MiddlewareFunc())
	}
	chat.GET("/models", r.handler.ListModels)
	chat.POST("/sessions", r.handler.CreateSession)
	chat.GET("/sessions/:id", r.handler.GetSession)
	chat.DELETE("/sessions/:id", r.handler.DeleteSession)
	chat.POST("/sessions/:id/turns", r.handler.ChatTurn)

	return h
}
