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

package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"
)

// IdentityKey JWT 中用户标识的 claim 名；handler 层据此做会话归属检查
const IdentityKey = "user_id"

type loginRequest struct {
	UserID string `json:"user_id"`
	Secret string `json:"secret"`
}

// CredentialChecker 校验登录凭据；返回 nil 表示通过
type CredentialChecker func(userID, secret string) error

// NewJWTAuth 创建 JWT 认证中间件。
// check 为 nil 时仅要求 user_id 非空（开发环境）。
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration, check CredentialChecker) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "chat-platform",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if userID, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: userID}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			return claims[IdentityKey]
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var req loginRequest
			if err := c.BindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			if req.UserID == "" {
				return nil, jwt.ErrFailedAuthentication
			}
			if check != nil {
				if err := check(req.UserID, req.Secret); err != nil {
					return nil, errors.Join(jwt.ErrFailedAuthentication, err)
				}
			}
			return req.UserID, nil
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{"error": message})
		},
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}

// UserID 从请求上下文取出认证后的用户标识；未启用认证时返回空串
func UserID(c *app.RequestContext) string {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
