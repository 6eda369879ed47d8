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

// Package builtin 提供产品内置工具。真正的执行后端（图片处理、额度扣减）
// 是外部协作方，这里只做参数校验和任务转发。
package builtin

import (
	"context"
	"fmt"

	"chat-platform/internal/tool"
)

// ResizeBackend 图片缩放后端：给定源图 URL 与目标尺寸，返回新图 URL
type ResizeBackend interface {
	Resize(ctx context.Context, url string, width, height int) (string, error)
}

// ResizeImage 图片缩放工具
type ResizeImage struct {
	backend ResizeBackend
}

// NewResizeImage 创建图片缩放工具
func NewResizeImage(backend ResizeBackend) *ResizeImage {
	return &ResizeImage{backend: backend}
}

func (t *ResizeImage) Name() string { return "resize_image" }

func (t *ResizeImage) Description() string {
	return "Resize an uploaded image to the given dimensions. Provide width and/or height in pixels."
}

func (t *ResizeImage) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "source image URL"},
			"width":  map[string]any{"type": "integer", "minimum": 1},
			"height": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"url"},
	}
}

// Execute 实现 tool.Tool。参数来自模型，必须逐个校验。
func (t *ResizeImage) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return tool.Result{Success: false, Error: "missing required argument: url"}, nil
	}
	width := intArg(args, "width")
	height := intArg(args, "height")
	if width <= 0 && height <= 0 {
		return tool.Result{Success: false, Error: "at least one of width/height must be a positive integer"}, nil
	}

	resized, err := t.backend.Resize(ctx, url, width, height)
	if err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("resize failed: %v", err)}, nil
	}

	return tool.Result{
		Success: true,
		Data:    map[string]any{"url": resized, "width": width, "height": height},
		Cost:    1,
	}, nil
}

// intArg 读取数值参数；JSON 解码后的数字是 float64
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
