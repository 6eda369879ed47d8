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

package builtin

import (
	"context"
	"fmt"

	"chat-platform/internal/tool"
)

const generateImageCost = 4

// GenerateBackend 文生图后端：给定 prompt 返回生成图 URL
type GenerateBackend interface {
	Generate(ctx context.Context, prompt string, size string) (string, error)
}

// GenerateImage 文生图工具
type GenerateImage struct {
	backend GenerateBackend
}

// NewGenerateImage 创建文生图工具
func NewGenerateImage(backend GenerateBackend) *GenerateImage {
	return &GenerateImage{backend: backend}
}

func (t *GenerateImage) Name() string { return "generate_image" }

func (t *GenerateImage) Description() string {
	return "Generate an image from a text prompt. Returns the URL of the generated image."
}

func (t *GenerateImage) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string", "description": "what to generate"},
			"size":   map[string]any{"type": "string", "enum": []string{"1024x1024", "1792x1024", "1024x1792"}},
		},
		"required": []string{"prompt"},
	}
}

// Execute 实现 tool.Tool
func (t *GenerateImage) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return tool.Result{Success: false, Error: "missing required argument: prompt"}, nil
	}
	size, _ := args["size"].(string)
	if size == "" {
		size = "1024x1024"
	}

	url, err := t.backend.Generate(ctx, prompt, size)
	if err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("generation failed: %v", err)}, nil
	}

	return tool.Result{
		Success: true,
		Data:    map[string]any{"url": url, "size": size},
		Cost:    generateImageCost,
	}, nil
}
