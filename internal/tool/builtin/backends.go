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
	neturl "net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// defaultResizeTemplate 图片代理服务的 URL 模板：源地址（已转义）、宽、高
const defaultResizeTemplate = "https://images.weserv.nl/?url=%s&w=%d&h=%d"

// URLResizer 通过图片代理服务缩放：源地址与目标尺寸编进代理 URL，不做本地图像处理
type URLResizer struct {
	template string
}

// NewURLResizer 创建 URL 缩放后端；template 为空时用公共代理
func NewURLResizer(template string) *URLResizer {
	if template == "" {
		template = defaultResizeTemplate
	}
	return &URLResizer{template: template}
}

func (r *URLResizer) Resize(ctx context.Context, url string, width, height int) (string, error) {
	if url == "" {
		return "", fmt.Errorf("image url is empty")
	}
	return fmt.Sprintf(r.template, neturl.QueryEscape(url), width, height), nil
}

// OpenAIImageBackend 文生图后端（OpenAI 兼容 images API）
type OpenAIImageBackend struct {
	client  *resty.Client
	apiKey  string
	baseURL string
	model   string
}

// NewOpenAIImageBackend 创建文生图后端；model 为空时用 dall-e-3
func NewOpenAIImageBackend(apiKey, baseURL, model string) *OpenAIImageBackend {
	if model == "" {
		model = "dall-e-3"
	}
	return &OpenAIImageBackend{
		client:  resty.New().SetTimeout(120 * time.Second),
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
	}
}

func (b *OpenAIImageBackend) Generate(ctx context.Context, prompt string, size string) (string, error) {
	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+b.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"model":  b.model,
			"prompt": prompt,
			"size":   size,
			"n":      1,
		}).
		SetResult(&result).
		Post(b.baseURL + "/images/generations")
	if err != nil {
		return "", fmt.Errorf("image generation request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("image generation failed: status %d", resp.StatusCode())
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no image")
	}
	return result.Data[0].URL, nil
}
