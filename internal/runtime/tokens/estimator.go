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

// Package tokens 提供启发式 token 估算与上下文预算裁剪。
// 估算是预检用的近似值（4 字符 ≈ 1 token），不是计费真值；
// 追求零 I/O、确定性、低开销，不调用 provider 的 tokenizer。
package tokens

// 估算常量
const (
	charsPerToken = 4 // 文本估算比例：4 字符 ≈ 1 token

	imageTokensLow     = 85  // low detail 图片固定成本
	imageTokensAverage = 765 // high/auto 且尺寸未知时的平均成本
	imageTokensBase    = 85  // 已知尺寸时的基础成本
	imageTokensPerTile = 170 // 每个 512x512 tile 的成本
	imageTileSize      = 512
)

// EstimateTokens 估算文本的 token 数
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateImageTokens 估算图片的 token 数。
// low detail 为固定成本；high/auto 且尺寸未知回退到平均值；
// 已知尺寸时按覆盖 width x height 的 512 tile 数计算。
func EstimateImageTokens(width, height int, detail string) int {
	if detail == "low" {
		return imageTokensLow
	}
	if width <= 0 || height <= 0 {
		return imageTokensAverage
	}
	tilesX := (width + imageTileSize - 1) / imageTileSize
	tilesY := (height + imageTileSize - 1) / imageTileSize
	return imageTokensBase + tilesX*tilesY*imageTokensPerTile
}

// EstimateMessageTokens 估算一条消息的 token 数（文本 + 图片平均成本）
func EstimateMessageTokens(text string, imageCount int) int {
	return EstimateTokens(text) + imageCount*imageTokensAverage
}
