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

package tokens

import (
	"chat-platform/internal/runtime/session"
)

// 每条消息的固定开销（role 标记等协议包装）
const perMessageOverhead = 4

// TruncateConversation 将对话裁剪到 maxTokens - reserveForOutput 的预算内。
// system 消息（若有）永远保留；其余消息从最新往旧累加，装不下的旧前缀
// 整体丢弃，不会丢中间消息，输出保持原始顺序。
// 即使最新一条消息单独超预算也保留它，不在消息内部截断，
// 避免破坏 tool-call 与结果的配对；超预算请求由 provider 层报错。
func TruncateConversation(msgs []*session.Message, maxTokens, reserveForOutput int) []*session.Message {
	if len(msgs) == 0 {
		return msgs
	}

	budget := maxTokens - reserveForOutput
	if budget < 0 {
		budget = 0
	}

	var system *session.Message
	rest := msgs
	if msgs[0].Role == session.RoleSystem {
		system = msgs[0]
		rest = msgs[1:]
		budget -= messageCost(system)
	}

	// 从最新往旧累加，找到保留的起始下标
	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := messageCost(rest[i])
		if used+cost > budget && start < len(rest) {
			break
		}
		// 最新一条即使超预算也保留
		used += cost
		start = i
		if used > budget {
			break
		}
	}

	kept := rest[start:]
	if system == nil {
		return kept
	}
	out := make([]*session.Message, 0, len(kept)+1)
	out = append(out, system)
	out = append(out, kept...)
	return out
}

func messageCost(m *session.Message) int {
	return EstimateMessageTokens(m.Text(), m.ImageCount()) + perMessageOverhead
}
