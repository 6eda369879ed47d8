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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 进程注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TurnDuration, TurnTotal, TurnRounds,
		ToolDuration, ToolTotal,
		LLMTokensTotal, StreamEventsTotal,
		RateLimitWaitSeconds,
	)
}

// TurnDuration 单轮对话耗时（秒）
var TurnDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "chatcore_turn_duration_seconds",
		Help:    "单轮对话耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"model"},
)

// TurnTotal 对话轮次总数（按终态）
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatcore_turn_total",
		Help: "对话轮次总数（按终态）",
	},
	[]string{"status"}, // done | error | cancelled
)

// TurnRounds 每轮对话内的模型往返次数（工具循环）
var TurnRounds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "chatcore_turn_rounds",
		Help:    "每轮对话内的模型往返次数",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
	},
	[]string{"model"},
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "chatcore_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolTotal 工具调用总数（按结果）
var ToolTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatcore_tool_total",
		Help: "工具调用总数（按结果）",
	},
	[]string{"tool", "status"}, // completed | failed | timeout
)

// LLMTokensTotal LLM 调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatcore_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"direction"}, // prompt | completion
)

// StreamEventsTotal 下发给客户端的流事件总数（按类型）
var StreamEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatcore_stream_events_total",
		Help: "下发给客户端的流事件总数",
	},
	[]string{"type"},
)

// RateLimitWaitSeconds 限流等待时间（秒）
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "chatcore_rate_limit_wait_seconds",
		Help:    "限流等待时间（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "target"}, // kind: llm
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	mfs, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
