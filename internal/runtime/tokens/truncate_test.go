package tokens

import (
	"strings"
	"testing"

	"chat-platform/internal/runtime/session"
)

// 固定长度文本：n 个 token（n*4 字符）
func textOfTokens(n int) string {
	return strings.Repeat("abcd", n)
}

func conversation(systemTokens int, pairTokens, pairs int) []*session.Message {
	var msgs []*session.Message
	if systemTokens > 0 {
		msgs = append(msgs, session.NewTextMessage(session.RoleSystem, textOfTokens(systemTokens)))
	}
	for i := 0; i < pairs; i++ {
		msgs = append(msgs,
			session.NewTextMessage(session.RoleUser, textOfTokens(pairTokens)),
			session.NewTextMessage(session.RoleAssistant, textOfTokens(pairTokens)))
	}
	return msgs
}

func TestTruncateKeepsRecentSuffixWithinBudget(t *testing.T) {
	// system 10 tokens，5 对 user/assistant，每条 46 tokens。
	// 预算 120：system 成本 14，剩 106；每条消息成本 50，
	// 只有最近 2 条（最后一对）能放下。
	msgs := conversation(10, 46, 5)

	out := TruncateConversation(msgs, 120, 0)

	if len(out) != 3 {
		t.Fatalf("len = %d, want 3 (system + last pair)", len(out))
	}
	if out[0].Role != session.RoleSystem {
		t.Errorf("first message role = %s, want system", out[0].Role)
	}
	if out[1] != msgs[len(msgs)-2] || out[2] != msgs[len(msgs)-1] {
		t.Error("kept messages must be the most recent pair, in original order")
	}
}

func TestTruncateIdempotent(t *testing.T) {
	msgs := conversation(10, 46, 5)

	once := TruncateConversation(msgs, 120, 0)
	twice := TruncateConversation(once, 120, 0)

	if len(once) != len(twice) {
		t.Fatalf("re-trimming changed length: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("message %d changed after re-trim", i)
		}
	}
}

func TestTruncatePreservesSystemRegardlessOfBudget(t *testing.T) {
	msgs := conversation(50, 46, 3)

	for _, budget := range []int{0, 10, 100, 10000} {
		out := TruncateConversation(msgs, budget, 0)
		if len(out) == 0 || out[0].Role != session.RoleSystem {
			t.Errorf("budget %d: system message must survive truncation", budget)
		}
	}
}

func TestTruncateOutputIsContiguousSuffix(t *testing.T) {
	msgs := conversation(10, 30, 6)

	out := TruncateConversation(msgs, 200, 50)

	// 除 system 外，输出必须是输入的一个连续后缀
	rest := out
	if rest[0].Role == session.RoleSystem {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		t.Fatal("expected at least the newest message")
	}
	start := -1
	for i, m := range msgs {
		if m == rest[0] {
			start = i
			break
		}
	}
	if start < 0 {
		t.Fatal("first kept message not found in input")
	}
	for i, m := range rest {
		if msgs[start+i] != m {
			t.Errorf("output has a hole at position %d", i)
		}
	}
}

func TestTruncateKeepsOversizedNewestMessage(t *testing.T) {
	msgs := []*session.Message{
		session.NewTextMessage(session.RoleUser, textOfTokens(500)),
	}

	out := TruncateConversation(msgs, 100, 0)

	if len(out) != 1 || out[0] != msgs[0] {
		t.Fatal("the newest message is kept even when it alone exceeds the budget")
	}
}

func TestTruncateReserveShrinksBudget(t *testing.T) {
	msgs := conversation(0, 46, 4)

	full := TruncateConversation(msgs, 1000, 0)
	reserved := TruncateConversation(msgs, 1000, 900)

	if len(full) != len(msgs) {
		t.Fatalf("generous budget should keep everything, kept %d", len(full))
	}
	if len(reserved) >= len(full) {
		t.Errorf("reserve must shrink the usable budget: %d >= %d", len(reserved), len(full))
	}
}

func TestTruncateWithImages(t *testing.T) {
	msgs := []*session.Message{
		session.NewTextMessage(session.RoleUser, textOfTokens(10)),
		session.NewUserMessage(textOfTokens(10), []string{"https://img/a.png"}),
	}

	// 图片按平均成本 765 估算，预算 200 只够保留最新一条（带图也保留）
	out := TruncateConversation(msgs, 200, 0)
	if len(out) != 1 || out[0] != msgs[1] {
		t.Fatalf("expected only the newest (image) message, got %d messages", len(out))
	}
}
