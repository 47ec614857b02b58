package proposal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Concierge-Engine/internal/task"
)

func propose(t *testing.T, provider *RuleProvider, wish string) task.Proposal {
	t.Helper()
	proposal, err := provider.Propose(context.Background(), &task.Task{
		ID: "t1", UserID: "u1", Wish: wish,
	})
	if err != nil {
		t.Fatalf("提案失败: %v", err)
	}
	return proposal
}

func TestRuleProviderMatching(t *testing.T) {
	provider := NewRuleProvider()

	cases := []struct {
		wish     string
		category task.Category
		service  string
	}{
		{"帮我买一本书", task.CategoryPurchase, "marketplace"},
		{"订明天去北京的高铁票", task.CategoryTravel, "rail_reservation"},
		{"给房东转账 3200", task.CategoryPayment, "bank_transfer"},
		{"给小李发消息说我晚点到", task.CategoryMessaging, "messaging"},
		{"帮我给牙科诊所打电话预约", task.CategoryVoice, "voice_call"},
		{"Please buy the Go book", task.CategoryPurchase, "marketplace"},
	}
	for _, tc := range cases {
		proposal := propose(t, provider, tc.wish)
		if proposal.Category != tc.category || proposal.Service != tc.service {
			t.Fatalf("愿望 %q 路由不符: %s/%s", tc.wish, proposal.Category, proposal.Service)
		}
		if !strings.Contains(proposal.Summary, strings.TrimSpace(tc.wish)) {
			t.Fatalf("提案摘要应包含原始愿望: %s", proposal.Summary)
		}
	}
}

func TestRuleProviderFallback(t *testing.T) {
	provider := NewRuleProvider()
	proposal := propose(t, provider, "帮我浇一下花")
	if proposal.Category != task.CategoryOther || proposal.Service != "generic" {
		t.Fatalf("未命中规则应回落到通用动作: %s/%s", proposal.Category, proposal.Service)
	}
}

func TestRuleProviderKeepsParams(t *testing.T) {
	provider := NewRuleProvider()
	proposal, err := provider.Propose(context.Background(), &task.Task{
		ID: "t1", Wish: "买一本书",
		Params: map[string]any{"item": "Go 程序设计语言"},
	})
	if err != nil {
		t.Fatalf("提案失败: %v", err)
	}
	if proposal.Params["item"] != "Go 程序设计语言" {
		t.Fatalf("提案应携带任务参数: %+v", proposal.Params)
	}
}

func TestLoadRuleProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	content := `[
		{"keywords": ["浇花"], "category": "other", "service": "gardening", "summary": "安排浇花"},
		{"keywords": [], "category": "other", "service": "ignored", "summary": "无关键词，应跳过"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入规则文件失败: %v", err)
	}

	provider, err := LoadRuleProvider(path)
	if err != nil {
		t.Fatalf("加载规则文件失败: %v", err)
	}

	// 文件规则优先于内置规则。
	proposal := propose(t, provider, "帮我浇花")
	if proposal.Service != "gardening" {
		t.Fatalf("期望命中文件规则，得到 %s", proposal.Service)
	}

	// 内置规则仍然生效。
	proposal = propose(t, provider, "买一本书")
	if proposal.Service != "marketplace" {
		t.Fatalf("内置规则应保留，得到 %s", proposal.Service)
	}
}

func TestLoadRuleProviderMissingFile(t *testing.T) {
	if _, err := LoadRuleProvider(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("缺失文件应报错")
	}
}
