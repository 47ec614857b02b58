package proposal

import (
	"context"
	"fmt"
	"strings"

	"Concierge-Engine/internal/task"
)

// Provider 把自然语言愿望转换为候选动作。
// 语义理解由外部系统负责，这里只定义引擎消费的接口形状。
type Provider interface {
	Propose(ctx context.Context, t *task.Task) (task.Proposal, error)
}

// Rule 描述一条关键词到候选动作的映射。
type Rule struct {
	Keywords []string
	Category task.Category
	Service  string
	Summary  string
}

// RuleProvider 是基于关键词规则的静态提案实现，用于开发与测试环境。
type RuleProvider struct {
	rules    []Rule
	fallback Rule
}

// NewRuleProvider 创建带内置规则的提案实现。
func NewRuleProvider(extra ...Rule) *RuleProvider {
	rules := append([]Rule{
		{
			Keywords: []string{"买", "购买", "下单", "buy", "order", "purchase"},
			Category: task.CategoryPurchase,
			Service:  "marketplace",
			Summary:  "在电商平台下单",
		},
		{
			Keywords: []string{"火车", "高铁", "车票", "订票", "train", "rail"},
			Category: task.CategoryTravel,
			Service:  "rail_reservation",
			Summary:  "预订火车票",
		},
		{
			Keywords: []string{"转账", "汇款", "打款", "transfer", "remit"},
			Category: task.CategoryPayment,
			Service:  "bank_transfer",
			Summary:  "通过网银转账",
		},
		{
			Keywords: []string{"发消息", "短信", "通知", "message", "text"},
			Category: task.CategoryMessaging,
			Service:  "messaging",
			Summary:  "发送消息",
		},
		{
			Keywords: []string{"打电话", "致电", "电话", "phone", "call"},
			Category: task.CategoryVoice,
			Service:  "voice_call",
			Summary:  "代为拨打电话",
		},
	}, extra...)
	return &RuleProvider{
		rules: rules,
		fallback: Rule{
			Category: task.CategoryOther,
			Service:  "generic",
			Summary:  "按通用流程执行",
		},
	}
}

// Propose 按关键词匹配产出候选动作，未命中规则时回落到通用动作。
func (p *RuleProvider) Propose(_ context.Context, t *task.Task) (task.Proposal, error) {
	wish := strings.ToLower(t.Wish)
	matched := p.fallback
	for _, rule := range p.rules {
		if ruleMatches(rule, wish) {
			matched = rule
			break
		}
	}
	return task.Proposal{
		Summary:  fmt.Sprintf("%s: %s", matched.Summary, strings.TrimSpace(t.Wish)),
		Category: matched.Category,
		Service:  matched.Service,
		Params:   t.Params,
	}, nil
}

func ruleMatches(rule Rule, wish string) bool {
	for _, keyword := range rule.Keywords {
		if keyword != "" && strings.Contains(wish, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

var _ task.Proposer = (*RuleProvider)(nil)
