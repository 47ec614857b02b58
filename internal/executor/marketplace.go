package executor

import (
	"context"
	"fmt"
	"time"

	"Concierge-Engine/internal/task"
)

// Marketplace 模拟电商下单流程：打开商品页、登录、填写收货信息、
// 确认订单、拿到订单号。
type Marketplace struct {
	driver
}

// NewMarketplace 创建电商下单执行器。
func NewMarketplace() *Marketplace {
	return &Marketplace{
		driver: newDriver("marketplace", true, []string{
			"opened_url",
			"logged_in",
			"entered_details",
			"confirmed",
			"completed",
		}),
	}
}

// Execute 推进下单步骤。在 logged_in 步骤边界检查凭据，缺失则挂起。
func (m *Marketplace) Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome {
	hook := func(inv *Invocation, step string, _ int) *Outcome {
		if step == "logged_in" && !hasCredential(inv) {
			outcome := NeedsCredential(m.service)
			return &outcome
		}
		return nil
	}
	return m.run(ctx, inv, fromStep, hook, func(inv *Invocation) Outcome {
		item := paramString(inv.Params, "item", "商品")
		return Completed(&task.ExecutionResult{
			Success:            true,
			ConfirmationNumber: fmt.Sprintf("ORD-%d", time.Now().Unix()),
			Message:            fmt.Sprintf("已下单: %s", item),
			Details: map[string]any{
				"item": item,
			},
		})
	})
}

var _ Executor = (*Marketplace)(nil)
