package executor

import (
	"context"
	"fmt"

	"Concierge-Engine/internal/task"
)

// Messaging 模拟消息发送流程，不需要登录凭据。
type Messaging struct {
	driver
}

// NewMessaging 创建消息发送执行器。
func NewMessaging() *Messaging {
	return &Messaging{
		driver: newDriver("messaging", false, []string{
			"opened_url",
			"entered_details",
			"confirmed",
			"completed",
		}),
	}
}

// Execute 推进消息发送步骤。
func (m *Messaging) Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome {
	return m.run(ctx, inv, fromStep, nil, func(inv *Invocation) Outcome {
		recipient := paramString(inv.Params, "recipient", "收件人")
		return Completed(&task.ExecutionResult{
			Success: true,
			Message: fmt.Sprintf("已向 %s 发送消息", recipient),
			Details: map[string]any{
				"recipient": recipient,
			},
		})
	})
}

var _ Executor = (*Messaging)(nil)
