package executor

import (
	"context"
	"fmt"
	"time"

	"Concierge-Engine/internal/task"
)

// BankTransfer 模拟网银转账流程。确认步骤受一次性验证码保护：
// 调用时未携带验证码则在该边界挂起。
type BankTransfer struct {
	driver
}

// NewBankTransfer 创建网银转账执行器。
func NewBankTransfer() *BankTransfer {
	return &BankTransfer{
		driver: newDriver("bank_transfer", true, []string{
			"opened_url",
			"logged_in",
			"entered_details",
			"confirmed",
			"completed",
		}),
	}
}

// Execute 推进转账步骤。logged_in 边界检查凭据，confirmed 边界检查验证码。
func (b *BankTransfer) Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome {
	hook := func(inv *Invocation, step string, _ int) *Outcome {
		switch step {
		case "logged_in":
			if !hasCredential(inv) {
				outcome := NeedsCredential(b.service)
				return &outcome
			}
		case "confirmed":
			if inv.Code == "" {
				outcome := NeedsOTP(b.service)
				return &outcome
			}
		}
		return nil
	}
	return b.run(ctx, inv, fromStep, hook, func(inv *Invocation) Outcome {
		payee := paramString(inv.Params, "payee", "收款方")
		amount := paramString(inv.Params, "amount", "")
		message := fmt.Sprintf("已向 %s 转账", payee)
		if amount != "" {
			message = fmt.Sprintf("已向 %s 转账 %s", payee, amount)
		}
		return Completed(&task.ExecutionResult{
			Success:            true,
			ConfirmationNumber: fmt.Sprintf("TRF-%d", time.Now().Unix()),
			Message:            message,
			Details: map[string]any{
				"payee":  payee,
				"amount": amount,
			},
		})
	})
}

var _ Executor = (*BankTransfer)(nil)
