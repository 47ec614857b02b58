package executor

import (
	"context"
	"fmt"
	"time"

	"Concierge-Engine/internal/task"
)

// Rail 模拟铁路订票流程。所选车次无票时不直接失败，
// 而是给出改订后续车次的替代建议。
type Rail struct {
	driver
}

// NewRail 创建铁路订票执行器。
func NewRail() *Rail {
	return &Rail{
		driver: newDriver("rail_reservation", true, []string{
			"opened_url",
			"logged_in",
			"selected_train",
			"confirmed",
			"completed",
		}),
	}
}

// Execute 推进订票步骤。logged_in 边界检查凭据，
// selected_train 边界检查余票。
func (r *Rail) Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome {
	hook := func(inv *Invocation, step string, _ int) *Outcome {
		switch step {
		case "logged_in":
			if !hasCredential(inv) {
				outcome := NeedsCredential(r.service)
				return &outcome
			}
		case "selected_train":
			if soldOut, ok := inv.Params["sold_out"].(bool); ok && soldOut {
				outcome := r.suggestAlternate(inv)
				return &outcome
			}
		}
		return nil
	}
	return r.run(ctx, inv, fromStep, hook, func(inv *Invocation) Outcome {
		train := paramString(inv.Params, "train", "所选车次")
		return Completed(&task.ExecutionResult{
			Success:            true,
			ConfirmationNumber: fmt.Sprintf("EX-%d", time.Now().Unix()),
			Message:            fmt.Sprintf("已订票: %s", train),
			Details: map[string]any{
				"train": train,
			},
		})
	})
}

// suggestAlternate 构造改订下一班车次的替代提案。
func (r *Rail) suggestAlternate(inv *Invocation) Outcome {
	train := paramString(inv.Params, "train", "所选车次")
	alternate := paramString(inv.Params, "alternate_train", "后续车次")
	params := map[string]any{
		"train": alternate,
	}
	if date, ok := inv.Params["date"]; ok {
		params["date"] = date
	}
	return Fallback(&task.Proposal{
		Summary:  fmt.Sprintf("%s 已无余票，建议改订 %s", train, alternate),
		Category: task.CategoryTravel,
		Service:  r.service,
		Params:   params,
		Revised:  true,
	})
}

var _ Executor = (*Rail)(nil)
