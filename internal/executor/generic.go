package executor

import (
	"context"

	"Concierge-Engine/internal/task"
)

// Generic 是兜底执行器：按通用步骤模拟执行任意动作，不需要登录。
type Generic struct {
	driver
}

// NewGeneric 创建兜底执行器。
func NewGeneric() *Generic {
	return &Generic{
		driver: newDriver("generic", false, []string{
			"opened_url",
			"entered_details",
			"confirmed",
			"completed",
		}),
	}
}

// Execute 推进通用步骤。
func (g *Generic) Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome {
	return g.run(ctx, inv, fromStep, nil, func(inv *Invocation) Outcome {
		return Completed(&task.ExecutionResult{
			Success: true,
			Message: paramString(inv.Params, "summary", "动作已完成"),
		})
	})
}

var _ Executor = (*Generic)(nil)
