package executor

import (
	"context"
	"fmt"
	"sync"

	xerrors "Concierge-Engine/internal/errors"
)

// driver 是各模拟执行器共用的骨架：公开步骤清单，
// 按下标推进步骤，并在边界处处理取消与故障注入。
type driver struct {
	service string
	login   bool
	steps   []string

	mu       sync.Mutex
	glitches map[string]int
}

func newDriver(service string, login bool, steps []string) driver {
	return driver{
		service:  service,
		login:    login,
		steps:    steps,
		glitches: make(map[string]int),
	}
}

func (d *driver) ServiceName() string {
	return d.service
}

func (d *driver) RequiredSteps() []string {
	steps := make([]string, len(d.steps))
	copy(steps, d.steps)
	return steps
}

func (d *driver) RequiresLogin() bool {
	return d.login
}

// stepHook 在某个步骤执行前被调用。返回非空 Outcome 表示本次调用
// 在该步骤边界收尾（挂起、回退或带结果完成），该步骤本身不执行。
type stepHook func(inv *Invocation, step string, index int) *Outcome

// run 从 fromStep 开始顺序执行步骤。hook 可为 nil。
// 每个已完成的步骤都会上报进度，取消只在步骤边界生效。
func (d *driver) run(ctx context.Context, inv *Invocation, fromStep int, hook stepHook, finish func(inv *Invocation) Outcome) Outcome {
	if fromStep < 0 || fromStep > len(d.steps) {
		return Failed(xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("非法的恢复步骤下标 %d", fromStep)))
	}
	for index := fromStep; index < len(d.steps); index++ {
		if err := ctx.Err(); err != nil {
			return Failed(err)
		}
		if inv.Cancelled != nil && inv.Cancelled() {
			return Cancelled()
		}
		step := d.steps[index]
		if hook != nil {
			if outcome := hook(inv, step, index); outcome != nil {
				return *outcome
			}
		}
		if err := d.injectedFault(inv, step); err != nil {
			return Failed(err)
		}
		d.report(inv, step, fmt.Sprintf("%s 完成", step))
	}
	return finish(inv)
}

func (d *driver) report(inv *Invocation, step, detail string) {
	if inv.Progress != nil {
		inv.Progress(step, detail)
	}
}

// injectedFault 实现模拟驱动的故障注入，供测试与演示使用：
//   - params["glitch_step"] + params["glitch_count"]：该步骤前 N 次返回瞬时错误；
//   - params["broken_step"]：该步骤始终返回结构性错误。
func (d *driver) injectedFault(inv *Invocation, step string) error {
	if broken, ok := inv.Params["broken_step"].(string); ok && broken == step {
		return xerrors.New(xerrors.CodeStepStructural,
			fmt.Sprintf("步骤 %s 的目标页面结构已变化", step))
	}
	glitch, ok := inv.Params["glitch_step"].(string)
	if !ok || glitch != step {
		return nil
	}
	limit := 1
	if raw, ok := inv.Params["glitch_count"].(float64); ok && raw > 0 {
		limit = int(raw)
	}
	key := inv.TaskID + "|" + step
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.glitches[key] >= limit {
		return nil
	}
	d.glitches[key]++
	return xerrors.New(xerrors.CodeStepTransient,
		fmt.Sprintf("步骤 %s 出现瞬时故障（第 %d 次）", step, d.glitches[key]))
}

// hasCredential 判断本次调用是否携带了可用凭据。
func hasCredential(inv *Invocation) bool {
	return len(inv.Credential) > 0
}

// paramString 从执行参数中取字符串，缺失时返回默认值。
func paramString(params map[string]any, key, fallback string) string {
	if value, ok := params[key].(string); ok && value != "" {
		return value
	}
	return fallback
}
