package executor

import (
	"context"

	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
)

// OutcomeKind 表示一次执行器调用的收尾方式。
type OutcomeKind string

const (
	// OutcomeCompleted 表示全部步骤已完成。
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeNeedsCredential 表示执行在登录步骤前挂起，等待用户补充凭据。
	OutcomeNeedsCredential OutcomeKind = "needs_credential"
	// OutcomeNeedsOTP 表示执行在确认步骤前挂起，等待一次性验证码。
	OutcomeNeedsOTP OutcomeKind = "needs_otp"
	// OutcomeFailed 表示某一步骤失败，错误信息在 Err 中。
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeFallback 表示原动作无法完成，但执行器给出了替代建议。
	OutcomeFallback OutcomeKind = "fallback"
	// OutcomeCancelled 表示在步骤边界响应了取消请求。
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome 是 Execute 的统一返回值。Kind 决定哪些字段有效。
type Outcome struct {
	Kind       OutcomeKind
	Result     *task.ExecutionResult
	Service    string
	Err        error
	Suggestion *task.Proposal
}

// Invocation 携带一次执行所需的全部上下文。
// Credential 与 Code 只存活在本次调用的内存中，执行器不得持久化它们。
type Invocation struct {
	TaskID     string
	UserID     string
	Params     map[string]any
	Credential vault.Secret
	Code       string

	// Progress 在每个步骤完成后被调用，由协调器写入执行日志。
	Progress func(step, detail string)
	// Cancelled 是协作式取消标志，只在步骤边界检查，进行中的步骤会先执行完。
	Cancelled func() bool
}

// Executor 是绑定到某个 (类别, 服务) 的自动化驱动。
// Execute 必须可以从任意步骤下标恢复：fromStep 之前的步骤被视为已完成，
// 不会重复产生外部副作用。
type Executor interface {
	ServiceName() string
	RequiredSteps() []string
	RequiresLogin() bool
	Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome
}

// Completed 构造成功收尾的 Outcome。
func Completed(result *task.ExecutionResult) Outcome {
	return Outcome{Kind: OutcomeCompleted, Result: result}
}

// NeedsCredential 构造等待凭据的挂起 Outcome。
func NeedsCredential(service string) Outcome {
	return Outcome{Kind: OutcomeNeedsCredential, Service: service}
}

// NeedsOTP 构造等待一次性验证码的挂起 Outcome。
func NeedsOTP(service string) Outcome {
	return Outcome{Kind: OutcomeNeedsOTP, Service: service}
}

// Failed 构造失败收尾的 Outcome。
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Fallback 构造带替代建议的收尾 Outcome。
func Fallback(suggestion *task.Proposal) Outcome {
	return Outcome{Kind: OutcomeFallback, Suggestion: suggestion}
}

// Cancelled 构造响应取消的收尾 Outcome。
func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}
