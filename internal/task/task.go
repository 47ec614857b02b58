package task

import (
	xerrors "Concierge-Engine/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending       Status = "pending"
	StatusProposed      Status = "proposed"
	StatusRevised       Status = "revised"
	StatusConfirmed     Status = "confirmed"
	StatusExecuting     Status = "executing"
	StatusAwaitingCreds Status = "awaiting_credentials"
	StatusAwaitingOTP   Status = "awaiting_otp"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Category 表示任务所属的执行类别，决定使用哪一类执行器。
type Category string

const (
	CategoryPurchase  Category = "purchase"
	CategoryTravel    Category = "travel"
	CategoryPayment   Category = "payment"
	CategoryMessaging Category = "messaging"
	CategoryVoice     Category = "voice"
	CategoryOther     Category = "other"
)

// ExecutionResult 保存一次任务执行的结果。
type ExecutionResult struct {
	Success            bool           `json:"success"`
	ConfirmationNumber string         `json:"confirmation_number,omitempty"`
	Message            string         `json:"message,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// Proposal 是外部提案服务产出的候选动作，写回任务后等待用户确认。
type Proposal struct {
	Summary  string         `json:"summary"`
	Category Category       `json:"category"`
	Service  string         `json:"service"`
	Params   map[string]any `json:"params,omitempty"`
	Revised  bool           `json:"revised"`
}

// Task 描述了一个从愿望到外部动作的任务。
type Task struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Wish           string           `json:"wish"`
	Category       Category         `json:"category"`
	Service        string           `json:"service"`
	Status         Status           `json:"status"`
	ProposedAction string           `json:"proposed_action,omitempty"`
	Params         map[string]any   `json:"params,omitempty"`
	Result         *ExecutionResult `json:"result,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	CreatedAt      int64            `json:"created_at"`
	UpdatedAt      int64            `json:"updated_at"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务 ID 已存在。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskTerminal 表示任务已处于终态，不能再迁移。
	ErrTaskTerminal = xerrors.New(CodeTaskTerminal, "task already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskTerminal   xerrors.Code = "TASK_TERMINAL"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskTerminal, xerrors.Attributes{
		Message:  "task already terminal",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish confirmed task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusProposed, StatusRevised, StatusConfirmed,
		StatusExecuting, StatusAwaitingCreds, StatusAwaitingOTP,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal 判断状态是否为终态。终态任务只读，不再迁移。
func IsTerminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Confirmable 判断任务是否处于可确认状态。
func Confirmable(status Status) bool {
	return status == StatusProposed || status == StatusRevised
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cloned := make(map[string]any, len(params))
	for key, value := range params {
		cloned[key] = value
	}
	return cloned
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		resultCopy := *task.Result
		resultCopy.Details = cloneParams(task.Result.Details)
		clone.Result = &resultCopy
	}
	clone.Params = cloneParams(task.Params)
	return &clone
}
