package engine

import (
	"context"
)

// StepOutcome 表示执行日志条目记录的步骤结局。
type StepOutcome string

const (
	StepSuccess    StepOutcome = "success"
	StepFailure    StepOutcome = "failure"
	StepInProgress StepOutcome = "in_progress"
)

// ExecutionState 与任务一一对应，描述当前执行进度。
// 只由协调器在持有该任务的执行锁时写入。
type ExecutionState struct {
	TaskID          string   `json:"task_id"`
	CurrentStep     string   `json:"current_step,omitempty"`
	CompletedSteps  []string `json:"completed_steps,omitempty"`
	RemainingSteps  []string `json:"remaining_steps,omitempty"`
	RequiredService string   `json:"required_service,omitempty"`
	Detail          string   `json:"detail,omitempty"`
	StartedAt       int64    `json:"started_at,omitempty"`
	FinishedAt      int64    `json:"finished_at,omitempty"`
}

// ExecutionLogEntry 是按 (任务, 序号) 追加的审计条目，只增不改。
type ExecutionLogEntry struct {
	TaskID    string      `json:"task_id"`
	Sequence  int         `json:"sequence"`
	Step      string      `json:"step"`
	Outcome   StepOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	Artifact  string      `json:"artifact,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Journal 持久化执行状态与执行日志。
// AppendLog 负责分配条目序号，同一任务的条目严格按实际执行顺序编号。
type Journal interface {
	SaveState(ctx context.Context, state *ExecutionState) error
	GetState(ctx context.Context, taskID string) (*ExecutionState, error)
	AppendLog(ctx context.Context, entry *ExecutionLogEntry) error
	ListLog(ctx context.Context, taskID string) ([]*ExecutionLogEntry, error)
	Close() error
}

func cloneState(state *ExecutionState) *ExecutionState {
	if state == nil {
		return nil
	}
	copied := *state
	copied.CompletedSteps = append([]string(nil), state.CompletedSteps...)
	copied.RemainingSteps = append([]string(nil), state.RemainingSteps...)
	return &copied
}
