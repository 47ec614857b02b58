package task

import (
	"context"

	xerrors "Concierge-Engine/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
//
// Transition 是状态机的唯一写入口：只有当前状态在 from 集合内才会迁移到 to，
// 否则返回 ErrTaskTerminal（终态）或 xerrors.CodeInvalidState。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Transition(ctx context.Context, id string, from []Status, to Status) (*Task, error)
	ApplyProposal(ctx context.Context, id string, proposal Proposal) (*Task, error)
	MarkCompleted(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
