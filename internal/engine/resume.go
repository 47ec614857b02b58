package engine

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
	"Concierge-Engine/pkg/logger"
)

// ProvideCredentials 为挂起中的任务补充登录凭据并恢复执行。
// persist 为 true 时凭据同时写入保险库，供后续任务直接使用。
func (c *Coordinator) ProvideCredentials(ctx context.Context, taskID, service string, secret vault.Secret, persist bool) error {
	current, err := c.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if current.Status != task.StatusAwaitingCreds {
		return xerrors.New(xerrors.CodeInvalidState, "任务未在等待凭据",
			xerrors.WithMetadata("status", string(current.Status)))
	}

	entry, err := c.suspendedEntry(ctx, current)
	if err != nil {
		return err
	}

	required := entry.awaitingService(ctx, c.journal)
	if required != "" && required != service {
		return xerrors.New(xerrors.CodeServiceMismatch,
			fmt.Sprintf("任务等待的是 %s 的凭据", required),
			xerrors.WithMetadata("required", required),
			xerrors.WithMetadata("provided", service))
	}

	if persist {
		if err := c.vault.Put(ctx, current.UserID, service, secret); err != nil {
			return err
		}
	}
	entry.credential = secret

	if _, err := c.store.Transition(ctx, taskID,
		[]task.Status{task.StatusAwaitingCreds}, task.StatusExecuting); err != nil {
		return err
	}

	c.mu.Lock()
	entry.suspended = false
	c.mu.Unlock()

	logger.Audit().Info("执行恢复",
		slog.String("task_id", taskID),
		slog.String("service", service),
		slog.Bool("persisted", persist),
	)
	go func() {
		if err := c.run(context.Background(), entry); err != nil {
			logger.L().Error("恢复执行失败", slog.Any("error", err), slog.String("task_id", taskID))
		}
	}()
	return nil
}

// suspendedEntry 返回挂起任务的在途记录。
// 进程重启后在途表为空，此时按执行日志重建并重新占锁。
func (c *Coordinator) suspendedEntry(ctx context.Context, current *task.Task) (*inflight, error) {
	c.mu.Lock()
	if entry, ok := c.inflight[current.ID]; ok {
		if !entry.suspended {
			c.mu.Unlock()
			return nil, ErrAlreadyExecuting
		}
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	entry, err := c.acquire(current)
	if err != nil {
		return nil, err
	}
	state, err := c.journal.GetState(ctx, current.ID)
	if err != nil {
		c.release(current.ID)
		return nil, err
	}
	if state != nil {
		entry.fromStep = len(state.CompletedSteps)
		if entry.fromStep > len(entry.steps) {
			entry.fromStep = len(entry.steps)
		}
	}
	c.mu.Lock()
	entry.suspended = true
	c.mu.Unlock()
	return entry, nil
}

// awaitingService 返回挂起时登记的目标服务，在途记录缺失时查执行状态。
func (e *inflight) awaitingService(ctx context.Context, journal Journal) string {
	state, err := journal.GetState(ctx, e.taskID)
	if err != nil || state == nil || state.RequiredService == "" {
		return e.service
	}
	return state.RequiredService
}

// Cancel 取消任务。在途执行走协作式取消：当前步骤执行完后停止；
// 未开始执行的任务直接迁移到 cancelled。
func (c *Coordinator) Cancel(ctx context.Context, taskID string) error {
	c.mu.Lock()
	entry, busy := c.inflight[taskID]
	if busy {
		entry.cancelled.Store(true)
		if entry.otpCancel != nil {
			entry.otpCancel()
		}
		suspended := entry.suspended
		c.mu.Unlock()
		if suspended {
			// 等待凭据期间没有活跃的执行协程，这里直接终局。
			return c.finishCancelled(ctx, entry, task.StatusAwaitingCreds)
		}
		logger.L().Info("已请求取消，在步骤边界生效", slog.String("task_id", taskID))
		return nil
	}
	c.mu.Unlock()

	// 停机可能把 executing/awaiting_otp 留成无在途记录的孤儿状态，
	// 它们同样允许取消，否则只能等启动恢复扫描重新派发。
	_, err := c.store.Transition(ctx, taskID, []task.Status{
		task.StatusPending, task.StatusProposed, task.StatusRevised,
		task.StatusConfirmed, task.StatusExecuting,
		task.StatusAwaitingCreds, task.StatusAwaitingOTP,
	}, task.StatusCancelled)
	if err != nil {
		return err
	}
	logger.Audit().Info("任务已取消", slog.String("task_id", taskID))
	return nil
}

// StatusView 是面向轮询接口的执行进度投影，读取不阻塞。
type StatusView struct {
	TaskID             string                `json:"task_id"`
	Status             task.Status           `json:"status"`
	CurrentStep        string                `json:"current_step,omitempty"`
	CompletedSteps     []string              `json:"completed_steps,omitempty"`
	RemainingSteps     []string              `json:"remaining_steps,omitempty"`
	RequiresCredential bool                  `json:"requires_credential"`
	RequiresOTP        bool                  `json:"requires_otp"`
	RequiredService    string                `json:"required_service,omitempty"`
	Detail             string                `json:"detail,omitempty"`
	Result             *task.ExecutionResult `json:"result,omitempty"`
	Error              string                `json:"error,omitempty"`
	ErrorCode          string                `json:"error_code,omitempty"`
	StartedAt          int64                 `json:"started_at,omitempty"`
	FinishedAt         int64                 `json:"finished_at,omitempty"`
}

// Status 返回任务的执行进度快照。
func (c *Coordinator) Status(ctx context.Context, taskID string) (*StatusView, error) {
	current, err := c.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		TaskID:             current.ID,
		Status:             current.Status,
		RequiresCredential: current.Status == task.StatusAwaitingCreds,
		RequiresOTP:        current.Status == task.StatusAwaitingOTP,
		Result:             current.Result,
		Error:              current.LastError,
		ErrorCode:          current.ErrorCode,
	}
	state, err := c.journal.GetState(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		view.CurrentStep = state.CurrentStep
		view.CompletedSteps = state.CompletedSteps
		view.RemainingSteps = state.RemainingSteps
		view.RequiredService = state.RequiredService
		view.Detail = state.Detail
		view.StartedAt = state.StartedAt
		view.FinishedAt = state.FinishedAt
	}
	return view, nil
}

// Log 返回任务的执行日志，按实际执行顺序排列。
func (c *Coordinator) Log(ctx context.Context, taskID string) ([]*ExecutionLogEntry, error) {
	if _, err := c.store.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return c.journal.ListLog(ctx, taskID)
}
