package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/pkg/logger"
)

// Proposer 抽象外部提案服务：把自然语言愿望转换为候选动作。
// 具体实现由 internal/proposal 提供，本引擎只消费其产出。
type Proposer interface {
	Propose(ctx context.Context, task *Task) (Proposal, error)
}

// IntakeRequest 描述一次愿望受理请求。
type IntakeRequest struct {
	ID     string         `json:"id,omitempty"`
	UserID string         `json:"user_id"`
	Wish   string         `json:"wish"`
	Params map[string]any `json:"params,omitempty"`
}

// Service 负责任务的受理、提案写入与查询。
type Service struct {
	store    Store
	proposer Proposer
}

// NewService 构造任务服务。proposer 可为 nil，此时任务停留在 pending，
// 等待外部通过 ApplyProposal 写入候选动作。
func NewService(store Store, proposer Proposer) *Service {
	return &Service{store: store, proposer: proposer}
}

// Intake 受理一个新的愿望并尽可能立刻产出提案。
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*Task, error) {
	if strings.TrimSpace(req.Wish) == "" {
		return nil, xerrors.New(CodeTaskValidation, "愿望内容不能为空")
	}
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:       taskID,
		UserID:   strings.TrimSpace(req.UserID),
		Wish:     req.Wish,
		Category: CategoryOther,
		Status:   StatusPending,
		Params:   cloneParams(req.Params),
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			existing, getErr := s.store.Get(ctx, taskID)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if s.proposer != nil {
		proposal, err := s.proposer.Propose(ctx, task)
		if err != nil {
			logger.L().Warn("提案服务暂不可用，任务保持 pending",
				slog.Any("error", err), slog.String("task_id", taskID))
			return task, nil
		}
		updated, err := s.store.ApplyProposal(ctx, taskID, proposal)
		if err != nil {
			return nil, err
		}
		task = updated
	}

	logger.Audit().Info("愿望已受理",
		slog.String("task_id", task.ID),
		slog.String("user_id", task.UserID),
		slog.String("status", string(task.Status)),
	)
	return task, nil
}

// ApplyProposal 将外部提案（或修订）写回任务。
func (s *Service) ApplyProposal(ctx context.Context, id string, proposal Proposal) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.ApplyProposal(ctx, id, proposal)
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilTerminal 在指定间隔内轮询任务，直到任务进入终态或上下文取消。
func (s *Service) WaitUntilTerminal(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(task.Status) {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
