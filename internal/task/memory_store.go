package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "Concierge-Engine/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，主要用于开发与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Transition 在当前状态属于 from 集合时迁移到 to，并返回更新后的任务。
func (m *MemoryStore) Transition(_ context.Context, id string, from []Status, to Status) (*Task, error) {
	if !IsValidStatus(to) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标状态非法")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if IsTerminal(task.Status) {
		return cloneTask(task), ErrTaskTerminal
	}
	if !statusIn(task.Status, from) {
		return cloneTask(task), xerrors.New(xerrors.CodeInvalidState, "",
			xerrors.WithMetadata("status", string(task.Status)),
			xerrors.WithMetadata("target", string(to)))
	}
	task.Status = to
	task.UpdatedAt = time.Now().Unix()
	return cloneTask(task), nil
}

// ApplyProposal 写入外部提案服务产出的候选动作。
// 已提案任务再次写入会进入 revised 状态；回退提案（Fallback）同样走这里。
func (m *MemoryStore) ApplyProposal(_ context.Context, id string, proposal Proposal) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if IsTerminal(task.Status) {
		return cloneTask(task), ErrTaskTerminal
	}
	task.ProposedAction = proposal.Summary
	if proposal.Category != "" {
		task.Category = proposal.Category
	}
	if proposal.Service != "" {
		task.Service = proposal.Service
	}
	if proposal.Params != nil {
		task.Params = cloneParams(proposal.Params)
	}
	if proposal.Revised || task.Status != StatusPending {
		task.Status = StatusRevised
	} else {
		task.Status = StatusProposed
	}
	task.UpdatedAt = time.Now().Unix()
	return cloneTask(task), nil
}

// MarkCompleted 记录成功结果并进入终态。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusCompleted
	task.Result = &result
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusFailed
	task.LastError = lastError
	task.ErrorCode = string(code)
	task.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		results = append(results, cloneTask(task))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return nil, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := TaskStats{}
	for _, task := range m.tasks {
		if !matchesListFilters(task, opts) {
			continue
		}
		stats.count(task)
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func statusIn(status Status, set []Status) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}

func matchesListFilters(task *Task, opts ListOptions) bool {
	if len(opts.Statuses) > 0 && !statusIn(task.Status, opts.Statuses) {
		return false
	}
	if opts.UserID != "" && task.UserID != opts.UserID {
		return false
	}
	if opts.Category != "" && task.Category != opts.Category {
		return false
	}
	if opts.UpdatedGTE > 0 && task.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && task.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
