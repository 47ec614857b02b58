package engine

import (
	"context"
	"sync"
	"time"

	xerrors "Concierge-Engine/internal/errors"
)

// MemoryJournal 以内存方式保存执行状态与日志，主要用于开发与测试。
type MemoryJournal struct {
	mu     sync.RWMutex
	states map[string]*ExecutionState
	logs   map[string][]*ExecutionLogEntry
}

// NewMemoryJournal 创建 MemoryJournal。
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		states: make(map[string]*ExecutionState),
		logs:   make(map[string][]*ExecutionLogEntry),
	}
}

// SaveState 覆盖写入执行状态。
func (m *MemoryJournal) SaveState(_ context.Context, state *ExecutionState) error {
	if state == nil || state.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态缺少任务 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.TaskID] = cloneState(state)
	return nil
}

// GetState 返回执行状态，不存在时返回 nil。
func (m *MemoryJournal) GetState(_ context.Context, taskID string) (*ExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneState(m.states[taskID]), nil
}

// AppendLog 追加日志条目并分配递增序号。
func (m *MemoryJournal) AppendLog(_ context.Context, entry *ExecutionLogEntry) error {
	if entry == nil || entry.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "日志条目缺少任务 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	copied.Sequence = len(m.logs[entry.TaskID]) + 1
	if copied.Timestamp == 0 {
		copied.Timestamp = time.Now().Unix()
	}
	m.logs[entry.TaskID] = append(m.logs[entry.TaskID], &copied)
	entry.Sequence = copied.Sequence
	return nil
}

// ListLog 返回任务的全部日志条目，按序号升序。
func (m *MemoryJournal) ListLog(_ context.Context, taskID string) ([]*ExecutionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[taskID]
	results := make([]*ExecutionLogEntry, 0, len(entries))
	for _, entry := range entries {
		copied := *entry
		results = append(results, &copied)
	}
	return results, nil
}

// Close 对内存实现无需操作。
func (m *MemoryJournal) Close() error {
	return nil
}

var _ Journal = (*MemoryJournal)(nil)
