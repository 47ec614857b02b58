package task

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "Concierge-Engine/internal/errors"
)

func newStoredTask(t *testing.T, store *MemoryStore, id string, status Status) *Task {
	t.Helper()
	created := &Task{
		ID:       id,
		UserID:   "u1",
		Wish:     "买一本书",
		Category: CategoryPurchase,
		Service:  "marketplace",
		Status:   status,
	}
	if err := store.Create(context.Background(), created); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	return created
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusPending)

	err := store.Create(context.Background(), &Task{ID: "t1", Wish: "再来一次"})
	if !stdErrors.Is(err, ErrTaskConflict) {
		t.Fatalf("期望 ErrTaskConflict，得到 %v", err)
	}
}

func TestMemoryStoreTransition(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusProposed)

	updated, err := store.Transition(context.Background(), "t1",
		[]Status{StatusProposed, StatusRevised}, StatusConfirmed)
	if err != nil {
		t.Fatalf("合法迁移失败: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Fatalf("期望状态 confirmed，得到 %s", updated.Status)
	}

	// 当前状态不在 from 集合内时拒绝迁移。
	if _, err := store.Transition(context.Background(), "t1",
		[]Status{StatusProposed}, StatusExecuting); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("期望 INVALID_STATE，得到 %v", err)
	}

	current, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	if current.Status != StatusConfirmed {
		t.Fatalf("非法迁移不应改变状态，得到 %s", current.Status)
	}
}

func TestMemoryStoreTerminalIsReadOnly(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusExecuting)
	if err := store.MarkCompleted(context.Background(), "t1", ExecutionResult{Success: true}); err != nil {
		t.Fatalf("标记完成失败: %v", err)
	}

	if _, err := store.Transition(context.Background(), "t1",
		[]Status{StatusCompleted}, StatusExecuting); !stdErrors.Is(err, ErrTaskTerminal) {
		t.Fatalf("终态迁移应返回 ErrTaskTerminal，得到 %v", err)
	}
	if _, err := store.ApplyProposal(context.Background(), "t1",
		Proposal{Summary: "改个主意"}); !stdErrors.Is(err, ErrTaskTerminal) {
		t.Fatalf("终态写提案应返回 ErrTaskTerminal，得到 %v", err)
	}
}

func TestMemoryStoreApplyProposal(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusPending)

	first, err := store.ApplyProposal(context.Background(), "t1", Proposal{
		Summary:  "在电商平台下单",
		Category: CategoryPurchase,
		Service:  "marketplace",
		Params:   map[string]any{"item": "书"},
	})
	if err != nil {
		t.Fatalf("写入提案失败: %v", err)
	}
	if first.Status != StatusProposed {
		t.Fatalf("首次提案应进入 proposed，得到 %s", first.Status)
	}

	second, err := store.ApplyProposal(context.Background(), "t1", Proposal{
		Summary: "改订后续车次",
		Revised: true,
	})
	if err != nil {
		t.Fatalf("写入修订提案失败: %v", err)
	}
	if second.Status != StatusRevised {
		t.Fatalf("修订提案应进入 revised，得到 %s", second.Status)
	}
	if second.ProposedAction != "改订后续车次" {
		t.Fatalf("提案摘要未更新: %s", second.ProposedAction)
	}
	// 修订未携带 Params 时保留原有参数。
	if second.Params["item"] != "书" {
		t.Fatalf("修订不应清空既有参数: %+v", second.Params)
	}
}

func TestMemoryStoreMarkFailed(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusExecuting)

	if err := store.MarkFailed(context.Background(), "t1",
		xerrors.CodeStepStructural, "目标页面结构已变化"); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	current, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	if current.Status != StatusFailed {
		t.Fatalf("期望状态 failed，得到 %s", current.Status)
	}
	if current.ErrorCode != string(xerrors.CodeStepStructural) {
		t.Fatalf("期望错误码 STEP_STRUCTURAL，得到 %s", current.ErrorCode)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusProposed)
	newStoredTask(t, store, "t2", StatusCompleted)
	other := &Task{ID: "t3", UserID: "u2", Wish: "转账", Category: CategoryPayment, Status: StatusProposed}
	if err := store.Create(context.Background(), other); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	results, err := store.List(context.Background(), ListOptions{UserID: "u1"})
	if err != nil {
		t.Fatalf("列表查询失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("期望 2 条记录，得到 %d", len(results))
	}

	results, err = store.List(context.Background(), ListOptions{
		Statuses: []Status{StatusProposed},
		Category: CategoryPayment,
	})
	if err != nil {
		t.Fatalf("列表查询失败: %v", err)
	}
	if len(results) != 1 || results[0].ID != "t3" {
		t.Fatalf("过滤结果不符: %+v", results)
	}
}

func TestMemoryStoreGetReturnsClone(t *testing.T) {
	store := NewMemoryStore()
	newStoredTask(t, store, "t1", StatusPending)

	first, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	first.Status = StatusFailed

	second, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	if second.Status != StatusPending {
		t.Fatalf("修改返回值不应影响存储: %s", second.Status)
	}
}
