package task

// TaskStats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Proposed  int `json:"proposed"`
	Confirmed int `json:"confirmed"`
	Executing int `json:"executing"`
	Awaiting  int `json:"awaiting"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Counts 以状态为键返回计数快照，供指标导出使用。
func (s TaskStats) Counts() map[string]uint64 {
	return map[string]uint64{
		"pending":   uint64(s.Pending),
		"proposed":  uint64(s.Proposed),
		"confirmed": uint64(s.Confirmed),
		"executing": uint64(s.Executing),
		"awaiting":  uint64(s.Awaiting),
		"completed": uint64(s.Completed),
		"failed":    uint64(s.Failed),
		"cancelled": uint64(s.Cancelled),
	}
}

func (s *TaskStats) count(task *Task) {
	s.Total++
	switch task.Status {
	case StatusPending:
		s.Pending++
	case StatusProposed, StatusRevised:
		s.Proposed++
	case StatusConfirmed:
		s.Confirmed++
	case StatusExecuting:
		s.Executing++
	case StatusAwaitingCreds, StatusAwaitingOTP:
		s.Awaiting++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
}
