package engine

import (
	"context"
	"log/slog"

	"Concierge-Engine/internal/task"
	"Concierge-Engine/pkg/logger"
)

// recoverBatchSize 是恢复扫描单次翻页的任务数。
const recoverBatchSize = 100

// Recover 在进程启动时找回因停机中断的任务并重新派发。
// executing 与 awaiting_otp 是停机遗留的孤儿状态：没有在途记录，
// 先退回 confirmed 再走正常派发路径；confirmed 可能还没被消费，
// 重复派发是无害的，Execute 的 CAS 会拒绝第二次领取。
// awaiting_credentials 不在扫描范围内，它由 ProvideCredentials 恢复。
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	recovered := 0
	offset := 0
	for {
		batch, err := c.store.List(ctx, task.ListOptions{
			Statuses: []task.Status{
				task.StatusConfirmed, task.StatusExecuting, task.StatusAwaitingOTP,
			},
			Limit:  recoverBatchSize,
			Offset: offset,
		})
		if err != nil {
			return recovered, err
		}
		for _, current := range batch {
			c.mu.Lock()
			_, busy := c.inflight[current.ID]
			c.mu.Unlock()
			if busy {
				continue
			}
			if current.Status != task.StatusConfirmed {
				if _, err := c.store.Transition(ctx, current.ID,
					[]task.Status{current.Status}, task.StatusConfirmed); err != nil {
					logger.L().Error("回退中断任务失败",
						slog.Any("error", err), slog.String("task_id", current.ID))
					continue
				}
			}
			c.dispatch(ctx, current.ID)
			recovered++
			logger.Audit().Info("重新派发停机中断的任务",
				slog.String("task_id", current.ID),
				slog.String("service", current.Service),
			)
		}
		if len(batch) < recoverBatchSize {
			return recovered, nil
		}
		offset += len(batch)
	}
}

// dispatch 把已确认的任务交给执行通道：有队列走队列，否则直接执行。
func (c *Coordinator) dispatch(ctx context.Context, taskID string) {
	if c.producer != nil {
		if err := c.producer.Publish(ctx, taskID); err != nil {
			logger.L().Error("任务投递确认队列失败",
				slog.Any("error", err), slog.String("task_id", taskID))
		}
		return
	}
	go func() {
		if err := c.Execute(context.Background(), taskID); err != nil {
			logger.L().Error("直接执行任务失败",
				slog.Any("error", err), slog.String("task_id", taskID))
		}
	}()
}
