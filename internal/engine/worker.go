package engine

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/pkg/logger"
)

// Worker 从确认队列消费任务并交给协调器执行。
type Worker struct {
	coordinator *Coordinator
	consumer    task.Consumer
	workerCount int
	logger      *slog.Logger
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) WorkerOption {
	return func(w *Worker) {
		if workers > 0 {
			w.workerCount = workers
		}
	}
}

// WithWorkerLogger 指定日志输出。
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker 构造 Worker。
func NewWorker(coordinator *Coordinator, consumer task.Consumer, opts ...WorkerOption) *Worker {
	w := &Worker{
		coordinator: coordinator,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	return w
}

// Start 启动消费循环，阻塞直到 ctx 取消。
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置确认队列消费者")
	}
	if w.coordinator == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置执行协调器")
	}
	return w.consumer.Consume(ctx, w.workerCount, w.handle)
}

func (w *Worker) handle(ctx context.Context, taskID string) error {
	err := w.coordinator.Execute(ctx, taskID)
	if err == nil {
		return nil
	}
	// 过期消息：任务被抢先执行、已取消或状态已前移，确认即可。
	switch {
	case stdErrors.Is(err, ErrAlreadyExecuting),
		stdErrors.Is(err, task.ErrTaskNotFound),
		stdErrors.Is(err, task.ErrTaskTerminal),
		xerrors.CodeOf(err) == xerrors.CodeInvalidState,
		xerrors.CodeOf(err) == xerrors.CodeUnsupportedSvc:
		w.logDebug("跳过确认消息",
			slog.String("task_id", taskID),
			slog.String("reason", err.Error()),
		)
		return nil
	}
	logger.L().Error("执行确认任务失败", slog.Any("error", err), slog.String("task_id", taskID))
	return err
}

func (w *Worker) logDebug(msg string, attrs ...slog.Attr) {
	if w.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	w.logger.Debug(msg, args...)
}
