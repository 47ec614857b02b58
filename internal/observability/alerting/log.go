package alerting

import (
	"context"
	"log/slog"

	"Concierge-Engine/pkg/logger"
)

// LogDispatcher 把告警事件写入审计日志，用于未接入外部渠道的部署。
type LogDispatcher struct{}

// NewLogDispatcher 创建日志告警派发器。
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

// Notify 实现 Dispatcher 接口。
func (d *LogDispatcher) Notify(_ context.Context, event Event) error {
	logger.Audit().Warn("告警事件",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("service", event.Service),
		slog.String("step", event.Step),
		slog.String("message", event.Message),
	)
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
