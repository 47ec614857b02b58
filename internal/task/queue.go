package task

import (
	"context"
)

// Handler 处理确认队列中投递的任务 ID。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责向确认队列投递已确认的任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从确认队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
