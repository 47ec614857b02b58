package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/pkg/logger"
)

// CachedStoreConfig 描述任务读缓存的连接参数。
type CachedStoreConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// CachedStore 在权威存储之上叠加一层按任务 ID 的 Redis 读缓存。
// 缓存只是投影：未命中、解码失败或 Redis 不可用时一律回源，
// 写操作先落权威存储再使缓存失效，重启后缓存为空也不影响正确性。
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStore 包装权威存储并连接 Redis。
func NewCachedStore(inner Store, cfg CachedStoreConfig) (*CachedStore, error) {
	if inner == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "权威存储不能为空")
	}
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接任务缓存 Redis 失败")
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl}, nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("concierge:task:%s", id)
}

// Get 先查缓存，未命中时回源并写回。
func (c *CachedStore) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := c.client.Get(ctx, cacheKey(id)).Result()
	if err == nil {
		var cached Task
		if decodeErr := json.Unmarshal([]byte(raw), &cached); decodeErr == nil {
			return &cached, nil
		}
		// 缓存内容损坏时丢弃并回源。
		_ = c.client.Del(ctx, cacheKey(id)).Err()
	} else if !stdErrors.Is(err, redis.Nil) {
		logger.L().Warn("任务缓存读取失败，回源权威存储",
			slog.Any("error", err), slog.String("task_id", id))
	}

	task, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, task)
	return task, nil
}

// Create 透传写入并预热缓存。
func (c *CachedStore) Create(ctx context.Context, task *Task) error {
	if err := c.inner.Create(ctx, task); err != nil {
		return err
	}
	c.fill(ctx, task)
	return nil
}

// Transition 透传迁移并刷新缓存。
func (c *CachedStore) Transition(ctx context.Context, id string, from []Status, to Status) (*Task, error) {
	updated, err := c.inner.Transition(ctx, id, from, to)
	if updated != nil {
		c.fill(ctx, updated)
	} else {
		c.invalidate(ctx, id)
	}
	return updated, err
}

// ApplyProposal 透传提案并刷新缓存。
func (c *CachedStore) ApplyProposal(ctx context.Context, id string, proposal Proposal) (*Task, error) {
	updated, err := c.inner.ApplyProposal(ctx, id, proposal)
	if updated != nil {
		c.fill(ctx, updated)
	} else {
		c.invalidate(ctx, id)
	}
	return updated, err
}

// MarkCompleted 透传并使缓存失效。
func (c *CachedStore) MarkCompleted(ctx context.Context, id string, result ExecutionResult) error {
	err := c.inner.MarkCompleted(ctx, id, result)
	c.invalidate(ctx, id)
	return err
}

// MarkFailed 透传并使缓存失效。
func (c *CachedStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error {
	err := c.inner.MarkFailed(ctx, id, code, lastError)
	c.invalidate(ctx, id)
	return err
}

// List 列表查询不走缓存，始终回源。
func (c *CachedStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	return c.inner.List(ctx, opts)
}

// Stats 统计不走缓存，始终回源。
func (c *CachedStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	return c.inner.Stats(ctx, opts)
}

// Close 关闭缓存连接与权威存储。
func (c *CachedStore) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if innerErr := c.inner.Close(); innerErr != nil {
		return innerErr
	}
	return err
}

func (c *CachedStore) fill(ctx context.Context, task *Task) {
	if task == nil {
		return
	}
	encoded, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(task.ID), encoded, c.ttl).Err(); err != nil {
		logger.L().Warn("任务缓存写入失败",
			slog.Any("error", err), slog.String("task_id", task.ID))
	}
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		logger.L().Warn("任务缓存失效失败",
			slog.Any("error", err), slog.String("task_id", id))
	}
}

var _ Store = (*CachedStore)(nil)
