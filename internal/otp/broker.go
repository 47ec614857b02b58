package otp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/pkg/logger"
)

// Source 表示验证码的提取渠道。
type Source string

const (
	SourceMail  Source = "mail"
	SourceSMS   Source = "sms"
	SourceVoice Source = "voice"
)

// Record 是一条已提取的一次性验证码。
// Service 可以为空：提取时无法判定归属的验证码留待查询时兜底匹配。
type Record struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Source      Source `json:"source"`
	SourceRef   string `json:"source_ref"`
	Service     string `json:"service,omitempty"`
	Code        string `json:"code"`
	ExtractedAt int64  `json:"extracted_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Used        bool   `json:"used"`
}

// ErrOTPTimeout 表示等待验证码超时。与存储故障严格区分，
// 调用方据此决定是提示用户重试还是报告系统异常。
var ErrOTPTimeout = xerrors.New(xerrors.CodeOTPTimeout, "")

// Store 抽象验证码记录的持久化。
// Consume 必须原子地把匹配记录标记为已用后返回，保证同一验证码不会被两个调用方取走。
type Store interface {
	Save(ctx context.Context, record *Record, dedupAfter int64) error
	Consume(ctx context.Context, userID, service string, now int64) (*Record, error)
	Latest(ctx context.Context, userID, service string, now int64) (*Record, error)
	Prune(ctx context.Context, now int64) (int, error)
	Close() error
}

// Config 控制验证码的有效期与等待参数。
type Config struct {
	TTL          time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
	DedupWindow  time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Minute
	}
}

// Broker 汇聚多渠道提取的验证码，并提供有界等待原语。
type Broker struct {
	store Store
	cfg   Config
}

// NewBroker 构造验证码代理。
func NewBroker(store Store, cfg Config) (*Broker, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "验证码存储不能为空")
	}
	cfg.applyDefaults()
	return &Broker{store: store, cfg: cfg}, nil
}

// RecordCode 保存一条新提取的验证码。
// 去重窗口内同 (service, source) 的未用记录由最新一条取代，而不是累积重复。
func (b *Broker) RecordCode(ctx context.Context, userID string, source Source, sourceRef, service, code string) (*Record, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "验证码不能为空")
	}
	if userID = strings.TrimSpace(userID); userID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "userID 不能为空")
	}
	switch source {
	case SourceMail, SourceSMS, SourceVoice:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的验证码渠道")
	}

	now := time.Now()
	record := &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Source:      source,
		SourceRef:   sourceRef,
		Service:     strings.TrimSpace(service),
		Code:        code,
		ExtractedAt: now.Unix(),
		ExpiresAt:   now.Add(b.cfg.TTL).Unix(),
	}
	if err := b.store.Save(ctx, record, now.Add(-b.cfg.DedupWindow).Unix()); err != nil {
		return nil, err
	}
	logger.Audit().Info("验证码已登记",
		slog.String("user_id", userID),
		slog.String("source", string(source)),
		slog.String("service", record.Service),
	)
	return record, nil
}

// WaitForCode 轮询等待可用的验证码，是系统内唯一的定时阻塞原语。
// 命中时原子地标记已用并返回；超过 timeout 返回 ErrOTPTimeout；
// ctx 取消（任务被取消）时立即返回 ctx.Err()。
func (b *Broker) WaitForCode(ctx context.Context, userID, service string, timeout, pollInterval time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.cfg.WaitTimeout
	}
	if pollInterval <= 0 {
		pollInterval = b.cfg.PollInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		record, err := b.store.Consume(ctx, userID, service, time.Now().Unix())
		if err != nil {
			return "", err
		}
		if record != nil {
			logger.L().Info("验证码已获取",
				slog.String("user_id", userID),
				slog.String("service", service),
				slog.String("source", string(record.Source)),
			)
			return record.Code, nil
		}
		if time.Now().After(deadline) {
			logger.L().Warn("等待验证码超时",
				slog.String("user_id", userID),
				slog.String("service", service),
			)
			return "", ErrOTPTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Lookup 返回最新的未用未过期验证码，不消费。供外部查询接口使用。
func (b *Broker) Lookup(ctx context.Context, userID, service string) (*Record, error) {
	record, err := b.store.Latest(ctx, userID, service, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "没有可用的验证码")
	}
	return record, nil
}

// Prune 清理过期记录，由守护进程周期性调用。
func (b *Broker) Prune(ctx context.Context) (int, error) {
	return b.store.Prune(ctx, time.Now().Unix())
}
