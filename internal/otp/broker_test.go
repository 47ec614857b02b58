package otp

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "Concierge-Engine/internal/errors"
)

func newTestBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	broker, err := NewBroker(NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("创建验证码代理失败: %v", err)
	}
	return broker
}

func TestRecordCodeValidation(t *testing.T) {
	broker := newTestBroker(t, Config{})

	if _, err := broker.RecordCode(context.Background(), "u1", SourceSMS, "", "bank", "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("空验证码应拒绝，得到 %v", err)
	}
	if _, err := broker.RecordCode(context.Background(), "", SourceSMS, "", "bank", "123456"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("空 userID 应拒绝，得到 %v", err)
	}
	if _, err := broker.RecordCode(context.Background(), "u1", Source("pigeon"), "", "bank", "123456"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("未知渠道应拒绝，得到 %v", err)
	}
}

func TestWaitForCodeConsumesOnce(t *testing.T) {
	broker := newTestBroker(t, Config{PollInterval: 10 * time.Millisecond})

	if _, err := broker.RecordCode(context.Background(), "u1", SourceSMS, "msg-1", "bank", "654321"); err != nil {
		t.Fatalf("登记验证码失败: %v", err)
	}

	code, err := broker.WaitForCode(context.Background(), "u1", "bank", time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待验证码失败: %v", err)
	}
	if code != "654321" {
		t.Fatalf("期望验证码 654321，得到 %s", code)
	}

	// 同一验证码不能被取走两次。
	if _, err := broker.WaitForCode(context.Background(), "u1", "bank",
		50*time.Millisecond, 10*time.Millisecond); !stdErrors.Is(err, ErrOTPTimeout) {
		t.Fatalf("二次等待应超时，得到 %v", err)
	}
}

func TestWaitForCodeTimeout(t *testing.T) {
	broker := newTestBroker(t, Config{})

	start := time.Now()
	_, err := broker.WaitForCode(context.Background(), "u1", "bank", 50*time.Millisecond, 10*time.Millisecond)
	if !stdErrors.Is(err, ErrOTPTimeout) {
		t.Fatalf("期望 ErrOTPTimeout，得到 %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("超时等待耗时异常: %v", elapsed)
	}
}

func TestWaitForCodeContextCancel(t *testing.T) {
	broker := newTestBroker(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := broker.WaitForCode(ctx, "u1", "bank", time.Minute, 10*time.Millisecond)
	if !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，得到 %v", err)
	}
}

func TestRecordCodeDedupWindow(t *testing.T) {
	broker := newTestBroker(t, Config{DedupWindow: time.Minute})

	if _, err := broker.RecordCode(context.Background(), "u1", SourceMail, "mail-1", "bank", "111111"); err != nil {
		t.Fatalf("登记验证码失败: %v", err)
	}
	if _, err := broker.RecordCode(context.Background(), "u1", SourceMail, "mail-2", "bank", "222222"); err != nil {
		t.Fatalf("登记验证码失败: %v", err)
	}

	// 去重窗口内后到的验证码取代旧的。
	record, err := broker.Lookup(context.Background(), "u1", "bank")
	if err != nil {
		t.Fatalf("查询验证码失败: %v", err)
	}
	if record.Code != "222222" {
		t.Fatalf("期望最新验证码 222222，得到 %s", record.Code)
	}

	code, err := broker.WaitForCode(context.Background(), "u1", "bank", time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待验证码失败: %v", err)
	}
	if code != "222222" {
		t.Fatalf("期望消费最新验证码，得到 %s", code)
	}
	if _, err := broker.WaitForCode(context.Background(), "u1", "bank",
		50*time.Millisecond, 10*time.Millisecond); !stdErrors.Is(err, ErrOTPTimeout) {
		t.Fatalf("旧验证码不应残留，得到 %v", err)
	}
}

func TestServiceFallbackMatching(t *testing.T) {
	broker := newTestBroker(t, Config{})

	// 渠道无法判定归属的验证码留空 service，按用户兜底匹配。
	if _, err := broker.RecordCode(context.Background(), "u1", SourceSMS, "msg-1", "", "333333"); err != nil {
		t.Fatalf("登记验证码失败: %v", err)
	}
	code, err := broker.WaitForCode(context.Background(), "u1", "bank", time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待验证码失败: %v", err)
	}
	if code != "333333" {
		t.Fatalf("期望兜底匹配 333333，得到 %s", code)
	}
}

func TestPruneRemovesExpired(t *testing.T) {
	store := NewMemoryStore()
	broker, err := NewBroker(store, Config{TTL: time.Millisecond})
	if err != nil {
		t.Fatalf("创建验证码代理失败: %v", err)
	}

	if _, err := broker.RecordCode(context.Background(), "u1", SourceSMS, "", "bank", "444444"); err != nil {
		t.Fatalf("登记验证码失败: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	removed, err := broker.Prune(context.Background())
	if err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if removed != 1 {
		t.Fatalf("期望清理 1 条记录，得到 %d", removed)
	}
}
