package executor

import (
	"context"
	"strings"
	"testing"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
)

func collectProgress(inv *Invocation) *[]string {
	steps := &[]string{}
	inv.Progress = func(step, _ string) {
		*steps = append(*steps, step)
	}
	return steps
}

func TestRegistryResolve(t *testing.T) {
	registry := NewDefaultRegistry()

	exec, err := registry.Resolve(task.CategoryPurchase, "marketplace")
	if err != nil {
		t.Fatalf("精确路由失败: %v", err)
	}
	if exec.ServiceName() != "marketplace" {
		t.Fatalf("期望 marketplace，得到 %s", exec.ServiceName())
	}

	// 类别内的未知服务回落到类别默认执行器。
	exec, err = registry.Resolve(task.CategoryPurchase, "unknown_shop")
	if err != nil {
		t.Fatalf("默认路由失败: %v", err)
	}
	if exec.ServiceName() != "marketplace" {
		t.Fatalf("期望回落到 marketplace，得到 %s", exec.ServiceName())
	}

	exec, err = registry.Resolve(task.CategoryVoice, "restaurant_call")
	if err != nil {
		t.Fatalf("电话路由失败: %v", err)
	}
	if exec.ServiceName() != "voice_call" {
		t.Fatalf("期望回落到 voice_call，得到 %s", exec.ServiceName())
	}

	exec, err = registry.Resolve(task.CategoryOther, "anything")
	if err != nil {
		t.Fatalf("通用路由失败: %v", err)
	}
	if exec.ServiceName() != "generic" {
		t.Fatalf("期望 generic，得到 %s", exec.ServiceName())
	}
}

func TestRegistryResolveUnsupported(t *testing.T) {
	registry := NewDefaultRegistry()
	_, err := registry.Resolve(task.Category("astrology"), "horoscope")
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedSvc {
		t.Fatalf("期望 UNSUPPORTED_SERVICE，得到 %v", err)
	}
	coded, _ := xerrors.From(err)
	meta := coded.Metadata()
	if meta["category"] != "astrology" || meta["service"] != "horoscope" {
		t.Fatalf("错误元数据不符: %+v", meta)
	}
}

func TestMarketplaceSuspendsWithoutCredential(t *testing.T) {
	exec := NewMarketplace()
	inv := &Invocation{TaskID: "t1", UserID: "u1", Params: map[string]any{}}
	steps := collectProgress(inv)

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeNeedsCredential {
		t.Fatalf("期望 needs_credential，得到 %s", outcome.Kind)
	}
	if outcome.Service != "marketplace" {
		t.Fatalf("挂起应标明目标服务，得到 %s", outcome.Service)
	}
	// 挂起点之前的步骤已完成并上报。
	if len(*steps) != 1 || (*steps)[0] != "opened_url" {
		t.Fatalf("期望只完成 opened_url，得到 %v", *steps)
	}
}

func TestMarketplaceResumeDoesNotRepeatSteps(t *testing.T) {
	exec := NewMarketplace()
	inv := &Invocation{
		TaskID:     "t1",
		UserID:     "u1",
		Params:     map[string]any{"item": "一本书"},
		Credential: vault.Secret{"password": "x"},
	}
	steps := collectProgress(inv)

	outcome := exec.Execute(context.Background(), inv, 1)
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("期望 completed，得到 %s (err=%v)", outcome.Kind, outcome.Err)
	}
	for _, step := range *steps {
		if step == "opened_url" {
			t.Fatalf("fromStep 之前的步骤不应重跑: %v", *steps)
		}
	}
	if len(*steps) != 4 {
		t.Fatalf("期望完成剩余 4 个步骤，得到 %v", *steps)
	}
	if !strings.HasPrefix(outcome.Result.ConfirmationNumber, "ORD-") {
		t.Fatalf("确认号格式不符: %s", outcome.Result.ConfirmationNumber)
	}
}

func TestTransientGlitchInjection(t *testing.T) {
	exec := NewGeneric()
	inv := &Invocation{
		TaskID: "t1",
		UserID: "u1",
		Params: map[string]any{
			"glitch_step":  "confirmed",
			"glitch_count": float64(2),
		},
	}

	// 前两次调用在 confirmed 步骤返回瞬时错误。
	for attempt := 0; attempt < 2; attempt++ {
		outcome := exec.Execute(context.Background(), inv, 0)
		if outcome.Kind != OutcomeFailed {
			t.Fatalf("第 %d 次调用期望失败，得到 %s", attempt+1, outcome.Kind)
		}
		if xerrors.CodeOf(outcome.Err) != xerrors.CodeStepTransient {
			t.Fatalf("期望 STEP_TRANSIENT，得到 %v", outcome.Err)
		}
		if !xerrors.RetryableError(outcome.Err) {
			t.Fatalf("瞬时错误应可重试")
		}
	}

	// 注入次数用尽后执行成功。
	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("期望最终成功，得到 %s (err=%v)", outcome.Kind, outcome.Err)
	}
}

func TestStructuralFaultInjection(t *testing.T) {
	exec := NewGeneric()
	inv := &Invocation{
		TaskID: "t1",
		UserID: "u1",
		Params: map[string]any{"broken_step": "entered_details"},
	}
	steps := collectProgress(inv)

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeFailed {
		t.Fatalf("期望失败，得到 %s", outcome.Kind)
	}
	if xerrors.CodeOf(outcome.Err) != xerrors.CodeStepStructural {
		t.Fatalf("期望 STEP_STRUCTURAL，得到 %v", outcome.Err)
	}
	if xerrors.RetryableError(outcome.Err) {
		t.Fatalf("结构性错误不应可重试")
	}
	for _, step := range *steps {
		if step == "entered_details" {
			t.Fatalf("失败步骤不应上报完成: %v", *steps)
		}
	}
}

func TestRailFallbackWhenSoldOut(t *testing.T) {
	exec := NewRail()
	inv := &Invocation{
		TaskID:     "t1",
		UserID:     "u1",
		Credential: vault.Secret{"password": "x"},
		Params: map[string]any{
			"train":           "G101",
			"alternate_train": "G103",
			"sold_out":        true,
		},
	}

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeFallback {
		t.Fatalf("期望 fallback，得到 %s", outcome.Kind)
	}
	if outcome.Suggestion == nil || !outcome.Suggestion.Revised {
		t.Fatalf("回退建议应标记 Revised: %+v", outcome.Suggestion)
	}
	if outcome.Suggestion.Params["train"] != "G103" {
		t.Fatalf("建议应改订替代车次: %+v", outcome.Suggestion.Params)
	}
	if outcome.Suggestion.Category != task.CategoryTravel {
		t.Fatalf("建议类别不符: %s", outcome.Suggestion.Category)
	}
}

func TestBankTransferWaitsForCode(t *testing.T) {
	exec := NewBankTransfer()
	inv := &Invocation{
		TaskID:     "t1",
		UserID:     "u1",
		Credential: vault.Secret{"password": "x"},
		Params:     map[string]any{"payee": "房东", "amount": "3200"},
	}

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeNeedsOTP {
		t.Fatalf("无验证码时期望 needs_otp，得到 %s", outcome.Kind)
	}
	if outcome.Service != "bank_transfer" {
		t.Fatalf("挂起应标明目标服务，得到 %s", outcome.Service)
	}

	// 协调器拿到验证码后从挂起边界恢复。
	inv.Code = "654321"
	outcome = exec.Execute(context.Background(), inv, 3)
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("期望 completed，得到 %s (err=%v)", outcome.Kind, outcome.Err)
	}
	if !strings.HasPrefix(outcome.Result.ConfirmationNumber, "TRF-") {
		t.Fatalf("确认号格式不符: %s", outcome.Result.ConfirmationNumber)
	}
}

func TestCancellationAtStepBoundary(t *testing.T) {
	exec := NewGeneric()
	var done int
	inv := &Invocation{
		TaskID: "t1",
		UserID: "u1",
		Params: map[string]any{},
		Progress: func(string, string) {
			done++
		},
		Cancelled: func() bool {
			// 第一个步骤完成后请求取消。
			return done >= 1
		},
	}

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("期望 cancelled，得到 %s", outcome.Kind)
	}
	if done != 1 {
		t.Fatalf("取消只在步骤边界生效，期望完成 1 步，得到 %d", done)
	}
}

func TestVoiceCallExtractsNumberFromDescription(t *testing.T) {
	exec := NewVoice()
	inv := &Invocation{
		TaskID: "t1",
		UserID: "u1",
		Params: map[string]any{
			"description": "帮我给牙科诊所打电话预约，电话 03-1234-5678",
			"purpose":     "reservation",
		},
	}
	steps := collectProgress(inv)

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("期望 completed，得到 %s (err=%v)", outcome.Kind, outcome.Err)
	}
	if len(*steps) != 4 {
		t.Fatalf("期望完成 4 步，得到 %v", *steps)
	}
	if outcome.Result.Details["phone_number"] != "+81312345678" {
		t.Fatalf("号码未归一化: %+v", outcome.Result.Details)
	}
	if !strings.HasPrefix(outcome.Result.ConfirmationNumber, "CALL-") {
		t.Fatalf("确认号格式不符: %s", outcome.Result.ConfirmationNumber)
	}
}

func TestVoiceCallFailsWithoutNumber(t *testing.T) {
	exec := NewVoice()
	inv := &Invocation{
		TaskID: "t1",
		UserID: "u1",
		Params: map[string]any{"description": "帮我打个电话问问"},
	}
	steps := collectProgress(inv)

	outcome := exec.Execute(context.Background(), inv, 0)
	if outcome.Kind != OutcomeFailed {
		t.Fatalf("期望 failed，得到 %s", outcome.Kind)
	}
	if xerrors.CodeOf(outcome.Err) != xerrors.CodeInvalidArgument {
		t.Fatalf("期望 INVALID_ARGUMENT，得到 %v", outcome.Err)
	}
	if len(*steps) != 0 {
		t.Fatalf("解析失败前不应有步骤完成: %v", *steps)
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	cases := map[string]string{
		"03-1234-5678":     "+81312345678",
		"+81 90 1234 5678": "+819012345678",
		"0312345678":       "+81312345678",
		"":                 "",
	}
	for raw, want := range cases {
		if got := normalizePhoneNumber(raw); got != want {
			t.Fatalf("normalizePhoneNumber(%q) = %q，期望 %q", raw, got, want)
		}
	}
}
