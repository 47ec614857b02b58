package engine

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/executor"
	"Concierge-Engine/internal/otp"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
)

type engineFixture struct {
	store   *task.MemoryStore
	journal *MemoryJournal
	vault   *vault.Vault
	broker  *otp.Broker
	coord   *Coordinator
}

func newEngineFixture(t *testing.T, opts ...CoordinatorOption) *engineFixture {
	t.Helper()
	store := task.NewMemoryStore()
	journal := NewMemoryJournal()
	credentialVault, err := vault.New("test-master-key", vault.NewMemoryStore())
	if err != nil {
		t.Fatalf("创建保险库失败: %v", err)
	}
	broker, err := otp.NewBroker(otp.NewMemoryStore(), otp.Config{
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("创建验证码代理失败: %v", err)
	}

	options := append([]CoordinatorOption{
		WithRetryBackoff(time.Millisecond),
		WithOTPWait(time.Second, 10*time.Millisecond),
	}, opts...)
	coord, err := NewCoordinator(store, journal, credentialVault, broker,
		executor.NewDefaultRegistry(), options...)
	if err != nil {
		t.Fatalf("创建协调器失败: %v", err)
	}
	return &engineFixture{
		store:   store,
		journal: journal,
		vault:   credentialVault,
		broker:  broker,
		coord:   coord,
	}
}

func (f *engineFixture) createTask(t *testing.T, id string, category task.Category, service string, status task.Status, params map[string]any) {
	t.Helper()
	if err := f.store.Create(context.Background(), &task.Task{
		ID:       id,
		UserID:   "u1",
		Wish:     "测试愿望",
		Category: category,
		Service:  service,
		Status:   status,
		Params:   params,
	}); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
}

func (f *engineFixture) storeCredential(t *testing.T, service string) {
	t.Helper()
	if err := f.vault.Put(context.Background(), "u1", service,
		vault.Secret{"password": "secret"}); err != nil {
		t.Fatalf("保存凭证失败: %v", err)
	}
}

func (f *engineFixture) waitForStatus(t *testing.T, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		current, err := f.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("读取任务失败: %v", err)
		}
		if current.Status == want {
			return current
		}
		if time.Now().After(deadline) {
			t.Fatalf("等待状态 %s 超时，当前 %s", want, current.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type capturingProducer struct {
	published []string
}

func (p *capturingProducer) Publish(_ context.Context, taskID string) error {
	p.published = append(p.published, taskID)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func TestExecuteCompletesWithStoredCredential(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "marketplace")
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed,
		map[string]any{"item": "一本书"})

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	current := f.waitForStatus(t, "t1", task.StatusCompleted)
	if current.Result == nil || !current.Result.Success {
		t.Fatalf("缺少成功结果: %+v", current.Result)
	}
	if !strings.HasPrefix(current.Result.ConfirmationNumber, "ORD-") {
		t.Fatalf("确认号格式不符: %s", current.Result.ConfirmationNumber)
	}

	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	wantSteps := []string{"opened_url", "logged_in", "entered_details", "confirmed", "completed"}
	if len(entries) != len(wantSteps) {
		t.Fatalf("期望 %d 条日志，得到 %d", len(wantSteps), len(entries))
	}
	for i, entry := range entries {
		if entry.Step != wantSteps[i] || entry.Outcome != StepSuccess {
			t.Fatalf("第 %d 条日志不符: %+v", i+1, entry)
		}
		if entry.Sequence != i+1 {
			t.Fatalf("日志序号不连续: %+v", entry)
		}
	}

	state, err := f.journal.GetState(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行状态失败: %v", err)
	}
	if state.FinishedAt == 0 {
		t.Fatalf("完成后应记录结束时间: %+v", state)
	}
}

func TestExecuteSuspendsForCredentialAndResumes(t *testing.T) {
	f := newEngineFixture(t)
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed, nil)

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusAwaitingCreds)

	view, err := f.coord.Status(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行进度失败: %v", err)
	}
	if !view.RequiresCredential || view.RequiredService != "marketplace" {
		t.Fatalf("挂起进度不符: %+v", view)
	}
	if len(view.CompletedSteps) != 1 || view.CompletedSteps[0] != "opened_url" {
		t.Fatalf("挂起前应完成 opened_url: %+v", view.CompletedSteps)
	}

	if err := f.coord.ProvideCredentials(context.Background(), "t1", "marketplace",
		vault.Secret{"password": "secret"}, true); err != nil {
		t.Fatalf("补充凭据失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusCompleted)

	// persist=true 时凭据写入保险库。
	ok, err := f.vault.Has(context.Background(), "u1", "marketplace")
	if err != nil || !ok {
		t.Fatalf("凭据应已持久化，得到 ok=%v err=%v", ok, err)
	}

	// 恢复后不重复已完成的步骤。
	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	successCount := map[string]int{}
	for _, entry := range entries {
		if entry.Outcome == StepSuccess {
			successCount[entry.Step]++
		}
	}
	if successCount["opened_url"] != 1 {
		t.Fatalf("opened_url 不应重跑: %+v", successCount)
	}
}

func TestProvideCredentialsServiceMismatch(t *testing.T) {
	f := newEngineFixture(t)
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed, nil)
	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusAwaitingCreds)

	err := f.coord.ProvideCredentials(context.Background(), "t1", "bank_transfer",
		vault.Secret{"password": "secret"}, false)
	if xerrors.CodeOf(err) != xerrors.CodeServiceMismatch {
		t.Fatalf("期望 SERVICE_MISMATCH，得到 %v", err)
	}
	coded, _ := xerrors.From(err)
	meta := coded.Metadata()
	if meta["required"] != "marketplace" || meta["provided"] != "bank_transfer" {
		t.Fatalf("错误元数据不符: %+v", meta)
	}

	// 任务保持挂起，仍可用正确的凭据恢复。
	current, err := f.store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	if current.Status != task.StatusAwaitingCreds {
		t.Fatalf("拒绝错误凭据后应保持挂起，得到 %s", current.Status)
	}
}

func TestProvideCredentialsRequiresSuspendedTask(t *testing.T) {
	f := newEngineFixture(t)
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusProposed, nil)

	err := f.coord.ProvideCredentials(context.Background(), "t1", "marketplace",
		vault.Secret{"password": "secret"}, false)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("期望 INVALID_STATE，得到 %v", err)
	}
}

func TestConfirmPublishesToQueue(t *testing.T) {
	producer := &capturingProducer{}
	f := newEngineFixture(t, WithProducer(producer))
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusProposed, nil)

	updated, err := f.coord.Confirm(context.Background(), "t1")
	if err != nil {
		t.Fatalf("确认失败: %v", err)
	}
	if updated.Status != task.StatusConfirmed {
		t.Fatalf("期望状态 confirmed，得到 %s", updated.Status)
	}
	if len(producer.published) != 1 || producer.published[0] != "t1" {
		t.Fatalf("任务未投递队列: %+v", producer.published)
	}
}

func TestConfirmRejectsDoubleConfirm(t *testing.T) {
	producer := &capturingProducer{}
	f := newEngineFixture(t, WithProducer(producer))
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusProposed, nil)

	if _, err := f.coord.Confirm(context.Background(), "t1"); err != nil {
		t.Fatalf("首次确认失败: %v", err)
	}
	if _, err := f.coord.Confirm(context.Background(), "t1"); !stdErrors.Is(err, ErrAlreadyExecuting) {
		t.Fatalf("重复确认应返回 ALREADY_EXECUTING，得到 %v", err)
	}
	if len(producer.published) != 1 {
		t.Fatalf("重复确认不应再次投递: %+v", producer.published)
	}
}

func TestConfirmRequiresProposal(t *testing.T) {
	f := newEngineFixture(t, WithProducer(&capturingProducer{}))
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusPending, nil)

	if _, err := f.coord.Confirm(context.Background(), "t1"); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("未提案任务确认应返回 INVALID_STATE，得到 %v", err)
	}
}

func TestStructuralFailureStopsExecution(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "marketplace")
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed,
		map[string]any{"broken_step": "entered_details"})

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	current := f.waitForStatus(t, "t1", task.StatusFailed)
	if current.ErrorCode != string(xerrors.CodeStepStructural) {
		t.Fatalf("期望错误码 STEP_STRUCTURAL，得到 %s", current.ErrorCode)
	}

	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	var steps []string
	for _, entry := range entries {
		steps = append(steps, entry.Step+":"+string(entry.Outcome))
	}
	want := []string{
		"opened_url:success",
		"logged_in:success",
		"entered_details:failure",
	}
	if len(steps) != len(want) {
		t.Fatalf("期望日志 %v，得到 %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("期望日志 %v，得到 %v", want, steps)
		}
	}
}

func TestTransientFailureRetriesAndSucceeds(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "marketplace")
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed,
		map[string]any{"glitch_step": "confirmed", "glitch_count": float64(1)})

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusCompleted)

	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	var sawRetry, sawSuccess bool
	for _, entry := range entries {
		if entry.Step == "confirmed" && entry.Outcome == StepFailure {
			sawRetry = true
		}
		if entry.Step == "confirmed" && entry.Outcome == StepSuccess {
			sawSuccess = true
		}
	}
	if !sawRetry || !sawSuccess {
		t.Fatalf("期望 confirmed 先失败后成功: %+v", entries)
	}
}

func TestTransientFailureExhaustsRetries(t *testing.T) {
	f := newEngineFixture(t, WithStepRetries(1))
	f.storeCredential(t, "marketplace")
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed,
		map[string]any{"glitch_step": "confirmed", "glitch_count": float64(5)})

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	current := f.waitForStatus(t, "t1", task.StatusFailed)
	if current.ErrorCode != string(xerrors.CodeStepTransient) {
		t.Fatalf("期望错误码 STEP_TRANSIENT，得到 %s", current.ErrorCode)
	}
}

func TestRailFallbackProducesRevisedProposal(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "rail_reservation")
	f.createTask(t, "t1", task.CategoryTravel, "rail_reservation", task.StatusConfirmed,
		map[string]any{"train": "G101", "alternate_train": "G103", "sold_out": true})

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	current := f.waitForStatus(t, "t1", task.StatusRevised)
	if !strings.Contains(current.ProposedAction, "G103") {
		t.Fatalf("修订提案应包含替代车次: %s", current.ProposedAction)
	}
	if current.Params["train"] != "G103" {
		t.Fatalf("修订参数未写回: %+v", current.Params)
	}
	if current.Params["sold_out"] != nil {
		t.Fatalf("替代提案不应继承 sold_out: %+v", current.Params)
	}

	// 回退后进度清空，确认新提案可以从头执行。
	state, err := f.journal.GetState(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行状态失败: %v", err)
	}
	if len(state.CompletedSteps) != 0 {
		t.Fatalf("回退后应清空进度: %+v", state)
	}
}

func TestBankTransferConsumesCode(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "bank_transfer")
	f.createTask(t, "t1", task.CategoryPayment, "bank_transfer", task.StatusConfirmed,
		map[string]any{"payee": "房东", "amount": "3200"})

	if _, err := f.broker.RecordCode(context.Background(), "u1", otp.SourceSMS,
		"msg-1", "bank_transfer", "654321"); err != nil {
		t.Fatalf("登记验证码失败: %v", err)
	}

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	current := f.waitForStatus(t, "t1", task.StatusCompleted)
	if !strings.HasPrefix(current.Result.ConfirmationNumber, "TRF-") {
		t.Fatalf("确认号格式不符: %s", current.Result.ConfirmationNumber)
	}

	// 验证码等待期间留下 in_progress 痕迹。
	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	var sawWait bool
	for _, entry := range entries {
		if entry.Outcome == StepInProgress && strings.Contains(entry.Detail, "验证码") {
			sawWait = true
		}
	}
	if !sawWait {
		t.Fatalf("缺少验证码等待日志: %+v", entries)
	}
}

func TestOTPTimeoutFailsTask(t *testing.T) {
	f := newEngineFixture(t, WithOTPWait(50*time.Millisecond, 10*time.Millisecond))
	f.storeCredential(t, "bank_transfer")
	f.createTask(t, "t1", task.CategoryPayment, "bank_transfer", task.StatusConfirmed, nil)

	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	current := f.waitForStatus(t, "t1", task.StatusFailed)
	if current.ErrorCode != string(xerrors.CodeOTPTimeout) {
		t.Fatalf("期望错误码 OTP_TIMEOUT，得到 %s", current.ErrorCode)
	}
}

func TestCancelBeforeExecution(t *testing.T) {
	f := newEngineFixture(t)
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusProposed, nil)

	if err := f.coord.Cancel(context.Background(), "t1"); err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusCancelled)
}

func TestCancelSuspendedTask(t *testing.T) {
	f := newEngineFixture(t)
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed, nil)
	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusAwaitingCreds)

	if err := f.coord.Cancel(context.Background(), "t1"); err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusCancelled)

	// 终态任务不再接受凭据。
	err := f.coord.ProvideCredentials(context.Background(), "t1", "marketplace",
		vault.Secret{"password": "secret"}, false)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("期望 INVALID_STATE，得到 %v", err)
	}
}

func TestUnsupportedServiceFailsTask(t *testing.T) {
	f := newEngineFixture(t)
	f.createTask(t, "t1", task.Category("astrology"), "horoscope", task.StatusConfirmed, nil)

	err := f.coord.Execute(context.Background(), "t1")
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedSvc {
		t.Fatalf("期望 UNSUPPORTED_SERVICE，得到 %v", err)
	}
	current := f.waitForStatus(t, "t1", task.StatusFailed)
	if current.ErrorCode != string(xerrors.CodeUnsupportedSvc) {
		t.Fatalf("期望错误码 UNSUPPORTED_SERVICE，得到 %s", current.ErrorCode)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	f := newEngineFixture(t)
	// 模拟重启前的现场：任务挂起在登录步骤，执行状态已落盘，在途表为空。
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusAwaitingCreds,
		map[string]any{"item": "一本书"})
	if err := f.journal.SaveState(context.Background(), &ExecutionState{
		TaskID:          "t1",
		CurrentStep:     "logged_in",
		CompletedSteps:  []string{"opened_url"},
		RemainingSteps:  []string{"logged_in", "entered_details", "confirmed", "completed"},
		RequiredService: "marketplace",
		Detail:          "等待登录凭据",
		StartedAt:       time.Now().Unix(),
	}); err != nil {
		t.Fatalf("写入执行状态失败: %v", err)
	}
	if err := f.journal.AppendLog(context.Background(), &ExecutionLogEntry{
		TaskID: "t1", Step: "opened_url", Outcome: StepSuccess,
	}); err != nil {
		t.Fatalf("写入执行日志失败: %v", err)
	}

	if err := f.coord.ProvideCredentials(context.Background(), "t1", "marketplace",
		vault.Secret{"password": "secret"}, false); err != nil {
		t.Fatalf("补充凭据失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusCompleted)

	// persist=false 的凭据只存活在本次恢复的内存中，保险库不留痕。
	ok, err := f.vault.Has(context.Background(), "u1", "marketplace")
	if err != nil {
		t.Fatalf("查询保险库失败: %v", err)
	}
	if ok {
		t.Fatalf("persist=false 的凭据不应写入保险库")
	}

	// 重启后的恢复同样不重复已完成的步骤。
	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	successCount := map[string]int{}
	for _, entry := range entries {
		if entry.Outcome == StepSuccess {
			successCount[entry.Step]++
		}
	}
	if successCount["opened_url"] != 1 {
		t.Fatalf("重启恢复不应重跑 opened_url: %+v", successCount)
	}
	if successCount["completed"] != 1 {
		t.Fatalf("恢复后应完成剩余步骤: %+v", successCount)
	}
}

func TestConfirmConcurrentLoserGetsAlreadyExecuting(t *testing.T) {
	producer := &capturingProducer{}
	f := newEngineFixture(t, WithProducer(producer))
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusProposed, nil)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Confirm(context.Background(), "t1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var confirmed, rejected int
	for err := range errs {
		switch {
		case err == nil:
			confirmed++
		case stdErrors.Is(err, ErrAlreadyExecuting):
			rejected++
		default:
			t.Fatalf("并发确认返回了意外错误: %v", err)
		}
	}
	if confirmed != 1 || rejected != 1 {
		t.Fatalf("期望一胜一负，得到 confirmed=%d rejected=%d", confirmed, rejected)
	}
	if len(producer.published) != 1 {
		t.Fatalf("并发确认只应投递一次: %+v", producer.published)
	}
}

func TestCancelOrphanedInFlightStatuses(t *testing.T) {
	// 停机后在途表为空，executing/awaiting_otp 成为孤儿状态，取消必须可达。
	for _, status := range []task.Status{task.StatusExecuting, task.StatusAwaitingOTP} {
		f := newEngineFixture(t)
		f.createTask(t, "t1", task.CategoryPurchase, "marketplace", status, nil)

		if err := f.coord.Cancel(context.Background(), "t1"); err != nil {
			t.Fatalf("取消 %s 状态的孤儿任务失败: %v", status, err)
		}
		f.waitForStatus(t, "t1", task.StatusCancelled)
	}
}

func TestShutdownInterruptKeepsTaskRunnable(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "marketplace")
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusConfirmed, nil)

	// 进程停机表现为上层 context 被取消，而不是用户取消任务。
	interrupted, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.coord.Execute(interrupted, "t1"); err != nil {
		t.Fatalf("中断处理失败: %v", err)
	}

	current, err := f.store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	if current.Status != task.StatusConfirmed {
		t.Fatalf("停机中断应退回 confirmed，得到 %s", current.Status)
	}

	// 任务没有进入终态，重新派发后正常完成。
	if err := f.coord.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("重新执行失败: %v", err)
	}
	f.waitForStatus(t, "t1", task.StatusCompleted)
}

func TestRecoverRedispatchesInterruptedTasks(t *testing.T) {
	f := newEngineFixture(t)
	f.storeCredential(t, "marketplace")
	// 停机现场：t1 死在 executing 且已完成第一步，t2 已确认但尚未被消费。
	f.createTask(t, "t1", task.CategoryPurchase, "marketplace", task.StatusExecuting,
		map[string]any{"item": "一本书"})
	if err := f.journal.SaveState(context.Background(), &ExecutionState{
		TaskID:         "t1",
		CurrentStep:    "logged_in",
		CompletedSteps: []string{"opened_url"},
		RemainingSteps: []string{"logged_in", "entered_details", "confirmed", "completed"},
		StartedAt:      time.Now().Unix(),
	}); err != nil {
		t.Fatalf("写入执行状态失败: %v", err)
	}
	if err := f.journal.AppendLog(context.Background(), &ExecutionLogEntry{
		TaskID: "t1", Step: "opened_url", Outcome: StepSuccess,
	}); err != nil {
		t.Fatalf("写入执行日志失败: %v", err)
	}
	f.createTask(t, "t2", task.CategoryPurchase, "marketplace", task.StatusConfirmed, nil)

	recovered, err := f.coord.Recover(context.Background())
	if err != nil {
		t.Fatalf("恢复扫描失败: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("期望重新派发 2 个任务，得到 %d", recovered)
	}
	f.waitForStatus(t, "t1", task.StatusCompleted)
	f.waitForStatus(t, "t2", task.StatusCompleted)

	// t1 恢复执行时不重复已完成的步骤。
	entries, err := f.coord.Log(context.Background(), "t1")
	if err != nil {
		t.Fatalf("读取执行日志失败: %v", err)
	}
	successCount := map[string]int{}
	for _, entry := range entries {
		if entry.Outcome == StepSuccess {
			successCount[entry.Step]++
		}
	}
	if successCount["opened_url"] != 1 {
		t.Fatalf("恢复不应重跑 opened_url: %+v", successCount)
	}
	if successCount["completed"] != 1 {
		t.Fatalf("恢复后应完成剩余步骤: %+v", successCount)
	}
}
