package engine

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/executor"
	"Concierge-Engine/internal/observability/alerting"
	"Concierge-Engine/internal/otp"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
	"Concierge-Engine/pkg/logger"
)

// ErrAlreadyExecuting 表示任务已有一次在途执行。
var ErrAlreadyExecuting = xerrors.New(xerrors.CodeAlreadyExecuting, "任务已在执行中")

// inflight 代表一次持有执行锁的执行器调用。
// 锁跨越挂起与恢复：从确认开始，到终态或回退提案才释放。
type inflight struct {
	taskID   string
	userID   string
	service  string
	category task.Category
	exec     executor.Executor
	steps    []string
	params   map[string]any

	fromStep int
	retries  int

	credential vault.Secret
	code       string

	cancelled atomic.Bool
	// suspended 与 otpCancel 由 Coordinator.mu 保护。
	suspended bool
	otpCancel context.CancelFunc
}

// Coordinator 驱动任务生命周期的执行阶段：
// 消费确认、调用执行器、记录日志、处理挂起与恢复。
type Coordinator struct {
	store    task.Store
	journal  Journal
	vault    *vault.Vault
	otp      *otp.Broker
	registry *executor.Registry
	producer task.Producer
	alerter  alerting.Dispatcher

	maxStepRetries int
	backoff        time.Duration
	otpWait        time.Duration
	otpPoll        time.Duration

	mu       sync.Mutex
	inflight map[string]*inflight
}

// CoordinatorOption 定义可选的协调器配置。
type CoordinatorOption func(*Coordinator)

// WithProducer 配置确认队列的生产端，确认后的任务经由队列派发。
func WithProducer(producer task.Producer) CoordinatorOption {
	return func(c *Coordinator) {
		c.producer = producer
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.alerter = dispatcher
	}
}

// WithStepRetries 设置单步瞬时错误的最大重试次数。
func WithStepRetries(retries int) CoordinatorOption {
	return func(c *Coordinator) {
		if retries >= 0 {
			c.maxStepRetries = retries
		}
	}
}

// WithRetryBackoff 设置步骤重试前的退避时长。
func WithRetryBackoff(backoff time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// WithOTPWait 设置验证码等待的超时与轮询间隔。
func WithOTPWait(wait, poll time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if wait > 0 {
			c.otpWait = wait
		}
		if poll > 0 {
			c.otpPoll = poll
		}
	}
}

// NewCoordinator 构造执行协调器。
func NewCoordinator(store task.Store, journal Journal, credentialVault *vault.Vault, codeBroker *otp.Broker, registry *executor.Registry, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任务存储")
	}
	if journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行日志存储")
	}
	if credentialVault == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置凭据保险库")
	}
	if codeBroker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置验证码代理")
	}
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行器注册表")
	}
	c := &Coordinator{
		store:          store,
		journal:        journal,
		vault:          credentialVault,
		otp:            codeBroker,
		registry:       registry,
		maxStepRetries: 2,
		backoff:        500 * time.Millisecond,
		otpWait:        time.Minute,
		otpPoll:        5 * time.Second,
		inflight:       make(map[string]*inflight),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Confirm 将已提案的任务推进到 confirmed 并投递到确认队列。
// 存在在途执行时返回 ALREADY_EXECUTING。
func (c *Coordinator) Confirm(ctx context.Context, taskID string) (*task.Task, error) {
	c.mu.Lock()
	_, busy := c.inflight[taskID]
	c.mu.Unlock()
	if busy {
		return nil, ErrAlreadyExecuting
	}

	current, err := c.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case task.StatusConfirmed, task.StatusExecuting, task.StatusAwaitingCreds, task.StatusAwaitingOTP:
		return nil, ErrAlreadyExecuting
	}

	updated, err := c.store.Transition(ctx, taskID,
		[]task.Status{task.StatusProposed, task.StatusRevised}, task.StatusConfirmed)
	if err != nil {
		// 两个并发确认会竞争这次 CAS，输家看到的已是对方推进后的状态。
		if xerrors.CodeOf(err) == xerrors.CodeInvalidState {
			if latest, getErr := c.store.Get(ctx, taskID); getErr == nil {
				switch latest.Status {
				case task.StatusConfirmed, task.StatusExecuting, task.StatusAwaitingCreds, task.StatusAwaitingOTP:
					return nil, ErrAlreadyExecuting
				}
			}
		}
		return nil, err
	}
	logger.Audit().Info("任务已确认",
		slog.String("task_id", taskID),
		slog.String("service", updated.Service),
	)

	if c.producer != nil {
		if err := c.producer.Publish(ctx, taskID); err != nil {
			return nil, xerrors.Wrap(task.CodeTaskPublish, err,
				fmt.Sprintf("任务 %s 投递确认队列失败", taskID))
		}
		return updated, nil
	}
	go func() {
		if err := c.Execute(context.Background(), taskID); err != nil {
			logger.L().Error("直接执行任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		}
	}()
	return updated, nil
}

// Execute 领取一个已确认任务并驱动执行器走完全部步骤。
// 由队列消费端调用；同一任务同时只允许一次在途执行。
func (c *Coordinator) Execute(ctx context.Context, taskID string) error {
	current, err := c.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	entry, err := c.acquire(current)
	if err != nil {
		return err
	}

	if _, err := c.store.Transition(ctx, taskID,
		[]task.Status{task.StatusConfirmed}, task.StatusExecuting); err != nil {
		c.release(taskID)
		return err
	}

	if err := c.prepare(ctx, entry); err != nil {
		c.release(taskID)
		return err
	}
	return c.run(ctx, entry)
}

// acquire 占用任务的执行锁并解析执行器。
func (c *Coordinator) acquire(current *task.Task) (*inflight, error) {
	exec, err := c.registry.Resolve(current.Category, current.Service)
	if err != nil {
		c.failTask(context.Background(), current.ID, current.Service, "", err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[current.ID]; busy {
		return nil, ErrAlreadyExecuting
	}
	entry := &inflight{
		taskID:   current.ID,
		userID:   current.UserID,
		service:  current.Service,
		category: current.Category,
		exec:     exec,
		steps:    exec.RequiredSteps(),
		params:   current.Params,
	}
	c.inflight[current.ID] = entry
	return entry, nil
}

func (c *Coordinator) release(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, taskID)
}

// prepare 恢复历史进度、预取保险库凭据并初始化执行状态。
func (c *Coordinator) prepare(ctx context.Context, entry *inflight) error {
	state, err := c.journal.GetState(ctx, entry.taskID)
	if err != nil {
		return err
	}
	if state != nil && state.FinishedAt == 0 && len(state.CompletedSteps) > 0 {
		// 进程重启后的幂等恢复：已完成的步骤不再重跑。
		entry.fromStep = len(state.CompletedSteps)
		if entry.fromStep > len(entry.steps) {
			entry.fromStep = len(entry.steps)
		}
	}

	if entry.exec.RequiresLogin() && len(entry.credential) == 0 {
		secret, err := c.vault.Get(ctx, entry.userID, entry.service)
		switch {
		case err == nil:
			entry.credential = secret
		case stdErrors.Is(err, vault.ErrCredentialNotFound):
			// 无存量凭据，执行器会在登录步骤边界挂起。
		case xerrors.CodeOf(err) == xerrors.CodeDecryptionFailed:
			c.failTask(ctx, entry.taskID, entry.service, c.currentStep(entry), err)
			return err
		default:
			return err
		}
	}

	fresh := &ExecutionState{
		TaskID:         entry.taskID,
		CurrentStep:    c.currentStep(entry),
		CompletedSteps: append([]string(nil), entry.steps[:entry.fromStep]...),
		RemainingSteps: append([]string(nil), entry.steps[entry.fromStep:]...),
		StartedAt:      time.Now().Unix(),
	}
	if state != nil && state.StartedAt > 0 {
		fresh.StartedAt = state.StartedAt
	}
	return c.journal.SaveState(ctx, fresh)
}

func (c *Coordinator) currentStep(entry *inflight) string {
	if entry.fromStep < len(entry.steps) {
		return entry.steps[entry.fromStep]
	}
	return ""
}

// run 反复调用执行器直到收尾：完成、失败、取消、回退，
// 或因等待凭据而挂起（保持执行锁，等待 ProvideCredentials）。
func (c *Coordinator) run(ctx context.Context, entry *inflight) error {
	for {
		inv := &executor.Invocation{
			TaskID:     entry.taskID,
			UserID:     entry.userID,
			Params:     entry.params,
			Credential: entry.credential,
			Code:       entry.code,
			Progress:   c.progressSink(ctx, entry),
			Cancelled:  entry.cancelled.Load,
		}
		outcome := entry.exec.Execute(ctx, inv, entry.fromStep)

		switch outcome.Kind {
		case executor.OutcomeCompleted:
			return c.finishCompleted(ctx, entry, outcome.Result)
		case executor.OutcomeCancelled:
			return c.finishCancelled(ctx, entry, task.StatusExecuting)
		case executor.OutcomeNeedsCredential:
			return c.suspendForCredential(ctx, entry, outcome.Service)
		case executor.OutcomeNeedsOTP:
			retry, err := c.awaitCode(ctx, entry, outcome.Service)
			if err != nil || !retry {
				return err
			}
		case executor.OutcomeFallback:
			return c.finishFallback(ctx, entry, outcome.Suggestion)
		case executor.OutcomeFailed:
			retry, err := c.handleStepFailure(ctx, entry, outcome.Err)
			if err != nil || !retry {
				return err
			}
		default:
			err := xerrors.New(xerrors.CodeStepStructural,
				fmt.Sprintf("执行器返回了未知的收尾类型 %s", outcome.Kind))
			c.failTask(ctx, entry.taskID, entry.service, c.currentStep(entry), err)
			c.release(entry.taskID)
			return err
		}
	}
}

// progressSink 返回执行日志的写入回调：每完成一个步骤推进一次进度。
func (c *Coordinator) progressSink(ctx context.Context, entry *inflight) func(step, detail string) {
	return func(step, detail string) {
		entry.retries = 0
		entry.fromStep++
		if err := c.journal.AppendLog(ctx, &ExecutionLogEntry{
			TaskID:  entry.taskID,
			Step:    step,
			Outcome: StepSuccess,
			Detail:  detail,
		}); err != nil {
			logger.L().Error("写入执行日志失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
		}
		if err := c.journal.SaveState(ctx, &ExecutionState{
			TaskID:         entry.taskID,
			CurrentStep:    c.currentStep(entry),
			CompletedSteps: append([]string(nil), entry.steps[:entry.fromStep]...),
			RemainingSteps: append([]string(nil), entry.steps[entry.fromStep:]...),
			Detail:         detail,
			StartedAt:      c.startedAt(ctx, entry.taskID),
		}); err != nil {
			logger.L().Error("写入执行状态失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
		}
	}
}

func (c *Coordinator) startedAt(ctx context.Context, taskID string) int64 {
	state, err := c.journal.GetState(ctx, taskID)
	if err != nil || state == nil || state.StartedAt == 0 {
		return time.Now().Unix()
	}
	return state.StartedAt
}

func (c *Coordinator) finishCompleted(ctx context.Context, entry *inflight, result *task.ExecutionResult) error {
	if result == nil {
		result = &task.ExecutionResult{Success: true}
	}
	if err := c.store.MarkCompleted(ctx, entry.taskID, *result); err != nil {
		c.release(entry.taskID)
		return err
	}
	c.saveFinishedState(ctx, entry, result.Message)
	logger.Audit().Info("任务执行完成",
		slog.String("task_id", entry.taskID),
		slog.String("service", entry.service),
		slog.String("confirmation", result.ConfirmationNumber),
	)
	c.release(entry.taskID)
	return nil
}

func (c *Coordinator) finishCancelled(ctx context.Context, entry *inflight, from task.Status) error {
	if _, err := c.store.Transition(ctx, entry.taskID,
		[]task.Status{from}, task.StatusCancelled); err != nil && !stdErrors.Is(err, task.ErrTaskTerminal) {
		c.release(entry.taskID)
		return err
	}
	c.saveFinishedState(ctx, entry, "任务已取消")
	logger.Audit().Info("任务已取消",
		slog.String("task_id", entry.taskID),
		slog.String("service", entry.service),
	)
	c.release(entry.taskID)
	return nil
}

// interruptExecution 处理进程停机打断的执行：任务退回 confirmed 等待重新派发，
// 已落盘的执行日志保证下次执行不重复已完成的步骤。写入用独立 context，
// 因为触发中断的正是上层 context 的取消。
func (c *Coordinator) interruptExecution(entry *inflight, from task.Status) error {
	ctx := context.Background()
	if _, err := c.store.Transition(ctx, entry.taskID,
		[]task.Status{from}, task.StatusConfirmed); err != nil {
		c.release(entry.taskID)
		return err
	}
	c.saveSuspendedState(ctx, entry, "", "执行被停机打断，等待重新派发")
	logger.Audit().Info("执行被停机打断",
		slog.String("task_id", entry.taskID),
		slog.String("service", entry.service),
		slog.String("step", c.currentStep(entry)),
	)
	c.release(entry.taskID)
	return nil
}

// suspendForCredential 在登录步骤边界挂起，保持执行锁等待用户补充凭据。
func (c *Coordinator) suspendForCredential(ctx context.Context, entry *inflight, service string) error {
	if service == "" {
		service = entry.service
	}
	if _, err := c.store.Transition(ctx, entry.taskID,
		[]task.Status{task.StatusExecuting}, task.StatusAwaitingCreds); err != nil {
		c.release(entry.taskID)
		return err
	}
	if err := c.journal.AppendLog(ctx, &ExecutionLogEntry{
		TaskID:  entry.taskID,
		Step:    c.currentStep(entry),
		Outcome: StepInProgress,
		Detail:  fmt.Sprintf("等待 %s 的登录凭据", service),
	}); err != nil {
		logger.L().Error("写入执行日志失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
	c.saveSuspendedState(ctx, entry, service, "等待登录凭据")

	c.mu.Lock()
	entry.suspended = true
	c.mu.Unlock()
	logger.Audit().Info("执行挂起等待凭据",
		slog.String("task_id", entry.taskID),
		slog.String("service", service),
	)
	return nil
}

// awaitCode 在确认步骤边界执行有界的验证码等待。
// 返回 retry=true 表示拿到验证码，应继续调用执行器。
func (c *Coordinator) awaitCode(ctx context.Context, entry *inflight, service string) (bool, error) {
	if service == "" {
		service = entry.service
	}
	if _, err := c.store.Transition(ctx, entry.taskID,
		[]task.Status{task.StatusExecuting}, task.StatusAwaitingOTP); err != nil {
		c.release(entry.taskID)
		return false, err
	}
	if err := c.journal.AppendLog(ctx, &ExecutionLogEntry{
		TaskID:  entry.taskID,
		Step:    c.currentStep(entry),
		Outcome: StepInProgress,
		Detail:  fmt.Sprintf("等待 %s 的一次性验证码", service),
	}); err != nil {
		logger.L().Error("写入执行日志失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
	c.saveSuspendedState(ctx, entry, service, "等待一次性验证码")

	waitCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	entry.otpCancel = cancel
	c.mu.Unlock()

	code, err := c.otp.WaitForCode(waitCtx, entry.userID, service, c.otpWait, c.otpPoll)

	c.mu.Lock()
	entry.otpCancel = nil
	c.mu.Unlock()
	cancel()

	if err != nil {
		if entry.cancelled.Load() {
			return false, c.finishCancelled(ctx, entry, task.StatusAwaitingOTP)
		}
		if stdErrors.Is(err, context.Canceled) {
			// otpCancel 只在用户取消时触发，这里的取消来自进程停机。
			return false, c.interruptExecution(entry, task.StatusAwaitingOTP)
		}
		if stdErrors.Is(err, otp.ErrOTPTimeout) {
			c.failTask(ctx, entry.taskID, service, c.currentStep(entry), err)
			c.release(entry.taskID)
			return false, nil
		}
		c.failTask(ctx, entry.taskID, service, c.currentStep(entry), err)
		c.release(entry.taskID)
		return false, err
	}

	entry.code = code
	if _, err := c.store.Transition(ctx, entry.taskID,
		[]task.Status{task.StatusAwaitingOTP}, task.StatusExecuting); err != nil {
		c.release(entry.taskID)
		return false, err
	}
	return true, nil
}

// finishFallback 将执行器的替代建议写回任务，任务回到待确认的 revised 状态。
func (c *Coordinator) finishFallback(ctx context.Context, entry *inflight, suggestion *task.Proposal) error {
	if suggestion == nil {
		err := xerrors.New(xerrors.CodeStepStructural, "执行器返回了空的回退建议")
		c.failTask(ctx, entry.taskID, entry.service, c.currentStep(entry), err)
		c.release(entry.taskID)
		return err
	}
	suggestion.Revised = true
	if _, err := c.store.ApplyProposal(ctx, entry.taskID, *suggestion); err != nil {
		c.release(entry.taskID)
		return err
	}
	if err := c.journal.AppendLog(ctx, &ExecutionLogEntry{
		TaskID:  entry.taskID,
		Step:    c.currentStep(entry),
		Outcome: StepInProgress,
		Detail:  fmt.Sprintf("回退建议: %s", suggestion.Summary),
	}); err != nil {
		logger.L().Error("写入执行日志失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
	// 新动作从头执行，清空进度但保留日志。
	if err := c.journal.SaveState(ctx, &ExecutionState{
		TaskID: entry.taskID,
		Detail: suggestion.Summary,
	}); err != nil {
		logger.L().Error("写入执行状态失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
	logger.Audit().Info("任务回退为新提案",
		slog.String("task_id", entry.taskID),
		slog.String("summary", suggestion.Summary),
	)
	c.release(entry.taskID)
	return nil
}

// handleStepFailure 区分瞬时与结构性错误：前者退避后重试，后者立即终局。
func (c *Coordinator) handleStepFailure(ctx context.Context, entry *inflight, stepErr error) (bool, error) {
	if stepErr == nil {
		stepErr = xerrors.New(xerrors.CodeStepStructural, "执行器未报告失败原因")
	}
	if stdErrors.Is(stepErr, context.Canceled) || stdErrors.Is(stepErr, context.DeadlineExceeded) {
		if entry.cancelled.Load() {
			return false, c.finishCancelled(ctx, entry, task.StatusExecuting)
		}
		// 上层 context 取消来自进程停机，不是用户取消：
		// 任务退回 confirmed，重启后的恢复扫描会重新派发。
		return false, c.interruptExecution(entry, task.StatusExecuting)
	}

	step := c.currentStep(entry)
	if xerrors.RetryableError(stepErr) && entry.retries < c.maxStepRetries {
		entry.retries++
		logger.L().Warn("步骤瞬时失败，准备重试",
			slog.String("task_id", entry.taskID),
			slog.String("step", step),
			slog.Int("attempt", entry.retries),
			slog.Any("error", stepErr),
		)
		if err := c.journal.AppendLog(ctx, &ExecutionLogEntry{
			TaskID:  entry.taskID,
			Step:    step,
			Outcome: StepFailure,
			Detail:  fmt.Sprintf("瞬时失败，第 %d 次重试: %v", entry.retries, stepErr),
		}); err != nil {
			logger.L().Error("写入执行日志失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
		}
		select {
		case <-ctx.Done():
			if entry.cancelled.Load() {
				return false, c.finishCancelled(ctx, entry, task.StatusExecuting)
			}
			return false, c.interruptExecution(entry, task.StatusExecuting)
		case <-time.After(c.backoff):
		}
		return true, nil
	}

	if err := c.journal.AppendLog(ctx, &ExecutionLogEntry{
		TaskID:  entry.taskID,
		Step:    step,
		Outcome: StepFailure,
		Detail:  stepErr.Error(),
	}); err != nil {
		logger.L().Error("写入执行日志失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
	c.failTask(ctx, entry.taskID, entry.service, step, stepErr)
	c.release(entry.taskID)
	return false, nil
}

// failTask 写入终态失败并派发告警。
func (c *Coordinator) failTask(ctx context.Context, taskID, service, step string, cause error) {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = xerrors.CodeStepStructural
	}
	if err := c.store.MarkFailed(ctx, taskID, code, cause.Error()); err != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", taskID))
	}
	if err := c.journal.SaveState(ctx, &ExecutionState{
		TaskID:     taskID,
		Detail:     cause.Error(),
		StartedAt:  c.startedAt(ctx, taskID),
		FinishedAt: time.Now().Unix(),
	}); err != nil {
		logger.L().Error("写入执行状态失败", slog.Any("error", err), slog.String("task_id", taskID))
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", taskID),
		slog.String("service", service),
		slog.String("step", step),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
	)
	c.emitAlert(ctx, taskID, service, step, code, cause)
}

func (c *Coordinator) emitAlert(ctx context.Context, taskID, service, step string, code xerrors.Code, cause error) {
	if c.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     taskID,
		Service:    service,
		Step:       step,
		OccurredAt: time.Now(),
	}
	if err := c.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", taskID),
			slog.String("step", step),
		)
	}
}

func (c *Coordinator) saveSuspendedState(ctx context.Context, entry *inflight, service, detail string) {
	if err := c.journal.SaveState(ctx, &ExecutionState{
		TaskID:          entry.taskID,
		CurrentStep:     c.currentStep(entry),
		CompletedSteps:  append([]string(nil), entry.steps[:entry.fromStep]...),
		RemainingSteps:  append([]string(nil), entry.steps[entry.fromStep:]...),
		RequiredService: service,
		Detail:          detail,
		StartedAt:       c.startedAt(ctx, entry.taskID),
	}); err != nil {
		logger.L().Error("写入执行状态失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
}

func (c *Coordinator) saveFinishedState(ctx context.Context, entry *inflight, detail string) {
	if err := c.journal.SaveState(ctx, &ExecutionState{
		TaskID:         entry.taskID,
		CompletedSteps: append([]string(nil), entry.steps[:entry.fromStep]...),
		Detail:         detail,
		StartedAt:      c.startedAt(ctx, entry.taskID),
		FinishedAt:     time.Now().Unix(),
	}); err != nil {
		logger.L().Error("写入执行状态失败", slog.Any("error", err), slog.String("task_id", entry.taskID))
	}
}
