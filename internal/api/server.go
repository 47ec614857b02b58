package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"Concierge-Engine/internal/engine"
	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/observability/metrics"
	"Concierge-Engine/internal/otp"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
)

// Server 负责暴露 REST 接口，供外部驱动任务生命周期。
type Server struct {
	addr        string
	tasks       *task.Service
	coordinator *engine.Coordinator
	vault       *vault.Vault
	otp         *otp.Broker
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, coordinator *engine.Coordinator, credentialVault *vault.Vault, codeBroker *otp.Broker) *Server {
	return &Server{
		addr:        addr,
		tasks:       tasks,
		coordinator: coordinator,
		vault:       credentialVault,
		otp:         codeBroker,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", instrument("intake", s.handleIntake))
	mux.HandleFunc("GET /api/v1/tasks", instrument("list_tasks", s.handleListTasks))
	mux.HandleFunc("GET /api/v1/tasks/{id}", instrument("get_task", s.handleGetTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/confirm", instrument("confirm", s.handleConfirm))
	mux.HandleFunc("POST /api/v1/tasks/{id}/credentials", instrument("provide_credentials", s.handleProvideCredentials))
	mux.HandleFunc("GET /api/v1/tasks/{id}/status", instrument("status", s.handleStatus))
	mux.HandleFunc("GET /api/v1/tasks/{id}/log", instrument("log", s.handleLog))
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", instrument("cancel", s.handleCancel))
	mux.HandleFunc("GET /api/v1/stats", instrument("stats", s.handleStats))
	mux.HandleFunc("POST /api/v1/credentials", instrument("store_credential", s.handleStoreCredential))
	mux.HandleFunc("GET /api/v1/credentials", instrument("list_credentials", s.handleListCredentials))
	mux.HandleFunc("DELETE /api/v1/credentials", instrument("delete_credential", s.handleDeleteCredential))
	mux.HandleFunc("POST /api/v1/otp", instrument("record_otp", s.handleRecordOTP))
	mux.HandleFunc("GET /api/v1/otp", instrument("lookup_otp", s.handleLookupOTP))
	return mux
}

// handleIntake 受理一个新的愿望。
func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req task.IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	created, err := s.tasks.Intake(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleListTasks 按条件列出任务。
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts := listOptionsFromQuery(r)
	results, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleGetTask 返回单个任务。
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	current, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// handleConfirm 确认提案并触发异步执行。
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行协调器未初始化"))
		return
	}
	updated, err := s.coordinator.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, updated)
}

type provideCredentialsRequest struct {
	Service string            `json:"service"`
	Secret  map[string]string `json:"secret"`
	Persist bool              `json:"persist"`
}

// handleProvideCredentials 为挂起的任务补充凭据并恢复执行。
func (s *Server) handleProvideCredentials(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行协调器未初始化"))
		return
	}
	var req provideCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if len(req.Secret) == 0 {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "凭据内容不能为空"))
		return
	}
	if err := s.coordinator.ProvideCredentials(r.Context(), r.PathValue("id"),
		req.Service, vault.Secret(req.Secret), req.Persist); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resuming"})
}

// handleStatus 返回任务的执行进度快照。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行协调器未初始化"))
		return
	}
	view, err := s.coordinator.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleLog 返回任务的执行日志。
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行协调器未初始化"))
		return
	}
	entries, err := s.coordinator.Log(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCancel 取消任务。
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行协调器未初始化"))
		return
	}
	if err := s.coordinator.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleStats 返回任务统计。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	stats, err := s.tasks.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type storeCredentialRequest struct {
	UserID  string            `json:"user_id"`
	Service string            `json:"service"`
	Secret  map[string]string `json:"secret"`
}

// handleStoreCredential 将凭据写入保险库。响应不回显任何明文。
func (s *Server) handleStoreCredential(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "凭据保险库未初始化"))
		return
	}
	var req storeCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if err := s.vault.Put(r.Context(), req.UserID, req.Service, vault.Secret(req.Secret)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"user_id": req.UserID,
		"service": req.Service,
	})
}

// handleListCredentials 列出某用户已存服务名，不含凭据内容。
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "凭据保险库未初始化"))
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 user_id 参数"))
		return
	}
	summaries, err := s.vault.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleDeleteCredential 删除指定凭据。
func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "凭据保险库未初始化"))
		return
	}
	userID := r.URL.Query().Get("user_id")
	service := r.URL.Query().Get("service")
	if userID == "" || service == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 user_id 或 service 参数"))
		return
	}
	if err := s.vault.Delete(r.Context(), userID, service); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordOTPRequest struct {
	UserID    string `json:"user_id"`
	Source    string `json:"source"`
	SourceRef string `json:"source_ref,omitempty"`
	Service   string `json:"service,omitempty"`
	Code      string `json:"code"`
}

// handleRecordOTP 登记一条新提取的验证码。
func (s *Server) handleRecordOTP(w http.ResponseWriter, r *http.Request) {
	if s.otp == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "验证码代理未初始化"))
		return
	}
	var req recordOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	record, err := s.otp.RecordCode(r.Context(), req.UserID, otp.Source(req.Source),
		req.SourceRef, req.Service, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleLookupOTP 查询最新的可用验证码，不消费。
func (s *Server) handleLookupOTP(w http.ResponseWriter, r *http.Request) {
	if s.otp == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "验证码代理未初始化"))
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 user_id 参数"))
		return
	}
	record, err := s.otp.Lookup(r.Context(), userID, r.URL.Query().Get("service"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// listOptionsFromQuery 把查询参数转换为列表过滤条件。
func listOptionsFromQuery(r *http.Request) []task.ListOption {
	query := r.URL.Query()
	var opts []task.ListOption
	if userID := query.Get("user_id"); userID != "" {
		opts = append(opts, task.WithUser(userID))
	}
	if category := query.Get("category"); category != "" {
		opts = append(opts, task.WithCategory(task.Category(category)))
	}
	if statuses := query["status"]; len(statuses) > 0 {
		converted := make([]task.Status, 0, len(statuses))
		for _, status := range statuses {
			converted = append(converted, task.Status(status))
		}
		opts = append(opts, task.WithStatuses(converted...))
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	return opts
}

// errorBody 是错误响应的统一负载。
type errorBody struct {
	Error struct {
		Kind    string            `json:"kind"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// writeError 按错误码映射 HTTP 状态并输出统一错误负载。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidState, xerrors.CodeAlreadyExecuting,
		xerrors.CodeServiceMismatch, xerrors.CodeConflict,
		task.CodeTaskConflict, task.CodeTaskTerminal:
		status = http.StatusConflict
	case xerrors.CodeUnsupportedSvc:
		status = http.StatusUnprocessableEntity
	case xerrors.CodeTimeout, xerrors.CodeOTPTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}

	var body errorBody
	body.Error.Kind = string(code)
	body.Error.Message = err.Error()
	var coded *xerrors.Error
	if errors.As(err, &coded) && len(coded.Metadata()) > 0 {
		body.Error.Details = coded.Metadata()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 捕获写出的状态码，供指标上报使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器附加请求指标采集。
func instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
