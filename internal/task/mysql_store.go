package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "Concierge-Engine/internal/errors"
)

// MySQLStore 使用 MySQL 记录任务状态，是生产环境的权威存储。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreWithDB 复用既有连接池，供同库的其他存储共享。
func NewMySQLStoreWithDB(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "db 不能为空")
	}
	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS tasks (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL DEFAULT '',
        wish TEXT NOT NULL,
        category VARCHAR(32) NOT NULL DEFAULT 'other',
        service VARCHAR(64) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        proposed_action TEXT,
        params TEXT,
        result TEXT,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_tasks_status (status),
        INDEX idx_tasks_user (user_id),
        INDEX idx_tasks_updated (updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 tasks 表失败")
	}
	return nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	task.CreatedAt = now
	task.UpdatedAt = now

	params, err := marshalJSON(task.Params)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务参数失败")
	}

	const stmt = `INSERT INTO tasks
        (id, user_id, wish, category, service, status, proposed_action, params, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.UserID,
		task.Wish,
		task.Category,
		task.Service,
		task.Status,
		task.ProposedAction,
		params,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	const stmt = `SELECT id, user_id, wish, category, service, status, proposed_action, params, result, last_error, error_code, created_at, updated_at
        FROM tasks WHERE id = ?`
	return scanTask(s.db.QueryRowContext(ctx, stmt, id))
}

// Transition 以条件更新实现状态机迁移，并回读最新记录。
func (s *MySQLStore) Transition(ctx context.Context, id string, from []Status, to Status) (*Task, error) {
	if !IsValidStatus(to) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标状态非法")
	}
	if len(from) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "迁移来源状态不能为空")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	stmt := `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (` + placeholders + `)`

	args := make([]any, 0, len(from)+3)
	args = append(args, to, time.Now().Unix(), id)
	for _, status := range from {
		args = append(args, status)
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		if IsTerminal(current.Status) {
			return current, ErrTaskTerminal
		}
		return current, xerrors.New(xerrors.CodeInvalidState, "",
			xerrors.WithMetadata("status", string(current.Status)),
			xerrors.WithMetadata("target", string(to)))
	}
	return current, nil
}

// ApplyProposal 写入提案内容并迁移到 proposed/revised。
func (s *MySQLStore) ApplyProposal(ctx context.Context, id string, proposal Proposal) (*Task, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(current.Status) {
		return current, ErrTaskTerminal
	}

	status := StatusProposed
	if proposal.Revised || current.Status != StatusPending {
		status = StatusRevised
	}
	category := current.Category
	if proposal.Category != "" {
		category = proposal.Category
	}
	service := current.Service
	if proposal.Service != "" {
		service = proposal.Service
	}
	params := current.Params
	if proposal.Params != nil {
		params = proposal.Params
	}
	encoded, err := marshalJSON(params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务参数失败")
	}

	const stmt = `UPDATE tasks SET status = ?, proposed_action = ?, category = ?, service = ?, params = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, stmt, status, proposal.Summary, category, service, encoded, time.Now().Unix(), id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提案失败")
	}
	return s.Get(ctx, id)
}

// MarkCompleted 记录成功结果。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string, result ExecutionResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行结果失败")
	}
	const stmt = `UPDATE tasks SET status = ?, result = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusCompleted, string(encoded), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	return requireAffected(res)
}

// MarkFailed 标记任务失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error {
	const stmt = `UPDATE tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusFailed, lastError, string(code), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败状态出错")
	}
	return requireAffected(res)
}

// List 返回符合过滤条件的任务列表。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, wish, category, service, status, proposed_action, params, result, last_error, error_code, created_at, updated_at FROM tasks`)
	where, args := buildListWhere(opts)
	sb.WriteString(where)
	if opts.Order == SortByUpdatedAsc {
		sb.WriteString(` ORDER BY updated_at ASC, created_at ASC, id ASC`)
	} else {
		sb.WriteString(` ORDER BY updated_at DESC, created_at DESC, id DESC`)
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	var results []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务列表失败")
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	var sb strings.Builder
	sb.WriteString(`SELECT status, COUNT(*) FROM tasks`)
	where, args := buildListWhere(opts)
	sb.WriteString(where)
	sb.WriteString(` GROUP BY status`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务失败")
	}
	defer rows.Close()

	stats := TaskStats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取统计结果失败")
		}
		for i := 0; i < count; i++ {
			stats.count(&Task{Status: status})
		}
	}
	if err := rows.Err(); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB 暴露底层连接池，供同库的流水、凭证、验证码存储复用。
func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

func buildListWhere(opts ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if len(opts.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Statuses)), ", ")
		clauses = append(clauses, "status IN ("+placeholders+")")
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.UpdatedGTE > 0 {
		clauses = append(clauses, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		clauses = append(clauses, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var proposedAction, params, result, lastError sql.NullString

	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Wish,
		&task.Category,
		&task.Service,
		&task.Status,
		&proposedAction,
		&params,
		&result,
		&lastError,
		&task.ErrorCode,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}

	task.ProposedAction = proposedAction.String
	task.LastError = lastError.String

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &task.Params); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务参数失败")
		}
	}
	if result.Valid && result.String != "" {
		var decoded ExecutionResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行结果失败")
		}
		task.Result = &decoded
	}
	return &task, nil
}

func marshalJSON(value map[string]any) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
