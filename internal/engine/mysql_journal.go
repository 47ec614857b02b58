package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "Concierge-Engine/internal/errors"
)

// MySQLJournal 使用 MySQL 保存执行状态与执行日志。
type MySQLJournal struct {
	db *sql.DB
}

// NewMySQLJournal 基于既有连接池构造存储并初始化表结构。
func NewMySQLJournal(db *sql.DB) (*MySQLJournal, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "db 不能为空")
	}
	journal := &MySQLJournal{db: db}
	if err := journal.initSchema(); err != nil {
		return nil, err
	}
	return journal, nil
}

func (j *MySQLJournal) initSchema() error {
	const stateSchema = `CREATE TABLE IF NOT EXISTS execution_states (
        task_id VARCHAR(64) PRIMARY KEY,
        current_step VARCHAR(64) DEFAULT '',
        completed_steps TEXT,
        remaining_steps TEXT,
        required_service VARCHAR(64) DEFAULT '',
        detail TEXT,
        started_at BIGINT NOT NULL DEFAULT 0,
        finished_at BIGINT NOT NULL DEFAULT 0
)`
	if _, err := j.db.Exec(stateSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 execution_states 表失败")
	}
	const logSchema = `CREATE TABLE IF NOT EXISTS execution_logs (
        task_id VARCHAR(64) NOT NULL,
        seq INT NOT NULL,
        step VARCHAR(64) NOT NULL,
        outcome VARCHAR(16) NOT NULL,
        detail TEXT,
        artifact VARCHAR(255) DEFAULT '',
        ts BIGINT NOT NULL,
        PRIMARY KEY (task_id, seq)
)`
	if _, err := j.db.Exec(logSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 execution_logs 表失败")
	}
	return nil
}

// SaveState 覆盖写入执行状态。
func (j *MySQLJournal) SaveState(ctx context.Context, state *ExecutionState) error {
	if state == nil || state.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行状态缺少任务 ID")
	}
	completed, err := marshalSteps(state.CompletedSteps)
	if err != nil {
		return err
	}
	remaining, err := marshalSteps(state.RemainingSteps)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO execution_states
        (task_id, current_step, completed_steps, remaining_steps, required_service, detail, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        current_step = VALUES(current_step),
        completed_steps = VALUES(completed_steps),
        remaining_steps = VALUES(remaining_steps),
        required_service = VALUES(required_service),
        detail = VALUES(detail),
        started_at = VALUES(started_at),
        finished_at = VALUES(finished_at)`
	if _, err := j.db.ExecContext(ctx, stmt,
		state.TaskID, state.CurrentStep, completed, remaining,
		state.RequiredService, state.Detail, state.StartedAt, state.FinishedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行状态失败")
	}
	return nil
}

// GetState 返回执行状态，不存在时返回 nil。
func (j *MySQLJournal) GetState(ctx context.Context, taskID string) (*ExecutionState, error) {
	const stmt = `SELECT task_id, current_step, completed_steps, remaining_steps, required_service, detail, started_at, finished_at
        FROM execution_states WHERE task_id = ?`
	var (
		state     ExecutionState
		completed sql.NullString
		remaining sql.NullString
		detail    sql.NullString
	)
	err := j.db.QueryRowContext(ctx, stmt, taskID).Scan(
		&state.TaskID,
		&state.CurrentStep,
		&completed,
		&remaining,
		&state.RequiredService,
		&detail,
		&state.StartedAt,
		&state.FinishedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行状态失败")
	}
	state.Detail = detail.String
	if state.CompletedSteps, err = unmarshalSteps(completed); err != nil {
		return nil, err
	}
	if state.RemainingSteps, err = unmarshalSteps(remaining); err != nil {
		return nil, err
	}
	return &state, nil
}

// AppendLog 在事务内分配下一个序号并追加日志条目。
func (j *MySQLJournal) AppendLog(ctx context.Context, entry *ExecutionLogEntry) error {
	if entry == nil || entry.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "日志条目缺少任务 ID")
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_logs WHERE task_id = ? FOR UPDATE`,
		entry.TaskID,
	).Scan(&next); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "分配日志序号失败")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO execution_logs (task_id, seq, step, outcome, detail, artifact, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID, next, entry.Step, entry.Outcome, entry.Detail, entry.Artifact, entry.Timestamp,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行日志失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交执行日志失败")
	}
	entry.Sequence = next
	return nil
}

// ListLog 返回任务的全部日志条目，按序号升序。
func (j *MySQLJournal) ListLog(ctx context.Context, taskID string) ([]*ExecutionLogEntry, error) {
	const stmt = `SELECT task_id, seq, step, outcome, detail, artifact, ts
        FROM execution_logs WHERE task_id = ? ORDER BY seq ASC`
	rows, err := j.db.QueryContext(ctx, stmt, taskID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行日志失败")
	}
	defer rows.Close()

	var entries []*ExecutionLogEntry
	for rows.Next() {
		var (
			entry  ExecutionLogEntry
			detail sql.NullString
		)
		if err := rows.Scan(
			&entry.TaskID,
			&entry.Sequence,
			&entry.Step,
			&entry.Outcome,
			&detail,
			&entry.Artifact,
			&entry.Timestamp,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取执行日志失败")
		}
		entry.Detail = detail.String
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行日志失败")
	}
	return entries, nil
}

// Close 由共享连接池的持有方负责关闭。
func (j *MySQLJournal) Close() error {
	return nil
}

func marshalSteps(steps []string) (string, error) {
	if len(steps) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化步骤列表失败")
	}
	return string(raw), nil
}

func unmarshalSteps(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" || raw.String == "[]" {
		return nil, nil
	}
	var steps []string
	if err := json.Unmarshal([]byte(raw.String), &steps); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤列表失败")
	}
	return steps, nil
}

var _ Journal = (*MySQLJournal)(nil)
