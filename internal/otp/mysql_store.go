package otp

import (
	"context"
	"database/sql"
	stdErrors "errors"

	xerrors "Concierge-Engine/internal/errors"
)

// MySQLStore 使用 MySQL 保存验证码记录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于既有连接池构造存储并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
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
	const schema = `CREATE TABLE IF NOT EXISTS otp_codes (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        source VARCHAR(16) NOT NULL,
        source_ref VARCHAR(255) DEFAULT '',
        service VARCHAR(64) DEFAULT '',
        code VARCHAR(16) NOT NULL,
        extracted_at BIGINT NOT NULL,
        expires_at BIGINT NOT NULL,
        used TINYINT(1) NOT NULL DEFAULT 0,
        INDEX idx_otp_lookup (user_id, service, used, expires_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 otp_codes 表失败")
	}
	return nil
}

// Save 保存记录，去重窗口内同 (user, service, source) 的未用旧记录先删除。
func (s *MySQLStore) Save(ctx context.Context, record *Record, dedupAfter int64) error {
	const dedup = `DELETE FROM otp_codes
        WHERE user_id = ? AND service = ? AND source = ? AND used = 0 AND extracted_at >= ?`
	if _, err := s.db.ExecContext(ctx, dedup, record.UserID, record.Service, record.Source, dedupAfter); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理重复验证码失败")
	}

	const stmt = `INSERT INTO otp_codes
        (id, user_id, source, source_ref, service, code, extracted_at, expires_at, used)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID, record.UserID, record.Source, record.SourceRef,
		record.Service, record.Code, record.ExtractedAt, record.ExpiresAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入验证码失败")
	}
	return nil
}

// Consume 原子地取走最新匹配记录：先选中候选，再以 used=0 条件更新，
// 更新失败说明被并发消费，重试换下一条。
func (s *MySQLStore) Consume(ctx context.Context, userID, service string, now int64) (*Record, error) {
	for attempt := 0; attempt < 3; attempt++ {
		record, err := s.Latest(ctx, userID, service, now)
		if err != nil || record == nil {
			return nil, err
		}
		const claim = `UPDATE otp_codes SET used = 1 WHERE id = ? AND used = 0`
		res, err := s.db.ExecContext(ctx, claim, record.ID)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记验证码已用失败")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
		}
		if affected == 1 {
			record.Used = true
			return record, nil
		}
	}
	return nil, nil
}

// Latest 返回最新的未用未过期记录。精确匹配 service 优先，其次 service 未知的记录。
func (s *MySQLStore) Latest(ctx context.Context, userID, service string, now int64) (*Record, error) {
	const stmt = `SELECT id, user_id, source, source_ref, service, code, extracted_at, expires_at, used
        FROM otp_codes
        WHERE user_id = ? AND used = 0 AND expires_at > ? AND service IN (?, '')
        ORDER BY (service = ?) DESC, extracted_at DESC
        LIMIT 1`
	var record Record
	err := s.db.QueryRowContext(ctx, stmt, userID, now, service, service).Scan(
		&record.ID,
		&record.UserID,
		&record.Source,
		&record.SourceRef,
		&record.Service,
		&record.Code,
		&record.ExtractedAt,
		&record.ExpiresAt,
		&record.Used,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询验证码失败")
	}
	return &record, nil
}

// Prune 清理过期记录。
func (s *MySQLStore) Prune(ctx context.Context, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理过期验证码失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return int(affected), nil
}

// Close 由共享连接池的持有方负责关闭。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
