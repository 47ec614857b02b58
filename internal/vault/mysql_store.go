package vault

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "Concierge-Engine/internal/errors"
)

// MySQLStore 使用 MySQL 保存凭证密文。
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
	const schema = `CREATE TABLE IF NOT EXISTS credentials (
        user_id VARCHAR(64) NOT NULL,
        service VARCHAR(64) NOT NULL,
        sealed VARBINARY(4096) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        PRIMARY KEY (user_id, service)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 credentials 表失败")
	}
	return nil
}

// Upsert 写入或覆盖密文。ON DUPLICATE KEY 保证同键写入串行化为 last-write-wins。
func (s *MySQLStore) Upsert(ctx context.Context, entry Entry) error {
	const stmt = `INSERT INTO credentials (user_id, service, sealed, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE sealed = VALUES(sealed), updated_at = VALUES(updated_at)`
	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx, stmt, entry.UserID, entry.Service, entry.Sealed, now, now); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入凭证失败")
	}
	return nil
}

// Get 返回密文记录。
func (s *MySQLStore) Get(ctx context.Context, userID, service string) (*Entry, error) {
	const stmt = `SELECT user_id, service, sealed, created_at, updated_at
        FROM credentials WHERE user_id = ? AND service = ?`
	var entry Entry
	err := s.db.QueryRowContext(ctx, stmt, userID, service).Scan(
		&entry.UserID,
		&entry.Service,
		&entry.Sealed,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询凭证失败")
	}
	return &entry, nil
}

// Delete 删除记录，幂等。
func (s *MySQLStore) Delete(ctx context.Context, userID, service string) error {
	const stmt = `DELETE FROM credentials WHERE user_id = ? AND service = ?`
	if _, err := s.db.ExecContext(ctx, stmt, userID, service); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除凭证失败")
	}
	return nil
}

// List 返回用户的凭证摘要。
func (s *MySQLStore) List(ctx context.Context, userID string) ([]Summary, error) {
	const stmt = `SELECT service, created_at, updated_at FROM credentials WHERE user_id = ? ORDER BY service`
	rows, err := s.db.QueryContext(ctx, stmt, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询凭证列表失败")
	}
	defer rows.Close()

	var result []Summary
	for rows.Next() {
		var summary Summary
		if err := rows.Scan(&summary.Service, &summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取凭证列表失败")
		}
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历凭证列表失败")
	}
	return result, nil
}

// Close 由共享连接池的持有方负责关闭。
func (s *MySQLStore) Close() error {
	return nil
}

var _ Store = (*MySQLStore)(nil)
