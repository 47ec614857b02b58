package vault

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/pkg/logger"
)

// Entry 是一条已加密的凭证记录。
type Entry struct {
	UserID    string
	Service   string
	Sealed    []byte
	CreatedAt int64
	UpdatedAt int64
}

// Summary 是对外展示的凭证摘要，永远不含明文。
type Summary struct {
	Service   string `json:"service"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Store 抽象凭证密文的持久化。同一 (user, service) 的写入为 last-write-wins。
type Store interface {
	Upsert(ctx context.Context, entry Entry) error
	Get(ctx context.Context, userID, service string) (*Entry, error)
	Delete(ctx context.Context, userID, service string) error
	List(ctx context.Context, userID string) ([]Summary, error)
	Close() error
}

// Vault 是按用户按服务的加密凭证库。
// 所有写操作都经过审计日志，但日志中绝不出现明文。
type Vault struct {
	cipher *cipher
	store  Store
}

// New 构造保险库。masterKey 来自配置（见 config.ResolveVaultKey）。
func New(masterKey string, store Store) (*Vault, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "凭证存储不能为空")
	}
	c, err := newCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return &Vault{cipher: c, store: store}, nil
}

// Put 加密并保存凭证，覆盖任何既有记录。
func (v *Vault) Put(ctx context.Context, userID, service string, secret Secret) error {
	userID = strings.TrimSpace(userID)
	service = strings.TrimSpace(service)
	if userID == "" || service == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "userID 与 service 不能为空")
	}
	if len(secret) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "凭证内容不能为空")
	}

	sealed, err := v.cipher.seal(userID, service, secret)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if err := v.store.Upsert(ctx, Entry{
		UserID:    userID,
		Service:   service,
		Sealed:    sealed,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	logger.Audit().Info("凭证已保存",
		slog.String("user_id", userID),
		slog.String("service", service),
	)
	return nil
}

// Get 读取并解密凭证。密文损坏时 fail closed，返回 ErrDecryptionFailed。
func (v *Vault) Get(ctx context.Context, userID, service string) (Secret, error) {
	entry, err := v.store.Get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	secret, err := v.cipher.open(userID, service, entry.Sealed)
	if err != nil {
		logger.L().Error("凭证解密失败",
			slog.String("user_id", userID),
			slog.String("service", service),
		)
		return nil, err
	}
	return secret, nil
}

// Has 检查是否存在凭证，不做解密。
func (v *Vault) Has(ctx context.Context, userID, service string) (bool, error) {
	_, err := v.store.Get(ctx, userID, service)
	if err != nil {
		if e, ok := xerrors.From(err); ok && e.Code() == xerrors.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete 删除凭证，幂等。
func (v *Vault) Delete(ctx context.Context, userID, service string) error {
	if err := v.store.Delete(ctx, userID, service); err != nil {
		return err
	}
	logger.Audit().Info("凭证已删除",
		slog.String("user_id", userID),
		slog.String("service", service),
	)
	return nil
}

// List 返回用户已保存凭证的服务名列表，绝不含明文。
func (v *Vault) List(ctx context.Context, userID string) ([]Summary, error) {
	return v.store.List(ctx, userID)
}
