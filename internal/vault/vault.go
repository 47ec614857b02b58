package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	xerrors "Concierge-Engine/internal/errors"
)

// sealedVersion 是密文格式的版本字节，参与 AEAD 附加认证数据，
// 被篡改会直接导致认证失败。
const sealedVersion byte = 0x01

// sealedOverhead 是每条密文的固定开销：版本 1 字节 + XChaCha20 nonce 24 字节 + Poly1305 标签 16 字节。
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo 为主密钥派生提供域分隔。修改它会使所有既有密文失效。
var hkdfInfo = []byte("concierge.vault.v1")

var (
	// ErrCredentialNotFound 表示指定 (user, service) 没有保存凭证。
	ErrCredentialNotFound = xerrors.New(xerrors.CodeNotFound, "credential not found")
	// ErrDecryptionFailed 表示密文已损坏或密钥不匹配，调用方必须视为无凭证。
	ErrDecryptionFailed = xerrors.New(xerrors.CodeDecryptionFailed, "")
)

// Secret 是一条结构化凭证，例如 {"email": ..., "password": ...}。
// 调用方只能在当次操作的内存范围内使用解密结果，不得二次落盘。
type Secret map[string]string

// cipher 封装保险库的认证加密。密钥由配置的主密钥经 HKDF-SHA256 派生，
// 密文格式 [version | nonce | ciphertext+tag]，AAD 绑定 (user, service)，
// 防止密文在不同记录之间被调换。
type cipher struct {
	key []byte
}

func newCipher(masterKey string) (*cipher, error) {
	if masterKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "保险库主密钥不能为空")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, []byte(masterKey), nil, hkdfInfo)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "派生保险库密钥失败")
	}
	return &cipher{key: key}, nil
}

func aad(userID, service string) []byte {
	return []byte(fmt.Sprintf("%c%s:%s", sealedVersion, userID, service))
}

func (c *cipher) seal(userID, service string, secret Secret) ([]byte, error) {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码凭证失败")
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 AEAD 失败")
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成随机 nonce 失败")
	}

	sealed := make([]byte, 1+chacha20poly1305.NonceSizeX, sealedOverhead+len(plaintext))
	sealed[0] = sealedVersion
	copy(sealed[1:], nonce[:])
	return aead.Seal(sealed, nonce[:], plaintext, aad(userID, service)), nil
}

// open 解密一条密文。任何格式、版本或认证错误都返回 ErrDecryptionFailed，
// 绝不返回可能是垃圾的明文。
func (c *cipher) open(userID, service string, sealed []byte) (Secret, error) {
	if len(sealed) < sealedOverhead {
		return nil, ErrDecryptionFailed
	}
	if sealed[0] != sealedVersion {
		return nil, ErrDecryptionFailed
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 AEAD 失败")
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], aad(userID, service))
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	var secret Secret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return nil, ErrDecryptionFailed
	}
	return secret, nil
}
