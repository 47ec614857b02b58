package vault

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 以内存方式保存密文，主要用于开发与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func storageKey(userID, service string) string {
	return userID + ":" + service
}

// Upsert 实现 Store 接口，last-write-wins。
func (m *MemoryStore) Upsert(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storageKey(entry.UserID, entry.Service)
	if existing, ok := m.entries[key]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	entry.UpdatedAt = time.Now().Unix()
	m.entries[key] = &entry
	return nil
}

// Get 返回密文记录。
func (m *MemoryStore) Get(_ context.Context, userID, service string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[storageKey(userID, service)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	clone := *entry
	clone.Sealed = append([]byte(nil), entry.Sealed...)
	return &clone, nil
}

// Delete 删除记录，幂等。
func (m *MemoryStore) Delete(_ context.Context, userID, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, storageKey(userID, service))
	return nil
}

// List 返回用户的凭证摘要。
func (m *MemoryStore) List(_ context.Context, userID string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Summary
	for _, entry := range m.entries {
		if entry.UserID != userID {
			continue
		}
		result = append(result, Summary{
			Service:   entry.Service,
			CreatedAt: entry.CreatedAt,
			UpdatedAt: entry.UpdatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Service < result[j].Service })
	return result, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
