package otp

import (
	"context"
	"sync"
)

// MemoryStore 以内存方式保存验证码记录，主要用于开发与测试。
type MemoryStore struct {
	mu      sync.Mutex
	records []*Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save 保存记录。去重窗口内同 (user, service, source) 的未用记录被新记录取代。
func (m *MemoryStore) Save(_ context.Context, record *Record, dedupAfter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, existing := range m.records {
		if !existing.Used &&
			existing.UserID == record.UserID &&
			existing.Service == record.Service &&
			existing.Source == record.Source &&
			existing.ExtractedAt >= dedupAfter {
			continue
		}
		kept = append(kept, existing)
	}
	clone := *record
	m.records = append(kept, &clone)
	return nil
}

// Consume 原子地取走最新的匹配记录并标记已用。
// 优先精确匹配 service；没有时回退到 service 未知的最新记录。
func (m *MemoryStore) Consume(_ context.Context, userID, service string, now int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := m.pick(userID, service, now)
	if record == nil {
		return nil, nil
	}
	record.Used = true
	clone := *record
	return &clone, nil
}

// Latest 返回最新的匹配记录，不消费。
func (m *MemoryStore) Latest(_ context.Context, userID, service string, now int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := m.pick(userID, service, now)
	if record == nil {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *MemoryStore) pick(userID, service string, now int64) *Record {
	var exact, inferred *Record
	for _, record := range m.records {
		if record.Used || record.ExpiresAt <= now || record.UserID != userID {
			continue
		}
		switch record.Service {
		case service:
			if exact == nil || record.ExtractedAt > exact.ExtractedAt {
				exact = record
			}
		case "":
			if inferred == nil || record.ExtractedAt > inferred.ExtractedAt {
				inferred = record
			}
		}
	}
	if exact != nil {
		return exact
	}
	return inferred
}

// Prune 清理过期记录。
func (m *MemoryStore) Prune(_ context.Context, now int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	removed := 0
	for _, record := range m.records {
		if record.ExpiresAt <= now {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	m.records = kept
	return removed, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
