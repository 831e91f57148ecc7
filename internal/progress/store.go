package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("progress record not found")

// Store 进度记录的KV存储抽象，生产实现为Redis适配器
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Get 键不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore 测试和单机场景用的内存实现
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]memoryItem
	nowFunc func() time.Time
}

type memoryItem struct {
	value    string
	expireAt time.Time // 零值表示不过期
}

// NewMemoryStore 创建内存KV存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]memoryItem),
		nowFunc: time.Now,
	}
}

// Put 实现Store接口
func (m *MemoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expireAt = m.nowFunc().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Get 实现Store接口
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if !item.expireAt.IsZero() && m.nowFunc().After(item.expireAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return "", ErrNotFound
	}
	return item.value, nil
}

// Delete 实现Store接口
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
