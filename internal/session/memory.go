package session

import (
	"context"
	"sync"
	"time"
)

// memoryEntry はMemoryStoreの1エントリ。
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore はプロセス内のTTL付きStateStore。
// タブの寿命程度しか保持しない一時的な状態（プラン選択の受け渡し等）に使用する。
// プロセス再起動で内容は失われる。
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]map[string]memoryEntry // scope -> key -> entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore はMemoryStoreを生成する。
// cleanupIntervalが正の場合、期限切れエントリを削除するゴルーチンを開始する。
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.cleanupLoop(cleanupInterval)
	}
	return m
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Get は値を取得する。存在しないか期限切れの場合はnilを返す。
func (m *MemoryStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[scope][key]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries[scope], key)
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

// Put は値を保存する。有効期限は保存時点からTTL後。
func (m *MemoryStore) Put(_ context.Context, scope, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[scope] == nil {
		m.entries[scope] = make(map[string]memoryEntry)
	}
	m.entries[scope][key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

// Delete は指定キーを削除する。キー未指定の場合はスコープ全体を削除する。
func (m *MemoryStore) Delete(_ context.Context, scope string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(keys) == 0 {
		delete(m.entries, scope)
		return nil
	}
	for _, k := range keys {
		delete(m.entries[scope], k)
	}
	if len(m.entries[scope]) == 0 {
		delete(m.entries, scope)
	}
	return nil
}

// Len は保持しているエントリ数を返す。テストおよびメトリクス用。
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, keys := range m.entries {
		n += len(keys)
	}
	return n
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// cleanup は期限切れのエントリと空になったスコープを削除する。
func (m *MemoryStore) cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for scope, keys := range m.entries {
		for k, e := range keys {
			if !now.Before(e.expiresAt) {
				delete(keys, k)
			}
		}
		if len(keys) == 0 {
			delete(m.entries, scope)
		}
	}
}

// compile-time interface check
var _ StateStore = (*MemoryStore)(nil)
