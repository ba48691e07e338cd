package session

import (
	"context"
	"log/slog"
)

// Manager はセッションIDごとのStoreを生成する。
// 永続ストアと一時ストアは全セッションで共有し、スコープで分離する。
type Manager struct {
	durable   StateStore
	ephemeral StateStore
	logger    *slog.Logger
}

// NewManager はManagerを生成する。
func NewManager(durable, ephemeral StateStore, logger *slog.Logger) *Manager {
	return &Manager{
		durable:   durable,
		ephemeral: ephemeral,
		logger:    logger,
	}
}

// Open はセッションIDに束縛されたStoreを生成し、永続状態を読み込む。
func (m *Manager) Open(ctx context.Context, id string) *Store {
	s := m.Attach(id)
	s.Load(ctx)
	return s
}

// Attach は永続状態を読み込まずにStoreを生成する。新規発行直後のセッションに使う。
func (m *Manager) Attach(id string) *Store {
	return New(id, m.durable, m.ephemeral, m.logger.With(slog.String("session_id", shortID(id))))
}

// shortID はログ出力用にセッションIDの先頭のみを返す。
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
