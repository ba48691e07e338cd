// Package repository はBFFが所有するデータの永続化インターフェースを定義する。
// 利用者・プロフィール・申込は外部基盤が所有するため、ここでは扱わない。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/templeman/internal/model"
)

// SessionRepository はBFFセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateTokens はリフレッシュ後のトークンを保存する。
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, tokenExpiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。client_stateはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ClientStateRepository はセッションごとの画面状態（キーとJSON値）の永続化インターフェース。
type ClientStateRepository interface {
	// Get は値を取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	// Put は値を作成または置換する。
	Put(ctx context.Context, sessionID, key string, value []byte) error
	// Delete は指定キーを削除する。キー未指定の場合はセッションの全キーを削除する。
	Delete(ctx context.Context, sessionID string, keys ...string) error
}

// TempleEventRepository は外部フィードから取り込んだ行事の永続化インターフェース。
type TempleEventRepository interface {
	// UpsertByGUID はGUIDをキーに行事を作成または更新する。
	UpsertByGUID(ctx context.Context, event *model.TempleEvent) error
	// ListRecent は公開日時の新しい順に行事を返す。
	ListRecent(ctx context.Context, limit int) ([]model.TempleEvent, error)
}
