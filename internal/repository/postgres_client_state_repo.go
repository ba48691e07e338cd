package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresClientStateRepo はPostgreSQLを使用した画面状態リポジトリ。
type PostgresClientStateRepo struct {
	db *sql.DB
}

// NewPostgresClientStateRepo はPostgresClientStateRepoを生成する。
func NewPostgresClientStateRepo(db *sql.DB) *PostgresClientStateRepo {
	return &PostgresClientStateRepo{db: db}
}

// Get は値を取得する。存在しない場合はnilを返す。
func (r *PostgresClientStateRepo) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE session_id = $1 AND key = $2`,
		sessionID, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client state %q: %w", key, err)
	}
	return value, nil
}

// Put は値を作成または置換する。
func (r *PostgresClientStateRepo) Put(ctx context.Context, sessionID, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO client_state (session_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		sessionID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put client state %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーを削除する。キー未指定の場合はセッションの全キーを削除する。
func (r *PostgresClientStateRepo) Delete(ctx context.Context, sessionID string, keys ...string) error {
	var err error
	if len(keys) == 0 {
		_, err = r.db.ExecContext(ctx,
			`DELETE FROM client_state WHERE session_id = $1`,
			sessionID,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`DELETE FROM client_state WHERE session_id = $1 AND key = ANY($2)`,
			sessionID, pq.Array(keys),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to delete client state: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ClientStateRepository = (*PostgresClientStateRepo)(nil)
