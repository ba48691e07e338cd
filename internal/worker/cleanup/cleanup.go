// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのBFFセッション（client_stateはCASCADE削除）と、
// 保持期間を超えた取り込み済み行事を削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SessionPurger は期限切れセッションを削除する。
// repository.SessionRepositoryが実装する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Job は期限切れデータの削除ジョブ。冪等で、削除対象がなくてもエラーにならない。
type Job struct {
	sessions SessionPurger
	db       Executor
	logger   *slog.Logger
	// EventRetentionDays は取り込み済み行事の保持日数（デフォルト: 90）。
	EventRetentionDays int
}

// NewJob は新しいJobを生成する。
func NewJob(sessions SessionPurger, db Executor, logger *slog.Logger) *Job {
	return &Job{
		sessions:           sessions,
		db:                 db,
		logger:             logger,
		EventRetentionDays: 90,
	}
}

// Run は期限切れセッションと古い行事を削除する。
// セッション削除に失敗しても行事の削除は試み、最初のエラーを返す。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	sessions, sessErr := j.sessions.DeleteExpired(ctx)
	if sessErr != nil {
		j.logger.Error("failed to purge expired sessions", slog.String("error", sessErr.Error()))
	}

	events, evErr := j.purgeEvents(ctx)
	if evErr != nil {
		j.logger.Error("failed to purge imported events",
			slog.String("error", evErr.Error()),
			slog.Int("retention_days", j.EventRetentionDays),
		)
	}

	j.logger.Info("cleanup finished",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_events", events),
		slog.Int("retention_days", j.EventRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if sessErr != nil {
		return fmt.Errorf("session cleanup failed: %w", sessErr)
	}
	if evErr != nil {
		return fmt.Errorf("event cleanup failed: %w", evErr)
	}
	return nil
}

func (j *Job) purgeEvents(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", j.EventRetentionDays)
	result, err := j.db.ExecContext(ctx,
		`DELETE FROM temple_events WHERE fetched_at < now() - $1::interval`, interval)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted count: %w", err)
	}
	return n, nil
}
