package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/templeman/internal/model"
)

// PostgresTempleEventRepo はPostgreSQLを使用した行事リポジトリ。
type PostgresTempleEventRepo struct {
	db *sql.DB
}

// NewPostgresTempleEventRepo はPostgresTempleEventRepoを生成する。
func NewPostgresTempleEventRepo(db *sql.DB) *PostgresTempleEventRepo {
	return &PostgresTempleEventRepo{db: db}
}

// UpsertByGUID はGUIDをキーに行事を作成または更新する。
// 新規作成時はIDを採番し、eventに書き戻す。
func (r *PostgresTempleEventRepo) UpsertByGUID(ctx context.Context, event *model.TempleEvent) error {
	if event.GUID == "" {
		return fmt.Errorf("event guid is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO temple_events (id, guid, title, description, schedule, time_text, location, link, published_at, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (guid) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   schedule = EXCLUDED.schedule,
		   time_text = EXCLUDED.time_text,
		   location = EXCLUDED.location,
		   link = EXCLUDED.link,
		   published_at = EXCLUDED.published_at,
		   fetched_at = now()
		 RETURNING id`,
		event.ID, event.GUID, event.Title, event.Description, event.Date, event.Time,
		event.Location, event.Link, nullTime(event.PublishedAt),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert temple event: %w", err)
	}
	return nil
}

// ListRecent は公開日時の新しい順に行事を返す。
func (r *PostgresTempleEventRepo) ListRecent(ctx context.Context, limit int) ([]model.TempleEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guid, title, description, schedule, time_text, location, link, published_at
		 FROM temple_events
		 ORDER BY published_at DESC NULLS LAST, fetched_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list temple events: %w", err)
	}
	defer rows.Close()

	var events []model.TempleEvent
	for rows.Next() {
		var e model.TempleEvent
		var publishedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.GUID, &e.Title, &e.Description, &e.Date, &e.Time,
			&e.Location, &e.Link, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan temple event: %w", err)
		}
		if publishedAt.Valid {
			e.PublishedAt = publishedAt.Time
		}
		e.Source = model.EventSourceFeed
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate temple events: %w", err)
	}
	return events, nil
}

// compile-time interface check
var _ TempleEventRepository = (*PostgresTempleEventRepo)(nil)
