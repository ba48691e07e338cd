package events

import (
	"context"
	"log/slog"

	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/repository"
)

// defaultImportedLimit は一覧に含める取り込み行事の最大件数。
const defaultImportedLimit = 20

// Service は定例行事と取り込み済み行事の一覧を提供する。
type Service struct {
	catalog []model.TempleEvent
	repo    repository.TempleEventRepository
	logger  *slog.Logger
	limit   int
}

// NewService はServiceを生成する。repoがnilの場合は定例行事のみを返す。
func NewService(catalog []model.TempleEvent, repo repository.TempleEventRepository, logger *slog.Logger) *Service {
	return &Service{
		catalog: catalog,
		repo:    repo,
		logger:  logger,
		limit:   defaultImportedLimit,
	}
}

// List は定例行事に続けて、取り込み済み行事を公開日時の新しい順に返す。
// 取り込み行事の読み込みに失敗した場合は定例行事のみを返す。
func (s *Service) List(ctx context.Context) []model.TempleEvent {
	out := make([]model.TempleEvent, 0, len(s.catalog)+s.limit)
	out = append(out, s.catalog...)
	if s.repo == nil {
		return out
	}

	imported, err := s.repo.ListRecent(ctx, s.limit)
	if err != nil {
		s.logger.Warn("failed to list imported events", slog.String("error", err.Error()))
		return out
	}
	return append(out, imported...)
}
