package membership

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/session"
	"github.com/hitoshi/templeman/internal/validation"
)

// notifyTimeout は確認メール送信のタイムアウト。
const notifyTimeout = 10 * time.Second

// Notifier は申込完了を利用者に通知する。
type Notifier interface {
	ApplicationSubmitted(ctx context.Context, to model.Identity, app model.Application, plan model.Plan) error
}

// Observer は申込送信の結果を記録する。
type Observer interface {
	ObserveApplicationSubmitted(planType string)
}

// Applicant は申込を行う利用者の状態。
type Applicant struct {
	Identity    model.Identity
	AccessToken string
	Profile     *model.Profile
	Store       *session.Store
}

// Service は会員プランの選択と申込送信を提供する。
type Service struct {
	catalog      *Catalog
	applications backend.Applications
	notifier     Notifier
	observer     Observer
	logger       *slog.Logger
}

// NewService はServiceを生成する。notifierとobserverはnilでもよい。
func NewService(
	catalog *Catalog,
	applications backend.Applications,
	notifier Notifier,
	observer Observer,
	logger *slog.Logger,
) *Service {
	return &Service{
		catalog:      catalog,
		applications: applications,
		notifier:     notifier,
		observer:     observer,
		logger:       logger,
	}
}

// Plans はカタログのプラン一覧を返す。
func (s *Service) Plans() []model.Plan {
	return s.catalog.Plans()
}

// SelectPlan はカタログからプランを引き、一時ストアに選択中プランとして保存する。
func (s *Service) SelectPlan(ctx context.Context, store *session.Store, planType string) (model.Plan, error) {
	plan, ok := s.catalog.Lookup(planType)
	if !ok {
		return model.Plan{}, model.NewPlanNotFoundError(planType)
	}
	if err := store.PutEphemeral(ctx, session.KeySelectedMembership, plan); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

// SelectedPlan は一時ストアの選択中プランを返す。
// 未選択または期限切れの場合はNoPlanSelectedエラーを返す。
func (s *Service) SelectedPlan(ctx context.Context, store *session.Store) (model.Plan, error) {
	var plan model.Plan
	ok, err := store.GetEphemeral(ctx, session.KeySelectedMembership, &plan)
	if err != nil {
		s.logger.Warn("unreadable selected plan", slog.String("error", err.Error()))
		return model.Plan{}, model.NewNoPlanSelectedError()
	}
	if !ok {
		return model.Plan{}, model.NewNoPlanSelectedError()
	}
	return plan, nil
}

// Submit は選択中プランと支払参照番号から審査待ちの申込を1件作成する。
// 失敗時は外部基盤のメッセージをそのまま返し、選択中プランは残す。
// 自動リトライは行わない。
func (s *Service) Submit(ctx context.Context, a Applicant, paymentReference string) (*model.Application, error) {
	// 1. 前提条件の確認
	if a.Profile == nil {
		return nil, model.NewProfileRequiredError()
	}
	plan, err := s.SelectedPlan(ctx, a.Store)
	if err != nil {
		return nil, err
	}

	// 2. 支払参照番号の検証（空でないことのみ）
	ref, err := validation.PaymentReference(paymentReference)
	if err != nil {
		return nil, err
	}

	// 3. 審査待ちの申込を1件作成
	app := model.NewPendingApplication(a.Identity.ID, plan, ref)
	created, err := s.applications.InsertApplication(ctx, a.AccessToken, app)
	if err != nil {
		s.logger.Warn("application insert failed",
			slog.String("user_id", a.Identity.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPersistenceError(backend.Message(err, "Failed to submit application. Please try again."))
	}

	// 4. 受け渡し状態の削除
	if err := a.Store.DeleteEphemeral(ctx, session.KeySelectedMembership); err != nil {
		s.logger.Warn("failed to clear selected plan", slog.String("error", err.Error()))
	}

	s.logger.Info("application submitted",
		slog.String("user_id", a.Identity.ID),
		slog.String("membership_type", created.MembershipType),
		slog.Int("amount", created.Amount),
	)
	if s.observer != nil {
		s.observer.ObserveApplicationSubmitted(created.MembershipType)
	}

	// 5. 確認メール（ベストエフォート）
	if s.notifier != nil {
		go s.notify(context.WithoutCancel(ctx), a.Identity, *created, plan)
	}

	return created, nil
}

func (s *Service) notify(ctx context.Context, to model.Identity, app model.Application, plan model.Plan) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.ApplicationSubmitted(ctx, to, app, plan); err != nil {
		s.logger.Warn("failed to send application confirmation",
			slog.String("user_id", to.ID),
			slog.String("error", err.Error()),
		)
	}
}
