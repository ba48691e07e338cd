package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/templeman/internal/membership"
	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/session"
)

// MembershipService は会員プラン・申込ハンドラーが必要とするサービスインターフェース。
type MembershipService interface {
	Plans() []model.Plan
	SelectPlan(ctx context.Context, store *session.Store, planType string) (model.Plan, error)
	SelectedPlan(ctx context.Context, store *session.Store) (model.Plan, error)
	Submit(ctx context.Context, a membership.Applicant, paymentReference string) (*model.Application, error)
}

// MembershipHandler はプラン選択・支払参照番号の送信のハンドラー。
type MembershipHandler struct {
	service MembershipService
	logger  *slog.Logger
}

// NewMembershipHandler はMembershipHandlerを生成する。
func NewMembershipHandler(service MembershipService, logger *slog.Logger) *MembershipHandler {
	return &MembershipHandler{service: service, logger: logger}
}

type plansBody struct {
	View  string       `json:"view"`
	Plans []model.Plan `json:"plans"`
}

type paymentBody struct {
	View string     `json:"view"`
	Plan model.Plan `json:"plan"`
}

type selectPlanRequest struct {
	Type string `json:"type"`
}

type paymentRequest struct {
	PaymentReference string `json:"paymentReference"`
}

// Plans はプラン選択画面を返す。
// GET /membership（ガード: Profile）
func (h *MembershipHandler) Plans(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, plansBody{View: "membership", Plans: h.service.Plans()})
}

// Select はプランを選択して支払画面へ遷移する。
// POST /membership/select（ガード: Profile）
func (h *MembershipHandler) Select(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)

	var req selectPlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}

	if _, err := h.service.SelectPlan(r.Context(), view.Store, req.Type); err != nil {
		writeFailure(w, h.logger, err, failureTitle(err, "Error"))
		return
	}
	middleware.WriteRedirect(w, paymentPath, nil)
}

// Payment は選択中のプランを表示する。未選択の場合はプラン選択画面へ遷移する。
// GET /payment（ガード: Profile）
func (h *MembershipHandler) Payment(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)

	plan, err := h.service.SelectedPlan(r.Context(), view.Store)
	if err != nil {
		h.redirectToPlans(w, err)
		return
	}
	middleware.WriteJSON(w, paymentBody{View: "payment", Plan: plan})
}

// Submit は支払参照番号を添えて申込を送信し、申込状況画面へ遷移する。
// 失敗時は選択中のプランを残したままエラーを返す。
// POST /payment（ガード: Profile）
func (h *MembershipHandler) Submit(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)

	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}

	applicant := membership.Applicant{
		Identity:    view.Identity,
		AccessToken: view.Session.AccessToken,
		Profile:     view.Profile,
		Store:       view.Store,
	}
	if _, err := h.service.Submit(r.Context(), applicant, req.PaymentReference); err != nil {
		if model.IsCode(err, model.ErrCodeNoPlanSelected) {
			h.redirectToPlans(w, err)
			return
		}
		writeFailure(w, h.logger, err, failureTitle(err, "Error"))
		return
	}

	middleware.WriteRedirect(w, statusPath,
		model.NewNotice("Application Submitted!", "Your membership application has been submitted for review."))
}

func (h *MembershipHandler) redirectToPlans(w http.ResponseWriter, err error) {
	if !model.IsCode(err, model.ErrCodeNoPlanSelected) {
		h.logger.Warn("failed to read selected plan", slog.String("error", err.Error()))
	}
	middleware.WriteRedirect(w, membershipPath,
		model.NewErrorNotice("No Plan Selected", "Please select a membership plan first."))
}
