package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/validation"
)

// healthCheckTimeout はヘルスチェックでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// EventLister は行事一覧を返す。
type EventLister interface {
	List(ctx context.Context) []model.TempleEvent
}

// Sanitizer は自由記述の値を無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Pinger はDBの疎通確認を行う。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PublicHandler は認証不要の画面（ランディング・行事・寄付）とヘルスチェックのハンドラー。
type PublicHandler struct {
	events    EventLister
	sanitizer Sanitizer
	db        Pinger
	logger    *slog.Logger
}

// NewPublicHandler はPublicHandlerを生成する。dbがnilの場合、ヘルスチェックはDBを確認しない。
func NewPublicHandler(events EventLister, sanitizer Sanitizer, db Pinger, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		events:    events,
		sanitizer: sanitizer,
		db:        db,
		logger:    logger,
	}
}

type viewBody struct {
	View string `json:"view"`
}

type eventsBody struct {
	View   string              `json:"view"`
	Events []model.TempleEvent `json:"events"`
}

// Landing はランディング画面を返す。
// GET /
func (h *PublicHandler) Landing(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, viewBody{View: "landing"})
}

// Events は行事一覧を返す。
// GET /events
func (h *PublicHandler) Events(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, eventsBody{View: "events", Events: h.events.List(r.Context())})
}

// DonateForm は寄付画面を返す。
// GET /donate
func (h *PublicHandler) DonateForm(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, viewBody{View: "donate"})
}

// Donate は寄付の申し出を受け付け、お礼の通知を返す。決済は行わない。
// POST /donate
func (h *PublicHandler) Donate(w http.ResponseWriter, r *http.Request) {
	var req validation.DonationInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}
	if h.sanitizer != nil {
		req.Name = h.sanitizer.Sanitize(req.Name)
	}
	in, err := validation.Donation(req)
	if err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}

	h.logger.Info("donation pledged",
		slog.String("name", in.Name),
		slog.Int("amount", in.Amount),
	)
	middleware.WriteJSON(w, noticeBody{
		Notice: model.NewNotice("Thank you for your donation!",
			fmt.Sprintf("Your generous donation of ₹%d is greatly appreciated.", in.Amount)),
	})
}

type healthBody struct {
	Status string `json:"status"`
}

// Health はヘルスチェックを返す。DBに接続できない場合は503。
// GET /health
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("error", err.Error()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unavailable"}`)
			return
		}
	}
	middleware.WriteJSON(w, healthBody{Status: "ok"})
}
