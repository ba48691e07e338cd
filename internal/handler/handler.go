// Package handler はHTTPハンドラーとルーティングを提供する。
//
// 各画面はJSONで表示データを返し、画面遷移は303 See Otherと
// {"redirect", "notice"}形式のボディで表す。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
)

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 64 * 1024

// 遷移先
const (
	landingPath    = "/"
	authPath       = "/auth"
	homePath       = "/home"
	membershipPath = "/membership"
	paymentPath    = "/payment"
	statusPath     = "/status"
)

// noticeBody は画面遷移を伴わない通知のレスポンス。
type noticeBody struct {
	Notice     *model.Notice `json:"notice"`
	OTPPending bool          `json:"otpPending,omitempty"`
}

// errInvalidBody はリクエストボディを解釈できない場合のエラー。
var errInvalidBody = model.NewValidationError("Invalid request body")

// decodeJSON はJSONリクエストボディをvにデコードする。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

// writeFailure はerrをレスポンスに書き込む。
// titleが空の場合、通知のタイトルはエラーカテゴリから決まる。
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error, title string) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		middleware.WriteError(w, logger, err)
		return
	}
	if title == "" {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}
	middleware.WriteErrorWithTitle(w, middleware.StatusForError(apiErr), apiErr, title)
}

// failureTitle は検証エラーなら"Validation Error"、それ以外はotherwiseを返す。
func failureTitle(err error, otherwise string) string {
	if model.IsCode(err, model.ErrCodeValidationFailed) {
		return "Validation Error"
	}
	return otherwise
}

// NotFound は未定義ルートの404レスポンスを返す。
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "Page not found",
		Category: model.CategorySystem,
		Action:   "Return to the home page and try again.",
	})
}

// MethodNotAllowed は許可されていないメソッドの405レスポンスを返す。
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
		Code:     "METHOD_NOT_ALLOWED",
		Message:  "Method not allowed",
		Category: model.CategorySystem,
		Action:   "",
	})
}
