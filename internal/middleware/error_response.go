package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/templeman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、画面に表示する通知を含む。
type ErrorResponseBody struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Category string        `json:"category"`
	Action   string        `json:"action"`
	Notice   *model.Notice `json:"notice,omitempty"`
}

// NavigationBody は画面遷移レスポンスのフォーマット。
type NavigationBody struct {
	Redirect string        `json:"redirect"`
	Notice   *model.Notice `json:"notice,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeError(w, statusCode, apiErr, defaultNotice(apiErr))
}

// WriteErrorWithTitle はタイトルを指定した通知付きでエラーレスポンスを書き込む。
func WriteErrorWithTitle(w http.ResponseWriter, statusCode int, apiErr *model.APIError, title string) {
	writeError(w, statusCode, apiErr, model.NewErrorNotice(title, apiErr.Message))
}

func writeError(w http.ResponseWriter, statusCode int, apiErr *model.APIError, notice *model.Notice) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Notice:   notice,
	})
}

func defaultNotice(apiErr *model.APIError) *model.Notice {
	title := "Error"
	if apiErr.Category == model.CategoryValidation {
		title = "Validation Error"
	}
	return model.NewErrorNotice(title, apiErr.Message)
}

// StatusForError はAPIErrorのコードに対応するHTTPステータスを返す。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidFileType, model.ErrCodeFileTooLarge,
		model.ErrCodeNoPlanSelected, model.ErrCodeNoPendingSignup:
		return http.StatusBadRequest
	case model.ErrCodeAuthFailed, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodePlanNotFound:
		return http.StatusNotFound
	case model.ErrCodeProfileRequired:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodePersistenceFailed, model.ErrCodeUploadFailed:
		return http.StatusBadGateway
	case model.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はerrがAPIErrorであれば対応するステータスで、
// それ以外は内部エラーとしてレスポンスを書き込む。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForError(apiErr), apiErr)
		return
	}
	logger.Error("unhandled error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong. Please try again.",
		Category: model.CategorySystem,
		Action:   "Please wait a moment and try again.",
	})
}

// WriteRedirect は303 See Otherで遷移先と一度だけ表示する通知を返す。
func WriteRedirect(w http.ResponseWriter, target string, notice *model.Notice) {
	w.Header().Set("Location", target)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusSeeOther)
	json.NewEncoder(w).Encode(NavigationBody{Redirect: target, Notice: notice})
}

// WriteJSON は200 OKでJSONを返す。
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
