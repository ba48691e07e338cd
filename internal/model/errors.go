// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, persistence, upload, membership, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeInvalidFileType   = "INVALID_FILE_TYPE"
	ErrCodeFileTooLarge      = "FILE_TOO_LARGE"
	ErrCodeUploadFailed      = "UPLOAD_FAILED"
	ErrCodeProfileRequired   = "PROFILE_REQUIRED"
	ErrCodeNoPlanSelected    = "NO_PLAN_SELECTED"
	ErrCodePlanNotFound      = "PLAN_NOT_FOUND"
	ErrCodeNoPendingSignup   = "NO_PENDING_SIGNUP"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// エラーカテゴリ
const (
	CategoryValidation  = "validation"
	CategoryAuth        = "auth"
	CategoryPersistence = "persistence"
	CategoryUpload      = "upload"
	CategoryMembership  = "membership"
	CategorySystem      = "system"
)

// NewValidationError は入力検証エラーを生成する。
// messageには最初に違反したルールのメッセージのみを渡す。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Please review the highlighted field and try again.",
	}
}

// NewAuthError は認証失敗エラーを生成する。
func NewAuthError(message string) *APIError {
	if message == "" {
		message = "Please check your credentials."
	}
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: CategoryAuth,
		Action:   "Check your email and password, then try again.",
	}
}

// NewUnauthorizedError はセッションが存在しない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Please log in to continue.",
		Category: CategoryAuth,
		Action:   "Log in and try again.",
	}
}

// NewPersistenceError は外部基盤での保存・取得の失敗エラーを生成する。
// 外部基盤のメッセージをそのまま利用者に返す。
func NewPersistenceError(message string) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  message,
		Category: CategoryPersistence,
		Action:   "Please wait a moment and submit again.",
	}
}

// NewUnavailableError は依存データの取得がタイムアウト等で完了しなかった場合のエラーを生成する。
func NewUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "The service is temporarily unavailable.",
		Category: CategorySystem,
		Action:   "Please wait a moment and try again.",
	}
}

// NewInvalidFileTypeError はアップロード書類の形式不正エラーを生成する。
func NewInvalidFileTypeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFileType,
		Message:  "Please upload only JPG, PNG, or PDF files",
		Category: CategoryUpload,
		Action:   "Upload the document as a JPG, PNG, or PDF file.",
	}
}

// NewFileTooLargeError はアップロード書類のサイズ超過エラーを生成する。
func NewFileTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("File size must be less than %dMB", maxBytes/(1024*1024)),
		Category: CategoryUpload,
		Action:   "Reduce the file size and upload again.",
	}
}

// NewUploadFailedError は外部ストレージへのアップロード失敗エラーを生成する。
func NewUploadFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  message,
		Category: CategoryUpload,
		Action:   "Please wait a moment and upload again.",
	}
}

// NewProfileRequiredError はプロフィール未作成エラーを生成する。
func NewProfileRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileRequired,
		Message:  "Please create your profile first.",
		Category: CategoryMembership,
		Action:   "Complete your profile to continue.",
	}
}

// NewNoPlanSelectedError はプラン未選択エラーを生成する。
func NewNoPlanSelectedError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPlanSelected,
		Message:  "Please select a membership plan first.",
		Category: CategoryMembership,
		Action:   "Choose a membership plan to continue.",
	}
}

// NewPlanNotFoundError はカタログに存在しないプラン種別が指定された場合のエラーを生成する。
func NewPlanNotFoundError(planType string) *APIError {
	return &APIError{
		Code:     ErrCodePlanNotFound,
		Message:  fmt.Sprintf("Unknown membership plan: %s", planType),
		Category: CategoryMembership,
		Action:   "Choose one of the listed plans.",
	}
}

// NewNoPendingSignupError はOTP検証対象の登録が見つからない場合のエラーを生成する。
func NewNoPendingSignupError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingSignup,
		Message:  "No pending registration. Please register again.",
		Category: CategoryAuth,
		Action:   "Start the registration again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests.",
		Category: CategorySystem,
		Action:   "Please wait a moment and try again.",
	}
}

// IsCode はerrがcodeを持つAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
