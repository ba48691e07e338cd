// Package backend は外部基盤（認証・プロフィール・申込・ファイルストレージ）への
// ポートを定義する。永続データと業務ルールは外部基盤が所有し、
// このサービスはここで定義するインターフェース経由でのみ呼び出す。
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/templeman/internal/model"
)

// AuthSession は外部認証基盤が発行したトークン一式と利用者を表す。
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         model.Identity
}

// SignUpResult は新規登録の結果を表す。
// SMS認証が完了するまでSessionはnilとなる。
type SignUpResult struct {
	User    model.Identity
	Session *AuthSession
}

// Auth は外部認証基盤のインターフェース。
type Auth interface {
	// SignInWithPassword はメールアドレスとパスワードでログインする。
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)
	// SignUp は新規登録を行う。redirectToは確認メール内のリンク先。
	SignUp(ctx context.Context, email, phone, password, redirectTo string) (*SignUpResult, error)
	// VerifyOTP はSMSで送信された6桁コードを検証し、セッションを発行する。
	VerifyOTP(ctx context.Context, phone, code string) (*AuthSession, error)
	// ResendOTP はSMS認証コードを再送する。
	ResendOTP(ctx context.Context, phone string) error
	// ResetPasswordForEmail はパスワード再設定メールを送信する。
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// RefreshSession はリフレッシュトークンでセッションを更新する。
	RefreshSession(ctx context.Context, refreshToken string) (*AuthSession, error)
	// GetUser はアクセストークンに対応する利用者を取得する。
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
	// SignOut はアクセストークンを無効化する。
	SignOut(ctx context.Context, accessToken string) error
}

// Profiles はprofilesコレクションのインターフェース。
type Profiles interface {
	// GetProfile は利用者のプロフィールを取得する。存在しない場合はnilを返す。
	GetProfile(ctx context.Context, accessToken, userID string) (*model.Profile, error)
	// UpsertProfile はIDをキーにプロフィールを作成または置換する。
	UpsertProfile(ctx context.Context, accessToken string, p *model.Profile) (*model.Profile, error)
}

// Applications はmembership_applicationsコレクションのインターフェース。
type Applications interface {
	// InsertApplication は申込を1件作成する。作成済みのレコードを返す。
	InsertApplication(ctx context.Context, accessToken string, app *model.Application) (*model.Application, error)
	// ListApplications は利用者の申込を作成日時の降順で返す。
	ListApplications(ctx context.Context, accessToken, userID string) ([]*model.Application, error)
}

// Blob は外部ファイルストレージのインターフェース。
type Blob interface {
	// Upload はオブジェクトを保存する。upsertがtrueの場合は既存を置換する。
	Upload(ctx context.Context, accessToken, bucket, path, contentType string, body []byte, upsert bool) error
	// PublicURL はオブジェクトの公開URLを返す。
	PublicURL(bucket, path string) string
}

// Client は外部基盤の全ポートを束ねたもの。
type Client interface {
	Auth
	Profiles
	Applications
	Blob
}

// Error は外部基盤が返したエラーを表す。
// Messageは利用者にそのまま表示できる文言である。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// Message はerrに含まれる外部基盤のメッセージを返す。
// 外部基盤のエラーでない場合はfallbackを返す。
func Message(err error, fallback string) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return fallback
}

// IsStatus はerrが指定ステータスの外部基盤エラーかどうかを返す。
func IsStatus(err error, status int) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Status == status
	}
	return false
}
