// Package backendtest はテスト用のインメモリ外部基盤を提供する。
package backendtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/model"
)

// Account はFakeに登録された利用者。
type Account struct {
	Identity model.Identity
	Password string
	// Confirmed がfalseの間はSMS認証待ち。
	Confirmed bool
}

// Object はFakeのストレージに保存されたオブジェクト。
type Object struct {
	ContentType string
	Body        []byte
}

// Fake はbackend.Clientのインメモリ実装。
// 各メソッドはErrフィールドで失敗を注入できる。
type Fake struct {
	mu sync.Mutex

	// OTPCode はVerifyOTPで受け付けるコード。
	OTPCode string
	// TokenTTL は発行するアクセストークンの有効期間。
	TokenTTL time.Duration

	accounts     map[string]*Account // email -> account
	tokens       map[string]string   // access token -> user id
	refresh      map[string]string   // refresh token -> user id
	profiles     map[string]*model.Profile
	applications []*model.Application
	objects      map[string]Object

	// 失敗注入
	SignInErr      error
	GetProfileErr  error
	UpsertErr      error
	InsertErr      error
	ListErr        error
	UploadErr      error
	GetUserErr     error
	RefreshErr     error
	ResetErr       error
	ResendErr      error
	SignUpErr      error
	ProfileDelay   time.Duration
	clock          func() time.Time
	upsertCalls    int
	insertCalls    int
	signOutCalls   int
	resetRedirects []string
}

// New はFakeを生成する。
func New() *Fake {
	return &Fake{
		OTPCode:  "123456",
		TokenTTL: time.Hour,
		accounts: make(map[string]*Account),
		tokens:   make(map[string]string),
		refresh:  make(map[string]string),
		profiles: make(map[string]*model.Profile),
		objects:  make(map[string]Object),
		clock:    time.Now,
	}
}

// AddUser は確認済みの利用者を登録する。
func (f *Fake) AddUser(id, email, password string) model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident := model.Identity{ID: id, Email: email}
	f.accounts[email] = &Account{Identity: ident, Password: password, Confirmed: true}
	return ident
}

// PutProfile はプロフィールを直接保存する。
func (f *Fake) PutProfile(p model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = &p
}

// Profile は保存済みプロフィールを返す。
func (f *Fake) Profile(userID string) (model.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return model.Profile{}, false
	}
	return *p, true
}

// ProfileCount は保存済みプロフィール数を返す。
func (f *Fake) ProfileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles)
}

// Applications は保存済みの全申込を作成順で返す。
func (f *Fake) Applications() []model.Application {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Application, 0, len(f.applications))
	for _, a := range f.applications {
		out = append(out, *a)
	}
	return out
}

// Object は保存済みオブジェクトを返す。
func (f *Fake) Object(bucket, path string) (Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[bucket+"/"+path]
	return o, ok
}

// UpsertCalls はUpsertProfileの呼び出し回数を返す。
func (f *Fake) UpsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

// InsertCalls はInsertApplicationの呼び出し回数を返す。
func (f *Fake) InsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCalls
}

// SignOutCalls はSignOutの呼び出し回数を返す。
func (f *Fake) SignOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

// ResetRedirects はResetPasswordForEmailに渡されたリダイレクト先を返す。
func (f *Fake) ResetRedirects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resetRedirects...)
}

// SetClock はトークン有効期限の計算に使う時計を差し替える。
func (f *Fake) SetClock(clock func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
}

// issue はトークンを発行する。呼び出し元でロックを保持すること。
func (f *Fake) issue(ident model.Identity) *backend.AuthSession {
	at := "at-" + uuid.NewString()
	rt := "rt-" + uuid.NewString()
	f.tokens[at] = ident.ID
	f.refresh[rt] = ident.ID
	return &backend.AuthSession{
		AccessToken:  at,
		RefreshToken: rt,
		ExpiresAt:    f.clock().Add(f.TokenTTL),
		User:         ident,
	}
}

func (f *Fake) identityByID(id string) (model.Identity, bool) {
	for _, a := range f.accounts {
		if a.Identity.ID == id {
			return a.Identity, true
		}
	}
	return model.Identity{}, false
}

// authorize はアクセストークンが有効であることを確認する。
// 空トークン（anonキー）は許可する。
func (f *Fake) authorize(token string) error {
	if token == "" {
		return nil
	}
	if _, ok := f.tokens[token]; !ok {
		return &backend.Error{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	}
	return nil
}

// SignInWithPassword はbackend.Authを実装する。
func (f *Fake) SignInWithPassword(_ context.Context, email, password string) (*backend.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignInErr != nil {
		return nil, f.SignInErr
	}
	a, ok := f.accounts[email]
	if !ok || a.Password != password {
		return nil, &backend.Error{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	if !a.Confirmed {
		return nil, &backend.Error{Status: http.StatusBadRequest, Code: "phone_not_confirmed", Message: "Phone not confirmed"}
	}
	return f.issue(a.Identity), nil
}

// SignUp はbackend.Authを実装する。
func (f *Fake) SignUp(_ context.Context, email, phone, password, _ string) (*backend.SignUpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignUpErr != nil {
		return nil, f.SignUpErr
	}
	if _, ok := f.accounts[email]; ok {
		return nil, &backend.Error{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	}
	ident := model.Identity{ID: uuid.NewString(), Email: email, Phone: phone}
	f.accounts[email] = &Account{Identity: ident, Password: password}
	return &backend.SignUpResult{User: ident}, nil
}

// VerifyOTP はbackend.Authを実装する。
func (f *Fake) VerifyOTP(_ context.Context, phone, code string) (*backend.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code != f.OTPCode {
		return nil, &backend.Error{Status: http.StatusForbidden, Code: "otp_expired", Message: "Token has expired or is invalid"}
	}
	for _, a := range f.accounts {
		if a.Identity.Phone == phone {
			a.Confirmed = true
			return f.issue(a.Identity), nil
		}
	}
	return nil, &backend.Error{Status: http.StatusNotFound, Message: "User not found"}
}

// ResendOTP はbackend.Authを実装する。
func (f *Fake) ResendOTP(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResendErr
}

// ResetPasswordForEmail はbackend.Authを実装する。
func (f *Fake) ResetPasswordForEmail(_ context.Context, _ string, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResetErr != nil {
		return f.ResetErr
	}
	f.resetRedirects = append(f.resetRedirects, redirectTo)
	return nil
}

// RefreshSession はbackend.Authを実装する。
func (f *Fake) RefreshSession(_ context.Context, refreshToken string) (*backend.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	uid, ok := f.refresh[refreshToken]
	if !ok {
		return nil, &backend.Error{Status: http.StatusBadRequest, Message: "Invalid Refresh Token"}
	}
	delete(f.refresh, refreshToken)
	ident, ok := f.identityByID(uid)
	if !ok {
		return nil, &backend.Error{Status: http.StatusNotFound, Message: "User not found"}
	}
	return f.issue(ident), nil
}

// GetUser はbackend.Authを実装する。
func (f *Fake) GetUser(_ context.Context, accessToken string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetUserErr != nil {
		return nil, f.GetUserErr
	}
	uid, ok := f.tokens[accessToken]
	if !ok {
		return nil, &backend.Error{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	}
	ident, ok := f.identityByID(uid)
	if !ok {
		return nil, &backend.Error{Status: http.StatusNotFound, Message: "User not found"}
	}
	return &ident, nil
}

// SignOut はbackend.Authを実装する。
func (f *Fake) SignOut(_ context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	delete(f.tokens, accessToken)
	return nil
}

// GetProfile はbackend.Profilesを実装する。
func (f *Fake) GetProfile(ctx context.Context, accessToken, userID string) (*model.Profile, error) {
	f.mu.Lock()
	delay := f.ProfileDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetProfileErr != nil {
		return nil, f.GetProfileErr
	}
	if err := f.authorize(accessToken); err != nil {
		return nil, err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// UpsertProfile はbackend.Profilesを実装する。
func (f *Fake) UpsertProfile(_ context.Context, accessToken string, p *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.UpsertErr != nil {
		return nil, f.UpsertErr
	}
	if err := f.authorize(accessToken); err != nil {
		return nil, err
	}
	cp := *p
	f.profiles[p.ID] = &cp
	out := cp
	return &out, nil
}

// InsertApplication はbackend.Applicationsを実装する。
func (f *Fake) InsertApplication(_ context.Context, accessToken string, app *model.Application) (*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.InsertErr != nil {
		return nil, f.InsertErr
	}
	if err := f.authorize(accessToken); err != nil {
		return nil, err
	}
	if app.Status != model.ApplicationStatusPending {
		return nil, &backend.Error{Status: http.StatusBadRequest, Message: fmt.Sprintf("invalid status: %s", app.Status)}
	}
	cp := *app
	cp.ID = uuid.NewString()
	cp.CreatedAt = f.clock().Add(time.Duration(len(f.applications)) * time.Millisecond)
	f.applications = append(f.applications, &cp)
	out := cp
	return &out, nil
}

// ListApplications はbackend.Applicationsを実装する。
func (f *Fake) ListApplications(_ context.Context, accessToken, userID string) ([]*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if err := f.authorize(accessToken); err != nil {
		return nil, err
	}
	var out []*model.Application
	for _, a := range f.applications {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Upload はbackend.Blobを実装する。
func (f *Fake) Upload(_ context.Context, accessToken, bucket, path, contentType string, body []byte, upsert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return f.UploadErr
	}
	if err := f.authorize(accessToken); err != nil {
		return err
	}
	key := bucket + "/" + path
	if _, exists := f.objects[key]; exists && !upsert {
		return &backend.Error{Status: http.StatusConflict, Message: "The resource already exists"}
	}
	f.objects[key] = Object{ContentType: contentType, Body: append([]byte(nil), body...)}
	return nil
}

// PublicURL はbackend.Blobを実装する。
func (f *Fake) PublicURL(bucket, path string) string {
	return "https://fake.supabase.local/storage/v1/object/public/" + bucket + "/" + path
}

// compile-time interface check
var _ backend.Client = (*Fake)(nil)
