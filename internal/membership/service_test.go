package membership

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/backend/backendtest"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/session"
)

// --- モック定義 ---

type mockNotifier struct {
	sent chan model.Application
	err  error
}

func (m *mockNotifier) ApplicationSubmitted(_ context.Context, _ model.Identity, app model.Application, _ model.Plan) error {
	m.sent <- app
	return m.err
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveApplicationSubmitted(planType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[planType]++
}

// --- ヘルパー ---

type testEnv struct {
	svc      *Service
	fake     *backendtest.Fake
	notifier *mockNotifier
	observer *countingObserver
	store    *session.Store
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	fake := backendtest.New()
	fake.AddUser("u1", "devotee@example.com", "Secret123")
	as, err := fake.SignInWithPassword(context.Background(), "devotee@example.com", "Secret123")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}

	notifier := &mockNotifier{sent: make(chan model.Application, 1)}
	observer := &countingObserver{}
	stores := session.NewManager(session.NewMemoryStore(time.Hour, 0), session.NewMemoryStore(30*time.Minute, 0), logger)

	return &testEnv{
		svc:      NewService(DefaultCatalog(), fake, notifier, observer, logger),
		fake:     fake,
		notifier: notifier,
		observer: observer,
		store:    stores.Attach("sess-1"),
		token:    as.AccessToken,
	}
}

func (e *testEnv) applicant(withProfile bool) Applicant {
	a := Applicant{
		Identity:    model.Identity{ID: "u1", Email: "devotee@example.com"},
		AccessToken: e.token,
		Store:       e.store,
	}
	if withProfile {
		a.Profile = &model.Profile{ID: "u1", FullName: "Ravi Kumar"}
	}
	return a
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !model.IsCode(err, code) {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

// --- SelectPlan / SelectedPlan ---

func TestSelectPlan_HandoffRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, want := range env.svc.Plans() {
		if _, err := env.svc.SelectPlan(ctx, env.store, want.Type); err != nil {
			t.Fatalf("SelectPlan(%s): %v", want.Type, err)
		}
		got, err := env.svc.SelectedPlan(ctx, env.store)
		if err != nil {
			t.Fatalf("SelectedPlan: %v", err)
		}
		if !got.Equal(want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestSelectPlan_UnknownType(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.SelectPlan(context.Background(), env.store, "diamond")
	assertCode(t, err, model.ErrCodePlanNotFound)

	_, err = env.svc.SelectedPlan(context.Background(), env.store)
	assertCode(t, err, model.ErrCodeNoPlanSelected)
}

func TestSelectedPlan_NoneSelected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.SelectedPlan(context.Background(), env.store)
	assertCode(t, err, model.ErrCodeNoPlanSelected)
}

// --- Submit ---

func TestSubmit_GoldWithReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.SelectPlan(ctx, env.store, "gold"); err != nil {
		t.Fatalf("SelectPlan: %v", err)
	}

	app, err := env.svc.Submit(ctx, env.applicant(true), "TXN123")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if app.ID == "" {
		t.Error("作成された申込にIDが必要")
	}

	apps := env.fake.Applications()
	if len(apps) != 1 {
		t.Fatalf("applications = %d, want 1", len(apps))
	}
	got := apps[0]
	if got.UserID != "u1" || got.MembershipType != "gold" || got.Amount != 3000 ||
		got.PaymentReference != "TXN123" || got.Status != model.ApplicationStatusPending {
		t.Errorf("application = %+v", got)
	}

	if _, err := env.svc.SelectedPlan(ctx, env.store); !model.IsCode(err, model.ErrCodeNoPlanSelected) {
		t.Error("送信成功後は選択中プランが削除されるべき")
	}

	select {
	case sent := <-env.notifier.sent:
		if sent.MembershipType != "gold" {
			t.Errorf("通知された申込 = %+v", sent)
		}
	case <-time.After(time.Second):
		t.Error("確認通知が送信されなかった")
	}

	if env.observer.counts["gold"] != 1 {
		t.Errorf("observer counts = %v", env.observer.counts)
	}
}

func TestSubmit_TrimsReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _ = env.svc.SelectPlan(ctx, env.store, "basic")

	if _, err := env.svc.Submit(ctx, env.applicant(true), "  UPI-42  "); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := env.fake.Applications()[0].PaymentReference; got != "UPI-42" {
		t.Errorf("PaymentReference = %q, want UPI-42", got)
	}
}

func TestSubmit_Preconditions(t *testing.T) {
	tests := []struct {
		name        string
		withProfile bool
		selectPlan  bool
		reference   string
		wantCode    string
	}{
		{"プロフィールなし", false, true, "TXN123", model.ErrCodeProfileRequired},
		{"プラン未選択", true, false, "TXN123", model.ErrCodeNoPlanSelected},
		{"参照番号が空白のみ", true, true, "   ", model.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			if tt.selectPlan {
				_, _ = env.svc.SelectPlan(ctx, env.store, "silver")
			}

			_, err := env.svc.Submit(ctx, env.applicant(tt.withProfile), tt.reference)
			assertCode(t, err, tt.wantCode)

			if env.fake.InsertCalls() != 0 {
				t.Error("前提条件を満たさない場合は外部基盤を呼び出してはならない")
			}
		})
	}
}

func TestSubmit_BackendFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _ = env.svc.SelectPlan(ctx, env.store, "platinum")
	env.fake.InsertErr = &backend.Error{Status: http.StatusForbidden, Message: "new row violates row-level security policy"}

	_, err := env.svc.Submit(ctx, env.applicant(true), "TXN999")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePersistenceFailed {
		t.Fatalf("error = %v, want PERSISTENCE_FAILED", err)
	}
	if apiErr.Message != "new row violates row-level security policy" {
		t.Errorf("Message = %q, 外部基盤のメッセージをそのまま返すべき", apiErr.Message)
	}
	if env.fake.InsertCalls() != 1 {
		t.Errorf("InsertCalls = %d, want 1 (自動リトライしない)", env.fake.InsertCalls())
	}

	plan, err := env.svc.SelectedPlan(ctx, env.store)
	if err != nil || plan.Type != "platinum" {
		t.Error("失敗時は選択中プランが残るべき")
	}

	select {
	case <-env.notifier.sent:
		t.Error("失敗時に確認通知を送信してはならない")
	default:
	}
}

func TestSubmit_NotifierFailureDoesNotFailSubmission(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")
	ctx := context.Background()
	_, _ = env.svc.SelectPlan(ctx, env.store, "basic")

	if _, err := env.svc.Submit(ctx, env.applicant(true), "TXN1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-env.notifier.sent
}
