package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/templeman/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// mockStateStore はStateStoreのモック。関数フィールドが未設定の場合は内部のMemoryStoreに委譲する。
type mockStateStore struct {
	inner      *MemoryStore
	getFunc    func(ctx context.Context, scope, key string) ([]byte, error)
	deleteFunc func(ctx context.Context, scope string, keys ...string) error
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{inner: NewMemoryStore(time.Hour, 0)}
}

func (m *mockStateStore) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, scope, key)
	}
	return m.inner.Get(ctx, scope, key)
}

func (m *mockStateStore) Put(ctx context.Context, scope, key string, value []byte) error {
	return m.inner.Put(ctx, scope, key, value)
}

func (m *mockStateStore) Delete(ctx context.Context, scope string, keys ...string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, scope, keys...)
	}
	return m.inner.Delete(ctx, scope, keys...)
}

func testProfile(id string) model.Profile {
	return model.Profile{
		ID:           id,
		FullName:     "Ravi Kumar",
		Email:        "ravi@example.com",
		Phone:        "9876543210",
		AadharNumber: "123456789012",
		Pincode:      "600001",
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	ctx := context.Background()
	s := New("sess-1", newMockStateStore(), NewMemoryStore(time.Minute, 0), newTestLogger())

	s.Load(ctx)

	if s.Identity() != nil {
		t.Error("Identity should be nil")
	}
	if s.Profile() != nil {
		t.Error("Profile should be nil")
	}
}

func TestStore_PersistsAcrossLoad(t *testing.T) {
	ctx := context.Background()
	durable := newMockStateStore()
	ephemeral := NewMemoryStore(time.Minute, 0)

	s := New("sess-1", durable, ephemeral, newTestLogger())
	ident := model.Identity{ID: "u1", Email: "a@b.com"}
	if err := s.SetIdentity(ctx, ident); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	if err := s.SaveProfile(ctx, testProfile("u1")); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	// 再起動後の復元
	restored := New("sess-1", durable, ephemeral, newTestLogger())
	restored.Load(ctx)

	if got := restored.Identity(); got == nil || *got != ident {
		t.Errorf("Identity = %+v, want %+v", got, ident)
	}
	if got := restored.Profile(); got == nil || *got != testProfile("u1") {
		t.Errorf("Profile = %+v", got)
	}
}

func TestStore_LoadSkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	durable := newMockStateStore()
	_ = durable.Put(ctx, "sess-1", KeyUser, []byte(`{"id":"u1","email":"a@b.com"}`))
	_ = durable.Put(ctx, "sess-1", KeyProfile, []byte(`not json`))

	s := New("sess-1", durable, NewMemoryStore(time.Minute, 0), newTestLogger())
	s.Load(ctx)

	if s.Identity() == nil {
		t.Error("読み込めるIdentityは復元されるべき")
	}
	if s.Profile() != nil {
		t.Error("読み込めないProfileは読み飛ばされるべき")
	}
}

func TestStore_LoadToleratesStoreErrors(t *testing.T) {
	durable := newMockStateStore()
	durable.getFunc = func(context.Context, string, string) ([]byte, error) {
		return nil, errors.New("db down")
	}

	s := New("sess-1", durable, NewMemoryStore(time.Minute, 0), newTestLogger())
	s.Load(context.Background())

	if s.Identity() != nil || s.Profile() != nil {
		t.Error("読み込み失敗時は空の状態になるべき")
	}
}

func TestStore_Logout_ClearsOwnStateOnly(t *testing.T) {
	ctx := context.Background()
	durable := newMockStateStore()
	ephemeral := NewMemoryStore(time.Minute, 0)

	s := New("sess-1", durable, ephemeral, newTestLogger())
	other := New("sess-2", durable, ephemeral, newTestLogger())

	_ = s.SetIdentity(ctx, model.Identity{ID: "u1", Email: "a@b.com"})
	_ = s.SaveProfile(ctx, testProfile("u1"))
	_ = s.PutEphemeral(ctx, KeySelectedMembership, model.Plan{Type: "gold", Amount: 3000})
	_ = durable.Put(ctx, "sess-1", "theme", []byte(`"dark"`))

	_ = other.SetIdentity(ctx, model.Identity{ID: "u2", Email: "c@d.com"})
	_ = other.PutEphemeral(ctx, KeySelectedMembership, model.Plan{Type: "basic", Amount: 1000})

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if s.Identity() != nil || s.Profile() != nil {
		t.Error("メモリ上の状態が残っている")
	}

	// Logout後のLoadでは何も見つからない
	reloaded := New("sess-1", durable, ephemeral, newTestLogger())
	reloaded.Load(ctx)
	if reloaded.Identity() != nil || reloaded.Profile() != nil {
		t.Error("Logout後のLoadでIdentity/Profileが見つかった")
	}

	var plan model.Plan
	if ok, _ := s.GetEphemeral(ctx, KeySelectedMembership, &plan); ok {
		t.Error("一時ストアのエントリが残っている")
	}

	// 対象外のキーは残る
	if raw, _ := durable.Get(ctx, "sess-1", "theme"); string(raw) != `"dark"` {
		t.Errorf("theme = %s, 対象外のキーは削除されてはならない", raw)
	}

	// 他のセッションには影響しない
	other.Load(ctx)
	if other.Identity() == nil {
		t.Error("他のセッションのIdentityが消えた")
	}
	if ok, _ := other.GetEphemeral(ctx, KeySelectedMembership, &plan); !ok || plan.Type != "basic" {
		t.Error("他のセッションの一時状態が消えた")
	}
}

func TestStore_Logout_ReportsStoreError(t *testing.T) {
	durable := newMockStateStore()
	durable.deleteFunc = func(context.Context, string, ...string) error {
		return errors.New("db down")
	}

	s := New("sess-1", durable, NewMemoryStore(time.Minute, 0), newTestLogger())
	_ = s.SetIdentity(context.Background(), model.Identity{ID: "u1"})

	if err := s.Logout(context.Background()); err == nil {
		t.Fatal("永続ストアの削除失敗はエラーになるべき")
	}
	if s.Identity() != nil {
		t.Error("失敗してもメモリ上のIdentityは破棄されるべき")
	}
}

func TestStore_EphemeralRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New("sess-1", newMockStateStore(), NewMemoryStore(time.Minute, 0), newTestLogger())

	plans := []model.Plan{
		{Type: "basic", Name: "Basic Membership", Amount: 1000, Features: []string{"Temple access"}},
		{Type: "platinum", Name: "Platinum Membership", Amount: 5000, Features: []string{"All Gold benefits", "Lifetime recognition"}},
	}
	for _, want := range plans {
		if err := s.PutEphemeral(ctx, KeySelectedMembership, want); err != nil {
			t.Fatalf("PutEphemeral: %v", err)
		}
		var got model.Plan
		ok, err := s.GetEphemeral(ctx, KeySelectedMembership, &got)
		if err != nil || !ok {
			t.Fatalf("GetEphemeral: ok=%v err=%v", ok, err)
		}
		if !got.Equal(want) {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}

	if err := s.DeleteEphemeral(ctx, KeySelectedMembership); err != nil {
		t.Fatalf("DeleteEphemeral: %v", err)
	}
	var got model.Plan
	if ok, _ := s.GetEphemeral(ctx, KeySelectedMembership, &got); ok {
		t.Error("削除後も値が残っている")
	}
}

func TestStore_CacheProfileDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	durable := newMockStateStore()
	s := New("sess-1", durable, NewMemoryStore(time.Minute, 0), newTestLogger())

	p := testProfile("u1")
	s.CacheProfile(&p)
	if s.Profile() == nil {
		t.Fatal("CacheProfile後はProfileが参照できるべき")
	}
	if raw, _ := durable.Get(ctx, "sess-1", KeyProfile); raw != nil {
		t.Error("CacheProfileは永続ストアに書き込んではならない")
	}

	s.CacheProfile(nil)
	if s.Profile() != nil {
		t.Error("nilでクリアされるべき")
	}
}
