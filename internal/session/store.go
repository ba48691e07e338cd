// Package session はブラウザセッションごとの状態を所有するStoreを提供する。
//
// Storeは1つのBFFセッションIDに束縛され、ログイン中のIdentityとProfileを
// メモリ上に保持する。永続状態（user, userProfile）は永続ストアに、
// タブの寿命程度で消えてよい状態は一時ストアに保存する。
// 別のブラウザセッションのStoreとは状態を共有しない。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/templeman/internal/model"
)

// 状態ストアのキー
const (
	// KeyUser は永続ストアに保存するIdentity。
	KeyUser = "user"
	// KeyProfile は永続ストアに保存するProfile。
	KeyProfile = "userProfile"
	// KeySelectedMembership は一時ストアに保存する選択中のプラン。
	KeySelectedMembership = "selectedMembership"
)

// StateStore はスコープ（セッションID）ごとのキーとJSON値を保存するストア。
// repository.ClientStateRepositoryとMemoryStoreが実装する。
type StateStore interface {
	// Get は値を取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, scope, key string) ([]byte, error)
	// Put は値を作成または置換する。
	Put(ctx context.Context, scope, key string, value []byte) error
	// Delete は指定キーを削除する。キー未指定の場合はスコープ全体を削除する。
	Delete(ctx context.Context, scope string, keys ...string) error
}

// Store は1つのブラウザセッションの状態を保持する。
type Store struct {
	id        string
	durable   StateStore
	ephemeral StateStore
	logger    *slog.Logger

	mu       sync.RWMutex
	identity *model.Identity
	profile  *model.Profile
}

// New はセッションIDに束縛されたStoreを生成する。状態の読み込みはLoadで行う。
func New(id string, durable, ephemeral StateStore, logger *slog.Logger) *Store {
	return &Store{
		id:        id,
		durable:   durable,
		ephemeral: ephemeral,
		logger:    logger,
	}
}

// ID はセッションIDを返す。
func (s *Store) ID() string {
	return s.id
}

// Load は永続ストアからIdentityとProfileを読み込む。
// 存在しないエントリや読み込めないエントリは読み飛ばし、エラーは返さない。
func (s *Store) Load(ctx context.Context) {
	var identity model.Identity
	okIdentity := s.loadDurable(ctx, KeyUser, &identity)

	var profile model.Profile
	okProfile := s.loadDurable(ctx, KeyProfile, &profile)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.profile = nil
	if okIdentity {
		s.identity = &identity
	}
	if okProfile {
		s.profile = &profile
	}
}

// loadDurable は永続ストアの1エントリをvにデコードする。
func (s *Store) loadDurable(ctx context.Context, key string, v any) bool {
	raw, err := s.durable.Get(ctx, s.id, key)
	if err != nil {
		s.logger.Warn("failed to read session state",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("skipping unreadable session state",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// Identity はログイン中のIdentityを返す。未ログインの場合はnil。
func (s *Store) Identity() *model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

// Profile はメモリ上のProfileを返す。未作成または未読み込みの場合はnil。
func (s *Store) Profile() *model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	cp := *s.profile
	return &cp
}

// SetIdentity はIdentityをメモリと永続ストアに保存する。
func (s *Store) SetIdentity(ctx context.Context, identity model.Identity) error {
	if err := s.putDurable(ctx, KeyUser, identity); err != nil {
		return err
	}
	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()
	return nil
}

// SaveProfile はProfileをメモリと永続ストアに保存する。
func (s *Store) SaveProfile(ctx context.Context, profile model.Profile) error {
	if err := s.putDurable(ctx, KeyProfile, profile); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile = &profile
	s.mu.Unlock()
	return nil
}

// CacheProfile は外部基盤から取得したProfileをメモリ上にのみ保持する。
func (s *Store) CacheProfile(profile *model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile == nil {
		s.profile = nil
		return
	}
	cp := *profile
	s.profile = &cp
}

func (s *Store) putDurable(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.durable.Put(ctx, s.id, key, raw); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Logout はメモリ上のIdentityとProfileを破棄し、永続ストアのuserとuserProfileを削除し、
// 一時ストアのこのセッションのエントリをすべて削除する。
// 他のキーや他のセッションには影響しない。
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.identity = nil
	s.profile = nil
	s.mu.Unlock()

	var durableErr, ephemeralErr error
	if err := s.durable.Delete(ctx, s.id, KeyUser, KeyProfile); err != nil {
		durableErr = fmt.Errorf("failed to clear durable state: %w", err)
	}
	if err := s.ephemeral.Delete(ctx, s.id); err != nil {
		ephemeralErr = fmt.Errorf("failed to clear ephemeral state: %w", err)
	}
	return errors.Join(durableErr, ephemeralErr)
}

// PutEphemeral はvをJSONとして一時ストアに保存する。
func (s *Store) PutEphemeral(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.ephemeral.Put(ctx, s.id, key, raw); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// GetEphemeral は一時ストアの値をvにデコードする。存在しない場合はfalseを返す。
func (s *Store) GetEphemeral(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.ephemeral.Get(ctx, s.id, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// DeleteEphemeral は一時ストアの値を削除する。
func (s *Store) DeleteEphemeral(ctx context.Context, key string) error {
	if err := s.ephemeral.Delete(ctx, s.id, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
