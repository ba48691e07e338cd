// Package profile は会員プロフィールの保存と本人確認書類のアップロードを提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/session"
	"github.com/hitoshi/templeman/internal/validation"
)

// デフォルト設定
const (
	DefaultBucket  = "aadhar-cards"
	DefaultMaxSize = 5 * 1024 * 1024
)

// declaredTypes は申告されたContent-Typeとして受け付ける形式。
var declaredTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"application/pdf": true,
}

// sniffedTypes は内容から判定した形式として受け付ける形式。
var sniffedTypes = []string{"image/jpeg", "image/png", "application/pdf"}

// Document はアップロードされた本人確認書類。
type Document struct {
	Filename    string
	ContentType string
	// Size は申告されたサイズ。Bodyが切り詰められている場合もサイズ判定に使う。
	Size int64
	Body []byte
}

// Owner はプロフィールを保存する利用者の状態。
type Owner struct {
	Identity    model.Identity
	AccessToken string
	Store       *session.Store
	// Existing は保存済みのプロフィール。未作成ならnil。
	Existing *model.Profile
}

// Sanitizer は自由記述の値を無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Observer はプロフィール保存の結果を記録する。
type Observer interface {
	ObserveProfileSaved(withDocument bool)
}

// Config はプロフィールサービスの設定。
type Config struct {
	Bucket  string
	MaxSize int64
}

// Service はプロフィールの検証・書類アップロード・保存を行う。
type Service struct {
	profiles  backend.Profiles
	blob      backend.Blob
	sanitizer Sanitizer
	observer  Observer
	config    Config
	logger    *slog.Logger
}

// NewService はServiceを生成する。observerはnilでもよい。
func NewService(
	profiles backend.Profiles,
	blob backend.Blob,
	sanitizer Sanitizer,
	observer Observer,
	config Config,
	logger *slog.Logger,
) *Service {
	if config.Bucket == "" {
		config.Bucket = DefaultBucket
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	return &Service{
		profiles:  profiles,
		blob:      blob,
		sanitizer: sanitizer,
		observer:  observer,
		config:    config,
		logger:    logger,
	}
}

// MaxSize はアップロード可能な書類の最大サイズを返す。
func (s *Service) MaxSize() int64 {
	return s.config.MaxSize
}

// Save はプロフィールを検証し、書類があればアップロードしてから外部基盤に保存する。
// いずれかの段階で失敗した場合、それ以降の処理は行わない。
// 書類が指定されない場合は保存済みの書類URLを引き継ぐ。
func (s *Service) Save(ctx context.Context, owner Owner, in validation.ProfileInput, doc *Document) (*model.Profile, error) {
	// 1. 無害化してから検証する（メールアドレスはIdentityのものに固定）
	if owner.Identity.Email != "" {
		in.Email = owner.Identity.Email
	}
	valid, err := validation.Profile(s.sanitize(in))
	if err != nil {
		return nil, err
	}
	p := valid.ToProfile(owner.Identity.ID)

	if owner.Existing != nil {
		p.AadharCardURL = owner.Existing.AadharCardURL
	}

	// 2. 書類の検証とアップロード
	if doc != nil {
		ext, err := s.checkDocument(doc)
		if err != nil {
			return nil, err
		}
		url, err := s.upload(ctx, owner, doc, ext)
		if err != nil {
			return nil, err
		}
		p.AadharCardURL = url
	}

	// 3. プロフィールの保存
	saved, err := s.profiles.UpsertProfile(ctx, owner.AccessToken, &p)
	if err != nil {
		s.logger.Warn("profile upsert failed",
			slog.String("user_id", owner.Identity.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPersistenceError(backend.Message(err, "Failed to save profile. Please try again."))
	}
	if saved == nil {
		saved = &p
	}

	// 4. セッション状態の更新
	if err := owner.Store.SaveProfile(ctx, *saved); err != nil {
		return nil, fmt.Errorf("failed to store profile in session: %w", err)
	}

	s.logger.Info("profile saved",
		slog.String("user_id", owner.Identity.ID),
		slog.Bool("document_uploaded", doc != nil),
	)
	if s.observer != nil {
		s.observer.ObserveProfileSaved(doc != nil)
	}
	return saved, nil
}

// sanitize は自由記述のフィールドからHTMLを取り除く。
// 長さの検証は無害化後の値に対して行う。
func (s *Service) sanitize(in validation.ProfileInput) validation.ProfileInput {
	if s.sanitizer == nil {
		return in
	}
	in.FullName = s.sanitizer.Sanitize(in.FullName)
	in.Address = s.sanitizer.Sanitize(in.Address)
	in.City = s.sanitizer.Sanitize(in.City)
	in.State = s.sanitizer.Sanitize(in.State)
	in.EmergencyContact = s.sanitizer.Sanitize(in.EmergencyContact)
	return in
}

// checkDocument は書類の形式とサイズを検証し、保存時の拡張子を返す。
// 申告された形式と内容から判定した形式の両方が許可形式である必要がある。
func (s *Service) checkDocument(doc *Document) (string, error) {
	declared := strings.ToLower(strings.TrimSpace(strings.Split(doc.ContentType, ";")[0]))
	if !declaredTypes[declared] {
		return "", model.NewInvalidFileTypeError()
	}

	size := doc.Size
	if n := int64(len(doc.Body)); n > size {
		size = n
	}
	if size > s.config.MaxSize {
		return "", model.NewFileTooLargeError(s.config.MaxSize)
	}

	mt := mimetype.Detect(doc.Body)
	if !mimetype.EqualsAny(mt.String(), sniffedTypes...) {
		return "", model.NewInvalidFileTypeError()
	}
	return mt.Extension(), nil
}

// upload は書類を {uid}/aadhar-card.{ext} に上書き保存し、公開URLを返す。
func (s *Service) upload(ctx context.Context, owner Owner, doc *Document, ext string) (string, error) {
	path := owner.Identity.ID + "/aadhar-card" + ext
	mt := mimetype.Detect(doc.Body)

	if err := s.blob.Upload(ctx, owner.AccessToken, s.config.Bucket, path, mt.String(), doc.Body, true); err != nil {
		s.logger.Warn("document upload failed",
			slog.String("user_id", owner.Identity.ID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUploadFailedError(backend.Message(err, "Failed to upload document. Please try again."))
	}
	return s.blob.PublicURL(s.config.Bucket, path), nil
}
