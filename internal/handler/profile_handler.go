package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/profile"
	"github.com/hitoshi/templeman/internal/validation"
)

// documentField はmultipartフォームの本人確認書類フィールド名。
const documentField = "aadharCard"

// multipartOverhead は書類以外のフォーム値とmultipartの区切りに許容するサイズ。
const multipartOverhead = 1 << 20

// ProfileService はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileService interface {
	Save(ctx context.Context, owner profile.Owner, in validation.ProfileInput, doc *profile.Document) (*model.Profile, error)
	MaxSize() int64
}

// ProfileHandler はプロフィール作成・更新のハンドラー。
type ProfileHandler struct {
	service ProfileService
	logger  *slog.Logger
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: service, logger: logger}
}

type createProfileBody struct {
	View            string         `json:"view"`
	Email           string         `json:"email"`
	Profile         *model.Profile `json:"profile"`
	MaxDocumentSize int64          `json:"maxDocumentSize"`
}

// Form はプロフィール作成画面を返す。作成済みの場合は現在の値を含む。
// GET /create-profile（ガード: OptionalProfile）
func (h *ProfileHandler) Form(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)
	middleware.WriteJSON(w, createProfileBody{
		View:            "create-profile",
		Email:           view.Identity.Email,
		Profile:         view.Profile,
		MaxDocumentSize: h.service.MaxSize(),
	})
}

// Save はプロフィールを保存し、書類があればアップロードする。
// multipart/form-data（書類あり）とJSON（書類なし）を受け付ける。
// POST /create-profile（ガード: OptionalProfile）
func (h *ProfileHandler) Save(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)

	in, doc, err := h.readRequest(w, r)
	if err != nil {
		writeFailure(w, h.logger, err, uploadTitle(err))
		return
	}

	owner := profile.Owner{
		Identity:    view.Identity,
		AccessToken: view.Session.AccessToken,
		Store:       view.Store,
		Existing:    view.Profile,
	}
	if _, err := h.service.Save(r.Context(), owner, in, doc); err != nil {
		writeFailure(w, h.logger, err, uploadTitle(err))
		return
	}

	middleware.WriteRedirect(w, homePath, model.NewNotice("Profile saved!", "Your profile has been updated successfully."))
}

// readRequest はリクエストからプロフィール入力と書類を取り出す。
func (h *ProfileHandler) readRequest(w http.ResponseWriter, r *http.Request) (validation.ProfileInput, *profile.Document, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var in validation.ProfileInput
		if err := decodeJSON(w, r, &in); err != nil {
			return validation.ProfileInput{}, nil, err
		}
		return in, nil, nil
	}

	maxSize := h.service.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return validation.ProfileInput{}, nil, model.NewFileTooLargeError(maxSize)
		}
		return validation.ProfileInput{}, nil, errInvalidBody
	}
	defer r.MultipartForm.RemoveAll()

	in := validation.ProfileInput{
		FullName:         r.FormValue("fullName"),
		Email:            r.FormValue("email"),
		Phone:            r.FormValue("phone"),
		AadharNumber:     r.FormValue("aadharNumber"),
		DateOfBirth:      r.FormValue("dateOfBirth"),
		Address:          r.FormValue("address"),
		City:             r.FormValue("city"),
		State:            r.FormValue("state"),
		Pincode:          r.FormValue("pincode"),
		EmergencyContact: r.FormValue("emergencyContact"),
		EmergencyPhone:   r.FormValue("emergencyPhone"),
	}

	file, header, err := r.FormFile(documentField)
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, nil
	}
	if err != nil {
		return validation.ProfileInput{}, nil, errInvalidBody
	}
	defer file.Close()

	// 上限+1バイトまで読み、超過はサービス側のサイズ検証で検出する
	body, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return validation.ProfileInput{}, nil, errInvalidBody
	}

	return in, &profile.Document{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        body,
	}, nil
}

// uploadTitle はエラーに対応する通知タイトルを返す。
func uploadTitle(err error) string {
	switch {
	case model.IsCode(err, model.ErrCodeInvalidFileType):
		return "Invalid file type"
	case model.IsCode(err, model.ErrCodeFileTooLarge):
		return "File too large"
	default:
		return failureTitle(err, "Error")
	}
}
