package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/templeman/internal/model"
)

func TestWriteErrorResponse_DefaultNoticeTitle(t *testing.T) {
	tests := []struct {
		name      string
		err       *model.APIError
		wantTitle string
	}{
		{"検証エラー", model.NewValidationError("Invalid email address"), "Validation Error"},
		{"認証エラー", model.NewAuthError("Invalid login credentials"), "Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, StatusForError(tt.err), tt.err)

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.err.Code || body.Message != tt.err.Message {
				t.Errorf("body = %+v", body)
			}
			if body.Notice == nil || body.Notice.Title != tt.wantTitle ||
				body.Notice.Description != tt.err.Message || body.Notice.Variant != model.NoticeDestructive {
				t.Errorf("notice = %+v", body.Notice)
			}
		})
	}
}

func TestWriteErrorWithTitle(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorWithTitle(w, http.StatusBadRequest, model.NewInvalidFileTypeError(), "Invalid file type")

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Notice.Title != "Invalid file type" || body.Notice.Description != "Please upload only JPG, PNG, or PDF files" {
		t.Errorf("notice = %+v", body.Notice)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewValidationError("x"), http.StatusBadRequest},
		{model.NewFileTooLargeError(5 << 20), http.StatusBadRequest},
		{model.NewNoPlanSelectedError(), http.StatusBadRequest},
		{model.NewAuthError("x"), http.StatusUnauthorized},
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewPlanNotFoundError("diamond"), http.StatusNotFound},
		{model.NewProfileRequiredError(), http.StatusConflict},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewPersistenceError("x"), http.StatusBadGateway},
		{model.NewUploadFailedError("x"), http.StatusBadGateway},
		{model.NewUnavailableError(), http.StatusServiceUnavailable},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForError(tt.err); got != tt.want {
			t.Errorf("StatusForError(%s) = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, slog.New(slog.NewJSONHandler(io.Discard, nil)), errors.New("pq: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" || body.Message != "Something went wrong. Please try again." {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteError_UsesAPIErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := model.NewPersistenceError("new row violates row-level security policy")
	WriteError(w, slog.New(slog.NewJSONHandler(io.Discard, nil)), err)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestWriteRedirect(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRedirect(w, "/status", model.NewNotice("Application Submitted!", "Your membership application has been submitted for review."))

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/status" {
		t.Fatalf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
	var body NavigationBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Redirect != "/status" || body.Notice == nil || body.Notice.Variant != model.NoticeDefault {
		t.Errorf("body = %+v", body)
	}
}
