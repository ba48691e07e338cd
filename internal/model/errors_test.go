package model

import (
	"errors"
	"fmt"
	"testing"
	"unicode"
)

// isEnglishText はsがASCII文字と₹のみで構成されているかを返す。
func isEnglishText(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII && r != '₹' {
			return false
		}
	}
	return true
}

func TestAPIError_ClientFacingTextIsEnglish(t *testing.T) {
	tests := []*APIError{
		NewValidationError("Name must be at least 2 characters"),
		NewAuthError(""),
		NewUnauthorizedError(),
		NewPersistenceError("duplicate key value"),
		NewUnavailableError(),
		NewInvalidFileTypeError(),
		NewFileTooLargeError(5 << 20),
		NewUploadFailedError("bucket not found"),
		NewProfileRequiredError(),
		NewNoPlanSelectedError(),
		NewPlanNotFoundError("diamond"),
		NewNoPendingSignupError(),
		NewRateLimitedError(),
	}

	for _, e := range tests {
		t.Run(e.Code, func(t *testing.T) {
			if e.Message == "" || e.Action == "" {
				t.Fatalf("Message/Action must be set: %+v", e)
			}
			if !isEnglishText(e.Message) {
				t.Errorf("Message = %q, 英語で返すべき", e.Message)
			}
			if !isEnglishText(e.Action) {
				t.Errorf("Action = %q, 英語で返すべき", e.Action)
			}
		})
	}
}

func TestNewAuthError_DefaultMessage(t *testing.T) {
	if got := NewAuthError("").Message; got != "Please check your credentials." {
		t.Errorf("Message = %q", got)
	}
	if got := NewAuthError("Invalid login credentials").Message; got != "Invalid login credentials" {
		t.Errorf("Message = %q", got)
	}
}

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("save: %w", NewProfileRequiredError())
	if !IsCode(wrapped, ErrCodeProfileRequired) {
		t.Error("ラップされたAPIErrorのコードを判定できるべき")
	}
	if IsCode(wrapped, ErrCodeNoPlanSelected) {
		t.Error("異なるコードはfalseであるべき")
	}
	if IsCode(errors.New("plain"), ErrCodeProfileRequired) {
		t.Error("APIError以外はfalseであるべき")
	}
}
