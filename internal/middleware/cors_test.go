package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	const origin = "https://temple.example"
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name        string
		allowed     string
		origin      string
		method      string
		wantStatus  int
		wantAllowed string
	}{
		{"許可オリジン", origin, origin, http.MethodGet, http.StatusOK, origin},
		{"プリフライト", origin, origin, http.MethodOptions, http.StatusNoContent, origin},
		{"別オリジン", origin, "https://evil.example", http.MethodGet, http.StatusOK, ""},
		{"未設定", "", origin, http.MethodGet, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/membership", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			NewCORSMiddleware(tt.allowed)(ok).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if tt.wantAllowed != "" && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentialsを許可するべき")
			}
		})
	}
}
