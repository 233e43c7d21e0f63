package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"invitecanvas/handlers/auth"
)

func TestAuthJWT(t *testing.T) {
	auth.Init("test-secret")
	defer auth.Init("")

	token, err := auth.CreateJWT("user-1", "ana", "Ana", "")
	if err != nil {
		t.Fatalf("CreateJWT() failed: %v", err)
	}

	var seen string
	h := AuthJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := Claims(r.Context())
		if ok {
			seen = claims.Subject
		}
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && seen != "user-1" {
				t.Errorf("claims not passed on: %q", seen)
			}
		})
	}
}
