package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateAndParseJWT(t *testing.T) {
	Init("test-secret")
	defer Init("")

	token, err := CreateJWT("user-1", "ana", "Ana Silva", "ana@example.com")
	if err != nil {
		t.Fatalf("CreateJWT() failed: %v", err)
	}
	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT() failed: %v", err)
	}
	if claims.Subject != "user-1" || claims.Login != "ana" || claims.Email != "ana@example.com" {
		t.Errorf("claims: got %+v", claims)
	}

	Init("another-secret")
	if _, err := ParseJWT(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}
}

func TestJWT_NotConfigured(t *testing.T) {
	Init("")
	if _, err := CreateJWT("u", "l", "n", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateJWT: got %v", err)
	}
	if _, err := ParseJWT("whatever"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ParseJWT: got %v", err)
	}
}

func TestHandleDevToken(t *testing.T) {
	Init("test-secret")
	defer Init("")

	rec := httptest.NewRecorder()
	HandleDevToken()(rec, httptest.NewRequest(http.MethodGet, "/auth/token?login=ana", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := ParseJWT(body["token"])
	if err != nil || claims.Subject != "dev:ana" {
		t.Errorf("token: claims=%+v err=%v", claims, err)
	}

	rec = httptest.NewRecorder()
	HandleDevToken()(rec, httptest.NewRequest(http.MethodGet, "/auth/token", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing login: got %d, want 400", rec.Code)
	}
}
