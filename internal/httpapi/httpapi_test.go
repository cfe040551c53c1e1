package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skorotkiewicz/gg-retro/internal/auth"
	"github.com/skorotkiewicz/gg-retro/internal/storage"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	users := storage.NewMemoryUserRepository()
	tokens := storage.NewMemoryTokenRepository()
	issuer := auth.NewTokenIssuer([]byte("test-secret"), 4, time.Hour)
	return NewRouter(Config{
		Users:    users,
		Tokens:   tokens,
		Issuer:   issuer,
		Hostname: "gg.example.com",
		GGPort:   8074,
	})
}

func TestDiscoveryEndpoints(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/appsvc/appmsg4.asp", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := "0 0 gg.example.com:8074 gg.example.com"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/appsvc/appmsg3.asp", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK || rec2.Body.Len() != 0 {
		t.Errorf("appmsg3 expected empty 200, got %d body=%q", rec2.Code, rec2.Body.String())
	}
}

func TestRegisterAndLogin(t *testing.T) {
	router := testRouter(t)

	body, _ := json.Marshal(registerRequest{Name: "tester", Email: "t@example.com", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if created.UIN == 0 {
		t.Fatal("expected a nonzero assigned uin")
	}

	// duplicate email is rejected
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body)))
	if rec2.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate email, got %d", rec2.Code)
	}

	// login with correct password
	loginBody, _ := json.Marshal(loginRequest{UIN: created.UIN, Password: "hunter2"})
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(loginBody)))
	if rec3.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec3.Code, rec3.Body.String())
	}
	var loginResp loginResponse
	if err := json.Unmarshal(rec3.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Error("expected a nonempty bearer token")
	}

	// login with wrong password is rejected
	badBody, _ := json.Marshal(loginRequest{UIN: created.UIN, Password: "wrong"})
	rec4 := httptest.NewRecorder()
	router.ServeHTTP(rec4, httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(badBody)))
	if rec4.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 on wrong password, got %d", rec4.Code)
	}
}

func TestCaptchaIssueAndVerify(t *testing.T) {
	store := newCaptchaStore()
	id, code, err := store.issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !store.Verify(id, code) {
		t.Error("expected Verify to accept the issued code")
	}
	// consumed on first use
	if store.Verify(id, code) {
		t.Error("expected a consumed captcha to no longer verify")
	}
}
