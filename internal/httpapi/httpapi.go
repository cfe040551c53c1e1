// Package httpapi implements the thin HTTP surface spec.md treats as
// an external collaborator (§1 "Out of scope", §6 "HTTP service
// discovery"): client discovery, account registration, a trivial
// captcha, a convenience bearer-token login, and a Prometheus scrape
// endpoint. None of this participates in session authentication; the
// GG wire login (spec §4.5) never imports this package.
package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skorotkiewicz/gg-retro/internal/auth"
	"github.com/skorotkiewicz/gg-retro/internal/storage"
)

// Config configures the HTTP router's handlers.
type Config struct {
	Users    storage.UserRepository
	Tokens   storage.TokenRepository
	Issuer   *auth.TokenIssuer
	Hostname string
	GGPort   int
	Registry *prometheus.Registry // nil disables /metrics
	Logger   *zap.Logger
}

// NewRouter builds the chi router implementing spec §6's HTTP surface
// plus spec §4.7's registration/login/captcha/metrics additions.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	h := &handlers{cfg: cfg, captchas: newCaptchaStore()}

	r.Get("/appsvc/appmsg4.asp", h.discovery)
	r.Get("/appsvc/appmsg3.asp", h.discoveryNoTLS)
	r.Post("/register", h.register)
	r.Get("/captcha", h.captcha)
	r.Post("/login", h.login)

	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			log.Debug("http request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

type handlers struct {
	cfg      Config
	captchas *captchaStore
}

// discovery implements spec §6's "GET /appsvc/appmsg4.asp" server
// discovery endpoint the reference client polls before connecting.
func (h *handlers) discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "0 0 %s:%d %s", h.cfg.Hostname, h.cfg.GGPort, h.cfg.Hostname)
}

// discoveryNoTLS implements "GET /appsvc/appmsg3.asp": an empty 200,
// signalling TLS is not offered.
func (h *handlers) discoveryNoTLS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	UIN  uint32 `json:"uin"`
	Name string `json:"name"`
}

// register creates an account through UserRepository.Create, the one
// core interface the HTTP surface is permitted to call per spec §1.
func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email, and password are required")
		return
	}

	user, err := h.cfg.Users.Create(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{UIN: user.UIN, Name: user.Name})
}

type captchaResponse struct {
	ID  string `json:"id"`
	Art string `json:"art"`
}

// captcha hands out a short numeric challenge rendered as ASCII art.
// Spec's Non-goals exclude "full HTTP account-management flow
// details"; this stays deliberately trivial rather than pulling in an
// image-rendering library the pack doesn't carry.
func (h *handlers) captcha(w http.ResponseWriter, r *http.Request) {
	id, code, err := h.captchas.issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "captcha generation failed")
		return
	}
	writeJSON(w, http.StatusOK, captchaResponse{ID: id, Art: renderCaptchaArt(code)})
}

type loginRequest struct {
	UIN      uint32 `json:"uin"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// login is an HTTP convenience distinct from the wire Login60 (spec
// §4.7): on a correct plaintext-password match it mints a bearer JWT
// for clients of future companion REST endpoints.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.cfg.Users.FindByUIN(r.Context(), req.UIN)
	if err != nil || user.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	signed, id, digest, expiresAt, err := h.cfg.Issuer.Issue(user.UIN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	if err := h.cfg.Tokens.Store(r.Context(), id, user.UIN, digest, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, "token persistence failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: signed, ExpiresAt: expiresAt.Unix()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0') + byte(d.Int64())
	}
	return string(digits), nil
}
