// Package auth provides the HTTP convenience-login credential helpers
// the core session controller never touches: bcrypt hashing for the
// token table (spec's "tokens (HTTP-only; not core)") and JWT minting
// for bearer-credential clients of future companion REST endpoints.
//
// The GG wire login hash (spec §4.1 "Password hash primitive") lives
// in internal/protocol/hash.go; this package is unrelated to it.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer mints and hashes HTTP bearer tokens for the registration
// and login endpoints (spec §4.7).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	cost   int
}

// NewTokenIssuer builds an issuer signing with secret and hashing
// token digests at the given bcrypt cost. A zero ttl defaults to 24h.
func NewTokenIssuer(secret []byte, cost int, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl, cost: cost}
}

// Issue mints a signed JWT for uin and returns it alongside an opaque
// id and the bcrypt digest of that id — the caller persists
// (id, digest, expiry) in the tokens table and returns the JWT to the
// client. The JWT itself is never stored; only its id's hash is, so a
// leaked database row cannot be replayed as a bearer token.
func (i *TokenIssuer) Issue(uin uint32) (signed string, id string, digest string, expiresAt time.Time, err error) {
	id, err = randomID()
	if err != nil {
		return "", "", "", time.Time{}, fmt.Errorf("auth: generate token id: %w", err)
	}

	expiresAt = time.Now().Add(i.ttl)

	tok, err := jwt.NewBuilder().
		Subject(fmt.Sprintf("%d", uin)).
		JwtID(id).
		IssuedAt(time.Now()).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", "", "", time.Time{}, fmt.Errorf("auth: build jwt: %w", err)
	}

	raw, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return "", "", "", time.Time{}, fmt.Errorf("auth: sign jwt: %w", err)
	}

	digestBytes, err := bcrypt.GenerateFromPassword([]byte(id), i.cost)
	if err != nil {
		return "", "", "", time.Time{}, fmt.Errorf("auth: hash token id: %w", err)
	}

	return string(raw), id, string(digestBytes), expiresAt, nil
}

// Verify parses and validates signed against the issuer's secret,
// returning the claimed UIN on success.
func (i *TokenIssuer) Verify(signed string) (uin uint32, id string, err error) {
	tok, err := jwt.Parse([]byte(signed), jwt.WithKey(jwa.HS256, i.secret), jwt.WithValidate(true))
	if err != nil {
		return 0, "", fmt.Errorf("auth: invalid token: %w", err)
	}
	if _, err := fmt.Sscanf(tok.Subject(), "%d", &uin); err != nil {
		return 0, "", fmt.Errorf("auth: malformed subject: %w", err)
	}
	return uin, tok.JwtID(), nil
}

// MatchesTokenID reports whether id hashes to digest, the way the
// tokens table verifies a presented id against its stored hash.
func MatchesTokenID(digest, id string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(id)) == nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}
