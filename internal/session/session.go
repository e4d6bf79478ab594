// Package session binds a caller to the owner and credential they last
// issued, using an HMAC-signed JWT in a cookie. Nothing is stored server side.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "keyrelay_session"
	DefaultTTL        = 24 * time.Hour

	issuer = "keyrelay"
)

// ErrNoSession means the request carries no valid session.
var ErrNoSession = errors.New("no active session")

// Session is what a cookie carries.
type Session struct {
	OwnerIdentity string
	APIKey        string
	APIName       string
	ExpiresAt     time.Time
}

type claims struct {
	jwt.RegisteredClaims
	OwnerIdentity string `json:"owner_identity"`
	APIKey        string `json:"api_key"`
	APIName       string `json:"api_name"`
}

// Store issues and verifies session cookies.
type Store struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	clock      func() time.Time
}

// Options configure a Store.
type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
	Clock      func() time.Time
}

// NewStore builds a Store signing with secret.
func NewStore(secret []byte, opts Options) (*Store, error) {
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 bytes")
	}

	s := &Store{
		secret:     append([]byte(nil), secret...),
		cookieName: opts.CookieName,
		ttl:        opts.TTL,
		secure:     opts.Secure,
		clock:      opts.Clock,
	}
	if s.cookieName == "" {
		s.cookieName = DefaultCookieName
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// RandomSecret returns a fresh 32-byte secret, hex encoded.
func RandomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Bind writes a cookie binding the caller to sess.
func (s *Store) Bind(w http.ResponseWriter, sess Session) error {
	now := s.clock().UTC()
	expires := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		OwnerIdentity: sess.OwnerIdentity,
		APIKey:        sess.APIKey,
		APIName:       sess.APIName,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Load returns the session on r, or ErrNoSession when the cookie is missing,
// tampered with or expired.
func (s *Store) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)

	var c claims
	token, err := parser.ParseWithClaims(cookie.Value, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrNoSession
	}
	if c.APIKey == "" || c.OwnerIdentity == "" {
		return nil, ErrNoSession
	}

	return &Session{
		OwnerIdentity: c.OwnerIdentity,
		APIKey:        c.APIKey,
		APIName:       c.APIName,
		ExpiresAt:     c.ExpiresAt.Time.UTC(),
	}, nil
}

// Clear expires the session cookie.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
