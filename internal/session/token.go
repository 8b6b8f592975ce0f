package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// TokenCookieName is the client-held credential naming a license.
	TokenCookieName = "user_license"

	minLicenseLength = 6
)

var (
	ErrInvalidToken  = errors.New("invalid session token")
	ErrInvalidExpiry = errors.New("token expiry not accepted")
	ErrWeakSecret    = errors.New("token secret must be at least 16 bytes")
)

// Token is the decoded session credential.
type Token struct {
	License string
	Expiry  *time.Time
}

// Codec converts tokens to and from the string stored in the jar.
type Codec interface {
	Encode(tok Token) (string, error)
	Decode(raw string) (Token, error)
	Name() string
}

// PlainCodec stores the license string itself. Anyone who knows a license
// string can forge it.
type PlainCodec struct{}

func (PlainCodec) Name() string { return "plain" }

func (PlainCodec) Encode(tok Token) (string, error) {
	return tok.License, nil
}

func (PlainCodec) Decode(raw string) (Token, error) {
	return Token{License: raw}, nil
}

// SignedCodec stores an HS256 JWT whose subject is the license string. It
// prevents forging a token for a license the holder never activated. It
// does not consult the ledger.
type SignedCodec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// NewSignedCodec derives a signing key from secret with HKDF-SHA256.
func NewSignedCodec(secret []byte, issuer string) (*SignedCodec, error) {
	if len(secret) < 16 {
		return nil, ErrWeakSecret
	}

	kdf := hkdf.New(sha256.New, secret, []byte("scholarpass-session"), []byte("user_license token v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	return &SignedCodec{key: key, issuer: issuer, now: time.Now}, nil
}

func (c *SignedCodec) Name() string { return "signed" }

func (c *SignedCodec) Encode(tok Token) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  tok.License,
			Issuer:   c.issuer,
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	}
	if tok.Expiry != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*tok.Expiry)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c *SignedCodec) Decode(raw string) (Token, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return c.key, nil
	}, opts...)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Token{}, ErrInvalidToken
	}

	tok := Token{License: claims.Subject}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		tok.Expiry = &exp
	}
	return tok, nil
}

// Jar persists named values on the client.
type Jar interface {
	Get(name string) (string, bool)
	// Set stores value. A nil expiry keeps it until the client session ends.
	Set(name, value string, expiry *time.Time) error
	Delete(name string)
}

// CookieJar is a Jar over one HTTP exchange.
type CookieJar struct {
	r      *http.Request
	w      http.ResponseWriter
	secure bool
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*string
}

// NewCookieJar creates a jar reading cookies from r and writing them to w.
func NewCookieJar(w http.ResponseWriter, r *http.Request, secure bool) *CookieJar {
	return &CookieJar{
		r:       r,
		w:       w,
		secure:  secure,
		now:     time.Now,
		pending: make(map[string]*string),
	}
}

// Get returns a value written earlier in this exchange, or the request cookie.
func (j *CookieJar) Get(name string) (string, bool) {
	j.mu.Lock()
	if v, ok := j.pending[name]; ok {
		j.mu.Unlock()
		if v == nil {
			return "", false
		}
		return *v, true
	}
	j.mu.Unlock()

	c, err := j.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Set writes a cookie. Expiries in the past or beyond what browsers accept
// are rejected with ErrInvalidExpiry.
func (j *CookieJar) Set(name, value string, expiry *time.Time) error {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if expiry != nil {
		if !expiry.After(j.now()) || expiry.Year() >= 10000 {
			return ErrInvalidExpiry
		}
		cookie.Expires = expiry.UTC()
		cookie.MaxAge = int(expiry.Sub(j.now()).Seconds())
		if cookie.MaxAge <= 0 {
			return ErrInvalidExpiry
		}
	}
	if err := cookie.Valid(); err != nil {
		return fmt.Errorf("invalid cookie: %w", err)
	}

	http.SetCookie(j.w, cookie)

	j.mu.Lock()
	j.pending[name] = &value
	j.mu.Unlock()
	return nil
}

// Delete expires the cookie on the client.
func (j *CookieJar) Delete(name string) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})

	j.mu.Lock()
	j.pending[name] = nil
	j.mu.Unlock()
}

// MemoryJar is a Jar held in process, for non-HTTP callers and tests.
type MemoryJar struct {
	mu       sync.Mutex
	values   map[string]string
	expiries map[string]*time.Time
	// Reject, when set, makes Set fail for matching expiries.
	Reject func(expiry *time.Time) bool
}

// NewMemoryJar creates an empty jar.
func NewMemoryJar() *MemoryJar {
	return &MemoryJar{
		values:   make(map[string]string),
		expiries: make(map[string]*time.Time),
	}
}

func (j *MemoryJar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.values[name]
	return v, ok
}

func (j *MemoryJar) Set(name, value string, expiry *time.Time) error {
	if j.Reject != nil && j.Reject(expiry) {
		return ErrInvalidExpiry
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[name] = value
	j.expiries[name] = expiry
	return nil
}

func (j *MemoryJar) Delete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.values, name)
	delete(j.expiries, name)
}

// Expiry returns the expiry the value was stored with.
func (j *MemoryJar) Expiry(name string) *time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.expiries[name]
}

// TokenManager issues, reads and revokes session tokens.
type TokenManager struct {
	codec  Codec
	name   string
	logger *slog.Logger
}

// NewTokenManager creates a manager storing tokens under TokenCookieName.
func NewTokenManager(codec Codec, logger *slog.Logger) *TokenManager {
	if codec == nil {
		codec = PlainCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		codec:  codec,
		name:   TokenCookieName,
		logger: logger.With(slog.String("component", "token_manager")),
	}
}

// Codec returns the configured codec.
func (m *TokenManager) Codec() Codec {
	return m.codec
}

// Issue persists a token for license. If the jar refuses the timed token,
// an expiry-less token is stored instead.
func (m *TokenManager) Issue(jar Jar, license string, expiry *time.Time) error {
	value, err := m.codec.Encode(Token{License: license, Expiry: expiry})
	if err != nil {
		return err
	}

	err = jar.Set(m.name, value, expiry)
	if err == nil || expiry == nil {
		return err
	}

	m.logger.Warn("timed session token rejected, storing without expiry",
		slog.String("error", err.Error()),
	)
	value, err = m.codec.Encode(Token{License: license})
	if err != nil {
		return err
	}
	return jar.Set(m.name, value, nil)
}

// Current returns the stored token when it decodes and names a license of
// plausible length. The ledger is not consulted.
func (m *TokenManager) Current(jar Jar) (Token, bool) {
	raw, ok := jar.Get(m.name)
	if !ok || raw == "" {
		return Token{}, false
	}

	tok, err := m.codec.Decode(raw)
	if err != nil {
		m.logger.Debug("discarding undecodable session token", slog.String("error", err.Error()))
		return Token{}, false
	}
	if len(tok.License) < minLicenseLength {
		return Token{}, false
	}
	return tok, true
}

// Revoke deletes the token and force-logs-out the session.
func (m *TokenManager) Revoke(jar Jar, s *Session) {
	jar.Delete(m.name)
	if s != nil {
		s.ForceLogout()
	}
}
