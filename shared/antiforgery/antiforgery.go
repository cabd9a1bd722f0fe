// Package antiforgery issues and checks double-submit tokens for form posts.
//
// The cookie token identifies the browser session. The request token is
// embedded in the page and names the cookie token it was minted for. Both are
// HS256 JWTs signed with a key derived from the configured secret.
package antiforgery

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

const (
	DefaultCookieName    = ".BankApp.Antiforgery"
	DefaultFormFieldName = "__RequestVerificationToken"
	DefaultHeaderName    = "RequestVerificationToken"
	DefaultTokenTTL      = 2 * time.Hour

	kindCookie  = "cookie"
	kindRequest = "request"
	issuer      = "bank-application"
)

var (
	ErrCookieMissing = errors.New("antiforgery cookie missing")
	ErrTokenMissing  = errors.New("antiforgery request token missing")
	ErrTokenInvalid  = errors.New("antiforgery token invalid")
	ErrTokenMismatch = errors.New("antiforgery tokens do not match")
)

// Reason maps a validation error to a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCookieMissing):
		return "cookie_missing"
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrTokenMismatch):
		return "token_mismatch"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	default:
		return "unknown"
	}
}

type Options struct {
	Secret        string
	CookieName    string
	FormFieldName string
	HeaderName    string
	Secure        bool
	TokenTTL      time.Duration
}

// Claims carries the token kind and, for request tokens, the cookie token ID.
type Claims struct {
	Kind     string `json:"kind"`
	CookieID string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// Manager is safe for concurrent use.
type Manager struct {
	key     []byte
	opts    Options
	now     func() time.Time
	logger  *zap.Logger
	methods []string
}

func NewManager(opts Options, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "antiforgery"))

	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.FormFieldName == "" {
		opts.FormFieldName = DefaultFormFieldName
	}
	if opts.HeaderName == "" {
		opts.HeaderName = DefaultHeaderName
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}

	key, err := signingKey(opts.Secret)
	if err != nil {
		return nil, err
	}
	if opts.Secret == "" {
		logger.Warn("no antiforgery secret configured, using a per-process key; tokens will not survive restarts")
	}

	return &Manager{
		key:     key,
		opts:    opts,
		now:     time.Now,
		logger:  logger,
		methods: []string{jwt.SigningMethodHS256.Alg()},
	}, nil
}

func signingKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	if secret == "" {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate antiforgery key: %w", err)
		}
		return key, nil
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("antiforgery-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive antiforgery key: %w", err)
	}
	return key, nil
}

func (m *Manager) FormFieldName() string { return m.opts.FormFieldName }

func (m *Manager) HeaderName() string { return m.opts.HeaderName }

func (m *Manager) CookieName() string { return m.opts.CookieName }

// GetAndStoreTokens returns a request token for the page being rendered and
// makes sure the response carries a cookie token it belongs to. An existing
// valid cookie token is reused.
func (m *Manager) GetAndStoreTokens(w http.ResponseWriter, r *http.Request) (string, error) {
	cookieID, ok := m.existingCookieID(r)
	if !ok {
		cookieID = uuid.NewString()
		cookieToken, err := m.sign(Claims{
			Kind: kindCookie,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:       cookieID,
				Issuer:   issuer,
				IssuedAt: jwt.NewNumericDate(m.now()),
			},
		})
		if err != nil {
			return "", err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     m.opts.CookieName,
			Value:    cookieToken,
			Path:     "/",
			HttpOnly: true,
			Secure:   m.opts.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}

	now := m.now()
	requestToken, err := m.sign(Claims{
		Kind:     kindRequest,
		CookieID: cookieID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.opts.TokenTTL)),
		},
	})
	if err != nil {
		return "", err
	}

	h := w.Header()
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Pragma", "no-cache")

	return requestToken, nil
}

// Validate checks the cookie token against the request token taken from the
// form field or, failing that, the header.
func (m *Manager) Validate(r *http.Request) error {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return ErrCookieMissing
	}
	cookieClaims, err := m.parse(cookie.Value, kindCookie)
	if err != nil {
		return fmt.Errorf("cookie token: %w", err)
	}

	token := r.PostFormValue(m.opts.FormFieldName)
	if token == "" {
		token = r.Header.Get(m.opts.HeaderName)
	}
	if token == "" {
		return ErrTokenMissing
	}
	requestClaims, err := m.parse(token, kindRequest)
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}

	if requestClaims.CookieID == "" || requestClaims.CookieID != cookieClaims.ID {
		return ErrTokenMismatch
	}
	return nil
}

func (m *Manager) existingCookieID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	claims, err := m.parse(cookie.Value, kindCookie)
	if err != nil {
		m.logger.Debug("discarding unusable antiforgery cookie", zap.Error(err))
		return "", false
	}
	return claims.ID, true
}

func (m *Manager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign antiforgery token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(raw, kind string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods(m.methods),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != kind {
		return nil, ErrTokenInvalid
	}
	if kind == kindCookie && claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
