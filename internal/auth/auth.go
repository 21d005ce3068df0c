// Package auth holds the control plane's credential checks: tenant
// passwords, tenant bearer tokens and the admin token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenTTL is the lifetime of a tenant bearer token.
	TokenTTL = 8 * time.Hour
	// AdminHeader carries the admin token on admin requests.
	AdminHeader = "X-Admin-Token"

	bcryptCost = 10
)

var (
	ErrNoCredentials = errors.New("no credentials provided")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims is the payload of a tenant bearer token.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	TenantID string
	Admin    bool
}

type ctxKey struct{}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash. An empty hash
// never matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticator issues and verifies credentials.
type Authenticator struct {
	secret     []byte
	adminToken string
	now        func() time.Time
}

func New(jwtSecret, adminToken string) *Authenticator {
	return &Authenticator{secret: []byte(jwtSecret), adminToken: adminToken, now: time.Now}
}

// IssueToken signs a bearer token for tenantID valid for TokenTTL.
func (a *Authenticator) IssueToken(tenantID, name string) (string, error) {
	now := a.now()
	claims := Claims{
		TenantID: tenantID,
		Name:     name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a bearer token and returns its claims.
func (a *Authenticator) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", ErrInvalidToken)
	}
	return claims, nil
}

// CheckAdminToken compares token to the configured admin token in
// constant time. An unconfigured admin token rejects everything.
func (a *Authenticator) CheckAdminToken(token string) bool {
	if a.adminToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) == 1
}

// Identify authenticates r. A bearer token wins over the admin header; a
// malformed bearer token is an error even when the admin header is valid.
func (a *Authenticator) Identify(r *http.Request) (Principal, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return Principal{}, fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
		}
		claims, err := a.ParseToken(token)
		if err != nil {
			return Principal{}, err
		}
		return Principal{TenantID: claims.TenantID}, nil
	}
	if a.CheckAdminToken(r.Header.Get(AdminHeader)) {
		return Principal{Admin: true}, nil
	}
	return Principal{}, ErrNoCredentials
}

// RequireAdmin rejects requests without a valid admin token.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.CheckAdminToken(r.Header.Get(AdminHeader)) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Admin: true})))
	})
}

// RequireTenant rejects requests without a valid tenant bearer token.
func (a *Authenticator) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Identify(r)
		if err != nil || p.Admin {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
