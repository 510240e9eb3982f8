// Package auth verifies the bearer tokens API callers present. A token names
// the tenant every request is scoped to and the principal acting for it.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the only supported token shape.
type Claims struct {
	jwt.RegisteredClaims

	TenantID    string `json:"tenant_id"`
	PrincipalID string `json:"principal_id,omitempty"`
}

type Manager struct {
	secret []byte
	issuer string
}

func NewManager(secret, issuer string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs an HS256 token for tenantID valid for ttl.
func (m *Manager) Issue(now time.Time, tenantID, principalID string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TenantID:    tenantID,
		PrincipalID: principalID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if claims.TenantID == "" {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("tenant_id missing"))
	}
	return claims, nil
}

type ctxKey int

const (
	ctxTenantID ctxKey = iota
	ctxPrincipalID
)

func WithIdentity(ctx context.Context, tenantID, principalID string) context.Context {
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	return context.WithValue(ctx, ctxPrincipalID, principalID)
}

// TenantID returns "" when the request carries no identity.
func TenantID(ctx context.Context) string {
	s, _ := ctx.Value(ctxTenantID).(string)
	return s
}

func PrincipalID(ctx context.Context) string {
	s, _ := ctx.Value(ctxPrincipalID).(string)
	return s
}
