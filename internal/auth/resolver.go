// Package auth turns a bearer credential into the calling identity. Session
// issuance lives elsewhere; this package only verifies.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pantry-store/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// Resolver resolves a bearer token to an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (domain.Identity, error)
}

// Claims represents the JWT claims
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver for tokens signed with secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// Resolve validates the token and returns the identity in its claims.
func (r *JWTResolver) Resolve(_ context.Context, tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrTokenExpired
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Identity{}, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil {
		return domain.Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	role := claims.Role
	if role == "" {
		role = domain.RoleCustomer
	}

	return domain.Identity{UserID: claims.UserID, Role: role}, nil
}

// Sign issues a token for identity valid for ttl. The storefront's session
// service owns issuance; this exists for tooling and tests.
func (r *JWTResolver) Sign(identity domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: identity.UserID,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}
