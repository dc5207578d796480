// Package auth covers the identity concerns of the chat service: bearer
// token issue/verify, password hashing, and credential validation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

// Claims is the payload of a bearer token: the authenticated identity.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ITokenService issues and verifies stateless bearer tokens. Tokens are
// self-contained; the server never stores them, so verifying the same
// token twice is idempotent and side-effect free.
type ITokenService interface {
	Issue(id domain.UserID, username string) (string, error)
	Verify(token string) (Claims, error)
}

type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

func NewTokenService(secret []byte, lifetime time.Duration) *TokenService {
	return &TokenService{secret: secret, lifetime: lifetime}
}

// Issue creates a signed HS256 token for the user. Called after every
// successful REGISTER/AUTHORIZE/JOIN_SERVER so the client always leaves
// with a fresh credential.
func (s *TokenService) Issue(id domain.UserID, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   int64(id),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "tcp-local-chat",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a token. Failures are tagged (malformed,
// expired, bad signature) so the caller can report the kind while treating
// all of them uniformly as unauthenticated.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrTokenSignature, err)
		default:
			return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrTokenMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, apperrors.ErrTokenSignature
	}
	return *claims, nil
}
