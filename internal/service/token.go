package service

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/kestrelhq/chatgate/internal/errors"
)

const (
	// TokenTypeAccess and TokenTypeRefresh are the values of the "type" claim.
	// Decode rejects a token whose type does not match the expected one, so a
	// refresh token can never be replayed against a protected endpoint.
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the decoded, validated payload of a token issued by the codec.
type TokenClaims struct {
	Subject      string
	Username     string
	Role         string
	TokenVersion string
	TokenType    string
	ExpiresAt    time.Time
}

// TokenCodec issues and validates the two JWT families. Access and refresh
// tokens are signed with independent secrets so leaking one never compromises
// the other family.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// IssueAccessToken signs a short-lived access token carrying identity and
// authorization claims for the middleware to consume.
func (tc *TokenCodec) IssueAccessToken(userID, username, role string, tokenVersion int, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":           userID,
		"username":      username,
		"role":          role,
		"token_version": strconv.Itoa(tokenVersion),
		"type":          TokenTypeAccess,
		"iat":           now.Unix(),
		"exp":           now.Add(tc.accessTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tc.accessSecret)
}

// IssueRefreshToken signs a long-lived refresh token. It carries only the
// subject and the token version; identity claims are re-read from the store
// on refresh so a renamed or demoted user never keeps stale claims.
func (tc *TokenCodec) IssueRefreshToken(userID string, tokenVersion int, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":           userID,
		"token_version": strconv.Itoa(tokenVersion),
		"type":          TokenTypeRefresh,
		"iat":           now.Unix(),
		"exp":           now.Add(tc.refreshTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tc.refreshSecret)
}

// Decode validates tokenString against the secret of expectedType and returns
// its claims. Every failure mode collapses into ErrInvalidToken so callers
// cannot leak whether a token was expired, forged, or of the wrong family.
func (tc *TokenCodec) Decode(tokenString, expectedType string) (*TokenClaims, error) {
	secret := tc.accessSecret
	if expectedType == TokenTypeRefresh {
		secret = tc.refreshSecret
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.ErrInvalidToken
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != expectedType {
		return nil, apperrors.ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, apperrors.ErrInvalidToken
	}

	out := &TokenClaims{
		Subject:   sub,
		TokenType: tokenType,
	}
	if username, ok := claims["username"].(string); ok {
		out.Username = username
	}
	if role, ok := claims["role"].(string); ok {
		out.Role = role
	}
	if version, ok := claims["token_version"].(string); ok {
		out.TokenVersion = version
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
