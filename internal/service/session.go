package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/dto"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/model"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

// SessionManager owns the login/refresh/logout lifecycle. Revocation is a
// single integer per user: bumping token_version invalidates every token
// minted before the bump, with no server-side session table.
type SessionManager struct {
	users  UserStore
	hasher *PasswordHasher
	codec  *TokenCodec
	now    func() time.Time
}

func NewSessionManager(users UserStore, hasher *PasswordHasher, codec *TokenCodec) *SessionManager {
	return &SessionManager{
		users:  users,
		hasher: hasher,
		codec:  codec,
		now:    time.Now,
	}
}

// Login authenticates the identifier/password pair and mints a fresh token
// pair. The identifier is resolved as a username first and only looked up as
// an email when no such username exists.
func (s *SessionManager) Login(ctx context.Context, identifier, password string) (*dto.TokenResponse, *model.User, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "session", "Login")

	user, err := s.users.GetByUsername(ctx, identifier)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user, err = s.users.GetByEmail(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.InfoWithContext(ctx, "login rejected: unknown identifier").Log()
			return nil, nil, apperrors.ErrInvalidCredentials
		}
		logger.ErrorWithContext(ctx, "login lookup failed").Err(err).Log()
		return nil, nil, apperrors.ErrInternal
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		logger.InfoWithContext(ctx, "login rejected: password mismatch").
			String("user_id", user.ID).
			Log()
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		logger.InfoWithContext(ctx, "login rejected: inactive user").
			String("user_id", user.ID).
			Log()
		return nil, nil, apperrors.ErrInactiveUser
	}

	tokens, err := s.issuePair(user)
	if err != nil {
		logger.ErrorWithContext(ctx, "token issuance failed").Err(err).Log()
		return nil, nil, apperrors.ErrInternal
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		logger.WarnWithContext(ctx, "last_login update failed").
			String("user_id", user.ID).
			Err(err).
			Log()
	}

	logger.InfoWithContext(ctx, "login succeeded").
		String("user_id", user.ID).
		String("username", user.Username).
		Log()
	return tokens, user, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The version
// claim must equal the user's current token_version; any bump since issuance
// (logout, password change, deactivation sweep) invalidates the token.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*dto.TokenResponse, *model.User, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "session", "Refresh")

	claims, err := s.codec.Decode(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, nil, apperrors.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrInvalidToken
		}
		logger.ErrorWithContext(ctx, "refresh lookup failed").Err(err).Log()
		return nil, nil, apperrors.ErrInternal
	}

	if claims.TokenVersion != strconv.Itoa(user.TokenVersion) {
		logger.InfoWithContext(ctx, "refresh rejected: revoked token version").
			String("user_id", user.ID).
			String("claim_version", claims.TokenVersion).
			Int("current_version", user.TokenVersion).
			Log()
		return nil, nil, apperrors.ErrInvalidToken
	}

	if !user.IsActive {
		return nil, nil, apperrors.ErrInactiveUser
	}

	tokens, err := s.issuePair(user)
	if err != nil {
		logger.ErrorWithContext(ctx, "token issuance failed").Err(err).Log()
		return nil, nil, apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "session refreshed").
		String("user_id", user.ID).
		Log()
	return tokens, user, nil
}

// Logout revokes every outstanding token for the user by bumping their
// token_version. It is idempotent and succeeds even when the client holds no
// valid token anymore.
func (s *SessionManager) Logout(ctx context.Context, userID string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "session", "Logout")

	newVersion, err := s.users.IncrementTokenVersion(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrUserNotFound
		}
		logger.ErrorWithContext(ctx, "token version bump failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "logout: tokens revoked").
		String("user_id", userID).
		Int("token_version", newVersion).
		Log()
	return nil
}

// Authenticate resolves an access token to its live user record. The version
// claim is checked against the store so revocation takes effect immediately,
// and an inactive user is rejected even with an otherwise valid token.
func (s *SessionManager) Authenticate(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.codec.Decode(accessToken, TokenTypeAccess)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidToken
		}
		return nil, apperrors.ErrInternal
	}

	if claims.TokenVersion != strconv.Itoa(user.TokenVersion) {
		return nil, apperrors.ErrInvalidToken
	}

	if !user.IsActive {
		return nil, apperrors.ErrInactiveUser
	}

	return user, nil
}

// RevokeAll is Logout under a name that reads better from admin flows.
func (s *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	return s.Logout(ctx, userID)
}

func (s *SessionManager) issuePair(user *model.User) (*dto.TokenResponse, error) {
	now := s.now()

	access, err := s.codec.IssueAccessToken(user.ID, user.Username, string(user.Role), user.TokenVersion, now)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.IssueRefreshToken(user.ID, user.TokenVersion, now)
	if err != nil {
		return nil, err
	}

	return &dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}
