package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/dto"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/model"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

// UserService covers registration, profile management and the admin-only
// account operations.
type UserService struct {
	users    UserStore
	chats    ChatStore
	settings SettingsStore
	hasher   *PasswordHasher
	sessions *SessionManager
}

func NewUserService(users UserStore, chats ChatStore, settings SettingsStore, hasher *PasswordHasher, sessions *SessionManager) *UserService {
	return &UserService{users: users, chats: chats, settings: settings, hasher: hasher, sessions: sessions}
}

// Register creates a new active user with the default role. Username and
// email uniqueness are checked up front so the caller gets a specific 409
// instead of a raw constraint violation.
func (s *UserService) Register(ctx context.Context, req *dto.RegisterUserRequest) (*model.User, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "Register")

	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, apperrors.ErrUsernameExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.ErrorWithContext(ctx, "username uniqueness check failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperrors.ErrEmailExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.ErrorWithContext(ctx, "email uniqueness check failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		logger.ErrorWithContext(ctx, "password hashing failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		logger.ErrorWithContext(ctx, "user insert failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "user registered").
		String("user_id", user.ID).
		String("username", user.Username).
		Log()
	return user, nil
}

// GetUser fetches a single user by id.
func (s *UserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "GetUser")

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		logger.ErrorWithContext(ctx, "user lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return user, nil
}

// ListUsers pages through all accounts, admin only at the router level.
func (s *UserService) ListUsers(ctx context.Context, skip, limit int) ([]model.User, int64, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "ListUsers")

	users, total, err := s.users.List(ctx, skip, limit)
	if err != nil {
		logger.ErrorWithContext(ctx, "user listing failed").Err(err).Log()
		return nil, 0, apperrors.ErrInternal
	}
	return users, total, nil
}

// UpdateProfile applies a partial update to the user's own identity fields.
// Changing username or email re-runs the uniqueness checks.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *dto.UpdateUserRequest) (*model.User, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "UpdateProfile")

	fields := map[string]interface{}{}

	if req.Username != nil {
		existing, err := s.users.GetByUsername(ctx, *req.Username)
		if err == nil && existing.ID != userID {
			return nil, apperrors.ErrUsernameExists
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "username uniqueness check failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
		fields["username"] = *req.Username
	}

	if req.Email != nil {
		existing, err := s.users.GetByEmail(ctx, *req.Email)
		if err == nil && existing.ID != userID {
			return nil, apperrors.ErrEmailExists
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "email uniqueness check failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
		fields["email"] = *req.Email
	}

	if len(fields) > 0 {
		if err := s.users.UpdateFields(ctx, userID, fields); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.ErrUserNotFound
			}
			logger.ErrorWithContext(ctx, "profile update failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
	}

	return s.GetUser(ctx, userID)
}

// ChangePassword verifies the current password, stores the new hash and bumps
// the token version so every existing session is forced to re-authenticate.
func (s *UserService) ChangePassword(ctx context.Context, userID string, req *dto.UpdatePasswordRequest) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "ChangePassword")

	if req.NewPassword != req.ConfirmPassword {
		return apperrors.ErrPasswordMismatch
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrUserNotFound
		}
		logger.ErrorWithContext(ctx, "user lookup failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	if !s.hasher.Verify(user.PasswordHash, req.CurrentPassword) {
		return apperrors.ErrIncorrectPassword
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		logger.ErrorWithContext(ctx, "password hashing failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		logger.ErrorWithContext(ctx, "password update failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		logger.WarnWithContext(ctx, "post-change token revocation failed").
			String("user_id", userID).
			Err(err).
			Log()
	}

	logger.InfoWithContext(ctx, "password changed").
		String("user_id", userID).
		Log()
	return nil
}

// SetActive flips the account flag. An admin cannot deactivate their own
// account, and deactivation revokes every outstanding token immediately.
func (s *UserService) SetActive(ctx context.Context, actorID, targetID string, active bool) (*model.User, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "SetActive")

	if !active && actorID == targetID {
		return nil, apperrors.ErrSelfDeactivation
	}

	if err := s.users.SetActive(ctx, targetID, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		logger.ErrorWithContext(ctx, "active flag update failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	if !active {
		if err := s.sessions.RevokeAll(ctx, targetID); err != nil {
			logger.WarnWithContext(ctx, "post-deactivation token revocation failed").
				String("user_id", targetID).
				Err(err).
				Log()
		}
	}

	logger.InfoWithContext(ctx, "active flag updated").
		String("user_id", targetID).
		Bool("active", active).
		Log()
	return s.GetUser(ctx, targetID)
}

// DeleteUser removes the account together with every chat it owns and its
// settings row. Admins cannot delete their own account.
func (s *UserService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "user", "DeleteUser")

	if actorID == targetID {
		return apperrors.ErrSelfDeletion
	}

	if err := s.chats.DeleteAllForUser(ctx, targetID); err != nil {
		logger.ErrorWithContext(ctx, "chat cleanup failed").
			String("user_id", targetID).
			Err(err).
			Log()
		return apperrors.ErrInternal
	}

	// a user without a settings row is fine
	if err := s.settings.Delete(ctx, targetID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.ErrorWithContext(ctx, "settings cleanup failed").
			String("user_id", targetID).
			Err(err).
			Log()
		return apperrors.ErrInternal
	}

	if err := s.users.Delete(ctx, targetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrUserNotFound
		}
		logger.ErrorWithContext(ctx, "user delete failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "user deleted").
		String("user_id", targetID).
		Log()
	return nil
}
