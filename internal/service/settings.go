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

// SettingsService manages per-user preference records. A user's own read
// auto-creates the row so clients never deal with a missing-settings state;
// cross-user access is admin-or-self only.
type SettingsService struct {
	settings SettingsStore
}

func NewSettingsService(settings SettingsStore) *SettingsService {
	return &SettingsService{settings: settings}
}

// GetOwn returns the caller's settings, creating a default row seeded with
// the username as display name on first access.
func (s *SettingsService) GetOwn(ctx context.Context, user *model.User) (*model.UserSettings, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "settings", "GetOwn")

	settings, err := s.settings.Get(ctx, user.ID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.ErrorWithContext(ctx, "settings lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	settings = &model.UserSettings{
		UserID:      user.ID,
		DisplayName: user.Username,
	}
	if err := s.settings.Create(ctx, settings); err != nil {
		logger.ErrorWithContext(ctx, "settings auto-create failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	logger.DebugWithContext(ctx, "settings auto-created").
		String("user_id", user.ID).
		Log()
	return settings, nil
}

// UpdateOwn upserts the caller's settings with the given patch
func (s *SettingsService) UpdateOwn(ctx context.Context, user *model.User, req *dto.UpdateUserSettingsRequest) (*model.UserSettings, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "settings", "UpdateOwn")
	return s.upsert(ctx, user.ID, req)
}

// GetForUser returns targetID's settings. Admins can read anyone; everyone
// else only themselves.
func (s *SettingsService) GetForUser(ctx context.Context, actor *model.User, targetID string) (*model.UserSettings, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "settings", "GetForUser")

	if !actor.Role.IsAdmin() && actor.ID != targetID {
		return nil, apperrors.ErrForbidden
	}

	settings, err := s.settings.Get(ctx, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSettingsNotFound
		}
		logger.ErrorWithContext(ctx, "settings lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return settings, nil
}

// UpdateForUser upserts targetID's settings. Admins can update anyone;
// everyone else only themselves.
func (s *SettingsService) UpdateForUser(ctx context.Context, actor *model.User, targetID string, req *dto.UpdateUserSettingsRequest) (*model.UserSettings, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "settings", "UpdateForUser")

	if !actor.Role.IsAdmin() && actor.ID != targetID {
		return nil, apperrors.ErrForbidden
	}
	return s.upsert(ctx, targetID, req)
}

// DeleteForUser removes targetID's settings row. Authorization is the
// caller's concern; the route is admin-only.
func (s *SettingsService) DeleteForUser(ctx context.Context, targetID string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "settings", "DeleteForUser")

	if err := s.settings.Delete(ctx, targetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrSettingsNotFound
		}
		logger.ErrorWithContext(ctx, "settings delete failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "settings deleted").
		String("target_id", targetID).
		Log()
	return nil
}

func (s *SettingsService) upsert(ctx context.Context, userID string, req *dto.UpdateUserSettingsRequest) (*model.UserSettings, error) {
	fields := map[string]interface{}{}
	if req.DefaultModel != nil {
		fields["default_model"] = *req.DefaultModel
	}
	if req.DisplayName != nil {
		fields["display_name"] = *req.DisplayName
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = *req.AvatarURL
	}
	if req.Preferences != nil {
		fields["preferences"] = req.Preferences
	}

	_, err := s.settings.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := &model.UserSettings{UserID: userID}
		if req.DefaultModel != nil {
			created.DefaultModel = *req.DefaultModel
		}
		if req.DisplayName != nil {
			created.DisplayName = *req.DisplayName
		}
		if req.AvatarURL != nil {
			created.AvatarURL = *req.AvatarURL
		}
		created.Preferences = req.Preferences
		if err := s.settings.Create(ctx, created); err != nil {
			logger.ErrorWithContext(ctx, "settings insert failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
		return created, nil
	}
	if err != nil {
		logger.ErrorWithContext(ctx, "settings lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	if len(fields) > 0 {
		if err := s.settings.UpdateFields(ctx, userID, fields); err != nil {
			logger.ErrorWithContext(ctx, "settings update failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
	}

	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		logger.ErrorWithContext(ctx, "settings reload failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return settings, nil
}
