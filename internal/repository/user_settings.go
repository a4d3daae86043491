package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/model"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

type UserSettingsRepository struct {
	db *gorm.DB
}

func NewUserSettingsRepository(db *gorm.DB) *UserSettingsRepository {
	return &UserSettingsRepository{db: db}
}

func (r *UserSettingsRepository) Get(ctx context.Context, userID string) (*model.UserSettings, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Get")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	var settings model.UserSettings
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&settings)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "Failed to get user settings").
				String("target_id", userID).
				Err(result.Error).
				Log()
		}
		return nil, result.Error
	}

	return &settings, nil
}

func (r *UserSettingsRepository) Create(ctx context.Context, settings *model.UserSettings) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Create")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	if err := r.db.WithContext(ctx).Create(settings).Error; err != nil {
		logger.ErrorWithContext(ctx, "Failed to create user settings").
			String("target_id", settings.UserID).
			Err(err).
			Log()
		return err
	}

	logger.DebugWithContext(ctx, "User settings created").
		String("target_id", settings.UserID).
		Log()
	return nil
}

// UpdateFields applies a field-level patch to a user's settings row
func (r *UserSettingsRepository) UpdateFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "UpdateFields")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&model.UserSettings{}).
		Where("user_id = ?", userID).
		Updates(fields)
	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to update user settings").
			String("target_id", userID).
			Err(result.Error).
			Log()
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *UserSettingsRepository) Delete(ctx context.Context, userID string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Delete")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.UserSettings{})
	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to delete user settings").
			String("target_id", userID).
			Err(result.Error).
			Log()
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
