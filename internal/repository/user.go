package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/model"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "GetByID")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	start := time.Now()
	var user model.User
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&user)
	duration := time.Since(start)

	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "Failed to get user by ID").
				String("lookup_id", id).
				Duration(duration).
				Err(result.Error).
				Log()
		}
		return nil, result.Error
	}

	logger.DebugWithContext(ctx, "User retrieved by ID").
		String("lookup_id", id).
		Duration(duration).
		Log()

	return &user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "GetByUsername")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	start := time.Now()
	var user model.User
	result := r.db.WithContext(ctx).Where("username = ?", username).First(&user)
	duration := time.Since(start)

	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "Failed to get user by username").
				String("username", username).
				Duration(duration).
				Err(result.Error).
				Log()
		}
		return nil, result.Error
	}

	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "GetByEmail")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	start := time.Now()
	var user model.User
	result := r.db.WithContext(ctx).Where("email = ?", email).First(&user)
	duration := time.Since(start)

	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "Failed to get user by email").
				String("email", email).
				Duration(duration).
				Err(result.Error).
				Log()
		}
		return nil, result.Error
	}

	return &user, nil
}

func (r *UserRepository) List(ctx context.Context, skip, limit int) ([]model.User, int64, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "List")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	var users []model.User
	var total int64

	query := r.db.WithContext(ctx).Model(&model.User{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("created_at").Offset(skip).Limit(limit).Find(&users).Error; err != nil {
		logger.ErrorWithContext(ctx, "Failed to list users").
			Int("skip", skip).
			Int("limit", limit).
			Err(err).
			Log()
		return nil, 0, err
	}

	return users, total, nil
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Create")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	start := time.Now()
	result := r.db.WithContext(ctx).Create(user)
	duration := time.Since(start)

	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to create user").
			String("username", user.Username).
			Duration(duration).
			Err(result.Error).
			Log()
		return result.Error
	}

	logger.InfoWithContext(ctx, "User created").
		String("username", user.Username).
		String("created_id", user.ID).
		Duration(duration).
		Log()

	return nil
}

// UpdateFields applies a field-level patch to the user row
func (r *UserRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "UpdateFields")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	if len(fields) == 0 {
		return nil
	}

	start := time.Now()
	result := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields)
	duration := time.Since(start)

	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to update user").
			String("target_id", id).
			Duration(duration).
			Err(result.Error).
			Log()
		return result.Error
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{"password_hash": passwordHash})
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{"is_active": active})
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "UpdateLastLogin")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	result := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("last_login", time.Now().UTC())

	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to update last login").
			String("target_id", id).
			Err(result.Error).
			Log()
		return result.Error
	}

	return nil
}

// IncrementTokenVersion bumps token_version by exactly one inside a
// transaction, serializing against concurrent writers to the same row. A
// refresh validated against version V loses the race once a logout commits
// V+1.
func (r *UserRepository) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "IncrementTokenVersion")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	var newVersion int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.User{}).Where("id = ?", id).
			Update("token_version", gorm.Expr("token_version + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var user model.User
		if err := tx.Select("token_version").Where("id = ?", id).First(&user).Error; err != nil {
			return err
		}
		newVersion = user.TokenVersion
		return nil
	})
	if err != nil {
		logger.ErrorWithContext(ctx, "Failed to increment token version").
			String("target_id", id).
			Err(err).
			Log()
		return 0, err
	}

	logger.DebugWithContext(ctx, "Token version incremented").
		String("target_id", id).
		Int("new_version", newVersion).
		Log()

	return newVersion, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Delete")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.User{})
	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to delete user").
			String("target_id", id).
			Err(result.Error).
			Log()
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
