package dto

import (
	"gorm.io/datatypes"

	"github.com/kestrelhq/chatgate/internal/model"
)

// UpdateUserSettingsRequest patches a user's settings; nil means untouched
type UpdateUserSettingsRequest struct {
	DefaultModel *string        `json:"default_model" binding:"omitempty,max=100"`
	DisplayName  *string        `json:"display_name" binding:"omitempty,max=100"`
	AvatarURL    *string        `json:"avatar_url" binding:"omitempty,max=255"`
	Preferences  datatypes.JSON `json:"preferences"`
}

type UserSettingsResponse struct {
	UserID       string         `json:"user_id"`
	DefaultModel string         `json:"default_model"`
	DisplayName  string         `json:"display_name"`
	AvatarURL    string         `json:"avatar_url"`
	Preferences  datatypes.JSON `json:"preferences"`
}

func NewUserSettingsResponse(s *model.UserSettings) UserSettingsResponse {
	return UserSettingsResponse{
		UserID:       s.UserID,
		DefaultModel: s.DefaultModel,
		DisplayName:  s.DisplayName,
		AvatarURL:    s.AvatarURL,
		Preferences:  s.Preferences,
	}
}
