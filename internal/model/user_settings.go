package model

import "gorm.io/datatypes"

// UserSettings is one row of per-user preferences, keyed by the owning user.
// A user without a row simply has no customizations yet; reads auto-create.
type UserSettings struct {
	UserID       string `gorm:"column:user_id;type:uuid;primaryKey"`
	DefaultModel string `gorm:"column:default_model;size:100"`
	DisplayName  string `gorm:"column:display_name;size:100"`
	AvatarURL    string `gorm:"column:avatar_url;size:255"`

	// Preferences is free-form client state (theme, layout, anything the
	// frontend wants to remember) that the server stores opaquely.
	Preferences datatypes.JSON `gorm:"column:preferences"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}
