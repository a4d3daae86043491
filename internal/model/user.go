package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the closed set of user roles. Authorization checkpoints switch on
// it exhaustively instead of comparing raw strings.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleUser, RoleAdmin:
		return true
	}
	return false
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

type User struct {
	ID           string     `gorm:"column:id;type:uuid;primaryKey"`
	Username     string     `gorm:"column:username;size:100;unique;not null"`
	Email        string     `gorm:"column:email;size:255;unique;not null"`
	PasswordHash string     `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role         Role       `gorm:"column:role;size:20;default:user;not null"`
	IsActive     bool       `gorm:"column:is_active;default:true;not null"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	LastLogin    *time.Time `gorm:"column:last_login"`

	// TokenVersion only ever increases. A token minted with a stale version
	// is rejected no matter how valid its signature and expiry are.
	TokenVersion int `gorm:"column:token_version;default:1;not null"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}
