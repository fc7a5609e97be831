package models

import "time"

// VerificationToken is issued at registration and consumed to mark an
// account verified. Tokens are stored as SHA-256 digests.
type VerificationToken struct {
	BaseModel

	UserID    string     `gorm:"type:uuid;index;not null" json:"user_id"`
	TokenHash string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}
