package models

import "time"

// Connection represents one application user's authorized ServiceM8 account.
// Token columns hold authenticated ciphertext only; plaintext tokens are
// never persisted or logged.
type Connection struct {
	UserID                string    `json:"user_id" gorm:"primaryKey;column:user_id"`
	EncryptedAccessToken  string    `json:"-" gorm:"not null"`
	EncryptedRefreshToken string    `json:"-" gorm:"not null"`
	ExpiresAt             time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TableName specifies the table name for Connection
func (Connection) TableName() string {
	return "servicem8_connections"
}

// OAuthSession represents a pending authorization attempt: the CSRF state
// nonce bound to the user who started the flow. Single use, short lived.
type OAuthSession struct {
	ID        int       `json:"id" gorm:"primaryKey;autoIncrement"`
	State     string    `json:"state" gorm:"uniqueIndex;not null"`
	UserID    string    `json:"user_id" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
}

// TableName specifies the table name for OAuthSession
func (OAuthSession) TableName() string {
	return "oauth_sessions"
}
