package users

import (
	"strings"
	"time"
)

const providerPassword = "password"

// Account is the canonical GameShelf user.
type Account struct {
	UserID       string     `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        string     `gorm:"column:email;size:320;index:idx_user_accounts_email_unique,unique,where:email <> ''"`
	DisplayName  string     `gorm:"column:display_name;size:120"`
	PasswordHash string     `gorm:"column:password_hash;size:100"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	LastSignInAt *time.Time `gorm:"column:last_sign_in_at"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "user_accounts"
}

// Identity maps a provider-specific login onto an account.
type Identity struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject    string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index"`
	Email      string    `gorm:"column:user_email;size:320"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Session is a server-side record of an issued session token.
type Session struct {
	SessionID string    `gorm:"column:session_id;primaryKey;size:64;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing sessions.
func (Session) TableName() string {
	return "user_sessions"
}

// Models lists the GORM models owned by this package.
func Models() []any {
	return []any{&Account{}, &Identity{}, &Session{}}
}

// Profile is the public view of an account.
type Profile struct {
	UserID       string     `json:"userId"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"displayName"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastSignInAt *time.Time `json:"lastSignInAt,omitempty"`
}

func (account Account) profile() Profile {
	return Profile{
		UserID:       account.UserID,
		Email:        account.Email,
		DisplayName:  account.DisplayName,
		CreatedAt:    account.CreatedAt,
		LastSignInAt: account.LastSignInAt,
	}
}

// SignedInSession is returned by every successful sign-up or sign-in.
type SignedInSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Profile   `json:"user"`
	// Created reports whether the call created the account.
	Created bool `json:"created"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      string
	SessionID   string
	Email       string
	DisplayName string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
