package credential

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Code purposes
const (
	PurposeMagicLink = "magiclink"
	PurposeSignup    = "signup"
)

// User is a credential account. It knows nothing about teams.
type User struct {
	bun.BaseModel  `bun:"table:credential_users,alias:cu"`
	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	EmailConfirmed bool       `bun:"email_confirmed,notnull" json:"email_confirmed"`
	ConfirmedAt    *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	LastSignInAt   *time.Time `bun:"last_sign_in_at,nullzero" json:"last_sign_in_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Code is a hashed one time code sent by email
type Code struct {
	bun.BaseModel `bun:"table:credential_codes,alias:cc"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	CodeHash      string     `bun:"code_hash,notnull" json:"-"`
	Purpose       string     `bun:"purpose,notnull" json:"purpose,omitempty"`
	PasswordHash  string     `bun:"password_hash,nullzero" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsUsable reports whether the code can still be redeemed at now
func (c *Code) IsUsable(now time.Time) bool {
	return c != nil && c.UsedAt == nil && now.Before(c.ExpiresAt)
}
