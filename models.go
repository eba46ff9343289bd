package opspilot

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Team groups members under a single manager
type Team struct {
	bun.BaseModel `bun:"table:teams,alias:tm"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	ManagerEmail  string     `bun:"manager_email,notnull" json:"manager_email,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Member is a directory entry. The ID is the identity ID issued by the
// credential store for the same person.
type Member struct {
	bun.BaseModel `bun:"table:members,alias:mbr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	TeamID        uuid.UUID  `bun:"team_id,notnull,type:uuid" json:"team_id,omitempty"`
	Team          *Team      `bun:"rel:belongs-to,join:team_id=id" json:"team,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// SessionUser is the in memory view of the signed in member
type SessionUser struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	TeamID   uuid.UUID `json:"team_id"`
	TeamName string    `json:"team_name"`
	Role     Role      `json:"role"`
}

// IsManager reports whether the user manages their team
func (u *SessionUser) IsManager() bool {
	return u != nil && u.Role == RoleManager
}

// NewSessionUser builds the session user for member. team can be nil
// when the team record could not be found, the role is member then.
func NewSessionUser(member *Member, team *Team) *SessionUser {
	if member == nil {
		return nil
	}

	user := &SessionUser{
		ID:     member.ID,
		Email:  member.Email,
		TeamID: member.TeamID,
		Role:   DeriveRole(team, member),
	}

	if team != nil {
		user.TeamName = team.Name
	}

	return user
}

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailsMatch compares two addresses ignoring case and surrounding space
func EmailsMatch(a, b string) bool {
	a, b = NormalizeEmail(a), NormalizeEmail(b)
	if a == "" || b == "" {
		return false
	}
	return a == b
}
