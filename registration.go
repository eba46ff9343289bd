package opspilot

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// RegistrationMode is either ManagerRegistration or MemberRegistration
type RegistrationMode interface {
	isRegistrationMode()
}

// ManagerRegistration creates a new team managed by the registrant
type ManagerRegistration struct {
	TeamName string
}

// MemberRegistration joins an existing team
type MemberRegistration struct {
	TeamID uuid.UUID
}

func (ManagerRegistration) isRegistrationMode() {}
func (MemberRegistration) isRegistrationMode()  {}

// RegistrationIntent is what the user asked for at sign up. It is kept
// in the pending cache until the directory records exist.
type RegistrationIntent struct {
	Email string
	Mode  RegistrationMode
}

// NewManagerIntent returns an intent to create team teamName
func NewManagerIntent(email, teamName string) RegistrationIntent {
	return RegistrationIntent{
		Email: NormalizeEmail(email),
		Mode:  ManagerRegistration{TeamName: strings.TrimSpace(teamName)},
	}
}

// NewMemberIntent returns an intent to join teamID
func NewMemberIntent(email string, teamID uuid.UUID) RegistrationIntent {
	return RegistrationIntent{
		Email: NormalizeEmail(email),
		Mode:  MemberRegistration{TeamID: teamID},
	}
}

// IsManager reports whether the intent creates a team
func (r RegistrationIntent) IsManager() bool {
	_, ok := r.Mode.(ManagerRegistration)
	return ok
}

// Validate checks that the mode carries the field it needs
func (r RegistrationIntent) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return ErrEmailRequired
	}

	switch mode := r.Mode.(type) {
	case ManagerRegistration:
		if strings.TrimSpace(mode.TeamName) == "" {
			return ErrTeamNameRequired
		}
	case MemberRegistration:
		if mode.TeamID == uuid.Nil {
			return ErrTeamIDRequired
		}
	default:
		return ErrInvalidRegistrationIntent
	}

	return nil
}

type registrationIntentJSON struct {
	Email     string     `json:"email"`
	IsManager bool       `json:"is_manager"`
	TeamName  string     `json:"team_name,omitempty"`
	TeamID    *uuid.UUID `json:"team_id,omitempty"`
}

func (r RegistrationIntent) MarshalJSON() ([]byte, error) {
	raw := registrationIntentJSON{Email: r.Email}

	switch mode := r.Mode.(type) {
	case ManagerRegistration:
		raw.IsManager = true
		raw.TeamName = mode.TeamName
	case MemberRegistration:
		id := mode.TeamID
		raw.TeamID = &id
	default:
		return nil, ErrInvalidRegistrationIntent
	}

	return json.Marshal(raw)
}

func (r *RegistrationIntent) UnmarshalJSON(data []byte) error {
	var raw registrationIntentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Email = raw.Email
	if raw.IsManager {
		r.Mode = ManagerRegistration{TeamName: raw.TeamName}
		return nil
	}

	if raw.TeamID == nil {
		return ErrInvalidRegistrationIntent
	}

	r.Mode = MemberRegistration{TeamID: *raw.TeamID}
	return nil
}
