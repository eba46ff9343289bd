package opspilot

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

// LoginRequest starts a passwordless sign in
type LoginRequest struct {
	Email string `form:"email" json:"email"`
}

func (r LoginRequest) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return ErrEmailRequired
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
	return mapValidationError(err)
}

// PasswordLoginRequest signs in with email and password
type PasswordLoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r PasswordLoginRequest) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return ErrEmailRequired
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
	if field, _ := firstFieldError(err); field == "password" {
		return ErrInvalidCredentials
	}
	return mapValidationError(err)
}

// VerifyLoginRequest confirms a one time code
type VerifyLoginRequest struct {
	Email string `form:"email" json:"email"`
	Code  string `form:"code" json:"code"`
}

func (r VerifyLoginRequest) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return ErrEmailRequired
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
	return mapValidationError(err)
}

// RegisterRequest is a sign up. Managers name a new team, members pick
// an existing one. Without a password the identity is confirmed by a
// magic link.
type RegisterRequest struct {
	Email     string `form:"email" json:"email"`
	Password  string `form:"password" json:"password,omitempty"`
	IsManager bool   `form:"is_manager" json:"is_manager"`
	TeamName  string `form:"team_name" json:"team_name,omitempty"`
	TeamID    string `form:"team_id" json:"team_id,omitempty"`
}

func (r RegisterRequest) normalized() RegisterRequest {
	r.Email = NormalizeEmail(r.Email)
	r.TeamName = strings.TrimSpace(r.TeamName)
	r.TeamID = strings.TrimSpace(r.TeamID)
	return r
}

func (r RegisterRequest) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return ErrEmailRequired
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.TeamName, validation.By(requiredWhen(r.IsManager)), validation.Length(0, 100)),
		validation.Field(&r.TeamID, validation.By(requiredWhen(!r.IsManager)), is.UUID),
		validation.Field(&r.Password, validation.Length(8, 100)),
	)
	return mapValidationError(err)
}

// Intent returns the registration intent for a valid request
func (r RegisterRequest) Intent() (RegistrationIntent, error) {
	r = r.normalized()
	if r.IsManager {
		return NewManagerIntent(r.Email, r.TeamName), nil
	}

	teamID, err := uuid.Parse(r.TeamID)
	if err != nil {
		return RegistrationIntent{}, ErrInvalidTeamID
	}
	return NewMemberIntent(r.Email, teamID), nil
}

var errFieldRequired = errors.New("cannot be blank")

func requiredWhen(cond bool) validation.RuleFunc {
	return func(value interface{}) error {
		if !cond {
			return nil
		}
		str, _ := value.(string)
		if strings.TrimSpace(str) == "" {
			return errFieldRequired
		}
		return nil
	}
}

// fieldErrorOrder decides which field is reported when several fail
var fieldErrorOrder = []string{"email", "team_name", "team_id", "password", "code"}

// firstFieldError returns the name of the first failing field
func firstFieldError(err error) (string, error) {
	errs, ok := err.(validation.Errors)
	if !ok {
		return "", err
	}

	for _, field := range fieldErrorOrder {
		if fieldErr, found := errs[field]; found && fieldErr != nil {
			return field, fieldErr
		}
	}
	return "", err
}

func mapValidationError(err error) error {
	if err == nil {
		return nil
	}

	field, fieldErr := firstFieldError(err)
	switch field {
	case "email":
		return ErrInvalidEmail
	case "team_name":
		return ErrTeamNameRequired
	case "team_id":
		if errors.Is(fieldErr, errFieldRequired) {
			return ErrTeamIDRequired
		}
		return ErrInvalidTeamID
	case "password":
		return ErrWeakPassword
	case "code":
		return ErrInvalidCode
	default:
		return ErrInvalidEmail
	}
}
