package opspilot

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeEmailRequired          = "EMAIL_REQUIRED"
	TextCodeInvalidEmail           = "INVALID_EMAIL"
	TextCodeTeamNameRequired       = "TEAM_NAME_REQUIRED"
	TextCodeTeamIDRequired         = "TEAM_ID_REQUIRED"
	TextCodeInvalidTeamID          = "INVALID_TEAM_ID"
	TextCodeWeakPassword           = "WEAK_PASSWORD"
	TextCodeTeamNotFound           = "TEAM_NOT_FOUND"
	TextCodeUserNotFound           = "USER_NOT_FOUND"
	TextCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeInvalidCode            = "INVALID_VERIFICATION_CODE"
	TextCodeRegistrationIncomplete = "REGISTRATION_INCOMPLETE"
	TextCodeInvalidIntent          = "INVALID_REGISTRATION_INTENT"
	TextCodeDirectoryUnavailable   = "DIRECTORY_UNAVAILABLE"
	TextCodeCredentialsUnavailable = "CREDENTIALS_UNAVAILABLE"
)

var (
	// ErrEmailRequired is returned when a login or registration has no email
	ErrEmailRequired = goerrors.New("email is required", goerrors.CategoryValidation).
				WithTextCode(TextCodeEmailRequired).
				WithCode(goerrors.CodeBadRequest)

	ErrInvalidEmail = goerrors.New("email is not a valid address", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidEmail).
			WithCode(goerrors.CodeBadRequest)

	// ErrTeamNameRequired is returned when a manager registers without a team name
	ErrTeamNameRequired = goerrors.New("team name is required", goerrors.CategoryValidation).
				WithTextCode(TextCodeTeamNameRequired).
				WithCode(goerrors.CodeBadRequest)

	// ErrTeamIDRequired is returned when a member registers without a team id
	ErrTeamIDRequired = goerrors.New("team id is required", goerrors.CategoryValidation).
				WithTextCode(TextCodeTeamIDRequired).
				WithCode(goerrors.CodeBadRequest)

	ErrInvalidTeamID = goerrors.New("team id is not valid", goerrors.CategoryValidation).
				WithTextCode(TextCodeInvalidTeamID).
				WithCode(goerrors.CodeBadRequest)

	ErrWeakPassword = goerrors.New("password must have between 8 and 100 characters", goerrors.CategoryValidation).
			WithTextCode(TextCodeWeakPassword).
			WithCode(goerrors.CodeBadRequest)

	// ErrTeamNotFound is returned when a member tries to join an unknown team
	ErrTeamNotFound = goerrors.New("team not found", goerrors.CategoryNotFound).
			WithTextCode(TextCodeTeamNotFound).
			WithCode(goerrors.CodeNotFound)

	// ErrUserNotFound is returned when a confirmed identity has no directory member
	ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
			WithTextCode(TextCodeUserNotFound).
			WithCode(goerrors.CodeNotFound)

	ErrEmailAlreadyRegistered = goerrors.New("email is already registered", goerrors.CategoryConflict).
					WithTextCode(TextCodeEmailAlreadyRegistered).
					WithCode(goerrors.CodeConflict)

	ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	ErrInvalidCode = goerrors.New("verification code is invalid or expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeInvalidCode).
			WithCode(goerrors.CodeUnauthorized)

	// ErrRegistrationIncomplete is returned when the identity exists but the
	// directory records could not be created yet. The pending intent is kept.
	ErrRegistrationIncomplete = goerrors.New("registration could not be completed", goerrors.CategoryOperation).
					WithTextCode(TextCodeRegistrationIncomplete).
					WithCode(goerrors.CodeInternal)

	ErrInvalidRegistrationIntent = goerrors.New("registration intent has no team selection", goerrors.CategoryBadInput).
					WithTextCode(TextCodeInvalidIntent).
					WithCode(goerrors.CodeBadRequest)
)

// directoryError reports a directory fault. Categories coming from the
// directory are not user facing, so the wrapped error is always internal.
func directoryError(err error, msg string) error {
	wrapped := goerrors.Wrap(err, goerrors.CategoryInternal, msg)
	wrapped.Category = goerrors.CategoryInternal
	return wrapped.
		WithTextCode(TextCodeDirectoryUnavailable).
		WithCode(goerrors.CodeInternal)
}

func credentialsError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, msg).
		WithTextCode(TextCodeCredentialsUnavailable).
		WithCode(goerrors.CodeInternal)
}
