package credential

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "CREDENTIAL_INVALID"
	TextCodeEmailTaken         = "CREDENTIAL_EMAIL_TAKEN"
	TextCodeInvalidCode        = "CREDENTIAL_INVALID_CODE"
	TextCodeEmailNotConfirmed  = "CREDENTIAL_EMAIL_NOT_CONFIRMED"
	TextCodeTokenExpired       = "CREDENTIAL_TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "CREDENTIAL_TOKEN_MALFORMED"
	TextCodeEmptyPassword      = "CREDENTIAL_EMPTY_PASSWORD"
)

var (
	ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	// ErrEmailTaken is returned by SignUp for a confirmed account
	ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
			WithTextCode(TextCodeEmailTaken).
			WithCode(goerrors.CodeConflict)

	ErrInvalidCode = goerrors.New("code is invalid or expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeInvalidCode).
			WithCode(goerrors.CodeUnauthorized)

	ErrEmailNotConfirmed = goerrors.New("email address is not confirmed", goerrors.CategoryAuth).
				WithTextCode(TextCodeEmailNotConfirmed).
				WithCode(goerrors.CodeForbidden)

	ErrTokenExpired = goerrors.New("access token expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New("access token malformed", goerrors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(goerrors.CodeUnauthorized)

	ErrEmptyPassword = goerrors.New("password cannot be empty", goerrors.CategoryValidation).
				WithTextCode(TextCodeEmptyPassword).
				WithCode(goerrors.CodeBadRequest)
)
