package opspilot_test

import (
	"strings"
	"testing"

	"github.com/goliatone/go-opspilot"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequestValidate(t *testing.T) {
	teamID := uuid.NewString()

	tests := []struct {
		name    string
		req     opspilot.RegisterRequest
		wantErr error
	}{
		{name: "manager with password", req: opspilot.RegisterRequest{Email: "a@b.co", Password: "supersecret", IsManager: true, TeamName: "Eng"}},
		{name: "manager magic link", req: opspilot.RegisterRequest{Email: "a@b.co", IsManager: true, TeamName: "Eng"}},
		{name: "member", req: opspilot.RegisterRequest{Email: "a@b.co", TeamID: teamID}},
		{name: "malformed team id", req: opspilot.RegisterRequest{Email: "a@b.co", IsManager: true, TeamName: "Eng", TeamID: "junk"}, wantErr: opspilot.ErrInvalidTeamID},
		{name: "email first", req: opspilot.RegisterRequest{Email: "nope", IsManager: true}, wantErr: opspilot.ErrInvalidEmail},
		{name: "blank email", req: opspilot.RegisterRequest{Email: " ", IsManager: true, TeamName: "Eng"}, wantErr: opspilot.ErrEmailRequired},
		{name: "long password", req: opspilot.RegisterRequest{Email: "a@b.co", Password: strings.Repeat("x", 101), TeamID: teamID}, wantErr: opspilot.ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegisterRequestIntent(t *testing.T) {
	teamID := uuid.New()

	intent, err := opspilot.RegisterRequest{Email: " A@B.co ", IsManager: true, TeamName: " Eng "}.Intent()
	require.NoError(t, err)
	assert.Equal(t, opspilot.NewManagerIntent("a@b.co", "Eng"), intent)

	intent, err = opspilot.RegisterRequest{Email: "a@b.co", TeamID: " " + teamID.String() + " "}.Intent()
	require.NoError(t, err)
	assert.Equal(t, opspilot.NewMemberIntent("a@b.co", teamID), intent)

	_, err = opspilot.RegisterRequest{Email: "a@b.co", TeamID: "junk"}.Intent()
	assert.ErrorIs(t, err, opspilot.ErrInvalidTeamID)
}

func TestLoginRequestsValidate(t *testing.T) {
	assert.NoError(t, opspilot.LoginRequest{Email: "a@b.co"}.Validate())
	assert.ErrorIs(t, opspilot.LoginRequest{}.Validate(), opspilot.ErrEmailRequired)
	assert.ErrorIs(t, opspilot.LoginRequest{Email: "a@"}.Validate(), opspilot.ErrInvalidEmail)

	assert.NoError(t, opspilot.PasswordLoginRequest{Email: "a@b.co", Password: "x"}.Validate())
	assert.ErrorIs(t, opspilot.PasswordLoginRequest{Email: "a@b.co"}.Validate(), opspilot.ErrInvalidCredentials)

	assert.NoError(t, opspilot.VerifyLoginRequest{Email: "a@b.co", Code: "012345"}.Validate())
	assert.ErrorIs(t, opspilot.VerifyLoginRequest{Email: "a@b.co", Code: "12345"}.Validate(), opspilot.ErrInvalidCode)
	assert.ErrorIs(t, opspilot.VerifyLoginRequest{Email: "a@b.co", Code: "12345a"}.Validate(), opspilot.ErrInvalidCode)
	assert.ErrorIs(t, opspilot.VerifyLoginRequest{Email: "a@b.co"}.Validate(), opspilot.ErrInvalidCode)
}
