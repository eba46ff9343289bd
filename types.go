package opspilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Identity is the account issued by the credential provider
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Session is an authenticated credential session
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Identity    Identity  `json:"identity"`
}

// AuthEventKind enumerates the auth state notifications a credential
// provider can push.
type AuthEventKind string

const (
	AuthEventInitialSession AuthEventKind = "INITIAL_SESSION"
	AuthEventSignedIn       AuthEventKind = "SIGNED_IN"
	AuthEventSignedOut      AuthEventKind = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent is delivered by CredentialStore.OnAuthStateChange
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SignUpResult holds the created identity. A nil Session means the
// identity has to be confirmed before it can sign in.
type SignUpResult struct {
	Identity Identity
	Session  *Session
}

// CredentialStore is the authentication provider.
// GetSession returns nil, nil when there is no active session.
type CredentialStore interface {
	GetSession(ctx context.Context) (*Session, error)
	SignInWithOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
}

// MemberStore finds and creates members. Lookups return nil, nil when
// the record does not exist.
type MemberStore interface {
	FindByEmail(ctx context.Context, email string) (*Member, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Member, error)
	Insert(ctx context.Context, member *Member) (*Member, error)
}

// TeamStore finds and creates teams. Lookups return nil, nil when
// the record does not exist.
type TeamStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Team, error)
	FindByManagerEmail(ctx context.Context, email string) (*Team, error)
	Insert(ctx context.Context, team *Team) (*Team, error)
}

// DirectoryStore is the team directory backend
type DirectoryStore interface {
	Members() MemberStore
	Teams() TeamStore
}

// PendingRegistrationCache holds at most one registration intent.
// Get returns nil, nil when the slot is empty and Clear is a no-op then.
type PendingRegistrationCache interface {
	Set(ctx context.Context, intent RegistrationIntent) error
	Get(ctx context.Context) (*RegistrationIntent, error)
	Clear(ctx context.Context) error
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(formatLine("DBG", msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(formatLine("INF", msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(formatLine("WRN", msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(formatLine("ERR", msg, args...))
}

func formatLine(level, msg string, args ...any) string {
	var b strings.Builder
	b.WriteString("[" + level + "] OPSPILOT " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}

// ResolveLogger returns the logger to use for the named component. An
// explicit logger wins over the provider, and both fall back to stdout.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger != nil {
		return provider, logger
	}

	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return provider, l
		}
	}

	return provider, defLogger{}
}

// DefaultLogger returns the stdout logger used when none is configured
func DefaultLogger() Logger {
	return defLogger{}
}
