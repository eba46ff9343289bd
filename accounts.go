package opspilot

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

const genericFailureMessage = "Something went wrong. Please try again."

// Result is the outcome of an account flow. Err holds the underlying
// error for callers that need to map it, Message is safe to show.
type Result struct {
	OK                bool   `json:"ok"`
	Message           string `json:"message,omitempty"`
	NeedsVerification bool   `json:"needs_verification,omitempty"`
	Err               error  `json:"-"`
}

// Accounts implements the login, registration and logout flows for one
// application instance.
type Accounts struct {
	credentials    CredentialStore
	directory      DirectoryStore
	pending        PendingRegistrationCache
	sync           *Synchronizer
	logger         Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
}

type AccountsOption func(*Accounts)

func WithAccountsLogger(logger Logger) AccountsOption {
	return func(a *Accounts) {
		a.logger = logger
	}
}

func WithAccountsLoggerProvider(provider LoggerProvider) AccountsOption {
	return func(a *Accounts) {
		a.loggerProvider = provider
	}
}

func WithAccountsActivitySink(sink ActivitySink) AccountsOption {
	return func(a *Accounts) {
		a.activity = sink
	}
}

func NewAccounts(credentials CredentialStore, directory DirectoryStore, pending PendingRegistrationCache, sync *Synchronizer, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		credentials: credentials,
		directory:   directory,
		pending:     pending,
		sync:        sync,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.loggerProvider, a.logger = ResolveLogger("opspilot.accounts", a.loggerProvider, a.logger)
	a.activity = normalizeActivitySink(a.activity)

	return a
}

// Login sends a sign in link to a known member
func (a *Accounts) Login(ctx context.Context, email string) Result {
	req := LoginRequest{Email: NormalizeEmail(email)}
	if err := req.Validate(); err != nil {
		return a.failure(ctx, ActivityLoginFailure, req.Email, err)
	}

	member, err := a.directory.Members().FindByEmail(ctx, req.Email)
	if err != nil {
		return a.failure(ctx, ActivityLoginFailure, req.Email, directoryError(err, "failed to look up member"))
	}

	if member == nil {
		return a.failure(ctx, ActivityLoginFailure, req.Email, ErrUserNotFound)
	}

	if err := a.credentials.SignInWithOTP(ctx, req.Email); err != nil {
		return a.failure(ctx, ActivityLoginFailure, req.Email, credentialsError(err, "failed to send sign in link"))
	}

	return Result{
		OK:                true,
		NeedsVerification: true,
		Message:           "Check your email for a sign in link.",
	}
}

// LoginWithPassword signs in and resolves the session user inline
func (a *Accounts) LoginWithPassword(ctx context.Context, email, password string) Result {
	req := PasswordLoginRequest{Email: NormalizeEmail(email), Password: password}
	if err := req.Validate(); err != nil {
		return a.failure(ctx, ActivityLoginFailure, req.Email, err)
	}

	session, err := a.credentials.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		if goerrors.IsCategory(err, goerrors.CategoryAuth) {
			return a.failure(ctx, ActivityLoginFailure, req.Email, ErrInvalidCredentials)
		}
		return a.failure(ctx, ActivityLoginFailure, req.Email, credentialsError(err, "failed to sign in"))
	}

	return a.resolveSignedIn(ctx, session)
}

// VerifyLogin confirms the one time code sent by Login or Register
func (a *Accounts) VerifyLogin(ctx context.Context, email, code string) Result {
	req := VerifyLoginRequest{Email: NormalizeEmail(email), Code: code}
	if err := req.Validate(); err != nil {
		return a.failure(ctx, ActivityLoginFailure, req.Email, err)
	}

	session, err := a.credentials.VerifyOTP(ctx, req.Email, req.Code)
	if err != nil {
		if goerrors.IsCategory(err, goerrors.CategoryAuth) {
			return a.failure(ctx, ActivityLoginFailure, req.Email, ErrInvalidCode)
		}
		return a.failure(ctx, ActivityLoginFailure, req.Email, credentialsError(err, "failed to verify code"))
	}

	return a.resolveSignedIn(ctx, session)
}

func (a *Accounts) resolveSignedIn(ctx context.Context, session *Session) Result {
	if session == nil {
		return a.failure(ctx, ActivityLoginFailure, "", ErrInvalidCredentials)
	}

	email := NormalizeEmail(session.Identity.Email)
	user, err := a.sync.Reconcile(ctx, session.Identity)
	if err != nil {
		return a.failure(ctx, ActivityLoginFailure, email, err)
	}

	if user == nil {
		if err := a.credentials.SignOut(ctx); err != nil {
			a.logger.Error("failed to sign out unknown member", "email", email, "error", err)
		}
		return a.failure(ctx, ActivityLoginFailure, email, ErrUserNotFound)
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityLoginSuccess,
		UserID:    user.ID.String(),
		Email:     user.Email,
	})

	return Result{OK: true, Message: "Signed in."}
}

// Register validates the request, stores the pending intent and asks
// the credential store to create the identity. Directory records are
// created once the identity is confirmed.
func (a *Accounts) Register(ctx context.Context, req RegisterRequest) Result {
	req = req.normalized()
	if err := req.Validate(); err != nil {
		return a.rejectRegistration(ctx, req, err)
	}

	intent, err := req.Intent()
	if err != nil {
		return a.rejectRegistration(ctx, req, err)
	}

	existing, err := a.directory.Members().FindByEmail(ctx, req.Email)
	if err != nil {
		return a.rejectRegistration(ctx, req, directoryError(err, "failed to look up member"))
	}
	if existing != nil {
		return a.rejectRegistration(ctx, req, ErrEmailAlreadyRegistered)
	}

	if mode, ok := intent.Mode.(MemberRegistration); ok {
		team, err := a.directory.Teams().FindByID(ctx, mode.TeamID)
		if err != nil {
			return a.rejectRegistration(ctx, req, directoryError(err, "failed to look up team"))
		}
		if team == nil {
			return a.rejectRegistration(ctx, req, ErrTeamNotFound)
		}
	}

	if err := a.pending.Set(ctx, intent); err != nil {
		return a.rejectRegistration(ctx, req, err)
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityRegistrationPending,
		Email:     req.Email,
		Metadata:  map[string]any{"is_manager": intent.IsManager()},
	})

	if req.Password == "" {
		if err := a.credentials.SignInWithOTP(ctx, req.Email); err != nil {
			return a.rejectRegistration(ctx, req, credentialsError(err, "failed to send confirmation link"))
		}
		return Result{
			OK:                true,
			NeedsVerification: true,
			Message:           "Check your email to confirm your account.",
		}
	}

	res, err := a.credentials.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		if goerrors.IsCategory(err, goerrors.CategoryConflict) {
			return a.rejectRegistration(ctx, req, ErrEmailAlreadyRegistered)
		}
		return a.rejectRegistration(ctx, req, credentialsError(err, "failed to create account"))
	}

	if res == nil || res.Session == nil {
		return Result{
			OK:                true,
			NeedsVerification: true,
			Message:           "Check your email to confirm your account.",
		}
	}

	user, err := a.sync.Reconcile(ctx, res.Session.Identity)
	if err != nil || user == nil {
		if err != nil {
			a.logger.Error("registration left incomplete", "email", req.Email, "error", err)
		}
		return a.rejectRegistration(ctx, req, ErrRegistrationIncomplete)
	}

	return Result{OK: true, Message: "Account created."}
}

// Logout signs out and clears the session state without waiting for
// the credential store's signed out event.
func (a *Accounts) Logout(ctx context.Context) Result {
	user := a.sync.State().User()

	if err := a.credentials.SignOut(ctx); err != nil {
		a.logger.Error("credential sign out failed", "error", err)
	}

	a.sync.Clear(ctx)

	event := ActivityEvent{EventType: ActivityLogout}
	if user != nil {
		event.UserID = user.ID.String()
		event.Email = user.Email
	}
	recordActivity(ctx, a.activity, a.logger, event)

	return Result{OK: true, Message: "Signed out."}
}

func (a *Accounts) failure(ctx context.Context, eventType ActivityEventType, email string, err error) Result {
	return a.report(ctx, ActivityEvent{EventType: eventType, Email: email}, err)
}

func (a *Accounts) rejectRegistration(ctx context.Context, req RegisterRequest, err error) Result {
	return a.report(ctx, ActivityEvent{
		EventType: ActivityRegistrationRejected,
		Email:     req.Email,
		Metadata:  map[string]any{"is_manager": req.IsManager},
	}, err)
}

func (a *Accounts) report(ctx context.Context, event ActivityEvent, err error) Result {
	var richErr *goerrors.Error
	rich := goerrors.As(err, &richErr)

	switch {
	case rich && isUserFacing(richErr.Category):
		a.logger.Debug("account request rejected", "email", event.Email, "text_code", richErr.TextCode)
	default:
		a.logger.Error("account request failed", "email", event.Email, "error", err)
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["error"] = err.Error()
	recordActivity(ctx, a.activity, a.logger, event)

	return Result{
		OK:      false,
		Message: FailureMessage(err),
		Err:     err,
	}
}

// FailureMessage returns a message that is safe to show for err
func FailureMessage(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || !isUserFacing(richErr.Category) {
		return genericFailureMessage
	}

	switch richErr.TextCode {
	case TextCodeUserNotFound:
		return "User not found. Ask your manager to add you or register first."
	case TextCodeEmailAlreadyRegistered:
		return "This email is already registered. Try signing in instead."
	case TextCodeInvalidCredentials:
		return "Invalid email or password."
	}

	return richErr.Message
}

func isUserFacing(category goerrors.Category) bool {
	switch category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryNotFound,
		goerrors.CategoryConflict, goerrors.CategoryAuth:
		return true
	default:
		return false
	}
}
