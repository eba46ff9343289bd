package opspilot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultSyncTimeout bounds every directory and credential call made
// while resolving a session.
const DefaultSyncTimeout = 10 * time.Second

// Synchronizer turns credential sessions and auth events into a
// SessionUser, finishing pending registrations on the way.
//
// Calls are serialized per synchronizer. Completing a registration is
// idempotent: every phase first looks for the record a previous
// attempt may have created, and the pending intent is only cleared
// once the member exists. A failed attempt is retried by the next
// Reconcile.
type Synchronizer struct {
	mu sync.Mutex
	// generation moves on every clear, a reconcile that started in an
	// older generation does not publish its user
	generation     atomic.Uint64
	credentials    CredentialStore
	directory      DirectoryStore
	pending        PendingRegistrationCache
	state          *SessionState
	timeout        time.Duration
	logger         Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
}

type SynchronizerOption func(*Synchronizer)

// WithSyncTimeout sets the per call timeout, zero or less disables it
func WithSyncTimeout(timeout time.Duration) SynchronizerOption {
	return func(s *Synchronizer) {
		s.timeout = timeout
	}
}

func WithSynchronizerLogger(logger Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

func WithSynchronizerLoggerProvider(provider LoggerProvider) SynchronizerOption {
	return func(s *Synchronizer) {
		s.loggerProvider = provider
	}
}

func WithSynchronizerActivitySink(sink ActivitySink) SynchronizerOption {
	return func(s *Synchronizer) {
		s.activity = sink
	}
}

func NewSynchronizer(credentials CredentialStore, directory DirectoryStore, pending PendingRegistrationCache, state *SessionState, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		credentials: credentials,
		directory:   directory,
		pending:     pending,
		state:       state,
		timeout:     DefaultSyncTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.loggerProvider, s.logger = ResolveLogger("opspilot.sync", s.loggerProvider, s.logger)
	s.activity = normalizeActivitySink(s.activity)

	return s
}

// State returns the session state written by this synchronizer
func (s *Synchronizer) State() *SessionState {
	return s.state
}

// Start subscribes to auth events and then bootstraps the session. The
// returned stop func unsubscribes. Events are handled with ctx, so ctx
// should live as long as the application instance.
func (s *Synchronizer) Start(ctx context.Context) (stop func(), err error) {
	unsubscribe := s.credentials.OnAuthStateChange(func(evt AuthEvent) {
		if err := s.OnAuthEvent(ctx, evt); err != nil {
			s.logger.Debug("auth event handling failed", "event", evt.Kind, "error", err)
		}
	})

	err = s.Bootstrap(ctx)
	return unsubscribe, err
}

// Bootstrap resolves the session from the credential store's current
// session, if any.
func (s *Synchronizer) Bootstrap(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during session bootstrap")
	default:
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{EventType: ActivitySessionBootstrap})
	generation := s.generation.Load()

	// the credential store may emit events while reading its session,
	// so the call happens before taking the lock
	callCtx, cancel := s.callContext(ctx)
	session, err := s.credentials.GetSession(callCtx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to read credential session", "error", err)
		s.state.resolve(ctx, nil)
		return credentialsError(err, "failed to read credential session")
	}

	if session == nil {
		s.logger.Debug("no credential session found")
		s.state.resolve(ctx, nil)
		return nil
	}

	_, err = s.reconcile(ctx, session.Identity, generation)
	return err
}

// OnAuthEvent applies a credential store event. Only signed in and
// signed out change the session state.
func (s *Synchronizer) OnAuthEvent(ctx context.Context, evt AuthEvent) error {
	switch evt.Kind {
	case AuthEventSignedIn:
		if evt.Session == nil || !validIdentity(evt.Session.Identity) {
			s.logger.Debug("signed in event without identity ignored")
			return nil
		}
		_, err := s.Reconcile(ctx, evt.Session.Identity)
		return err
	case AuthEventSignedOut:
		s.Clear(ctx)
		return nil
	default:
		return nil
	}
}

// Reconcile resolves the session user for identity. It returns nil
// and no error when the identity has no member and no matching
// pending registration.
func (s *Synchronizer) Reconcile(ctx context.Context, identity Identity) (*SessionUser, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during session reconcile")
	default:
	}

	generation := s.generation.Load()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcile(ctx, identity, generation)
}

// Clear drops the session user. A reconcile still in flight when Clear
// runs finishes without setting a user.
func (s *Synchronizer) Clear(ctx context.Context) {
	s.generation.Add(1)

	s.mu.Lock()
	s.state.clear(ctx)
	s.mu.Unlock()

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{EventType: ActivitySessionCleared})
}

// CompleteRegistration creates whatever directory records are missing
// for intent and resolves the session user.
func (s *Synchronizer) CompleteRegistration(ctx context.Context, intent RegistrationIntent, identity Identity) (*SessionUser, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during registration")
	default:
	}

	generation := s.generation.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.setLoading(true)
	return s.completeRegistration(ctx, intent, identity, generation)
}

func (s *Synchronizer) reconcile(ctx context.Context, identity Identity, generation uint64) (*SessionUser, error) {
	s.state.setLoading(true)

	email := NormalizeEmail(identity.Email)

	callCtx, cancel := s.callContext(ctx)
	member, err := s.directory.Members().FindByEmail(callCtx, email)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, identity, directoryError(err, "failed to look up member"))
	}

	if member != nil {
		return s.finalize(ctx, member, generation)
	}

	callCtx, cancel = s.callContext(ctx)
	intent, err := s.pending.Get(callCtx)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, identity, err)
	}

	if intent == nil || !EmailsMatch(intent.Email, email) {
		s.logger.Info("identity has no member record", "email", email, "pending", intent != nil)
		s.state.resolve(ctx, nil)
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivitySessionUnresolved,
			UserID:    identity.ID.String(),
			Email:     email,
		})
		return nil, nil
	}

	return s.completeRegistration(ctx, *intent, identity, generation)
}

func (s *Synchronizer) completeRegistration(ctx context.Context, intent RegistrationIntent, identity Identity, generation uint64) (*SessionUser, error) {
	if err := intent.Validate(); err != nil {
		return nil, s.failRegistration(ctx, intent, identity, err)
	}

	email := NormalizeEmail(intent.Email)

	var teamID uuid.UUID
	switch mode := intent.Mode.(type) {
	case ManagerRegistration:
		team, err := s.ensureTeam(ctx, email, mode.TeamName)
		if err != nil {
			return nil, s.failRegistration(ctx, intent, identity, err)
		}
		teamID = team.ID
	case MemberRegistration:
		teamID = mode.TeamID
	}

	callCtx, cancel := s.callContext(ctx)
	member, err := s.directory.Members().FindByID(callCtx, identity.ID)
	cancel()
	if err != nil {
		return nil, s.failRegistration(ctx, intent, identity, directoryError(err, "failed to look up member by id"))
	}

	if member == nil {
		callCtx, cancel = s.callContext(ctx)
		member, err = s.directory.Members().Insert(callCtx, &Member{
			ID:     identity.ID,
			Email:  email,
			TeamID: teamID,
		})
		cancel()
		if err != nil {
			return nil, s.failRegistration(ctx, intent, identity, directoryError(err, "failed to create member"))
		}
	} else {
		s.logger.Info("reusing member from previous registration attempt", "member_id", member.ID)
	}

	callCtx, cancel = s.callContext(ctx)
	if err := s.pending.Clear(callCtx); err != nil {
		// the member exists, a leftover intent is skipped by the next reconcile
		s.logger.Error("failed to clear pending registration", "error", err)
	}
	cancel()

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityRegistrationCompleted,
		UserID:    member.ID.String(),
		Email:     member.Email,
		Metadata: map[string]any{
			"team_id":    member.TeamID.String(),
			"is_manager": intent.IsManager(),
		},
	})

	return s.finalize(ctx, member, generation)
}

func (s *Synchronizer) ensureTeam(ctx context.Context, managerEmail, name string) (*Team, error) {
	callCtx, cancel := s.callContext(ctx)
	team, err := s.directory.Teams().FindByManagerEmail(callCtx, managerEmail)
	cancel()
	if err != nil {
		return nil, directoryError(err, "failed to look up team by manager")
	}

	if team != nil {
		s.logger.Info("reusing team from previous registration attempt", "team_id", team.ID)
		return team, nil
	}

	callCtx, cancel = s.callContext(ctx)
	team, err = s.directory.Teams().Insert(callCtx, &Team{
		Name:         name,
		ManagerEmail: managerEmail,
	})
	cancel()
	if err != nil {
		return nil, directoryError(err, "failed to create team")
	}

	return team, nil
}

func (s *Synchronizer) finalize(ctx context.Context, member *Member, generation uint64) (*SessionUser, error) {
	callCtx, cancel := s.callContext(ctx)
	team, err := s.directory.Teams().FindByID(callCtx, member.TeamID)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, Identity{ID: member.ID, Email: member.Email}, directoryError(err, "failed to look up team"))
	}

	if s.generation.Load() != generation {
		s.logger.Info("session cleared while resolving, user dropped", "member_id", member.ID)
		s.state.resolve(ctx, nil)
		return nil, nil
	}

	if team == nil {
		s.logger.Warn("member team not found", "member_id", member.ID, "team_id", member.TeamID)
	}

	user := NewSessionUser(member, team)
	s.state.resolve(ctx, user)

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivitySessionResolved,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Metadata: map[string]any{
			"role":    user.Role.String(),
			"team_id": user.TeamID.String(),
		},
	})

	return user, nil
}

func (s *Synchronizer) fail(ctx context.Context, identity Identity, err error) error {
	s.logger.Error("session reconcile failed", "email", identity.Email, "error", err)
	s.state.resolve(ctx, nil)
	return err
}

func (s *Synchronizer) failRegistration(ctx context.Context, intent RegistrationIntent, identity Identity, err error) error {
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityRegistrationFailed,
		UserID:    identity.ID.String(),
		Email:     NormalizeEmail(identity.Email),
		Metadata: map[string]any{
			"error":      err.Error(),
			"is_manager": intent.IsManager(),
		},
	})
	return s.fail(ctx, identity, err)
}

func (s *Synchronizer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func validIdentity(identity Identity) bool {
	return identity.ID != uuid.Nil && NormalizeEmail(identity.Email) != ""
}
