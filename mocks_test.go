package opspilot_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-opspilot"
	"github.com/goliatone/go-opspilot/slot"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

var errBackendDown = errors.New("backend unavailable")

// MockCredentialStore implements opspilot.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetSession(ctx context.Context) (*opspilot.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*opspilot.Session)
	return session, args.Error(1)
}

func (m *MockCredentialStore) SignInWithOTP(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockCredentialStore) VerifyOTP(ctx context.Context, email, code string) (*opspilot.Session, error) {
	args := m.Called(ctx, email, code)
	session, _ := args.Get(0).(*opspilot.Session)
	return session, args.Error(1)
}

func (m *MockCredentialStore) SignInWithPassword(ctx context.Context, email, password string) (*opspilot.Session, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*opspilot.Session)
	return session, args.Error(1)
}

func (m *MockCredentialStore) SignUp(ctx context.Context, email, password string) (*opspilot.SignUpResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*opspilot.SignUpResult)
	return res, args.Error(1)
}

func (m *MockCredentialStore) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCredentialStore) OnAuthStateChange(fn func(opspilot.AuthEvent)) func() {
	m.Called(fn)
	return func() {}
}

// fakeCredentials is a credential store holding one session and
// delivering events to its listeners synchronously.
type fakeCredentials struct {
	mu         sync.Mutex
	session    *opspilot.Session
	sessionErr error
	listeners  []func(opspilot.AuthEvent)
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{}
}

func (f *fakeCredentials) GetSession(ctx context.Context) (*opspilot.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.session, f.sessionErr
}

func (f *fakeCredentials) SignInWithOTP(context.Context, string) error {
	return nil
}

func (f *fakeCredentials) VerifyOTP(_ context.Context, email, _ string) (*opspilot.Session, error) {
	return f.signIn(identityFor(email)), nil
}

func (f *fakeCredentials) SignInWithPassword(_ context.Context, email, _ string) (*opspilot.Session, error) {
	return f.signIn(identityFor(email)), nil
}

func (f *fakeCredentials) SignUp(_ context.Context, email, _ string) (*opspilot.SignUpResult, error) {
	identity := identityFor(email)
	return &opspilot.SignUpResult{Identity: identity, Session: f.signIn(identity)}, nil
}

func (f *fakeCredentials) SignOut(context.Context) error {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.emit(opspilot.AuthEvent{Kind: opspilot.AuthEventSignedOut})
	return nil
}

func (f *fakeCredentials) OnAuthStateChange(fn func(opspilot.AuthEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners[idx] = nil
	}
}

func (f *fakeCredentials) signIn(identity opspilot.Identity) *opspilot.Session {
	session := &opspilot.Session{
		AccessToken: "token-" + identity.ID.String(),
		ExpiresAt:   time.Now().Add(time.Hour),
		Identity:    identity,
	}
	f.mu.Lock()
	f.session = session
	f.mu.Unlock()
	f.emit(opspilot.AuthEvent{Kind: opspilot.AuthEventSignedIn, Session: session})
	return session
}

func (f *fakeCredentials) emit(evt opspilot.AuthEvent) {
	f.mu.Lock()
	fns := append([]func(opspilot.AuthEvent){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(evt)
		}
	}
}

// identityFor returns a stable identity for email
func identityFor(email string) opspilot.Identity {
	email = opspilot.NormalizeEmail(email)
	return opspilot.Identity{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)),
		Email: email,
	}
}

// memDirectory is an in memory directory store. Operations listed in
// failures return the given error until removed.
type memDirectory struct {
	mu       sync.Mutex
	teams    map[uuid.UUID]*opspilot.Team
	members  map[uuid.UUID]*opspilot.Member
	failures map[string]error
	calls    map[string]int
	hooks    map[string]func()
	delay    time.Duration
}

const (
	opMemberByEmail = "members.find_by_email"
	opMemberByID    = "members.find_by_id"
	opMemberInsert  = "members.insert"
	opTeamByID      = "teams.find_by_id"
	opTeamByManager = "teams.find_by_manager_email"
	opTeamInsert    = "teams.insert"
)

func newMemDirectory() *memDirectory {
	return &memDirectory{
		teams:    make(map[uuid.UUID]*opspilot.Team),
		members:  make(map[uuid.UUID]*opspilot.Member),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		hooks:    make(map[string]func()),
	}
}

func (d *memDirectory) Members() opspilot.MemberStore { return memMembers{d} }
func (d *memDirectory) Teams() opspilot.TeamStore     { return memTeams{d} }

func (d *memDirectory) failOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// onEnter runs fn, outside the directory lock, every time op is called
func (d *memDirectory) onEnter(op string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[op] = fn
}

func (d *memDirectory) heal(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, op)
}

func (d *memDirectory) callCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *memDirectory) teamCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.teams)
}

func (d *memDirectory) memberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.members)
}

func (d *memDirectory) addTeam(name, managerEmail string) *opspilot.Team {
	d.mu.Lock()
	defer d.mu.Unlock()
	team := &opspilot.Team{ID: uuid.New(), Name: name, ManagerEmail: opspilot.NormalizeEmail(managerEmail)}
	d.teams[team.ID] = team
	return team
}

func (d *memDirectory) addMember(identity opspilot.Identity, teamID uuid.UUID) *opspilot.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	member := &opspilot.Member{ID: identity.ID, Email: identity.Email, TeamID: teamID}
	d.members[member.ID] = member
	return member
}

// enter records a call and returns the injected failure, if any. It
// honours ctx when a delay is configured.
func (d *memDirectory) enter(ctx context.Context, op string) error {
	d.mu.Lock()
	d.calls[op]++
	err := d.failures[op]
	hook := d.hooks[op]
	delay := d.delay
	d.mu.Unlock()

	if hook != nil {
		hook()
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

type memMembers struct{ d *memDirectory }

func (m memMembers) FindByEmail(ctx context.Context, email string) (*opspilot.Member, error) {
	if err := m.d.enter(ctx, opMemberByEmail); err != nil {
		return nil, err
	}
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	for _, member := range m.d.members {
		if opspilot.EmailsMatch(member.Email, email) {
			out := *member
			return &out, nil
		}
	}
	return nil, nil
}

func (m memMembers) FindByID(ctx context.Context, id uuid.UUID) (*opspilot.Member, error) {
	if err := m.d.enter(ctx, opMemberByID); err != nil {
		return nil, err
	}
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	if member, ok := m.d.members[id]; ok {
		out := *member
		return &out, nil
	}
	return nil, nil
}

func (m memMembers) Insert(ctx context.Context, member *opspilot.Member) (*opspilot.Member, error) {
	if err := m.d.enter(ctx, opMemberInsert); err != nil {
		return nil, err
	}
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	if _, ok := m.d.members[member.ID]; ok {
		return nil, errors.New("duplicate member id")
	}
	out := *member
	out.Email = opspilot.NormalizeEmail(out.Email)
	m.d.members[out.ID] = &out
	stored := out
	return &stored, nil
}

type memTeams struct{ d *memDirectory }

func (t memTeams) FindByID(ctx context.Context, id uuid.UUID) (*opspilot.Team, error) {
	if err := t.d.enter(ctx, opTeamByID); err != nil {
		return nil, err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if team, ok := t.d.teams[id]; ok {
		out := *team
		return &out, nil
	}
	return nil, nil
}

func (t memTeams) FindByManagerEmail(ctx context.Context, email string) (*opspilot.Team, error) {
	if err := t.d.enter(ctx, opTeamByManager); err != nil {
		return nil, err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	for _, team := range t.d.teams {
		if opspilot.EmailsMatch(team.ManagerEmail, email) {
			out := *team
			return &out, nil
		}
	}
	return nil, nil
}

func (t memTeams) Insert(ctx context.Context, team *opspilot.Team) (*opspilot.Team, error) {
	if err := t.d.enter(ctx, opTeamInsert); err != nil {
		return nil, err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	out := *team
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	out.ManagerEmail = opspilot.NormalizeEmail(out.ManagerEmail)
	t.d.teams[out.ID] = &out
	stored := out
	return &stored, nil
}

// failingSlots wraps a slot store and fails deletes while failDelete is set
type failingSlots struct {
	mu         sync.Mutex
	inner      slot.Store
	failDelete bool
}

func (f *failingSlots) Get(ctx context.Context, key string) ([]byte, error) {
	return f.inner.Get(ctx, key)
}

func (f *failingSlots) Set(ctx context.Context, key string, value []byte) error {
	return f.inner.Set(ctx, key, value)
}

func (f *failingSlots) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return errBackendDown
	}
	return f.inner.Delete(ctx, key)
}

func (f *failingSlots) setFailDelete(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete = fail
}

// activityRecorder collects activity events
type activityRecorder struct {
	mu     sync.Mutex
	events []opspilot.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event opspilot.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) all() []opspilot.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]opspilot.ActivityEvent(nil), r.events...)
}

func (r *activityRecorder) types() []opspilot.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]opspilot.ActivityEventType, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType)
	}
	return out
}

// quietLogger drops everything
type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}
