package opspilot

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/goliatone/go-opspilot/slot"
)

// SessionUserKey is the slot key used when session persistence is on
const SessionUserKey = "opspilot_user"

// Snapshot is a consistent read of the session state
type Snapshot struct {
	User      *SessionUser `json:"user"`
	IsLoading bool         `json:"is_loading"`
	IsManager bool         `json:"is_manager"`
}

// SessionState holds the current session user for one application
// instance. Only the synchronizer and logout write to it.
type SessionState struct {
	mu      sync.RWMutex
	user    *SessionUser
	loading bool

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int

	store  slot.Store
	key    string
	logger Logger
}

type SessionStateOption func(*SessionState)

// WithSessionPersistence writes the session user to store so it
// survives a restart of the instance.
func WithSessionPersistence(store slot.Store) SessionStateOption {
	return func(s *SessionState) {
		s.store = store
	}
}

func WithSessionStateLogger(logger Logger) SessionStateOption {
	return func(s *SessionState) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionState starts in the loading state with no user
func NewSessionState(opts ...SessionStateOption) *SessionState {
	s := &SessionState{
		loading: true,
		subs:    make(map[int]func(Snapshot)),
		key:     SessionUserKey,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Restore loads a persisted user. A payload that cannot be decoded is
// removed from the store.
func (s *SessionState) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	payload, err := s.store.Get(ctx, s.key)
	if slot.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	user := &SessionUser{}
	if err := json.Unmarshal(payload, user); err != nil || !user.Role.IsValid() {
		s.logger.Warn("discarding unreadable session user", "error", err)
		return s.store.Delete(ctx, s.key)
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.notify()
	return nil
}

// User returns a copy of the current user, nil when signed out
func (s *SessionState) User() *SessionUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

func (s *SessionState) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// IsManager is computed from the current user on every call
func (s *SessionState) IsManager() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.IsManager()
}

func (s *SessionState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *SessionState) snapshotLocked() Snapshot {
	return Snapshot{
		User:      copyUser(s.user),
		IsLoading: s.loading,
		IsManager: s.user.IsManager(),
	}
}

// Subscribe calls fn after every change until the returned func is called
func (s *SessionState) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *SessionState) setLoading(loading bool) {
	s.mu.Lock()
	changed := s.loading != loading
	s.loading = loading
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// resolve sets the user, nil for none, and ends the loading phase
func (s *SessionState) resolve(ctx context.Context, user *SessionUser) {
	s.mu.Lock()
	s.user = copyUser(user)
	s.loading = false
	s.mu.Unlock()

	s.persist(ctx, user)
	s.notify()
}

// clear signs the user out
func (s *SessionState) clear(ctx context.Context) {
	s.resolve(ctx, nil)
}

func (s *SessionState) persist(ctx context.Context, user *SessionUser) {
	if s.store == nil {
		return
	}

	if user == nil {
		if err := s.store.Delete(ctx, s.key); err != nil {
			s.logger.Error("failed to remove persisted session user", "error", err)
		}
		return
	}

	payload, err := json.Marshal(user)
	if err != nil {
		s.logger.Error("failed to encode session user", "error", err)
		return
	}

	if err := s.store.Set(ctx, s.key, payload); err != nil {
		s.logger.Error("failed to persist session user", "error", err)
	}
}

func (s *SessionState) notify() {
	snap := s.Snapshot()

	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func copyUser(u *SessionUser) *SessionUser {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}
