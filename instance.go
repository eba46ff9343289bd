package opspilot

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot/slot"
	"github.com/goliatone/go-repository-bun"
	"golang.org/x/sync/singleflight"
)

// CredentialFactory builds the credential store for one instance. The
// slots are already namespaced to the instance.
type CredentialFactory func(instanceID string, slots slot.Store) (CredentialStore, error)

// InstanceConfig holds what every application instance shares
type InstanceConfig struct {
	Directory      DirectoryStore
	Slots          slot.Store
	Credentials    CredentialFactory
	SyncTimeout    time.Duration
	PersistSession bool
	Logger         Logger
	LoggerProvider LoggerProvider
	Activity       ActivitySink
}

func (c InstanceConfig) validate() error {
	switch {
	case c.Directory == nil:
		return goerrors.New("instance directory store is required", goerrors.CategoryBadInput)
	case c.Slots == nil:
		return goerrors.New("instance slot store is required", goerrors.CategoryBadInput)
	case c.Credentials == nil:
		return goerrors.New("instance credential factory is required", goerrors.CategoryBadInput)
	}
	return nil
}

// Instance is one running application: its credential session, its
// pending registration and its session state.
type Instance struct {
	ID          string
	Credentials CredentialStore
	State       *SessionState
	Pending     PendingRegistrationCache
	Sync        *Synchronizer
	Accounts    *Accounts

	stop func()
}

// NewInstance wires an instance and starts its synchronizer. ctx is the
// lifetime of the instance.
func NewInstance(ctx context.Context, id string, cfg InstanceConfig) (*Instance, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, goerrors.New("instance id is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	_, logger := ResolveLogger("opspilot.instance", cfg.LoggerProvider, cfg.Logger)
	slots := slot.WithPrefix(cfg.Slots, id+":")

	credentials, err := cfg.Credentials(id, slots)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create credential store")
	}

	stateOpts := []SessionStateOption{WithSessionStateLogger(logger)}
	if cfg.PersistSession {
		stateOpts = append(stateOpts, WithSessionPersistence(slots))
	}
	state := NewSessionState(stateOpts...)
	if err := state.Restore(ctx); err != nil {
		logger.Warn("failed to restore session user", "instance", id, "error", err)
	}

	pending := NewPendingRegistrationCache(slots, WithPendingCacheLogger(logger))

	synchronizer := NewSynchronizer(credentials, cfg.Directory, pending, state,
		WithSyncTimeout(cfg.SyncTimeout),
		WithSynchronizerLogger(cfg.Logger),
		WithSynchronizerLoggerProvider(cfg.LoggerProvider),
		WithSynchronizerActivitySink(cfg.Activity),
	)

	accounts := NewAccounts(credentials, cfg.Directory, pending, synchronizer,
		WithAccountsLogger(cfg.Logger),
		WithAccountsLoggerProvider(cfg.LoggerProvider),
		WithAccountsActivitySink(cfg.Activity),
	)

	stop, err := synchronizer.Start(ctx)
	if err != nil {
		logger.Warn("session bootstrap failed", "instance", id, "error", err)
	}

	return &Instance{
		ID:          id,
		Credentials: credentials,
		State:       state,
		Pending:     pending,
		Sync:        synchronizer,
		Accounts:    accounts,
		stop:        stop,
	}, nil
}

// Close stops listening to auth events
func (i *Instance) Close() {
	if i != nil && i.stop != nil {
		i.stop()
	}
}

// Registry defaults
const (
	DefaultInstanceIdleTTL = 30 * time.Minute
	DefaultMaxInstances    = 10000
)

type registryEntry struct {
	instance *Instance
	lastSeen time.Time
}

// InstanceRegistry creates instances on first use. Instances idle for
// longer than IdleTTL are evicted, and the least recently used one
// makes room once MaxInstances is reached.
type InstanceRegistry struct {
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       InstanceConfig
	instances map[string]*registryEntry
	flights   singleflight.Group
	idleTTL   time.Duration
	max       int
	now       func() time.Time
}

type InstanceRegistryOption func(*InstanceRegistry)

// WithInstanceIdleTTL sets how long an unused instance is kept, zero or
// less keeps instances until they are pushed out by the cap
func WithInstanceIdleTTL(ttl time.Duration) InstanceRegistryOption {
	return func(r *InstanceRegistry) {
		r.idleTTL = ttl
	}
}

func WithMaxInstances(max int) InstanceRegistryOption {
	return func(r *InstanceRegistry) {
		if max > 0 {
			r.max = max
		}
	}
}

// WithRegistryClock replaces time.Now when tracking idle instances
func WithRegistryClock(now func() time.Time) InstanceRegistryOption {
	return func(r *InstanceRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewInstanceRegistry(ctx context.Context, cfg InstanceConfig, opts ...InstanceRegistryOption) (*InstanceRegistry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if v, ok := cfg.Directory.(repository.Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid directory store")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &InstanceRegistry{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		instances: make(map[string]*registryEntry),
		idleTTL:   DefaultInstanceIdleTTL,
		max:       DefaultMaxInstances,
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r, nil
}

// Get returns the instance for id, creating and starting it if needed.
// Concurrent calls for the same id share one creation, and creation
// does not block lookups of other instances.
func (r *InstanceRegistry) Get(id string) (*Instance, error) {
	id = strings.Clone(strings.TrimSpace(id))

	if instance := r.lookup(id); instance != nil {
		return instance, nil
	}

	v, err, _ := r.flights.Do(id, func() (any, error) {
		if instance := r.lookup(id); instance != nil {
			return instance, nil
		}

		if err := r.ctx.Err(); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "instance registry closed")
		}

		instance, err := NewInstance(r.ctx, id, r.cfg)
		if err != nil {
			return nil, err
		}
		return r.add(instance)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

func (r *InstanceRegistry) lookup(id string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.instances[id]
	if !ok {
		return nil
	}
	entry.lastSeen = r.now()
	return entry.instance
}

func (r *InstanceRegistry) add(instance *Instance) (*Instance, error) {
	r.mu.Lock()

	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		instance.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "instance registry closed")
	}

	now := r.now()
	evicted := r.evictIdleLocked(now)
	for len(r.instances) >= r.max {
		evicted = append(evicted, r.evictOldestLocked())
	}
	r.instances[instance.ID] = &registryEntry{instance: instance, lastSeen: now}
	r.mu.Unlock()

	closeAll(evicted)
	return instance, nil
}

// Sweep evicts the instances idle for longer than the idle TTL and
// returns how many were removed
func (r *InstanceRegistry) Sweep() int {
	r.mu.Lock()
	evicted := r.evictIdleLocked(r.now())
	r.mu.Unlock()

	closeAll(evicted)
	return len(evicted)
}

func (r *InstanceRegistry) evictIdleLocked(now time.Time) []*Instance {
	if r.idleTTL <= 0 {
		return nil
	}

	var evicted []*Instance
	for id, entry := range r.instances {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			evicted = append(evicted, entry.instance)
			delete(r.instances, id)
		}
	}
	return evicted
}

func (r *InstanceRegistry) evictOldestLocked() *Instance {
	var oldestID string
	var oldest *registryEntry
	for id, entry := range r.instances {
		if oldest == nil || entry.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, entry
		}
	}
	delete(r.instances, oldestID)
	return oldest.instance
}

// Len returns the number of live instances
func (r *InstanceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Close stops every instance
func (r *InstanceRegistry) Close() {
	r.mu.Lock()
	evicted := make([]*Instance, 0, len(r.instances))
	for id, entry := range r.instances {
		evicted = append(evicted, entry.instance)
		delete(r.instances, id)
	}
	r.cancel()
	r.mu.Unlock()

	closeAll(evicted)
}

func closeAll(instances []*Instance) {
	for _, instance := range instances {
		instance.Close()
	}
}
