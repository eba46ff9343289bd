package opspilot

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot/slot"
)

// PendingRegistrationKey is the slot key holding the in flight intent
const PendingRegistrationKey = "opspilot_pending_registration"

type pendingCache struct {
	store  slot.Store
	key    string
	logger Logger
}

var _ PendingRegistrationCache = (*pendingCache)(nil)

type PendingCacheOption func(*pendingCache)

// WithPendingCacheKey overrides the slot key
func WithPendingCacheKey(key string) PendingCacheOption {
	return func(p *pendingCache) {
		if key != "" {
			p.key = key
		}
	}
}

func WithPendingCacheLogger(logger Logger) PendingCacheOption {
	return func(p *pendingCache) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPendingRegistrationCache stores the single registration intent in store
func NewPendingRegistrationCache(store slot.Store, opts ...PendingCacheOption) PendingRegistrationCache {
	p := &pendingCache{
		store:  store,
		key:    PendingRegistrationKey,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *pendingCache) Set(ctx context.Context, intent RegistrationIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode registration intent")
	}

	if err := p.store.Set(ctx, p.key, payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store registration intent")
	}
	return nil
}

func (p *pendingCache) Get(ctx context.Context) (*RegistrationIntent, error) {
	payload, err := p.store.Get(ctx, p.key)
	if slot.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read registration intent")
	}

	intent := &RegistrationIntent{}
	if err := json.Unmarshal(payload, intent); err != nil {
		p.logger.Warn("discarding unreadable registration intent", "error", err)
		if err := p.store.Delete(ctx, p.key); err != nil {
			p.logger.Error("failed to discard registration intent", "error", err)
		}
		return nil, nil
	}

	return intent, nil
}

func (p *pendingCache) Clear(ctx context.Context) error {
	if err := p.store.Delete(ctx, p.key); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear registration intent")
	}
	return nil
}
