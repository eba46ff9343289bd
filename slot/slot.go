// Package slot provides small durable key/value slots used to keep
// client side state (pending registrations, the current user, auth
// tokens) across restarts of an application instance.
package slot

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

const TextCodeSlotNotFound = "SLOT_NOT_FOUND"

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = goerrors.New("slot key not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSlotNotFound).
	WithCode(goerrors.CodeNotFound)

// Store reads and writes raw values under fixed keys. Delete on a
// missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err means the slot is empty
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == ErrNotFound {
		return true
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeSlotNotFound
	}
	return false
}

type prefixed struct {
	prefix string
	store  Store
}

// WithPrefix namespaces every key written through store
func WithPrefix(store Store, prefix string) Store {
	if prefix == "" {
		return store
	}
	return &prefixed{prefix: prefix, store: store}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.store.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.prefix+key)
}
