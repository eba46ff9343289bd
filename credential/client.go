package credential

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot"
	"github.com/goliatone/go-opspilot/slot"
)

// TokenKey is the slot key holding the current access token
const TokenKey = "opspilot_auth_token"

// Client is the credential store of one application instance. Events
// are delivered one at a time on the goroutine that caused them.
type Client struct {
	backend Backend
	slots   slot.Store
	key     string
	logger  opspilot.Logger

	mu        sync.Mutex
	listeners map[int]func(opspilot.AuthEvent)
	nextID    int

	emitMu sync.Mutex
}

var _ opspilot.CredentialStore = (*Client)(nil)

type ClientOption func(*Client)

func WithClientLogger(logger opspilot.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokenKey overrides the slot key for the access token
func WithTokenKey(key string) ClientOption {
	return func(c *Client) {
		if key != "" {
			c.key = key
		}
	}
}

func NewClient(backend Backend, slots slot.Store, opts ...ClientOption) *Client {
	c := &Client{
		backend:   backend,
		slots:     slots,
		key:       TokenKey,
		logger:    opspilot.DefaultLogger(),
		listeners: make(map[int]func(opspilot.AuthEvent)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Factory returns an opspilot.CredentialFactory backed by backend
func Factory(backend Backend, opts ...ClientOption) opspilot.CredentialFactory {
	return func(_ string, slots slot.Store) (opspilot.CredentialStore, error) {
		return NewClient(backend, slots, opts...), nil
	}
}

// GetSession returns the stored session. Invalid or expired tokens are
// dropped and reported as no session.
func (c *Client) GetSession(ctx context.Context) (*opspilot.Session, error) {
	raw, err := c.slots.Get(ctx, c.key)
	if slot.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read access token")
	}

	session, err := c.backend.SessionFromToken(ctx, string(raw))
	if err != nil {
		c.logger.Info("dropping stored access token", "error", err)
		if err := c.slots.Delete(ctx, c.key); err != nil {
			c.logger.Error("failed to drop access token", "error", err)
		}
		return nil, nil
	}

	return session, nil
}

func (c *Client) SignInWithOTP(ctx context.Context, email string) error {
	return c.backend.SendCode(ctx, email)
}

func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*opspilot.Session, error) {
	session, err := c.backend.VerifyCode(ctx, email, code)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, session)
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*opspilot.Session, error) {
	session, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, session)
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*opspilot.SignUpResult, error) {
	res, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if res.Session != nil {
		if _, err := c.signedIn(ctx, res.Session); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.slots.Delete(ctx, c.key); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to drop access token")
	}
	c.emit(opspilot.AuthEvent{Kind: opspilot.AuthEventSignedOut})
	return nil
}

func (c *Client) OnAuthStateChange(fn func(opspilot.AuthEvent)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) signedIn(ctx context.Context, session *opspilot.Session) (*opspilot.Session, error) {
	if err := c.slots.Set(ctx, c.key, []byte(session.AccessToken)); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store access token")
	}

	copied := *session
	c.emit(opspilot.AuthEvent{Kind: opspilot.AuthEventSignedIn, Session: &copied})
	return session, nil
}

func (c *Client) emit(evt opspilot.AuthEvent) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	fns := make([]func(opspilot.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
