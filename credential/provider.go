package credential

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Config holds the provider settings
type Config struct {
	SigningKey          []byte
	Issuer              string
	Audience            []string
	TokenTTL            time.Duration
	CodeTTL             time.Duration
	RequireConfirmation bool
	UseHashid           bool
	PasswordCost        int
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 15 * time.Minute
	}
	if c.PasswordCost == 0 {
		c.PasswordCost = DefaultPasswordCost
	}
	return c
}

// Backend is what a Client needs from the shared credential service
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*opspilot.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*opspilot.Session, error)
	SendCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (*opspilot.Session, error)
	SessionFromToken(ctx context.Context, token string) (*opspilot.Session, error)
}

// Provider is the shared credential backend
type Provider struct {
	db         *bun.DB
	cfg        Config
	tokens     *TokenService
	validator  TokenValidator
	notifier   Notifier
	logger     opspilot.Logger
	validators []TokenValidator
	now        func() time.Time
}

var _ Backend = (*Provider)(nil)

type ProviderOption func(*Provider)

func WithNotifier(n Notifier) ProviderOption {
	return func(p *Provider) {
		if n != nil {
			p.notifier = n
		}
	}
}

func WithLogger(logger opspilot.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTokenValidators accepts tokens from other issuers as well
func WithTokenValidators(validators ...TokenValidator) ProviderOption {
	return func(p *Provider) {
		p.validators = append(p.validators, validators...)
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProvider(db *bun.DB, cfg Config, opts ...ProviderOption) *Provider {
	p := &Provider{
		db:     db,
		cfg:    cfg.withDefaults(),
		logger: opspilot.DefaultLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.notifier == nil {
		p.notifier = LogNotifier{Logger: p.logger}
	}

	p.tokens = NewTokenService(p.cfg.SigningKey, p.cfg.TokenTTL, p.cfg.Issuer, jwt.ClaimStrings(p.cfg.Audience), p.logger)
	p.tokens.now = p.now
	p.validator = NewMultiTokenValidator(append([]TokenValidator{p.tokens}, p.validators...)...)

	return p
}

// Tokens returns the token service used to sign sessions
func (p *Provider) Tokens() *TokenService {
	return p.tokens
}

// SignUp creates a credential user. When confirmation is required the
// result has no session and a signup code is sent. Signing up again for
// an unconfirmed email leaves the stored password alone and sends a
// signup code that sets the new password when redeemed.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*opspilot.SignUpResult, error) {
	email = opspilot.NormalizeEmail(email)
	if email == "" {
		return nil, opspilot.ErrEmailRequired
	}

	hash, err := HashPassword(password, p.cfg.PasswordCost)
	if err != nil {
		return nil, err
	}

	user, err := p.findUser(ctx, email)
	if err != nil {
		return nil, err
	}

	if user != nil && user.EmailConfirmed {
		return nil, ErrEmailTaken
	}

	if user != nil {
		// the password only applies once the mailbox owner redeems the code
		if err := p.issueCode(ctx, email, PurposeSignup, hash); err != nil {
			return nil, err
		}
		return &opspilot.SignUpResult{Identity: opspilot.Identity{ID: user.ID, Email: user.Email}}, nil
	}

	user, err = p.createUser(ctx, email, hash, !p.cfg.RequireConfirmation)
	if err != nil {
		return nil, err
	}

	identity := opspilot.Identity{ID: user.ID, Email: user.Email}

	if p.cfg.RequireConfirmation {
		if err := p.issueCode(ctx, email, PurposeSignup, ""); err != nil {
			return nil, err
		}
		return &opspilot.SignUpResult{Identity: identity}, nil
	}

	session, err := p.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &opspilot.SignUpResult{Identity: identity, Session: session}, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*opspilot.Session, error) {
	email = opspilot.NormalizeEmail(email)

	user, err := p.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, err
	}

	if p.cfg.RequireConfirmation && !user.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}

	return p.startSession(ctx, user)
}

// SendCode sends a sign in code, creating an unconfirmed user for
// unknown emails.
func (p *Provider) SendCode(ctx context.Context, email string) error {
	email = opspilot.NormalizeEmail(email)
	if email == "" {
		return opspilot.ErrEmailRequired
	}

	user, err := p.findUser(ctx, email)
	if err != nil {
		return err
	}

	if user == nil {
		if _, err := p.createUser(ctx, email, "", false); err != nil {
			return err
		}
	}

	return p.issueCode(ctx, email, PurposeMagicLink, "")
}

// VerifyCode redeems a code. The code is single use and confirms the
// user's email.
func (p *Provider) VerifyCode(ctx context.Context, email, code string) (*opspilot.Session, error) {
	email = opspilot.NormalizeEmail(email)

	codes := []*Code{}
	err := p.db.NewSelect().
		Model(&codes).
		Where("?TableAlias.email = ?", email).
		Where("?TableAlias.used_at IS NULL").
		OrderExpr("?TableAlias.created_at DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load codes")
	}

	now := p.now()
	var match *Code
	for _, c := range codes {
		if c.IsUsable(now) && codeMatches(code, c.CodeHash) {
			match = c
			break
		}
	}

	if match == nil {
		return nil, ErrInvalidCode
	}

	user, err := p.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCode
	}

	err = p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		used := now.UTC()
		match.UsedAt = &used
		if _, err := tx.NewUpdate().Model(match).Column("used_at").WherePK().Exec(ctx); err != nil {
			return err
		}

		columns := []string{}
		if match.PasswordHash != "" {
			user.PasswordHash = match.PasswordHash
			columns = append(columns, "password_hash")
		}
		if !user.EmailConfirmed {
			user.EmailConfirmed = true
			user.ConfirmedAt = &used
			columns = append(columns, "email_confirmed", "confirmed_at")
		}
		if len(columns) == 0 {
			return nil
		}

		_, err := tx.NewUpdate().Model(user).Column(columns...).WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem code")
	}

	return p.startSession(ctx, user)
}

// SessionFromToken validates token and returns its session
func (p *Provider) SessionFromToken(_ context.Context, token string) (*opspilot.Session, error) {
	claims, err := p.validator.Validate(token)
	if err != nil {
		return nil, err
	}

	identity, err := claims.Identity()
	if err != nil {
		return nil, err
	}

	session := &opspilot.Session{
		AccessToken: token,
		Identity:    identity,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (p *Provider) startSession(ctx context.Context, user *User) (*opspilot.Session, error) {
	identity := opspilot.Identity{ID: user.ID, Email: user.Email}

	token, expiresAt, err := p.tokens.Generate(identity)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	user.LastSignInAt = &now
	if _, err := p.db.NewUpdate().Model(user).Column("last_sign_in_at").WherePK().Exec(ctx); err != nil {
		p.logger.Warn("failed to track sign in", "email", user.Email, "error", err)
	}

	return &opspilot.Session{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Identity:    identity,
	}, nil
}

func (p *Provider) issueCode(ctx context.Context, email, purpose, passwordHash string) error {
	code, err := GenerateCode()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code")
	}

	hash, err := hashCode(code)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash code")
	}

	record := &Code{
		ID:           uuid.New(),
		Email:        email,
		CodeHash:     hash,
		Purpose:      purpose,
		PasswordHash: passwordHash,
		ExpiresAt:    p.now().Add(p.cfg.CodeTTL).UTC(),
	}

	err = p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*Code)(nil)).
			Where("email = ?", email).
			Where("used_at IS NULL").
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store code")
	}

	return p.notifier.Deliver(ctx, Message{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: record.ExpiresAt,
	})
}

func (p *Provider) findUser(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := p.db.NewSelect().
		Model(user).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load credential user")
	}
	return user, nil
}

func (p *Provider) createUser(ctx context.Context, email, passwordHash string, confirmed bool) (*User, error) {
	user := &User{
		ID:             uuid.New(),
		Email:          email,
		PasswordHash:   passwordHash,
		EmailConfirmed: confirmed,
	}

	if p.cfg.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}
	}

	if confirmed {
		now := p.now().UTC()
		user.ConfirmedAt = &now
	}

	if _, err := p.db.NewInsert().Model(user).Returning("*").Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create credential user")
	}
	return user, nil
}
