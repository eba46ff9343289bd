package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot"
	"github.com/google/uuid"
)

// DefaultKeyID is the kid header set on locally signed tokens
const DefaultKeyID = "opspilot"

// Claims are the access token claims
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Identity returns the identity the token was issued for
func (c *Claims) Identity() (opspilot.Identity, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return opspilot.Identity{}, ErrTokenMalformed
	}

	email := opspilot.NormalizeEmail(c.Email)
	if email == "" {
		return opspilot.Identity{}, ErrTokenMalformed
	}

	return opspilot.Identity{ID: id, Email: email}, nil
}

// TokenValidator validates access tokens
type TokenValidator interface {
	Validate(tokenString string) (*Claims, error)
}

// TokenService signs and validates HS256 access tokens
type TokenService struct {
	signingKey []byte
	keyID      string
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     opspilot.Logger
	now        func() time.Time
}

var _ TokenValidator = (*TokenService)(nil)

func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience jwt.ClaimStrings, logger opspilot.Logger) *TokenService {
	if logger == nil {
		logger = opspilot.DefaultLogger()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		signingKey: signingKey,
		keyID:      DefaultKeyID,
		ttl:        ttl,
		issuer:     issuer,
		audience:   audience,
		logger:     logger,
		now:        time.Now,
	}
}

// Generate issues a token for identity
func (ts *TokenService) Generate(identity opspilot.Identity) (string, time.Time, error) {
	now := ts.now()
	expiresAt := now.Add(ts.ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identity.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: opspilot.NormalizeEmail(identity.Email),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ts.keyID

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

// Validate parses and validates a token string
func (ts *TokenService) Validate(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token service found unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	return claimsFromToken(token, err)
}

func claimsFromToken(token *jwt.Token, err error) (*Claims, error) {
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrTokenMalformed
}

// MultiTokenValidator tries validators in order until one succeeds.
// Malformed tokens move on to the next validator, any other failure
// stops the chain.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	filtered := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

func (m *MultiTokenValidator) Validate(tokenString string) (*Claims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		if isMalformed(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenMalformed
}

func isMalformed(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeTokenMalformed
	}
	return strings.Contains(err.Error(), "token is malformed")
}
