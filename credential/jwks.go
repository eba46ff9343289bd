package credential

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot"
)

// KeySetValidator validates tokens signed by keys from a JSON Web Key
// Set, for access tokens issued outside this service.
type KeySetValidator struct {
	jwks     *keyfunc.JWKS
	issuer   string
	audience []string
}

type KeySetOption func(*KeySetValidator)

func WithKeySetIssuer(issuer string) KeySetOption {
	return func(v *KeySetValidator) {
		v.issuer = issuer
	}
}

func WithKeySetAudience(audience ...string) KeySetOption {
	return func(v *KeySetValidator) {
		v.audience = audience
	}
}

// NewRemoteKeySetValidator fetches the key set from url and refreshes
// it in the background until Close.
func NewRemoteKeySetValidator(url string, logger opspilot.Logger, opts ...KeySetOption) (*KeySetValidator, error) {
	if logger == nil {
		logger = opspilot.DefaultLogger()
	}

	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("failed to refresh JWK set", "url", url, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to get JWK set")
	}

	return newKeySetValidator(jwks, opts...), nil
}

// NewGivenKeySetValidator validates tokens against fixed HMAC keys by kid
func NewGivenKeySetValidator(keys map[string][]byte, opts ...KeySetOption) *KeySetValidator {
	given := make(map[string]keyfunc.GivenKey, len(keys))
	for kid, key := range keys {
		given[kid] = keyfunc.NewGivenHMAC(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}
	return newKeySetValidator(keyfunc.NewGiven(given), opts...)
}

func newKeySetValidator(jwks *keyfunc.JWKS, opts ...KeySetOption) *KeySetValidator {
	v := &KeySetValidator{jwks: jwks}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func (v *KeySetValidator) Validate(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{}
	if v.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(v.issuer))
	}
	if len(v.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(v.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc, parserOptions...)
	return claimsFromToken(token, err)
}

// Close stops the background refresh
func (v *KeySetValidator) Close() {
	v.jwks.EndBackground()
}
