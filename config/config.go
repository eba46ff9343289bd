package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const delim = "."

// Slot drivers
const (
	SlotsMemory = "memory"
	SlotsFile   = "file"
	SlotsRedis  = "redis"
)

type Config struct {
	Server      Server      `koanf:"server"`
	Persistence Persistence `koanf:"persistence"`
	Auth        Auth        `koanf:"auth"`
	Slots       Slots       `koanf:"slots"`
	Sync        Sync        `koanf:"sync"`
}

type Server struct {
	Addr  string `koanf:"addr"`
	Debug bool   `koanf:"debug"`
}

type Persistence struct {
	Driver      string        `koanf:"driver"`
	DSN         string        `koanf:"dsn"`
	Debug       bool          `koanf:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout"`
}

type Auth struct {
	SigningKey               string        `koanf:"signing_key"`
	Issuer                   string        `koanf:"issuer"`
	Audience                 []string      `koanf:"audience"`
	TokenExpiration          int           `koanf:"token_expiration"`
	RequireEmailConfirmation bool          `koanf:"require_email_confirmation"`
	OTPTTL                   time.Duration `koanf:"otp_ttl"`
	HashidIDs                bool          `koanf:"hashid_ids"`
	JWKSURL                  string        `koanf:"jwks_url"`
}

// TokenTTL is TokenExpiration expressed in hours
func (a Auth) TokenTTL() time.Duration {
	return time.Duration(a.TokenExpiration) * time.Hour
}

type Slots struct {
	Driver   string        `koanf:"driver"`
	Dir      string        `koanf:"dir"`
	RedisURL string        `koanf:"redis_url"`
	TTL      time.Duration `koanf:"ttl"`
}

type Sync struct {
	Timeout         time.Duration `koanf:"timeout"`
	PersistSession  bool          `koanf:"persist_session"`
	InstanceIdleTTL time.Duration `koanf:"instance_idle_ttl"`
	MaxInstances    int           `koanf:"max_instances"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":                     ":8978",
		"server.debug":                    false,
		"persistence.driver":              "sqlite",
		"persistence.dsn":                 "file:opspilot.db?cache=shared",
		"persistence.debug":               false,
		"persistence.ping_timeout":        5 * time.Second,
		"auth.issuer":                     "opspilot",
		"auth.token_expiration":           24,
		"auth.require_email_confirmation": false,
		"auth.otp_ttl":                    15 * time.Minute,
		"auth.hashid_ids":                 false,
		"slots.driver":                    SlotsMemory,
		"slots.dir":                       ".opspilot",
		"sync.timeout":                    10 * time.Second,
		"sync.persist_session":            false,
		"sync.instance_idle_ttl":          30 * time.Minute,
		"sync.max_instances":              10000,
	}
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"addr":                       "server.addr",
	"debug":                      "server.debug",
	"db-driver":                  "persistence.driver",
	"dsn":                        "persistence.dsn",
	"signing-key":                "auth.signing_key",
	"issuer":                     "auth.issuer",
	"token-expiration":           "auth.token_expiration",
	"require-email-confirmation": "auth.require_email_confirmation",
	"otp-ttl":                    "auth.otp_ttl",
	"hashid-ids":                 "auth.hashid_ids",
	"jwks-url":                   "auth.jwks_url",
	"slots":                      "slots.driver",
	"slots-dir":                  "slots.dir",
	"redis-url":                  "slots.redis_url",
	"sync-timeout":               "sync.timeout",
	"persist-session":            "sync.persist_session",
	"instance-idle-ttl":          "sync.instance_idle_ttl",
	"max-instances":              "sync.max_instances",
}

// RegisterFlags adds the configuration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	defaults := Defaults()
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("addr", defaults["server.addr"].(string), "HTTP listen address")
	fs.Bool("debug", false, "enable debug output")
	fs.String("db-driver", defaults["persistence.driver"].(string), "database driver: sqlite or postgres")
	fs.String("dsn", defaults["persistence.dsn"].(string), "database connection string")
	fs.String("signing-key", "", "HMAC key used to sign access tokens")
	fs.String("issuer", defaults["auth.issuer"].(string), "access token issuer")
	fs.Int("token-expiration", defaults["auth.token_expiration"].(int), "access token lifetime in hours")
	fs.Bool("require-email-confirmation", false, "require a confirmation code after password sign up")
	fs.Duration("otp-ttl", defaults["auth.otp_ttl"].(time.Duration), "lifetime of emailed sign in codes")
	fs.Bool("hashid-ids", false, "derive identity ids from the email address")
	fs.String("jwks-url", "", "JWK set accepted for externally issued tokens")
	fs.String("slots", defaults["slots.driver"].(string), "slot driver: memory, file or redis")
	fs.String("slots-dir", defaults["slots.dir"].(string), "directory for the file slot driver")
	fs.String("redis-url", "", "redis URL for the redis slot driver")
	fs.Duration("sync-timeout", defaults["sync.timeout"].(time.Duration), "timeout for each credential or directory call")
	fs.Bool("persist-session", false, "persist the resolved session user in the instance slots")
	fs.Duration("instance-idle-ttl", defaults["sync.instance_idle_ttl"].(time.Duration), "evict instances idle for longer than this")
	fs.Int("max-instances", defaults["sync.max_instances"].(int), "maximum number of live instances")
}

// Load merges defaults, the optional YAML file at path and the flags
// explicitly set in fs, in that order.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)

	if err := k.Load(confmap.Provider(Defaults(), delim), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load default configuration")
	}

	if path = strings.TrimSpace(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load configuration file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load command line flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode configuration")
	}

	cfg.Persistence.Driver = strings.ToLower(strings.TrimSpace(cfg.Persistence.Driver))
	cfg.Slots.Driver = strings.ToLower(strings.TrimSpace(cfg.Slots.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	err := validation.Errors{
		"persistence.driver": validation.Validate(c.Persistence.Driver,
			validation.Required,
			validation.In("sqlite", "postgres", "pg", "postgresql"),
		),
		"auth.signing_key": validation.Validate(c.Auth.SigningKey,
			validation.Required,
			validation.Length(16, 0),
		),
		"auth.token_expiration": validation.Validate(c.Auth.TokenExpiration,
			validation.Min(1),
		),
		"sync.max_instances": validation.Validate(c.Sync.MaxInstances,
			validation.Min(1),
		),
		"slots.driver": validation.Validate(c.Slots.Driver,
			validation.Required,
			validation.In(SlotsMemory, SlotsFile, SlotsRedis),
		),
		"slots.dir":       validation.Validate(c.Slots.Dir, requiredFor(c.Slots.Driver, SlotsFile)...),
		"slots.redis_url": validation.Validate(c.Slots.RedisURL, requiredFor(c.Slots.Driver, SlotsRedis)...),
	}.Filter()

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func requiredFor(driver, want string) []validation.Rule {
	if driver == want {
		return []validation.Rule{validation.Required}
	}
	return nil
}
