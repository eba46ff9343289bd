package opspilot

import (
	"database/sql"
	"io/fs"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultPingTimeout = 5 * time.Second
)

// DatabaseOptions selects the SQL backend for the directory. It is the
// configuration handed to the persistence client.
type DatabaseOptions struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

func (o DatabaseOptions) GetDebug() bool {
	return o.Debug
}

func (o DatabaseOptions) GetDriver() string {
	return normalizeDriver(o.Driver)
}

func (o DatabaseOptions) GetServer() string {
	return o.GetDSN()
}

func (o DatabaseOptions) GetDSN() string {
	if o.DSN == "" && o.GetDriver() == DriverSQLite {
		return "file::memory:?cache=shared"
	}
	return o.DSN
}

func (o DatabaseOptions) GetPingTimeout() time.Duration {
	if o.PingTimeout <= 0 {
		return DefaultPingTimeout
	}
	return o.PingTimeout
}

func (o DatabaseOptions) GetOtelIdentifier() string {
	return ""
}

var registerModels sync.Once

// NewPersistence opens the database described by opts and returns a
// persistence client with the directory models and migrations
// registered. extra adds migration roots owned by other packages, they
// are applied by the same client.Migrate call.
func NewPersistence(opts DatabaseOptions, extra ...fs.FS) (*persistence.Client, error) {
	sqldb, dialect, err := openSQL(opts)
	if err != nil {
		return nil, err
	}

	registerModels.Do(func() {
		persistence.RegisterModel((*Team)(nil))
		persistence.RegisterModel((*Member)(nil))
	})

	client, err := persistence.New(opts, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create persistence client").
			WithMetadata(map[string]any{"driver": opts.GetDriver()})
	}

	client.RegisterSQLMigrations(DirectoryMigrations())
	for _, migrations := range extra {
		if migrations != nil {
			client.RegisterSQLMigrations(migrations)
		}
	}

	return client, nil
}

func openSQL(opts DatabaseOptions) (*sql.DB, schema.Dialect, error) {
	switch opts.GetDriver() {
	case DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, opts.GetDSN())
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		sqldb.SetMaxOpenConns(1)
		return sqldb, sqlitedialect.New(), nil
	case DriverPostgres:
		sqldb, err := sql.Open("pgx", opts.GetDSN())
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
		}
		return sqldb, pgdialect.New(), nil
	default:
		return nil, nil, goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"driver": opts.Driver})
	}
}

func normalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "", DriverSQLite:
		return DriverSQLite
	case DriverPostgres, "pg", "postgresql":
		return DriverPostgres
	default:
		return d
	}
}
