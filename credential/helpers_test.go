package credential

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-opspilot"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

var testSigningKey = []byte("test-signing-key-for-credential-tests")

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	client, err := opspilot.NewPersistence(opspilot.DatabaseOptions{Driver: opspilot.DriverSQLite, DSN: ":memory:"}, Migrations())
	require.NoError(t, err)

	db := client.DB()
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, client.Migrate(context.Background()))

	return db
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupProvider(t *testing.T, cfg Config) (*Provider, *Outbox, *testClock) {
	t.Helper()

	if cfg.SigningKey == nil {
		cfg.SigningKey = testSigningKey
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.MinCost
	}

	outbox := &Outbox{}
	clock := &testClock{now: time.Now().UTC()}
	provider := NewProvider(setupDB(t), cfg, WithNotifier(outbox), WithClock(clock.Now))
	return provider, outbox, clock
}
