package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-opspilot"
	"github.com/goliatone/go-opspilot/config"
	"github.com/goliatone/go-opspilot/credential"
	"github.com/goliatone/go-opspilot/metrics"
	"github.com/goliatone/go-opspilot/slot"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opspilot",
		Short:         "Team status session and registration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path, cmd.Flags())
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the directory and credential migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	client, err := opspilot.NewPersistence(opspilot.DatabaseOptions{
		Driver:      cfg.Persistence.Driver,
		DSN:         cfg.Persistence.DSN,
		Debug:       cfg.Persistence.Debug,
		PingTimeout: cfg.Persistence.PingTimeout,
	}, credential.Migrations())
	if err != nil {
		return nil, err
	}

	db := client.DB()
	if err := client.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func openSlots(ctx context.Context, cfg *config.Config) (slot.Store, func(), error) {
	switch cfg.Slots.Driver {
	case config.SlotsFile:
		store, err := slot.NewFile(cfg.Slots.Dir)
		return store, func() {}, err
	case config.SlotsRedis:
		client, err := slot.DialRedis(ctx, cfg.Slots.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store := slot.NewRedis(client, slot.WithRedisTTL(cfg.Slots.TTL))
		return store, func() { _ = client.Close() }, nil
	default:
		return slot.NewMemory(), func() {}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := opspilot.DefaultLogger()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slots, closeSlots, err := openSlots(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSlots()

	providerOpts := []credential.ProviderOption{credential.WithLogger(logger)}
	if cfg.Auth.JWKSURL != "" {
		keySet, err := credential.NewRemoteKeySetValidator(cfg.Auth.JWKSURL, logger,
			credential.WithKeySetIssuer(cfg.Auth.Issuer),
			credential.WithKeySetAudience(cfg.Auth.Audience...),
		)
		if err != nil {
			return err
		}
		defer keySet.Close()
		providerOpts = append(providerOpts, credential.WithTokenValidators(keySet))
	}

	provider := credential.NewProvider(db, credential.Config{
		SigningKey:          []byte(cfg.Auth.SigningKey),
		Issuer:              cfg.Auth.Issuer,
		Audience:            cfg.Auth.Audience,
		TokenTTL:            cfg.Auth.TokenTTL(),
		CodeTTL:             cfg.Auth.OTPTTL,
		RequireConfirmation: cfg.Auth.RequireEmailConfirmation,
		UseHashid:           cfg.Auth.HashidIDs,
	}, providerOpts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry, err := opspilot.NewInstanceRegistry(ctx, opspilot.InstanceConfig{
		Directory:      opspilot.NewRepositoryManager(db),
		Slots:          slots,
		Credentials:    credential.Factory(provider, credential.WithClientLogger(logger)),
		SyncTimeout:    cfg.Sync.Timeout,
		PersistSession: cfg.Sync.PersistSession,
		Logger:         logger,
		Activity:       m.Sink(),
	},
		opspilot.WithInstanceIdleTTL(cfg.Sync.InstanceIdleTTL),
		opspilot.WithMaxInstances(cfg.Sync.MaxInstances),
	)
	if err != nil {
		return err
	}
	defer registry.Close()

	m.InstancesFunc(reg, registry.Len)
	go sweepInstances(ctx, registry, cfg.Sync.InstanceIdleTTL, logger)

	var app *fiber.App
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app = fiber.New(fiber.Config{
			AppName:               "opspilot",
			DisableStartupMessage: !cfg.Server.Debug,
			Immutable:             true,
		})
		return app
	})

	opspilot.RegisterSessionRoutes(srv.Router(), registry,
		opspilot.WithControllerLogger(logger),
		opspilot.WithControllerDebug(cfg.Server.Debug),
		opspilot.WithMetricsHandler(metrics.Handler(reg)),
	)

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.Server.Addr)
	return app.Listen(cfg.Server.Addr)
}

// sweepInstances evicts idle instances until ctx is done
func sweepInstances(ctx context.Context, registry *opspilot.InstanceRegistry, ttl time.Duration, logger opspilot.Logger) {
	if ttl <= 0 {
		return
	}

	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(); n > 0 {
				logger.Debug("evicted idle instances", "count", n, "live", registry.Len())
			}
		}
	}
}
