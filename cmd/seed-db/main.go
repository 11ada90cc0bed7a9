package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-referral/internal/authority"
	"github.com/xenking/pos-referral/internal/domain/auth"
	"github.com/xenking/pos-referral/internal/storage/postgres"
)

type seedConfig struct {
	apiKey    string
	pepper    string
	keyID     string
	contextID string
}

func main() {
	var (
		databaseURL string
		cfg         seedConfig
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.apiKey, "api-key", "", "API key to seed (or REFERRAL_SEED_API_KEY env)")
	flag.StringVar(&cfg.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or REFERRAL_API_KEY_PEPPER env)")
	flag.StringVar(&cfg.keyID, "key-id", "default", "id of the seeded API key")
	flag.StringVar(&cfg.contextID, "context", "", "context id to seed default program settings for")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("REFERRAL_SEED_API_KEY")
	}
	if cfg.apiKey == "" {
		slog.Error("API key is required: set --api-key or REFERRAL_SEED_API_KEY")
		os.Exit(1)
	}
	if cfg.pepper == "" {
		cfg.pepper = os.Getenv("REFERRAL_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, cfg seedConfig) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedSettings(ctx, postgres.NewSettingsStore(pool), cfg.contextID); err != nil {
		return errors.Wrap(err, "seed settings")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyStore(pool), cfg); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedSettings(ctx context.Context, store *postgres.SettingsStore, contextID string) error {
	st := authority.DefaultSettings()
	st.ContextID = contextID

	if err := store.SaveSettings(ctx, st); err != nil {
		return errors.Wrapf(err, "save settings for context %q", contextID)
	}

	slog.Info("saved program settings",
		slog.String("context", contextID),
		slog.String("referred_percentage", st.ReferredPercentage.String()),
		slog.String("referrer_percentage", st.ReferrerPercentage.String()),
	)

	return nil
}

func seedAPIKey(ctx context.Context, store *postgres.APIKeyStore, cfg seedConfig) error {
	slog.Info("seeding API key", slog.String("id", cfg.keyID))

	key := &auth.APIKey{
		ID:      cfg.keyID,
		KeyHash: auth.HashKey([]byte(cfg.pepper), cfg.apiKey),
		Name:    "POS terminals",
		Scopes:  []string{auth.ScopeIssue, auth.ScopeRedeem, auth.ScopeReadCode},
	}
	if err := store.SaveKey(ctx, key); err != nil {
		return errors.Wrapf(err, "save API key %s", cfg.keyID)
	}

	slog.Info("saved API key", slog.String("id", key.ID), slog.Any("scopes", key.Scopes))

	return nil
}
