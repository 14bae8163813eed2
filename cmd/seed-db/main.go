package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/merch-checkout/internal/domain/auth"
	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/internal/storage/filestore"
	"github.com/xenking/merch-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyID     string
		apiKeyPepper string
		importDir    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or MERCH_SEED_API_KEY env)")
	flag.StringVar(&apiKeyID, "api-key-id", "default", "id of the seeded API key")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MERCH_API_KEY_PEPPER env)")
	flag.StringVar(&importDir, "import-dir", "", "copy orders from this file store directory into PostgreSQL")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("MERCH_SEED_API_KEY")
	}
	if apiKey == "" && importDir == "" {
		slog.Error("nothing to do: set --api-key (MERCH_SEED_API_KEY) or --import-dir")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MERCH_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKeyID, apiKey, apiKeyPepper, importDir); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, keyID, apiKey, pepper, importDir string) error {
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

	if apiKey != "" {
		if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), keyID, apiKey, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	}

	if importDir != "" {
		src, err := filestore.NewOrderRepository(importDir)
		if err != nil {
			return errors.Wrap(err, "open import dir")
		}
		if err := importOrders(ctx, src, postgres.NewOrderRepository(pool)); err != nil {
			return errors.Wrap(err, "import orders")
		}
	}

	return nil
}

type keyStore interface {
	Upsert(ctx context.Context, info auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, keys keyStore, id, apiKey, pepper string) error {
	slog.Info("seeding admin API key", slog.String("id", id))

	if len(strings.TrimSpace(apiKey)) < 16 {
		return errors.New("api key must be at least 16 characters")
	}

	info := auth.APIKeyInfo{
		ID:      id,
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Seeded admin key",
		Scopes:  []string{auth.ScopeOrdersRead},
	}
	if err := keys.Upsert(ctx, info); err != nil {
		return errors.Wrapf(err, "upsert API key %s", id)
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

// importOrders copies every order of src into dst. Orders already present
// in dst are skipped, so the import can be re-run.
func importOrders(ctx context.Context, src, dst order.Repository) error {
	if fs, ok := src.(*filestore.OrderRepository); ok {
		slog.Info("importing orders", slog.String("dir", fs.Dir()))
	}

	var imported, skipped int
	for sum, err := range src.List(ctx) {
		if err != nil {
			return errors.Wrap(err, "list source orders")
		}
		o, err := src.Get(ctx, sum.ID)
		if err != nil {
			return errors.Wrapf(err, "read order %s", sum.ID)
		}
		switch err := dst.Create(ctx, o); {
		case errors.Is(err, order.ErrDuplicateOrderID):
			skipped++
		case err != nil:
			return errors.Wrapf(err, "store order %s", o.ID)
		default:
			imported++
		}
	}

	slog.Info("imported orders", slog.Int("imported", imported), slog.Int("skipped", skipped))

	return nil
}
