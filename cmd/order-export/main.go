package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/merch-checkout/internal/domain/order"
	"github.com/xenking/merch-checkout/internal/storage/filestore"
	"github.com/xenking/merch-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		dataDir     string
		outPath     string
		workers     int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env); exports the file store when empty")
	flag.StringVar(&dataDir, "data-dir", "data/orders", "file store directory")
	flag.StringVar(&outPath, "out", "", "output file (default orders-<date>.jsonl.gz)")
	flag.IntVar(&workers, "workers", 8, "concurrent order readers")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if outPath == "" {
		outPath = fmt.Sprintf("orders-%s.jsonl.gz", time.Now().UTC().Format("20060102"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, dataDir, outPath, workers); err != nil {
		slog.Error("order export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("order export completed successfully", slog.String("path", outPath))
}

func run(ctx context.Context, databaseURL, dataDir, outPath string, workers int) error {
	var repo order.Repository
	if databaseURL != "" {
		slog.Info("connecting to database")

		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		repo = postgres.NewOrderRepository(pool)
	} else {
		slog.Info("reading file store", slog.String("dir", dataDir))

		fs, err := filestore.NewOrderRepository(dataDir)
		if err != nil {
			return errors.Wrap(err, "open file store")
		}
		repo = fs
	}

	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", outPath)
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	n, err := exportOrders(ctx, repo, gz, workers)
	if err != nil {
		_ = gz.Close()
		_ = os.Remove(outPath)
		return errors.Wrap(err, "export orders")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "flush gzip stream")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", outPath)
	}

	slog.Info("orders written", slog.Int("count", n))

	return nil
}
