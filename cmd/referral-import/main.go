// Command referral-import loads referral codes exported by the previous POS
// referral module into the authority database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/pos-referral/internal/legacy"
	"github.com/xenking/pos-referral/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		contextID   string
		batchSize   int
		capacity    uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&contextID, "context", "", "context id assigned to imported codes")
	flag.IntVar(&batchSize, "batch-size", 1000, "rows per COPY batch")
	flag.UintVar(&capacity, "bloom-capacity", 1_000_000, "expected number of codes")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("No export files given", zap.String("usage", "referral-import [flags] export1.csv.gz ..."))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := legacy.Config{
		ContextID: contextID,
		BatchSize: batchSize,
		Capacity:  capacity,
		Logger:    lg,
	}
	if err := run(ctx, lg, databaseURL, cfg, files); err != nil {
		lg.Error("Referral import failed", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}

	lg.Info("Referral import completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, cfg legacy.Config, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	im := legacy.NewImporter(postgres.NewReferralStore(pool), cfg)

	lg.Info("Importing", zap.Int("files", len(files)))
	stats, err := im.ImportFiles(ctx, files...)
	if err != nil {
		return errors.Wrap(err, "import files")
	}

	lg.Info("Import stats",
		zap.Int("read", stats.Read),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
	)
	return nil
}
