// Command coupon-import bulk loads coupon definitions from gzip-compressed
// CSV files. Files are indexed concurrently; a code defined in more than one
// file keeps the definition from the last file on the command line.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/orderflow/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		capacity    uint
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "", "import every *.csv.gz file in this directory (sorted by name)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "expected-codes", 1_000_000, "expected number of codes per file, sizes the bloom filters")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if dataDir != "" {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("invalid data dir", slog.String("error", err.Error()))
			os.Exit(1)
		}
		files = append(matches, files...)
	}
	if len(files) == 0 {
		slog.Error("no input files: pass paths as arguments or set --data-dir")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, capacity, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, capacity uint, dryRun bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	coupons, err := collect(ctx, files, capacity)
	if err != nil {
		return err
	}
	slog.Info("coupons ready", slog.Int("count", len(coupons)))

	if len(coupons) == 0 || dryRun {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := writeCoupons(ctx, postgres.NewCouponRepository(pool), coupons); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}
	return nil
}
