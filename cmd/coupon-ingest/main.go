package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/couponfeed"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const batchSize = 1000

func main() {
	var (
		issuedPath  string
		revokedPath string
		databaseURL string
		expected    uint
		dryRun      bool
	)

	flag.StringVar(&issuedPath, "issued", "", "issued coupons feed, CODE,RATE[,description] per line (.gz supported)")
	flag.StringVar(&revokedPath, "revoked", "", "revoked codes feed, one code per line (.gz supported)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-revocations", couponfeed.DefaultExpectedRevocations, "revocation filter capacity")
	flag.BoolVar(&dryRun, "dry-run", false, "reconcile feeds without writing to the database")
	flag.Parse()

	if issuedPath == "" {
		slog.Error("issued feed is required: set --issued")
		os.Exit(1)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, issuedPath, revokedPath, databaseURL, expected, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, issuedPath, revokedPath, databaseURL string, expected uint, dryRun bool) error {
	slog.Info("reconciling feeds",
		slog.String("issued", issuedPath),
		slog.String("revoked", revokedPath),
	)

	plan, err := couponfeed.Reconcile(ctx, issuedPath, revokedPath, couponfeed.Options{
		ExpectedRevocations: expected,
	})
	if err != nil {
		return errors.Wrap(err, "reconcile feeds")
	}

	slog.Info("feeds reconciled",
		slog.Int("active", len(plan.Active)),
		slog.Int("revoked_issued", plan.Revoked),
		slog.Uint64("revocations", plan.Revocations),
	)
	if dryRun {
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

	repo := postgres.NewCouponRepository(pool)

	for start := 0; start < len(plan.Active); start += batchSize {
		end := min(start+batchSize, len(plan.Active))
		if err := repo.Upsert(ctx, plan.Active[start:end]); err != nil {
			return errors.Wrap(err, "upsert coupons")
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(plan.Active)))
	}

	if revokedPath == "" {
		return nil
	}
	deactivated, err := deactivate(ctx, repo, revokedPath)
	if err != nil {
		return errors.Wrap(err, "deactivate revoked coupons")
	}
	slog.Info("revoked coupons deactivated", slog.Int64("count", deactivated))
	return nil
}

// deactivate streams the revoked feed into batched UPDATEs, covering codes
// issued by earlier runs as well.
func deactivate(ctx context.Context, repo *postgres.CouponRepository, path string) (int64, error) {
	rc, err := couponfeed.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	var (
		total int64
		batch = make([]string, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.Deactivate(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	err = couponfeed.ScanCodes(ctx, rc, func(code string) error {
		batch = append(batch, code)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}
