// Command offer-ingest bulk-loads promotional offer codes from
// gzip-compressed code lists. Every distinct well-formed code becomes an
// active offer with the campaign rule given on the command line.
//
// Files are streamed concurrently into a single writer that deduplicates
// with a bloom filter and inserts in batches, so memory stays flat even for
// lists with hundreds of millions of lines.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mintcart/offer-engine/internal/domain/offer"
	"github.com/mintcart/offer-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	batchSize     = 500
	progressEvery = 1_000_000
)

type campaignRule struct {
	discountType offer.DiscountType
	value        decimal.Decimal
	minimumOrder decimal.Decimal
	validDays    int
}

func main() {
	var (
		databaseURL string
		typeFlag    string
		valueFlag   string
		minFlag     string
		validDays   int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&typeFlag, "type", "percentage", "discount type for ingested codes: percentage or fixed")
	flag.StringVar(&valueFlag, "value", "10", "discount value for ingested codes")
	flag.StringVar(&minFlag, "minimum-order", "0", "minimum order amount for ingested codes")
	flag.IntVar(&validDays, "valid-days", 90, "validity window length in days, starting now")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("at least one .gz code list is required as a positional argument")
		os.Exit(1)
	}

	rule, err := parseRule(typeFlag, valueFlag, minFlag, validDays)
	if err != nil {
		slog.Error("invalid campaign rule", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, rule); err != nil {
		slog.Error("offer ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("offer ingest completed successfully")
}

func parseRule(typeFlag, valueFlag, minFlag string, validDays int) (campaignRule, error) {
	var rule campaignRule

	switch offer.DiscountType(typeFlag) {
	case offer.DiscountPercentage, offer.DiscountFixed:
		rule.discountType = offer.DiscountType(typeFlag)
	default:
		return rule, errors.Errorf("unknown discount type %q", typeFlag)
	}

	value, err := decimal.NewFromString(valueFlag)
	if err != nil {
		return rule, errors.Wrap(err, "parse value")
	}
	rule.value = value

	minimum, err := decimal.NewFromString(minFlag)
	if err != nil {
		return rule, errors.Wrap(err, "parse minimum order")
	}
	rule.minimumOrder = minimum

	if validDays <= 0 {
		return rule, errors.Errorf("valid-days must be positive, got %d", validDays)
	}
	rule.validDays = validDays

	return rule, nil
}

func run(ctx context.Context, databaseURL string, files []string, rule campaignRule) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewOfferRepository(pool)

	codes := make(chan string, 4*batchSize)

	g, ctx := errgroup.WithContext(ctx)

	// Readers: one per file, feeding the shared channel.
	readers, rctx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(streamFile(rctx, f, codes))
	}
	g.Go(func() error {
		defer close(codes)
		return readers.Wait()
	})

	// Single writer owns the bloom filter and the batch buffer, so no
	// locking is needed around either.
	var inserted, seen, skipped uint64
	g.Go(func() error {
		var err error
		inserted, seen, skipped, err = writeOffers(ctx, repo, codes, rule)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Uint64("lines", seen),
		slog.Uint64("skipped", skipped),
		slog.Uint64("inserted", inserted),
	)
	return nil
}

// streamFile reads one gzip-compressed code list line by line into out.
func streamFile(ctx context.Context, path string, out chan<- string) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("file streamed", slog.String("path", path))
		return nil
	}
}

// writeOffers deduplicates incoming codes and inserts them in batches.
func writeOffers(
	ctx context.Context,
	repo *postgres.OfferRepository,
	codes <-chan string,
	rule campaignRule,
) (inserted, seen, skipped uint64, err error) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	batch := make([]*offer.Offer, 0, batchSize)

	start := time.Now().UTC()
	end := start.AddDate(0, 0, rule.validDays)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.CreateBatch(ctx, batch)
		inserted += uint64(n)
		batch = batch[:0]
		return err
	}

	for raw := range codes {
		seen++
		if seen%progressEvery == 0 {
			slog.Info("ingest progress",
				slog.Uint64("lines", seen),
				slog.Uint64("inserted", inserted),
			)
		}

		code := offer.NormalizeCode(raw)
		if !wellFormed(code) {
			skipped++
			continue
		}
		// Bloom membership is probabilistic; a false positive just skips a
		// code, and the ON CONFLICT guard covers true duplicates anyway.
		if filter.TestString(code) {
			skipped++
			continue
		}
		filter.AddString(code)

		batch = append(batch, &offer.Offer{
			ID:                 uuid.New().String(),
			Code:               code,
			Type:               rule.discountType,
			Value:              rule.value,
			MinimumOrderAmount: rule.minimumOrder,
			StartDate:          start,
			EndDate:            end,
			IsActive:           true,
		})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return inserted, seen, skipped, errors.Wrap(err, "flush batch")
			}
		}
	}

	if err := flush(); err != nil {
		return inserted, seen, skipped, errors.Wrap(err, "flush final batch")
	}
	return inserted, seen, skipped, nil
}

// wellFormed reports whether a normalized code can be stored as an offer
// code: 3 to 20 characters, uppercase letters and digits only.
func wellFormed(code string) bool {
	if len(code) < 3 || len(code) > 20 {
		return false
	}
	return strings.IndexFunc(code, func(r rune) bool {
		return (r < 'A' || r > 'Z') && (r < '0' || r > '9')
	}) < 0
}
