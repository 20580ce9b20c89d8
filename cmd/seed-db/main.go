// Command seed-db populates a development database with a small product
// catalog, a set of demo offers, and an API key for the mutating endpoints.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mintcart/offer-engine/internal/domain/auth"
	"github.com/mintcart/offer-engine/internal/domain/offer"
	"github.com/mintcart/offer-engine/internal/domain/product"
	"github.com/mintcart/offer-engine/internal/storage/postgres"
)

var demoProducts = []product.Product{
	{ID: "1", Name: "Waffle with Berries", Price: decimal.NewFromFloat(6.50), Category: "Waffle"},
	{ID: "2", Name: "Vanilla Bean Crème Brûlée", Price: decimal.NewFromFloat(7.00), Category: "Crème Brûlée"},
	{ID: "3", Name: "Macaron Mix of Five", Price: decimal.NewFromFloat(8.00), Category: "Macaron"},
	{ID: "4", Name: "Classic Tiramisu", Price: decimal.NewFromFloat(5.50), Category: "Tiramisu"},
	{ID: "5", Name: "Pistachio Baklava", Price: decimal.NewFromFloat(4.00), Category: "Baklava"},
}

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or MINTCART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MINTCART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("MINTCART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or MINTCART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MINTCART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
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

	products := postgres.NewProductRepository(pool)
	for _, p := range demoProducts {
		if err := products.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "seed product %s", p.ID)
		}
	}
	slog.Info("products seeded", slog.Int("count", len(demoProducts)))

	offers := postgres.NewOfferRepository(pool)
	count, err := seedOffers(ctx, offers)
	if err != nil {
		return errors.Wrap(err, "seed offers")
	}
	slog.Info("offers seeded", slog.Int("count", count))

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("api key seeded")

	return nil
}

func seedOffers(ctx context.Context, repo *postgres.OfferRepository) (int, error) {
	now := time.Now().UTC()
	yearAhead := now.AddDate(1, 0, 0)

	maxDiscount := decimal.NewFromInt(200)
	limit := 1000

	demoOffers := []*offer.Offer{
		{
			Code:               "WELCOME10",
			Type:               offer.DiscountPercentage,
			Value:              decimal.NewFromInt(10),
			MinimumOrderAmount: decimal.NewFromInt(500),
			MaximumDiscount:    &maxDiscount,
			StartDate:          now,
			EndDate:            yearAhead,
			IsActive:           true,
		},
		{
			Code:               "FLAT100",
			Type:               offer.DiscountFixed,
			Value:              decimal.NewFromInt(100),
			MinimumOrderAmount: decimal.NewFromInt(1000),
			StartDate:          now,
			EndDate:            yearAhead,
			IsActive:           true,
		},
		{
			Code:               "HAPPYHOURS",
			Type:               offer.DiscountPercentage,
			Value:              decimal.NewFromInt(18),
			MinimumOrderAmount: decimal.Zero,
			UsageLimit:         &limit,
			StartDate:          now,
			EndDate:            yearAhead,
			IsActive:           true,
		},
	}

	for _, o := range demoOffers {
		o.ID = uuid.New().String()
		if err := offer.ValidateDefinition(o); err != nil {
			return 0, errors.Wrapf(err, "offer %s", o.Code)
		}
		if err := repo.Create(ctx, o); err != nil {
			return 0, errors.Wrapf(err, "offer %s", o.Code)
		}
	}
	return len(demoOffers), nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	return repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      uuid.New().String(),
		KeyHash: keyHash,
		Name:    "Default development key",
	})
}
