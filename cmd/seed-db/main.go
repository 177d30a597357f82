package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/coupon"
	"github.com/xenking/orderflow/internal/domain/product"
	"github.com/xenking/orderflow/internal/storage/postgres"
)

type productJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Price         decimal.Decimal `json:"price"`
	Category      string          `json:"category"`
	StockQuantity int             `json:"stock_quantity"`
	Active        *bool           `json:"active"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
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

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), time.Now()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		active := p.Active == nil || *p.Active
		if err := repo.Upsert(ctx, &product.Product{
			ID:            p.ID,
			Name:          p.Name,
			SKU:           p.SKU,
			Price:         p.Price,
			Category:      p.Category,
			StockQuantity: p.StockQuantity,
			Active:        active,
		}); err != nil {
			return err
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("stock", p.StockQuantity),
		)
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, now time.Time) error {
	slog.Info("seeding demo coupons")

	welcomeLimit := 1000
	validFrom := now.AddDate(0, -1, 0).Truncate(24 * time.Hour)
	validUntil := now.AddDate(1, 0, 0).Truncate(24 * time.Hour)

	coupons := []coupon.Coupon{
		{
			Code:            "SAVE10",
			Name:            "Save 10%",
			Description:     "10% off orders, up to 50",
			DiscountType:    coupon.DiscountPercentage,
			DiscountValue:   decimal.NewFromInt(10),
			MaximumDiscount: decimal.NewNullDecimal(decimal.NewFromInt(50)),
			IsActive:        true,
			ValidFrom:       validFrom,
			ValidUntil:      validUntil,
		},
		{
			Code:               "FLAT100",
			Name:               "Flat 100 off",
			Description:        "100 off orders of 500 or more",
			DiscountType:       coupon.DiscountFixed,
			DiscountValue:      decimal.NewFromInt(100),
			MinimumOrderAmount: decimal.NewFromInt(500),
			IsActive:           true,
			ValidFrom:          validFrom,
			ValidUntil:         validUntil,
		},
		{
			Code:          "WELCOME5",
			Name:          "Welcome",
			Description:   "5% off for new customers",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(5),
			UsageLimit:    &welcomeLimit,
			IsActive:      true,
			ValidFrom:     validFrom,
			ValidUntil:    validUntil,
		},
		{
			Code:          "EXPIRED20",
			Name:          "Last season",
			Description:   "Expired 20% coupon for testing",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(20),
			IsActive:      true,
			ValidFrom:     validFrom.AddDate(-1, 0, 0),
			ValidUntil:    validFrom,
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := repo.Upsert(ctx, c); err != nil {
			return err
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}
