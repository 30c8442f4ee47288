package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/uddoktapay-gateway/internal/billing"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
)

// Seeds a sandbox invoice and prints the checkout URL that pays it.
func main() {
	_ = godotenv.Load()

	amount := flag.String("amount", "100.00", "invoice amount")
	currency := flag.String("currency", "BDT", "client currency code")
	email := flag.String("email", "sandbox@example.com", "client email")
	phone := flag.String("phone", "+880.1700000000", "client phone number")
	variant := flag.String("variant", "default", "gateway variant for the printed checkout URL")
	migrate := flag.Bool("migrate", true, "apply billing migrations first")
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		logger.Fatal().Err(err).Str("amount", *amount).Msg("parse amount")
	}

	if *migrate {
		if err := billing.Migrate(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	id, err := billing.NewStore(pool).SeedSandbox(ctx, billing.SandboxInvoice{
		Currency:  *currency,
		FirstName: "Sandbox",
		LastName:  "Payer",
		Email:     *email,
		Phone:     *phone,
		Amount:    value,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed invoice")
	}
	logger.Info().Int64("invoice_id", id).Str("amount", value.StringFixed(2)).Msg("sandbox invoice created")

	if public := os.Getenv("CHECKOUT_PUBLIC_URL"); public != "" {
		fmt.Printf("%s/checkout/%s?id=%d&action=init\n", public, *variant, id)
	}
}
