package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/coupon"
	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/pricing"
	"github.com/noah-isme/backend-antar/internal/promotion"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	if err := db.Migrate(dbURL); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL, "antar-seeder")
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}
	defer pool.Close()

	seedCoupons(ctx, coupon.NewStore(pool))
	seedPromotions(ctx, promotion.NewStore(pool))

	log.Println("Seeding completed successfully!")
}

func money(s string) *pricing.Money {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func intp(n int) *int { return &n }

func seedCoupons(ctx context.Context, store coupon.Store) {
	nextMonth := time.Now().AddDate(0, 1, 0)
	coupons := []pricing.Coupon{
		{Code: "WELCOME10", DiscountType: pricing.DiscountPercentage, DiscountValue: *money("10"), MaxDiscount: money("15.00"), Active: true},
		{Code: "FRETE8", DiscountType: pricing.DiscountFixed, DiscountValue: *money("8.00"), MinOrderValue: money("40.00"), ValidUntil: &nextMonth, Active: true},
		{Code: "CENTRO5", DiscountType: pricing.DiscountFixed, DiscountValue: *money("5.00"),
			Scope: pricing.RegionScope{CityID: str("sao-paulo"), NeighborhoodID: str("centro")}, UsageLimit: intp(500), Active: true},
		{Code: "PIZZA20", DiscountType: pricing.DiscountPercentage, DiscountValue: *money("20"), MinOrderValue: money("60.00"),
			Scope: pricing.RegionScope{EstablishmentID: str("pizzaria-napoli")}, Active: true},
		{Code: "BLACKFRIDAY", DiscountType: pricing.DiscountFixed, DiscountValue: *money("25.00"), Active: false},
	}

	log.Println("Seeding coupons...")
	for _, c := range coupons {
		if _, err := store.Create(ctx, c); err != nil {
			if errors.Is(err, coupon.ErrDuplicateCode) {
				log.Printf("Coupon %s already exists, skipping", c.Code)
				continue
			}
			log.Fatalf("Failed to insert coupon %s: %v", c.Code, err)
		}
	}
}

func seedPromotions(ctx context.Context, store promotion.Store) {
	existing, err := store.List(ctx, promotion.ListFilter{Limit: 100})
	if err != nil {
		log.Fatalf("Failed to list promotions: %v", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Name] = true
	}

	promotions := []pricing.Promotion{
		{Name: "Entrega gratis no Centro", DiscountType: pricing.DiscountFreeDelivery, MinOrderValue: money("30.00"),
			Scope: pricing.RegionScope{CityID: str("sao-paulo"), NeighborhoodID: str("centro")}, Active: true},
		{Name: "Napoli 15%", DiscountType: pricing.DiscountPercentage, DiscountValue: *money("15"),
			Scope: pricing.RegionScope{EstablishmentID: str("pizzaria-napoli")}, UsageLimit: intp(1000), Active: true},
		{Name: "R$8 off acima de R$80", DiscountType: pricing.DiscountFixed, DiscountValue: *money("8.00"), MinOrderValue: money("80.00"), Active: true},
	}

	log.Println("Seeding promotions...")
	for _, p := range promotions {
		if seen[p.Name] {
			log.Printf("Promotion %q already exists, skipping", p.Name)
			continue
		}
		if _, err := store.Create(ctx, p); err != nil {
			log.Fatalf("Failed to insert promotion %q: %v", p.Name, err)
		}
	}
}
