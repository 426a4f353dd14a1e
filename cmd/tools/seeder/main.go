package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedPlans(db)
	seedVouchers(db)
	seedAffiliateVouchers(db)
	seedRateLimits(db)

	log.Println("Seeding completed successfully!")
}

func seedPlans(db *sql.DB) {
	fmt.Println("Seeding Plans...")
	plans := []struct {
		Name        string
		Category    string
		Price       int64
		MonthlyRate int64
	}{
		{"Starter", "subscription", 99_000, 0},
		{"Business", "subscription", 249_000, 0},
		{"Enterprise", "subscription", 599_000, 0},
		{"Extra Campaign Slot", "addon", 0, 49_000},
		{"Priority Placement", "addon", 0, 99_000},
		{"Analytics Pack", "addon", 0, 149_000},
	}
	for _, p := range plans {
		_, err := db.Exec(`
			INSERT INTO plans (name, category, price, monthly_rate, active)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT DO NOTHING;
		`, p.Name, p.Category, p.Price, p.MonthlyRate)
		if err != nil {
			log.Fatalf("Failed to seed plan %s: %v", p.Name, err)
		}
	}
}

func seedVouchers(db *sql.DB) {
	fmt.Println("Seeding Vouchers...")
	vouchers := []struct {
		Code        string
		Kind        string
		Value       int64
		PercentBps  *int32
		MinPurchase int64
		MaxDiscount *int64
		AppliesTo   string
		UsageLimit  *int32
	}{
		{"WELCOME10", "percent", 0, bps(1000), 0, amount(50_000), "subscription", nil},
		{"HEMAT25K", "fixed_amount", 25_000, nil, 200_000, nil, "all", limit(500)},
		{"ADDON20", "percent", 0, bps(2000), 100_000, amount(100_000), "addon", limit(100)},
	}
	for _, v := range vouchers {
		_, err := db.Exec(`
			INSERT INTO vouchers (code, kind, value, percent_bps, min_purchase, max_discount, active, applies_to, usage_limit)
			VALUES (upper($1), $2, $3, $4, $5, $6, TRUE, $7, $8)
			ON CONFLICT DO NOTHING;
		`, v.Code, v.Kind, v.Value, v.PercentBps, v.MinPurchase, v.MaxDiscount, v.AppliesTo, v.UsageLimit)
		if err != nil {
			log.Fatalf("Failed to seed voucher %s: %v", v.Code, err)
		}
	}
}

func seedAffiliateVouchers(db *sql.DB) {
	fmt.Println("Seeding Affiliate Vouchers...")
	affiliates := []struct {
		Code       string
		Kind       string
		Value      int64
		PercentBps *int32
	}{
		{"MITRA-BUDI", "percent", 0, bps(1000)},
		{"MITRA-SITI", "fixed_amount", 15_000, nil},
	}
	for _, a := range affiliates {
		_, err := db.Exec(`
			INSERT INTO affiliate_vouchers (code, kind, value, percent_bps, affiliate_id, active)
			VALUES (upper($1), $2, $3, $4, gen_random_uuid(), TRUE)
			ON CONFLICT DO NOTHING;
		`, a.Code, a.Kind, a.Value, a.PercentBps)
		if err != nil {
			log.Fatalf("Failed to seed affiliate voucher %s: %v", a.Code, err)
		}
	}
}

func seedRateLimits(db *sql.DB) {
	fmt.Println("Seeding Rate Limit Settings...")
	_, err := db.Exec(`
		INSERT INTO rate_limit_settings (scope, max_requests, window_seconds)
		VALUES ('purchase', 10, 60)
		ON CONFLICT (scope) DO UPDATE SET max_requests = EXCLUDED.max_requests, window_seconds = EXCLUDED.window_seconds, updated_at = now();
	`)
	if err != nil {
		log.Fatalf("Failed to seed rate limit settings: %v", err)
	}
}

func bps(v int32) *int32   { return &v }
func amount(v int64) *int64 { return &v }
func limit(v int32) *int32 { return &v }
