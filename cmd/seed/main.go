package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"subscription-reconciler/internal/config"
	"subscription-reconciler/internal/domain/model"
	pg "subscription-reconciler/internal/infra/db/postgres"
)

// Seeds a local database with a small, predictable fixture set for manual
// testing of the reconciliation loop.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	var existing int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users;`).Scan(&existing); err != nil {
		log.Fatalf("count users: %v", err)
	}
	if existing > 0 {
		fmt.Printf("%d users already present. No changes.\n", existing)
		return
	}

	now := time.Now().UTC()
	users := []struct {
		id, name, subID string
		isPro           bool
	}{
		{"u-healthy", "Healthy Pro", "I-HEALTHY", true},
		{"u-lapsed", "Lapsed Monthly", "I-LAPSED", true},
		{"u-sponsor", "Active Sponsor", "gh-sponsor", true},
		{"u-free", "Free Rider", "", false},
	}
	for _, u := range users {
		_, err := pool.Exec(ctx, `
INSERT INTO users (id, display_name, is_pro, subscription_id)
VALUES ($1, $2, $3, NULLIF($4, ''));`, u.id, u.name, u.isPro, u.subID)
		if err != nil {
			log.Fatalf("insert user %q: %v", u.id, err)
		}
		fmt.Printf("seeded user: %s (pro=%v)\n", u.id, u.isPro)
	}

	subs := []struct {
		id, userID, source, status, frequency string
		createdAgo, lastPaymentAgo            time.Duration
	}{
		// In good standing: recent payment, nothing to do.
		{"I-HEALTHY", "u-healthy", "paypal", "ACTIVE", string(model.FrequencyMonthly), 120 * 24 * time.Hour, 10 * 24 * time.Hour},
		// Suspended with the last payment outside the monthly grace window.
		{"I-LAPSED", "u-lapsed", "paypal", "SUSPENDED", string(model.FrequencyMonthly), 200 * 24 * time.Hour, 45 * 24 * time.Hour},
		// Sponsorship record; flip it in the provider to watch the expiry path.
		{"gh-sponsor", "u-sponsor", "github", "ACTIVE", "", 90 * 24 * time.Hour, 0},
		// Dangling record: its user was deleted.
		{"I-ORPHAN", "u-gone", "paypal", "CANCELLED", string(model.FrequencyMonthly), 300 * 24 * time.Hour, 0},
	}
	for _, s := range subs {
		created := now.Add(-s.createdAgo)
		var lastPayment interface{}
		if s.lastPaymentAgo > 0 {
			lastPayment = now.Add(-s.lastPaymentAgo)
		}
		_, err := pool.Exec(ctx, `
INSERT INTO subscriptions
  (id, user_id, source, status, date_created, date_updated,
   frequency, price, currency, last_payment_date, last_payment_amount, last_payment_currency)
VALUES ($1, $2, $3, $4, $5, $5, NULLIF($6, ''), 9.99, 'USD', $7, 9.99, 'USD');`,
			s.id, s.userID, s.source, s.status, created, s.frequency, lastPayment)
		if err != nil {
			log.Fatalf("insert subscription %q: %v", s.id, err)
		}
		fmt.Printf("seeded subscription: %s (%s/%s)\n", s.id, s.source, s.status)
	}

	fmt.Println("Seeding complete.")
}
