// Package main implements a standalone seed script that prepares a stockhold
// development environment: it creates the inventory table if needed and
// upserts a configurable number of SKUs with randomized totals via direct
// SQL. The service mirrors the totals into the counter store on startup when
// SEED_FROM_DB_ON_STARTUP is enabled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dsn() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "stockhold"),
		getEnv("POSTGRES_PASSWORD", "stockhold_secret"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("STOCKHOLD_DB_NAME", "stockhold_db"),
		getEnv("POSTGRES_SSL_MODE", "disable"),
	)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS skus (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		sku_id     TEXT PRIMARY KEY REFERENCES skus (id),
		total      INTEGER NOT NULL CHECK (total >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

const upsertSKU = `
INSERT INTO skus (id, name)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`

const upsertTotal = `
INSERT INTO inventory (sku_id, total, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (sku_id) DO UPDATE SET
	total = EXCLUDED.total,
	updated_at = now()`

func main() {
	count := flag.Int("count", 50, "number of SKUs to seed")
	maxTotal := flag.Int("max-total", 500, "maximum total per SKU")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn())
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("create schema: %v", err)
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 1; i <= *count; i++ {
		sku := fmt.Sprintf("sku-%04d", i)
		total := rng.Intn(*maxTotal + 1)
		if _, err := pool.Exec(ctx, upsertSKU, sku, fmt.Sprintf("Demo product %d", i)); err != nil {
			log.Fatalf("seed %s: %v", sku, err)
		}
		if _, err := pool.Exec(ctx, upsertTotal, sku, total); err != nil {
			log.Fatalf("seed %s: %v", sku, err)
		}
	}

	log.Printf("seeded %d SKUs (totals 0..%d)", *count, *maxTotal)
}
