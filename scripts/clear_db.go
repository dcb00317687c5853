//go:build ignore

// Development helper: wipes custody data so a local node rescan starts
// clean. Never point this at a production database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
)

var tables = []string{
	"audit_logs",
	"ledger_entries",
	"withdrawals",
	"destination_denylist",
	"deposits",
	"deposit_addresses",
	"derivation_counters",
	"chain_watermarks",
}

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The ledger_entries table has an append-only trigger, so rows go
	// through TRUNCATE rather than DELETE.
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			log.Printf("Warning: failed to truncate %s: %v", table, err)
			continue
		}
		fmt.Printf("Cleared %s\n", table)
	}

	fmt.Println("Custody tables cleared")
}
