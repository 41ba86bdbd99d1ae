// Package main provides moderator utilities for locbot.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"locbot/internal/bootstrap"
	"locbot/internal/config"
	"locbot/internal/database"
	"locbot/internal/repository"
	"locbot/internal/scheduler"
	"locbot/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/admin/main.go token [ttl]     - Issue an admin API token (default ttl 24h)")
		fmt.Println("  go run ./cmd/admin/main.go ledger         - List recorded approvals")
		fmt.Println("  go run ./cmd/admin/main.go reconcile      - Republish the ledger to the shared document once")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	command := os.Args[1]

	switch command {
	case "token":
		ttl := 24 * time.Hour
		if len(os.Args) > 2 {
			ttl, err = time.ParseDuration(os.Args[2])
			if err != nil {
				fmt.Printf("Invalid ttl %q: %v\n", os.Args[2], err)
				os.Exit(1)
			}
		}
		issueToken(cfg, ttl)

	case "ledger":
		listLedger(cfg)

	case "reconcile":
		reconcile(cfg)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func issueToken(cfg *config.Config, ttl time.Duration) {
	token, err := server.IssueAdminToken(cfg.JWTSecret, cfg.ModeratorChatID, ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}

func listLedger(cfg *config.Config) {
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	rows, err := repository.NewLocationRepository(db).List(context.Background())
	if err != nil {
		log.Fatalf("Failed to list approvals: %v", err)
	}

	fmt.Printf("%d approvals:\n", len(rows))
	for _, row := range rows {
		published := "unpublished"
		if row.PublishedAt != nil {
			published = "published " + row.PublishedAt.Format(time.RFC3339)
		}
		fmt.Printf("  %s  %-30s  %.5f,%.5f  by %s  (%s)\n",
			row.ID, row.Name, row.Lat, row.Lon, row.ApprovedBy, published)
	}
}

func reconcile(cfg *config.Config) {
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	store, err := bootstrap.NewStore(cfg)
	if err != nil {
		log.Fatalf("Failed to configure document store: %v", err)
	}

	r := scheduler.NewReconciler(repository.NewLocationRepository(db), bootstrap.NewSynchronizer(cfg, store), scheduler.Options{})
	report, err := r.RunOnce(context.Background())
	if err != nil {
		log.Fatalf("Reconciliation failed after %d attempts: %v", report.Attempts, err)
	}
	fmt.Printf("Reconciled %d approvals into %s: %d added in %d attempts (version %s, %s)\n",
		report.Locations, store.Name(), report.Added, report.Attempts, report.Version, report.Duration)
}
