package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"

	"vidfab-pipeline/internal/config"
	pg "vidfab-pipeline/internal/infra/db/postgres"
	"vidfab-pipeline/internal/infra/web"
	"vidfab-pipeline/internal/usecase"
)

// Grants credits to a user account and prints a signed API token, for local
// testing of the billable pipeline flow.
func main() {
	userID := flag.String("user", "dev-user", "user id to credit")
	amount := flag.Int64("amount", 500, "credits to grant")

	// ---- Config ---- (LoadConfig calls flag.Parse)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool := pg.MustConnectPostgres(cfg.Database.URL)
	defer pool.Close()

	logger := zerolog.Nop()
	tm := pg.NewTxManager(pool)
	creditRepo := pg.NewCreditRepo(pool)
	ledgerUC := usecase.NewCreditLedgerUseCase(creditRepo, tm, &logger)

	if err := ledgerUC.Grant(ctx, *userID, *amount, "seed grant"); err != nil {
		log.Fatalf("grant: %v", err)
	}
	balance, available, err := ledgerUC.Balance(ctx, *userID)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	fmt.Printf("seeded: user=%s balance=%d available=%d\n", *userID, balance, available)

	token, err := web.NewAuthManager(cfg.API.JWTSecret, cfg.API.TokenTTL).Mint(*userID)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Printf("api token: %s\n", token)
}
