package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/internal/repository"
	"github.com/noah-isme/tutor-core-api/internal/service"
	"github.com/noah-isme/tutor-core-api/pkg/config"
	"github.com/noah-isme/tutor-core-api/pkg/database"
	"github.com/noah-isme/tutor-core-api/pkg/logger"
)

func main() {
	var (
		walletID string
		timeout  time.Duration
		asJSON   bool
	)

	flag.StringVar(&walletID, "wallet", "", "Reconcile a single wallet id instead of every wallet")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall deadline for the sweep")
	flag.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	wallets, err := service.NewWalletService(
		repository.NewWalletRepository(db),
		repository.NewSessionRepository(db),
		repository.NewReservationRepository(db),
		repository.NewCatalogRepository(db),
		database.NewTxRunner(db, 2),
		service.WalletConfig{
			PlatformFeePercent: decimal.NewFromFloat(cfg.Wallet.PlatformFeePercent),
			CapSessionOverrun:  cfg.Wallet.CapSessionOverrun,
		},
		service.NewMetricsService(),
		validator.New(),
		logr,
	)
	if err != nil {
		logr.Fatal("invalid wallet configuration", zap.Error(err))
	}

	summary, err := run(ctx, wallets, walletID)
	if err != nil {
		logr.Error("reconciliation failed", zap.Error(err))
		if summary == nil {
			os.Exit(1)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			log.Fatalf("failed to encode report: %v", encErr)
		}
	} else {
		printReport(summary)
	}

	if err != nil || summary.Failed > 0 {
		os.Exit(1)
	}
}

type reconciler interface {
	Reconcile(ctx context.Context, walletID string) (*models.ReconcileResult, error)
	ReconcileAll(ctx context.Context) (*dto.ReconcileSummary, error)
}

func run(ctx context.Context, wallets reconciler, walletID string) (*dto.ReconcileSummary, error) {
	if walletID == "" {
		return wallets.ReconcileAll(ctx)
	}

	result, err := wallets.Reconcile(ctx, walletID)
	if err != nil {
		return nil, err
	}
	summary := &dto.ReconcileSummary{Scanned: 1}
	if result.Corrected {
		summary.Corrected = 1
		summary.Results = []models.ReconcileResult{*result}
	}
	return summary, nil
}

func printReport(summary *dto.ReconcileSummary) {
	fmt.Printf("%-38s %-14s %-14s %-14s %-14s\n", "Wallet", "Balance (was)", "Balance (now)", "Earned (was)", "Earned (now)")
	for _, r := range summary.Results {
		fmt.Printf("%-38s %-14s %-14s %-14s %-14s\n",
			r.WalletID,
			r.PreviousBalance.StringFixed(2),
			r.ComputedBalance.StringFixed(2),
			r.PreviousTotalEarned.StringFixed(2),
			r.ComputedTotalEarned.StringFixed(2),
		)
	}
	fmt.Printf("Scanned: %d, Corrected: %d, Failed: %d\n", summary.Scanned, summary.Corrected, summary.Failed)
}
