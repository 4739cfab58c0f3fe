package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/models"
	"github.com/billbookhq/billbook_backend/utils"
)

// Rebuilds every invoice's derived fields (amount_received, payments
// snapshot, status) from the payment ledger. Because the reconciler is a
// full recompute, running this over a healthy database is a no-op; any row
// it changes was drifted.
func main() {
	accountID := flag.String("account-id", "", "Optional: rebuild only one account. If empty, rebuilds all accounts.")
	dryRun := flag.Bool("dry-run", false, "Report drifted invoices without writing.")
	driftThreshold := flag.String("drift-threshold", "0", "Only report drift larger than this amount (rebuild still runs).")
	flag.Parse()

	threshold, err := utils.ParseDecimal(*driftThreshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -drift-threshold %q: %v\n", *driftThreshold, err)
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	// Redis is optional for a rebuild; without it sequences and locks fall
	// back to database and in-process equivalents.
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}
	if config.GetRedisDB() == nil {
		fmt.Fprintln(os.Stderr, "redis not configured; rebuilding without cache refresh")
	}
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	models.MigrateTable()

	type invoiceRow struct {
		ID        int
		AccountId string
	}
	var rows []invoiceRow
	query := db.WithContext(ctx).Model(&models.Invoice{}).Select("id, account_id")
	if strings.TrimSpace(*accountID) != "" {
		query = query.Where("account_id = ?", strings.TrimSpace(*accountID))
	}
	if err := query.Order("account_id, id").Scan(&rows).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list invoices: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no invoices found to rebuild")
		return
	}

	var rebuilt, drifted, failed int
	for _, row := range rows {
		rowCtx := utils.SetAccountIdInContext(ctx, row.AccountId)

		before, err := models.GetInvoice(rowCtx, row.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invoice %d: fetch failed: %v\n", row.ID, err)
			failed++
			continue
		}

		payments, err := models.GetPayments(rowCtx, &models.PaymentFilter{InvoiceId: &row.ID})
		if err != nil {
			fmt.Fprintf(os.Stderr, "invoice %d: payments fetch failed: %v\n", row.ID, err)
			failed++
			continue
		}
		ledgerSum := utils.Round2(sumAmounts(payments))
		drift := ledgerSum.Sub(utils.Round2(before.AmountReceived)).Abs()
		if !utils.EqualRound2(ledgerSum, before.AmountReceived) && drift.GreaterThanOrEqual(threshold) {
			drifted++
			fmt.Printf("invoice %d (%s): stored amount_received=%s, ledger sum=%s\n",
				row.ID, before.InvoiceNumber, before.AmountReceived.StringFixed(2), ledgerSum.StringFixed(2))
		}

		if *dryRun {
			continue
		}
		if err := models.ReconcileInvoice(rowCtx, row.ID); err != nil {
			fmt.Fprintf(os.Stderr, "invoice %d: reconcile failed: %v\n", row.ID, err)
			failed++
			continue
		}
		rebuilt++
	}

	fmt.Printf("done: invoices=%d rebuilt=%d drifted=%d failed=%d\n", len(rows), rebuilt, drifted, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func sumAmounts(payments []*models.Payment) decimal.Decimal {
	var total decimal.Decimal
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}
