package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/app"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Seeds one demo tenant through the services: rates, three accounts and a few
// receipted invoices.
func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	backends, err := app.OpenBackends(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open backends: %v", err)
	}
	defer backends.Close(logger)

	c, err := app.BuildComponents(app.ComponentsParams{
		Config: cfg,
		Logger: logger,
		Pool:   backends.Pool,
		Redis:  backends.Redis,
	})
	if err != nil {
		log.Fatalf("build components: %v", err)
	}

	tenantID := uuid.New()
	if raw := os.Getenv("SEED_TENANT_ID"); raw != "" {
		if tenantID, err = uuid.Parse(raw); err != nil {
			log.Fatalf("SEED_TENANT_ID: %v", err)
		}
	}
	ctx = shared.ContextWithActor(shared.ContextWithTenant(ctx, tenantID), "seed")

	fmt.Println("→ Seeding exchange rates...")
	if err := seedRates(ctx, c); err != nil {
		log.Fatalf("seed rates: %v", err)
	}

	fmt.Println("→ Seeding accounts...")
	till, err := seedAccounts(ctx, c)
	if err != nil {
		log.Fatalf("seed accounts: %v", err)
	}

	fmt.Println("→ Seeding invoices and receipts...")
	if err := seedSales(ctx, c, till); err != nil {
		log.Fatalf("seed sales: %v", err)
	}

	fmt.Println("✓ Seed complete for tenant", tenantID, "at", time.Now().Format(time.RFC3339))
}

func seedRates(ctx context.Context, c *app.Components) error {
	_, err := c.Rates.SetRate(ctx, fx.SetRateInput{
		Base:          money.USD,
		Quote:         money.LBP,
		Rate:          decimal.NewFromInt(89500),
		EffectiveDate: time.Now().UTC(),
		Source:        "seed",
	})
	return err
}

// seedAccounts opens a USD till, an LBP till and a USD bank account and
// returns the USD till.
func seedAccounts(ctx context.Context, c *app.Components) (accounts.Account, error) {
	specs := []accounts.CreateAccountInput{
		{Name: "Main Till", NameAr: "الصندوق الرئيسي", Kind: accounts.KindCash, Currency: money.USD, OpeningBalance: decimal.NewFromInt(500), IsDefault: true},
		{Name: "LBP Till", NameAr: "صندوق الليرة", Kind: accounts.KindCash, Currency: money.LBP, OpeningBalance: decimal.NewFromInt(10_000_000)},
		{Name: "Bank", NameAr: "المصرف", Kind: accounts.KindBank, Currency: money.USD},
	}
	var till accounts.Account
	for i, spec := range specs {
		acc, err := c.Accounts.CreateAccount(ctx, spec)
		if err != nil {
			return accounts.Account{}, fmt.Errorf("%s: %w", spec.Name, err)
		}
		if i == 0 {
			till = acc
		}
	}
	return till, nil
}

func seedSales(ctx context.Context, c *app.Components, till accounts.Account) error {
	totals := []int64{250, 120, 75}
	for i, subtotal := range totals {
		inv, err := c.Documents.Create(ctx, documents.CreateInput{
			Kind:     documents.KindInvoice,
			Type:     documents.TypeSale,
			Number:   fmt.Sprintf("INV-SEED-%03d", i+1),
			Date:     time.Now().UTC(),
			Currency: money.USD,
			Subtotal: decimal.NewFromInt(subtotal),
		})
		if err != nil {
			return fmt.Errorf("invoice %d: %w", i+1, err)
		}
		// Leave the last invoice open.
		if i == len(totals)-1 {
			continue
		}
		docID := inv.ID
		if _, err := c.Engine.RecordPayment(ctx, settlement.PaymentInput{
			Kind:           settlement.PaymentCustomer,
			AccountID:      till.ID,
			DocumentID:     &docID,
			Amount:         decimal.NewFromInt(subtotal / 2),
			Currency:       money.USD,
			Method:         settlement.MethodCash,
			Reference:      inv.Number,
			Date:           time.Now().UTC(),
			IdempotencyKey: "seed-receipt-" + inv.Number,
		}); err != nil {
			return fmt.Errorf("receipt for %s: %w", inv.Number, err)
		}
	}
	return nil
}
