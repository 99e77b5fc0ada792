package ledger

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, tenantID, id uuid.UUID) (accounts.Account, error)
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error)
	ListMovements(ctx context.Context, tenantID, accountID uuid.UUID, filter MovementFilter) ([]Movement, error)
	BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error)
}

// Service exposes ledger reads and account opening.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, ledger: ledger, logger: logger}
}

// OpenAccount inserts the account and its initial movement in one unit of
// work, taking over the default flag of the currency when asked to.
func (s *Service) OpenAccount(ctx context.Context, account accounts.Account, opening decimal.Decimal, date time.Time) (accounts.Account, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if account.IsDefault {
			if err := tx.ClearDefaultAccount(ctx, account.TenantID, account.Currency); err != nil {
				return err
			}
		}
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		movement, err := s.ledger.opening(ctx, tx, account, opening, date)
		if err != nil {
			return err
		}
		account.CurrentBalance = movement.BalanceAfter
		account.UpdatedAt = movement.CreatedAt
		return nil
	})
	if err != nil {
		return accounts.Account{}, err
	}
	return account, nil
}

// ListMovements returns the account's movements in posting order.
func (s *Service) ListMovements(ctx context.Context, accountID uuid.UUID, filter MovementFilter) ([]Movement, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetAccount(ctx, tenantID, accountID); err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListMovements(ctx, tenantID, accountID, filter)
}

// GetMovement returns one movement.
func (s *Service) GetMovement(ctx context.Context, id uuid.UUID) (Movement, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Movement{}, err
	}
	return s.repo.GetMovement(ctx, tenantID, id)
}

// Reconcile recomputes every balance from its movements and reports the
// accounts whose stored balance disagrees.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	snapshots, err := s.repo.BalanceSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, snap := range snapshots {
		if snap.Stored.Equal(snap.Computed) {
			continue
		}
		drift := Drift{
			TenantID:   snap.TenantID,
			AccountID:  snap.AccountID,
			Currency:   snap.Currency,
			Stored:     snap.Stored,
			Computed:   snap.Computed,
			Difference: snap.Stored.Sub(snap.Computed),
		}
		s.logger.Warn("balance drift",
			slog.String("tenant_id", snap.TenantID.String()),
			slog.String("account_id", snap.AccountID.String()),
			slog.String("stored", snap.Stored.String()),
			slog.String("computed", snap.Computed.String()),
		)
		drifts = append(drifts, drift)
	}
	s.logger.Info("balance reconciliation", slog.Int("accounts", len(snapshots)), slog.Int("drifts", len(drifts)))
	return drifts, nil
}
