package accounts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, tenantID, id uuid.UUID) (Account, error)
	ListAccounts(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Account, error)
}

// TxRepository exposes transactional account operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) error
	GetAccountForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	ClearDefaultAccount(ctx context.Context, tenantID uuid.UUID, currency money.Currency) error
	CountAccountActivity(ctx context.Context, tenantID, id uuid.UUID) (int, error)
}

// Opener writes a new account together with its initial movement. The
// movement ledger implements it; balances never change outside the ledger.
type Opener interface {
	OpenAccount(ctx context.Context, account Account, opening decimal.Decimal, date time.Time) (Account, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Precisions money.Precisions
}

// Service coordinates money account operations.
type Service struct {
	repo       RepositoryPort
	opener     Opener
	audit      AuditPort
	precisions money.Precisions
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, opener Opener, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Precisions == nil {
		cfg.Precisions = money.DefaultPrecisions()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:       repo,
		opener:     opener,
		audit:      audit,
		precisions: cfg.Precisions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount validates the request and opens the account with its
// initial movement. A zero opening balance is still recorded.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Account{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Account{}, shared.Invalid("account name required")
	}
	if !input.Kind.Valid() {
		return Account{}, shared.Invalid("account kind %q is not supported", input.Kind)
	}
	if !input.Currency.Valid() {
		return Account{}, shared.Invalid("currency %q is not supported", input.Currency)
	}
	if err := s.precisions.Validate(input.OpeningBalance, input.Currency); err != nil {
		return Account{}, err
	}
	now := s.now()
	date := input.OpeningDate
	if date.IsZero() {
		date = now
	}
	account := Account{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           name,
		NameAr:         strings.TrimSpace(input.NameAr),
		Kind:           input.Kind,
		Currency:       input.Currency,
		CurrentBalance: decimal.Zero,
		IsDefault:      input.IsDefault,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	opened, err := s.opener.OpenAccount(ctx, account, input.OpeningBalance, date)
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, "accounts:create", opened, map[string]any{
		"kind":            opened.Kind,
		"currency":        opened.Currency,
		"opening_balance": input.OpeningBalance.String(),
	})
	s.logger.Info("account created",
		slog.String("tenant_id", tenantID.String()),
		slog.String("account_id", opened.ID.String()),
		slog.String("currency", string(opened.Currency)),
	)
	return opened, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Account{}, err
	}
	return s.repo.GetAccount(ctx, tenantID, id)
}

// GetBalance returns the stored balance. It is not recomputed from history.
func (s *Service) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, money.Currency, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, "", err
	}
	return account.CurrentBalance, account.Currency, nil
}

// ListAccounts lists the tenant's accounts.
func (s *Service) ListAccounts(ctx context.Context, filter ListFilter) ([]Account, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAccounts(ctx, tenantID, filter)
}

// SoftDelete hides the account. Accounts with movements beyond the initial
// one, or with money left on them, need acknowledgeHistory. Movements are
// never removed.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID, acknowledgeHistory bool) (Account, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Account{}, err
	}
	var result Account
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if account.Deleted() {
			result = account
			return nil
		}
		activity, err := tx.CountAccountActivity(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if (activity > 0 || !account.CurrentBalance.IsZero()) && !acknowledgeHistory {
			return shared.NewRuleError(shared.ErrAccountHasActivity, "acknowledge history to delete", map[string]string{
				"movements": fmt.Sprint(activity),
				"balance":   s.precisions.Format(account.CurrentBalance, account.Currency),
			})
		}
		now := s.now()
		account.DeletedAt = &now
		account.IsActive = false
		account.IsDefault = false
		account.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, "accounts:delete", result, map[string]any{"acknowledged": acknowledgeHistory})
	return result, nil
}

// SetActive toggles whether the account accepts movements.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (Account, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Account{}, err
	}
	var result Account
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if account.Deleted() {
			return shared.NewRuleError(shared.ErrInvalidStatusTransition, "account is deleted", map[string]string{"account_id": id.String()})
		}
		account.IsActive = active
		account.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		result = account
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, "accounts:set_active", result, map[string]any{"active": active})
	return result, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, account Account, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: account.TenantID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "account",
		EntityID: account.ID.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
