package fx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// RepositoryPort abstracts rate persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ActiveRate(ctx context.Context, tenantID uuid.UUID, base, quote money.Currency) (ExchangeRate, error)
	ListRates(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]ExchangeRate, error)
}

// TxRepository exposes transactional rate writes.
type TxRepository interface {
	DeactivateRates(ctx context.Context, tenantID uuid.UUID, base, quote money.Currency) error
	InsertRate(ctx context.Context, rate ExchangeRate) error
}

// Service manages the tenant rate table.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetRate stores a new active rate for the pair, retiring the previous one.
func (s *Service) SetRate(ctx context.Context, input SetRateInput) (ExchangeRate, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return ExchangeRate{}, err
	}
	rate := Rate{Base: input.Base, Quote: input.Quote, Value: input.Rate}
	if err := rate.Validate(); err != nil {
		return ExchangeRate{}, err
	}
	now := s.now()
	effective := input.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	source := input.Source
	if source == "" {
		source = "manual"
	}
	record := ExchangeRate{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Base:          input.Base,
		Quote:         input.Quote,
		Rate:          input.Rate,
		EffectiveDate: effective,
		Source:        source,
		Active:        true,
		CreatedAt:     now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeactivateRates(ctx, tenantID, input.Base, input.Quote); err != nil {
			return err
		}
		if err := tx.DeactivateRates(ctx, tenantID, input.Quote, input.Base); err != nil {
			return err
		}
		return tx.InsertRate(ctx, record)
	})
	if err != nil {
		return ExchangeRate{}, err
	}
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		s.logger.Warn("fx cache bump", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
	}
	s.logger.Info("exchange rate set",
		slog.String("tenant_id", tenantID.String()),
		slog.String("pair", string(input.Base)+"/"+string(input.Quote)),
		slog.String("rate", input.Rate.String()),
	)
	return record, nil
}

// ActiveRate returns the active rate stored for base/quote.
func (s *Service) ActiveRate(ctx context.Context, base, quote money.Currency) (ExchangeRate, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return ExchangeRate{}, err
	}
	key, err := s.cache.BuildKey(ctx, tenantID, "active", string(base), string(quote))
	if err != nil {
		s.logger.Warn("fx cache key", slog.Any("error", err))
		return s.repo.ActiveRate(ctx, tenantID, base, quote)
	}
	val, err, _ := s.singleflight(ctx, key, func(ctx context.Context) (any, error) {
		var rate ExchangeRate
		err := s.cache.FetchJSON(ctx, key, &rate, func(ctx context.Context) (any, error) {
			return s.repo.ActiveRate(ctx, tenantID, base, quote)
		})
		return rate, err
	})
	if err != nil {
		return ExchangeRate{}, err
	}
	return val.(ExchangeRate), nil
}

// Resolve picks the rate for a from/to conversion: the supplied one when
// present, else the active rate stored in either orientation. Same-currency
// pairs need no rate and resolve to nil.
func (s *Service) Resolve(ctx context.Context, from, to money.Currency, supplied *Rate) (*Rate, error) {
	if from == to {
		return nil, nil
	}
	if supplied != nil {
		if err := supplied.Validate(); err != nil {
			return nil, err
		}
		if !supplied.Covers(from, to) {
			return nil, shared.NewRuleError(shared.ErrUnsupportedCurrencyPair, "supplied rate does not cover pair", map[string]string{
				"from": string(from), "to": string(to), "rate": supplied.String(),
			})
		}
		return supplied, nil
	}
	for _, pair := range [][2]money.Currency{{from, to}, {to, from}} {
		stored, err := s.ActiveRate(ctx, pair[0], pair[1])
		if err == nil {
			rate := stored.AsRate()
			return &rate, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("fx: resolve %s/%s: %w", from, to, err)
		}
	}
	return nil, shared.NewRuleError(shared.ErrUnsupportedCurrencyPair, "no active rate", map[string]string{
		"from": string(from), "to": string(to),
	})
}

// ListRates returns stored rates.
func (s *Service) ListRates(ctx context.Context, filter ListFilter) ([]ExchangeRate, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRates(ctx, tenantID, filter)
}

func (s *Service) singleflight(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := s.group.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
