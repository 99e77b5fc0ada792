package fx

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	rates      []ExchangeRate
	activeHits int
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := append([]ExchangeRate(nil), r.rates...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.rates = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) ActiveRate(ctx context.Context, tenantID uuid.UUID, base, quote money.Currency) (ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeHits++
	for i := len(r.rates) - 1; i >= 0; i-- {
		rate := r.rates[i]
		if rate.TenantID == tenantID && rate.Base == base && rate.Quote == quote && rate.Active {
			return rate, nil
		}
	}
	return ExchangeRate{}, shared.ErrNotFound
}

func (r *memoryRepo) ListRates(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]ExchangeRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ExchangeRate
	for _, rate := range r.rates {
		if rate.TenantID == tenantID && (!filter.ActiveOnly || rate.Active) {
			out = append(out, rate)
		}
	}
	return out, nil
}

func (tx *memoryTx) DeactivateRates(ctx context.Context, tenantID uuid.UUID, base, quote money.Currency) error {
	for i := range tx.repo.rates {
		rate := &tx.repo.rates[i]
		if rate.TenantID == tenantID && rate.Base == base && rate.Quote == quote {
			rate.Active = false
		}
	}
	return nil
}

func (tx *memoryTx) InsertRate(ctx context.Context, rate ExchangeRate) error {
	tx.repo.rates = append(tx.repo.rates, rate)
	return nil
}

func (r *memoryRepo) hits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeHits
}

func newTestService(t *testing.T) (*Service, *memoryRepo, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := &memoryRepo{}
	svc := NewService(repo, NewCache(client, time.Minute), nil)
	ctx := shared.ContextWithTenant(context.Background(), uuid.New())
	return svc, repo, ctx
}

func TestActiveRateIsCached(t *testing.T) {
	svc, repo, ctx := newTestService(t)

	_, err := svc.SetRate(ctx, SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("89500")})
	require.NoError(t, err)

	first, err := svc.ActiveRate(ctx, money.USD, money.LBP)
	require.NoError(t, err)
	require.True(t, first.Rate.Equal(dec("89500")))

	second, err := svc.ActiveRate(ctx, money.USD, money.LBP)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, repo.hits())
}

func TestSetRateRetiresPreviousAndBumpsCache(t *testing.T) {
	svc, repo, ctx := newTestService(t)

	_, err := svc.SetRate(ctx, SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("89500")})
	require.NoError(t, err)
	_, err = svc.ActiveRate(ctx, money.USD, money.LBP)
	require.NoError(t, err)

	_, err = svc.SetRate(ctx, SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("90000")})
	require.NoError(t, err)

	active, err := svc.ActiveRate(ctx, money.USD, money.LBP)
	require.NoError(t, err)
	require.True(t, active.Rate.Equal(dec("90000")))
	require.Equal(t, 2, repo.hits())

	all, err := svc.ListRates(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	activeOnly, err := svc.ListRates(ctx, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
}

func TestResolve(t *testing.T) {
	svc, _, ctx := newTestService(t)

	rate, err := svc.Resolve(ctx, money.USD, money.USD, nil)
	require.NoError(t, err)
	require.Nil(t, rate)

	_, err = svc.Resolve(ctx, money.LBP, money.USD, nil)
	require.ErrorIs(t, err, shared.ErrUnsupportedCurrencyPair)

	_, err = svc.SetRate(ctx, SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("89500")})
	require.NoError(t, err)

	rate, err = svc.Resolve(ctx, money.LBP, money.USD, nil)
	require.NoError(t, err)
	require.Equal(t, money.USD, rate.Base)
	require.True(t, rate.Value.Equal(dec("89500")))

	supplied := &Rate{Base: money.USD, Quote: money.LBP, Value: dec("90000")}
	rate, err = svc.Resolve(ctx, money.USD, money.LBP, supplied)
	require.NoError(t, err)
	require.Same(t, supplied, rate)
}

func TestSetRateValidates(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.SetRate(ctx, SetRateInput{Base: money.USD, Quote: money.USD, Rate: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.SetRate(context.Background(), SetRateInput{Base: money.USD, Quote: money.LBP, Rate: dec("1")})
	require.ErrorIs(t, err, shared.ErrTenantRequired)
}
