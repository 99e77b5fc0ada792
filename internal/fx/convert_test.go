package fx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConvertUSDToLBP(t *testing.T) {
	conv := NewConverter(money.DefaultPrecisions())
	rate := &Rate{Base: money.USD, Quote: money.LBP, Value: dec("89500")}

	got, err := conv.Convert(dec("100.00"), money.USD, money.LBP, rate)
	require.NoError(t, err)
	require.True(t, got.Equal(dec("8950000")), got.String())

	got, err = conv.Convert(dec("500"), money.USD, money.LBP, rate)
	require.NoError(t, err)
	require.True(t, got.Equal(dec("44750000")), got.String())
}

func TestConvertLBPToUSDDividesAndRounds(t *testing.T) {
	conv := NewConverter(money.DefaultPrecisions())
	rate := &Rate{Base: money.USD, Quote: money.LBP, Value: dec("89500")}

	got, err := conv.Convert(dec("44750000"), money.LBP, money.USD, rate)
	require.NoError(t, err)
	require.True(t, got.Equal(dec("500")), got.String())

	// 1,000,000 / 89,500 = 11.17318...
	got, err = conv.Convert(dec("1000000"), money.LBP, money.USD, rate)
	require.NoError(t, err)
	require.True(t, got.Equal(dec("11.17")), got.String())

	// exact half cents go to the even neighbour: 1,000 / 400 = 2.5 -> 2 at scale 0
	half := &Rate{Base: money.USD, Quote: money.LBP, Value: dec("400")}
	got, err = NewConverter(money.DefaultPrecisions().With(money.USD, 0)).Convert(dec("1000"), money.LBP, money.USD, half)
	require.NoError(t, err)
	require.True(t, got.Equal(dec("2")), got.String())
}

func TestConvertSameCurrencyIgnoresRate(t *testing.T) {
	conv := NewConverter(nil)
	got, err := conv.Convert(dec("12.345"), money.USD, money.USD, nil)
	require.NoError(t, err)
	require.True(t, got.Equal(dec("12.34")), got.String())
}

func TestConvertWithoutRateFails(t *testing.T) {
	conv := NewConverter(nil)
	_, err := conv.Convert(dec("1"), money.USD, money.LBP, nil)
	require.ErrorIs(t, err, shared.ErrUnsupportedCurrencyPair)
	require.Equal(t, "USD", shared.DetailsOf(err)["from"])

	_, err = conv.Convert(dec("1"), money.USD, money.LBP, &Rate{Base: money.LBP, Quote: money.LBP, Value: dec("1")})
	require.ErrorIs(t, err, shared.ErrUnsupportedCurrencyPair)

	_, err = conv.Convert(dec("1"), money.USD, money.LBP, &Rate{Base: money.USD, Quote: money.LBP, Value: dec("0")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRateScaleIsBounded(t *testing.T) {
	ok := Rate{Base: money.LBP, Quote: money.USD, Value: dec("0.00001117")}
	require.NoError(t, ok.Validate())

	fine := Rate{Base: money.LBP, Quote: money.USD, Value: dec("0.0000111731843575")}
	err := fine.Validate()
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "8", shared.DetailsOf(err)["max_scale"])

	_, err = NewConverter(nil).Convert(dec("8950000"), money.LBP, money.USD, &fine)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRoundTripDriftStaysWithinOneUnit(t *testing.T) {
	conv := NewConverter(nil)
	rate := &Rate{Base: money.USD, Quote: money.LBP, Value: dec("89750")}
	amount := dec("37.23")
	for i := 0; i < 20; i++ {
		lbp, err := conv.Convert(amount, money.USD, money.LBP, rate)
		require.NoError(t, err)
		back, err := conv.Convert(lbp, money.LBP, money.USD, rate)
		require.NoError(t, err)
		require.True(t, back.Equal(dec("37.23")), back.String())
		amount = back
	}
}
