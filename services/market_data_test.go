package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestMarketData(t *testing.T) *MarketDataService {
	t.Helper()
	dir := t.TempDir()

	prices := writeTestCSV(t, dir, "prices.csv",
		"Date,Price,DivYield\n"+
			"2020-01-01,100,2\n"+
			"2020-01-02,102,2\n"+
			"2020-01-03,101,2.5\n"+
			"2020-01-04,99,2.5\n")
	dividends := writeTestCSV(t, dir, "dividends.csv",
		"ExDate,PayDate,Amount\n"+
			"2020-01-02,2020-01-04,0.75\n")
	rates := writeTestCSV(t, dir, "rates.csv",
		"Date,30,360\n"+
			"2020-01-01,1,2\n"+
			"2020-01-02,1,2\n"+
			"2020-01-03,1.5,2.5\n"+
			"2020-01-04,1.5,2.5\n")
	vol30 := writeTestCSV(t, dir, "vol30.csv",
		"Date,0.9,1.1\n"+
			"2020-01-02,20,18\n"+
			"2020-01-03,22,19\n"+
			"2020-01-04,24,20\n")
	vol360 := writeTestCSV(t, dir, "vol360.csv",
		"Date,0.9,1.1\n"+
			"2020-01-02,30,28\n"+
			"2020-01-03,32,29\n"+
			"2020-01-04,34,30\n")

	svc, err := NewMarketDataService(MarketDataFiles{
		Prices:               prices,
		Dividends:            dividends,
		Rates:                rates,
		Vols:                 map[int]string{30: vol30, 360: vol360},
		InterpolateVolTenor:  180,
		InterpolateRateTenor: 1,
	})
	require.NoError(t, err)
	return svc
}

func TestMarketDataLoadsAndAligns(t *testing.T) {
	svc := newTestMarketData(t)
	day := func(d int) time.Time { return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC) }

	assert.Len(t, svc.Dates(), 4)

	price, err := svc.Price(day(2))
	require.NoError(t, err)
	assert.Equal(t, 102.0, price)

	// Percent columns are converted to decimals.
	yield, err := svc.DividendYield(day(3))
	require.NoError(t, err)
	assert.InDelta(t, 0.025, yield, 1e-12)

	rate, err := svc.InterestRate(day(1), 30)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, rate, 1e-12)

	_, err = svc.Price(day(15))
	assert.ErrorIs(t, err, ErrMissingData)
}

func TestMarketDataInterpolatesRates(t *testing.T) {
	svc := newTestMarketData(t)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	// Halfway between the 30 and 360 day quotes of 1% and 2%.
	rate, err := svc.InterestRate(day, 195)
	require.NoError(t, err)
	assert.InDelta(t, 0.015, rate, 1e-12)

	// Outside the curve the end values clamp.
	rate, err = svc.InterestRate(day, 720)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, rate, 1e-12)

	// The materialized overnight tenor equals the shortest quote.
	rate, err = svc.InterestRate(day, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, rate, 1e-12)
}

func TestMarketDataVolSurface(t *testing.T) {
	svc := newTestMarketData(t)
	day := func(d int) time.Time { return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC) }

	vol, err := svc.ImpliedVol(day(2), 30, 1.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.18, vol, 1e-12)

	// Dates before the surface starts are zero-filled, not errors.
	vol, err = svc.ImpliedVol(day(1), 30, 0.9)
	require.NoError(t, err)
	assert.Zero(t, vol)

	// The interpolated 180 day tenor sits between the 30 and 360 day quotes.
	vol, err = svc.ImpliedVol(day(2), 180, 0.9)
	require.NoError(t, err)
	v30, v360 := 0.20, 0.30
	expected := v30 + (v360-v30)*float64(180-30)/float64(360-30)
	assert.InDelta(t, expected, vol, 1e-12)

	_, err = svc.ImpliedVol(day(2), 90, 0.9)
	assert.ErrorIs(t, err, ErrMissingData)
	_, err = svc.ImpliedVol(day(2), 30, 1.05)
	assert.ErrorIs(t, err, ErrMissingData)
}

func TestMarketDataDividends(t *testing.T) {
	svc := newTestMarketData(t)

	ev, ok := svc.DividendOn(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 4, 0, 0, 0, 0, time.UTC), ev.PayDate)
	assert.Equal(t, 0.75, ev.Amount)

	_, ok = svc.DividendOn(time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}
