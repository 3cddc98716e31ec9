package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collar-backtest/interfaces"
)

func testCollarConfig() CollarConfig {
	return CollarConfig{
		Stock:             "TEST",
		CallStrike:        1.1,
		PutStrike:         0.9,
		CallTenors:        []int{30},
		PutTenors:         []int{30},
		ContractSize:      10,
		CashBufferPercent: 0,
	}
}

func TestCollarConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CollarConfig)
	}{
		{"missing stock", func(c *CollarConfig) { c.Stock = "" }},
		{"negative strike", func(c *CollarConfig) { c.CallStrike = -1 }},
		{"no tenors", func(c *CollarConfig) { c.PutTenors = nil }},
		{"unsorted tenors", func(c *CollarConfig) { c.CallTenors = []int{90, 30} }},
		{"zero tenor", func(c *CollarConfig) { c.CallTenors = []int{0} }},
		{"zero contract size", func(c *CollarConfig) { c.ContractSize = 0 }},
		{"full cash buffer", func(c *CollarConfig) { c.CashBufferPercent = 1 }},
	}

	data := newStubProvider(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), []float64{100})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCollarConfig()
			tt.mutate(&cfg)
			_, err := NewCollarStrategy(data, NewTransactionLedger(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildMaturityCalendarSnapsToMonthStarts(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	cal := buildMaturityCalendar(start, end, []int{30})
	require.NotEmpty(t, cal)

	assert.Equal(t, start, cal[0])
	for i := 1; i < len(cal); i++ {
		assert.True(t, cal[i].After(cal[i-1]), "calendar must be strictly ascending")
	}
	// Every interior date lands on a month start: a 30 day step always
	// finishes inside a month and gets snapped.
	for _, d := range cal[1 : len(cal)-1] {
		assert.Equalf(t, 1, d.Day(), "expected a month start, got %s", d.Format(dateFormat))
	}
	assert.False(t, cal[len(cal)-1].Before(end))
}

func TestBuildMaturityCalendarMergesTenors(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)

	short := buildMaturityCalendar(start, end, []int{30})
	long := buildMaturityCalendar(start, end, []int{360})
	merged := buildMaturityCalendar(start, end, []int{30, 360})

	seen := make(map[time.Time]bool)
	for _, d := range merged {
		assert.False(t, seen[d], "calendar must not contain duplicates")
		seen[d] = true
	}
	for _, d := range short {
		assert.True(t, seen[d])
	}
	for _, d := range long {
		assert.True(t, seen[d])
	}
}

func TestNearestCalendarDate(t *testing.T) {
	day := func(m time.Month, d int) time.Time {
		return time.Date(2020, m, d, 0, 0, 0, 0, time.UTC)
	}
	cal := []time.Time{day(time.January, 1), day(time.February, 1), day(time.March, 1)}

	assert.Equal(t, day(time.January, 1), nearestCalendarDate(cal, day(time.January, 10)))
	assert.Equal(t, day(time.February, 1), nearestCalendarDate(cal, day(time.January, 25)))
	// Before the first and after the last entry clamp.
	assert.Equal(t, day(time.January, 1), nearestCalendarDate(cal, day(time.January, 1).AddDate(0, 0, -10)))
	assert.Equal(t, day(time.March, 1), nearestCalendarDate(cal, day(time.March, 20)))
	// Exact hits return themselves.
	assert.Equal(t, day(time.February, 1), nearestCalendarDate(cal, day(time.February, 1)))
}

func TestCollarSignal(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100
	}
	data := newStubProvider(start, prices)
	// No vol for the first 5 days.
	for i := 5; i < len(prices); i++ {
		data.vols[start.AddDate(0, 0, i)] = 0.2
	}

	strat, err := NewCollarStrategy(data, NewTransactionLedger(), testCollarConfig())
	require.NoError(t, err)

	assert.Equal(t, interfaces.SignalNoData, strat.Signal(start))
	assert.Equal(t, interfaces.SignalNoData, strat.Signal(start.AddDate(0, 0, 4)))
	assert.Equal(t, interfaces.SignalHold, strat.Signal(start.AddDate(0, 0, 5)))
	// Feb 1 is on the 30 day maturity calendar.
	assert.Equal(t, interfaces.SignalRoll, strat.Signal(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)))

	// Signal must not mutate state: asking twice gives the same answer.
	day := start.AddDate(0, 0, 5)
	assert.Equal(t, strat.Signal(day), strat.Signal(day))
}

func TestCollarNoDataRebalanceTradesNothing(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	data := newStubProvider(start, []float64{100, 100, 100})
	ledger := NewTransactionLedger()
	strat, err := NewCollarStrategy(data, ledger, testCollarConfig())
	require.NoError(t, err)

	holdings, pv, cash := strat.Rebalance(interfaces.SignalNoData, start, 100, interfaces.Holdings{}, 5000)
	assert.Zero(t, holdings.Stock)
	assert.Equal(t, 5000.0, cash)
	assert.Equal(t, 5000.0, pv)
	assert.Zero(t, ledger.Len())
	assert.False(t, strat.entered)
}

func TestCollarEntry(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100
	}
	data := newStubProvider(start, prices).setAllVols(0.2)
	ledger := NewTransactionLedger()
	cfg := testCollarConfig()
	strat, err := NewCollarStrategy(data, ledger, cfg)
	require.NoError(t, err)

	startingCash := 100000.0
	entryDay := start.AddDate(0, 0, 1)
	holdings, pv, cash := strat.Rebalance(interfaces.SignalHold, entryDay, 100, interfaces.Holdings{}, startingCash)

	require.True(t, strat.entered)
	assert.Positive(t, holdings.Stock)
	assert.Zero(t, holdings.Stock%cfg.ContractSize)

	for _, lad := range strat.ladders {
		for _, rung := range lad.rungs {
			assert.Equal(t, holdings.Stock, rung.Quantity, "single rung ladders cover the full stock position")
			assert.InDelta(t, lad.strikeFraction*100, rung.Strike, 1e-12)
			assert.Positive(t, rung.EntryPrice)
			assert.False(t, rung.Maturity.IsZero())
		}
	}

	// Holdings mirror the ladder book.
	require.NotNil(t, holdings.Options)
	callQty := holdings.Options[interfaces.OptionKey{Type: interfaces.OptionCall, TenorDays: 30}]
	putQty := holdings.Options[interfaces.OptionKey{Type: interfaces.OptionPut, TenorDays: 30}]
	assert.Equal(t, holdings.Stock, callQty)
	assert.Equal(t, holdings.Stock, putQty)

	// Stock buy and costs plus a buy and costs per rung.
	assert.Equal(t, 2+2*2, ledger.Len())

	// Marked value stays near the invested capital: premiums in and out,
	// no costs configured.
	assert.InDelta(t, startingCash, pv, startingCash*0.05)
	assert.Less(t, cash, startingCash)

	// The reported value is exactly cash plus stock notional plus the
	// signed option marks, with no cash double counted.
	manual := cash + float64(holdings.Stock)*100
	for _, lad := range strat.ladders {
		for i := range lad.rungs {
			mark := strat.markRung(entryDay, 100, lad, &lad.rungs[i])
			manual += lad.optType.MarkSign() * mark * float64(lad.rungs[i].Quantity)
		}
	}
	assert.InDelta(t, manual, pv, 1e-9)
}

func TestCollarRollRestrikesFarRung(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100
	}
	data := newStubProvider(start, prices).setAllVols(0.2)
	ledger := NewTransactionLedger()
	cfg := testCollarConfig()
	strat, err := NewCollarStrategy(data, ledger, cfg)
	require.NoError(t, err)

	holdings, _, cash := strat.Rebalance(interfaces.SignalHold, start, 100, interfaces.Holdings{}, 100000)
	stockAtEntry := holdings.Stock

	// Spot drifts up but stays inside the collar, so both expiring rungs
	// finish worthless and the roll is funded from cash.
	rollDay := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	data.prices[rollDay] = 105
	require.Equal(t, interfaces.SignalRoll, strat.Signal(rollDay))

	holdings, pv, _ := strat.Rebalance(interfaces.SignalRoll, rollDay, 105, holdings, cash)

	assert.Equal(t, stockAtEntry, holdings.Stock, "a funded roll sells no stock")
	for _, lad := range strat.ladders {
		require.Len(t, lad.rungs, 1)
		rung := lad.rungs[0]
		assert.InDelta(t, lad.strikeFraction*105, rung.Strike, 1e-12, "far rung re-strikes at the roll day spot")
		assert.Equal(t, holdings.Stock, rung.Quantity)
		assert.True(t, rung.Maturity.After(rollDay))
		assert.GreaterOrEqual(t, rung.Quantity, int64(0))
	}
	assert.Positive(t, pv)
}

func TestCollarRungQuantitiesNeverNegative(t *testing.T) {
	// Tiny capital forces an emergency resize on the first expensive roll;
	// quantities must stay non-negative throughout.
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := make([]float64, 90)
	for i := range prices {
		prices[i] = 100 - float64(i)*0.5
	}
	data := newStubProvider(start, prices).setAllVols(0.6)
	cfg := testCollarConfig()
	cfg.CashBufferPercent = 0.01
	cfg.PutCost = 0.04
	cfg.CallCost = 0.04
	cfg.StockCost = 0.03
	strat, err := NewCollarStrategy(data, NewTransactionLedger(), cfg)
	require.NoError(t, err)

	holdings := interfaces.Holdings{}
	cash := 3000.0
	for i, day := range data.Dates() {
		holdings, _, cash = strat.Rebalance(strat.Signal(day), day, prices[i], holdings, cash)

		assert.GreaterOrEqualf(t, holdings.Stock, int64(0), "day %d", i)
		for _, lad := range strat.ladders {
			for _, rung := range lad.rungs {
				assert.GreaterOrEqualf(t, rung.Quantity, int64(0), "day %d", i)
			}
		}
	}
}

func TestNearestDivisible(t *testing.T) {
	tests := []struct {
		x, y, want int64
	}{
		{10, 3, 9},
		{11, 3, 12},
		{12, 3, 12},
		{0, 5, 0},
		{-10, 3, -9},
		{7, 7, 7},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, nearestDivisible(tt.x, tt.y), "nearestDivisible(%d, %d)", tt.x, tt.y)
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{7, 2, 3},
		{-7, 2, -4},
		{6, 3, 2},
		{-6, 3, -2},
		{-1, 10, -1},
		{0, 5, 0},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, floorDiv(tt.a, tt.b), "floorDiv(%d, %d)", tt.a, tt.b)
	}
}
