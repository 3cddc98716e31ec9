package interfaces

import (
	"time"
)

// Signal is the daily instruction a strategy derives from market data.
// Buy-and-hold and trend strategies use Sell/Hold/Buy; the collar strategy
// reuses the same range as NoData/Hold/Roll.
type Signal int

const (
	SignalSell Signal = -1
	SignalHold Signal = 0
	SignalBuy  Signal = 1
)

const (
	// SignalNoData means implied volatility is not yet available for the
	// date, so the collar strategy must not trade or price anything.
	SignalNoData Signal = -1
	// SignalRoll means the date is a maturity date for at least one
	// option ladder and expiring rungs must be rolled.
	SignalRoll Signal = 1
)

// TransactionType classifies ledger records.
type TransactionType string

const (
	TransactionBuy      TransactionType = "Buy"
	TransactionSell     TransactionType = "Sell"
	TransactionDividend TransactionType = "Dividend"
	TransactionCosts    TransactionType = "Transaction Costs"
)

// TransactionRecord is one immutable row of the transaction ledger.
type TransactionRecord struct {
	Date     time.Time       `json:"date"`
	Asset    string          `json:"asset"`
	Quantity float64         `json:"quantity"`
	Price    float64         `json:"price"`
	Type     TransactionType `json:"type"`
}

// Ledger is an append-only log of trades, costs and dividend payments.
// Insertion order is preserved for later read-back as a table.
type Ledger interface {
	Log(date time.Time, asset string, quantity float64, price float64, txType TransactionType)
	Records() []TransactionRecord
}

// Holdings maps the assets of a single backtest run to their quantities.
// Stock is a whole number of shares; option quantities are keyed by
// (option type, nominal tenor) and are multiples of the contract size.
type Holdings struct {
	Stock   int64               `json:"stock"`
	Options map[OptionKey]int64 `json:"options,omitempty"`
}

// Clone returns a copy of the holdings with an independent options map.
func (h Holdings) Clone() Holdings {
	out := Holdings{Stock: h.Stock}
	if h.Options != nil {
		out.Options = make(map[OptionKey]int64, len(h.Options))
		for k, v := range h.Options {
			out.Options[k] = v
		}
	}
	return out
}

// DividendEvent describes one dividend: the holdings snapshot is taken on
// the ex-date and cash is credited on the pay date.
type DividendEvent struct {
	ExDate  time.Time `json:"ex_date"`
	PayDate time.Time `json:"pay_date"`
	Amount  float64   `json:"amount"` // per share
}

// MarketDataProvider exposes the precomputed time series a backtest reads.
// All series share the canonical sorted date sequence returned by Dates.
// Price, DividendYield and InterestRate return an error when data is
// missing for a requested date: the backtest engine treats that as fatal
// rather than substituting a default. A zero implied volatility is a legal
// value meaning the surface is not yet available on that date.
type MarketDataProvider interface {
	// Dates returns the simulation clock in ascending order.
	Dates() []time.Time

	// Price returns the spot price on the given date.
	Price(date time.Time) (float64, error)

	// DividendYield returns the trailing annualized dividend yield.
	DividendYield(date time.Time) (float64, error)

	// InterestRate returns the rate for a tenor in days, interpolating
	// across the curve when the exact tenor is not quoted.
	InterestRate(date time.Time, tenorDays int) (float64, error)

	// ImpliedVol returns the implied volatility for a tenor and a strike
	// expressed as a fraction of spot.
	ImpliedVol(date time.Time, tenorDays int, strikeFraction float64) (float64, error)

	// DividendOn reports the dividend event whose ex-date falls on the
	// given date, if any.
	DividendOn(date time.Time) (DividendEvent, bool)
}

// Strategy computes a daily signal and performs the rebalancing it implies.
// Signal is a pure function of market data and strategy state; Rebalance is
// the only place holdings, cash and the ledger are mutated.
type Strategy interface {
	Name() string
	Signal(date time.Time) Signal
	Rebalance(sig Signal, date time.Time, price float64, holdings Holdings, cash float64) (Holdings, float64, float64)
}
