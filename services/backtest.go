package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// PortfolioPoint is the marked value of the portfolio at one close.
type PortfolioPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// PortfolioSeries is the daily portfolio value path of one backtest run,
// one point per simulation date in ascending order.
type PortfolioSeries []PortfolioPoint

// Values returns just the value column of the series.
func (s PortfolioSeries) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// pendingDividend is a dividend announced on its ex-date and waiting for
// its pay date. The share count is frozen at the ex-date.
type pendingDividend struct {
	shares int64
	amount float64 // per share
}

// BacktestEngine replays one strategy over the provider's full date range:
// every day it fetches the price, asks the strategy for a signal, lets the
// strategy rebalance, settles dividends, accrues overnight interest on cash
// and records the marked portfolio value.
type BacktestEngine struct {
	data     interfaces.MarketDataProvider
	strategy interfaces.Strategy
	ledger   interfaces.Ledger
	logger   *logrus.Logger

	stock           string
	startingBalance float64

	series   PortfolioSeries
	holdings interfaces.Holdings
	cash     float64
}

// NewBacktestEngine creates an engine for one strategy run.
func NewBacktestEngine(data interfaces.MarketDataProvider, strategy interfaces.Strategy, ledger interfaces.Ledger, stock string, startingBalance float64) (*BacktestEngine, error) {
	if startingBalance <= 0 {
		return nil, errors.New("backtest: starting balance must be positive")
	}
	if len(data.Dates()) == 0 {
		return nil, errors.New("backtest: market data has no dates")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &BacktestEngine{
		data:            data,
		strategy:        strategy,
		ledger:          ledger,
		logger:          logger,
		stock:           stock,
		startingBalance: startingBalance,
	}, nil
}

// Run executes the full simulation. Missing prices or rates are fatal: the
// run stops with an error naming the date rather than guessing a value.
func (e *BacktestEngine) Run() error {
	dates := e.data.Dates()
	e.cash = e.startingBalance
	e.holdings = interfaces.Holdings{}
	e.series = make(PortfolioSeries, 0, len(dates))
	pending := make(map[time.Time]pendingDividend)

	e.logger.WithFields(logrus.Fields{
		"strategy": e.strategy.Name(),
		"start":    dates[0].Format(dateFormat),
		"end":      dates[len(dates)-1].Format(dateFormat),
		"balance":  e.startingBalance,
	}).Info("Starting backtest")

	for _, date := range dates {
		price, err := e.data.Price(date)
		if err != nil {
			return fmt.Errorf("backtest stopped on %s: %w", date.Format(dateFormat), err)
		}

		sig := e.strategy.Signal(date)
		holdings, portfolioValue, cash := e.strategy.Rebalance(sig, date, price, e.holdings, e.cash)
		e.holdings = holdings

		// The strategy marks everything but cash; split that part out so
		// dividend and interest postings flow through to today's value.
		nonCash := portfolioValue - cash

		if div, ok := pending[date]; ok {
			delete(pending, date)
			payout := float64(div.shares) * div.amount
			cash += payout
			if payout > 0 {
				e.ledger.Log(date, e.stock, float64(div.shares), div.amount, interfaces.TransactionDividend)
			}
		}
		if ev, ok := e.data.DividendOn(date); ok {
			pending[ev.PayDate] = pendingDividend{shares: e.holdings.Stock, amount: ev.Amount}
		}

		overnight, err := e.data.InterestRate(date, 1)
		if err != nil {
			return fmt.Errorf("backtest stopped on %s: %w", date.Format(dateFormat), err)
		}
		cash *= dailyGrowth(overnight)

		e.cash = cash
		e.series = append(e.series, PortfolioPoint{Date: date, Value: nonCash + cash})
	}

	e.logger.WithFields(logrus.Fields{
		"strategy": e.strategy.Name(),
		"final":    e.series[len(e.series)-1].Value,
	}).Info("Backtest finished")
	return nil
}

// dailyGrowth converts an annualized overnight rate into one calendar day
// of compounding.
func dailyGrowth(annualRate float64) float64 {
	return math.Pow(1+annualRate, 1.0/365.0)
}

// Series returns the portfolio value path recorded by the last Run.
func (e *BacktestEngine) Series() PortfolioSeries {
	return e.series
}

// FinalHoldings returns the holdings at the end of the last Run.
func (e *BacktestEngine) FinalHoldings() interfaces.Holdings {
	return e.holdings.Clone()
}

// FinalCash returns the cash balance at the end of the last Run.
func (e *BacktestEngine) FinalCash() float64 {
	return e.cash
}
