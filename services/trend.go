package services

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// TrendStrategy trades a simple moving-average crossover: when the short
// SMA crosses above the long SMA all cash goes into the stock, and when it
// crosses back below the whole position is liquidated. Only the crossing
// day trades; days where the ordering merely persists are holds.
type TrendStrategy struct {
	ledger       interfaces.Ledger
	stock        string
	shortAverage int
	longAverage  int
	stockCost    float64
	logger       *logrus.Logger

	dates  []time.Time
	prices []float64
	index  map[time.Time]int
}

var _ interfaces.Strategy = (*TrendStrategy)(nil)

// NewTrendStrategy creates a trend strategy and snapshots the price series
// it computes averages over.
func NewTrendStrategy(data interfaces.MarketDataProvider, ledger interfaces.Ledger, stock string, shortAverage, longAverage int, stockCost float64) (*TrendStrategy, error) {
	if shortAverage <= 0 || longAverage <= shortAverage {
		return nil, fmt.Errorf("trend windows must satisfy 0 < short (%d) < long (%d)", shortAverage, longAverage)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	s := &TrendStrategy{
		ledger:       ledger,
		stock:        stock,
		shortAverage: shortAverage,
		longAverage:  longAverage,
		stockCost:    stockCost,
		logger:       logger,
		index:        make(map[time.Time]int),
	}
	for _, date := range data.Dates() {
		price, err := data.Price(date)
		if err != nil {
			return nil, fmt.Errorf("trend strategy needs a full price history: %w", err)
		}
		s.index[date] = len(s.dates)
		s.dates = append(s.dates, date)
		s.prices = append(s.prices, price)
	}
	return s, nil
}

// Name returns the strategy name.
func (s *TrendStrategy) Name() string { return "Trend" }

// Signal compares the short and long SMA ordering for today against
// yesterday and fires only on the day the ordering flips. While the price
// history is shorter than the long window it returns a neutral signal with
// an advisory notice.
func (s *TrendStrategy) Signal(date time.Time) interfaces.Signal {
	idx, ok := s.index[date]
	if !ok || idx+1 <= s.longAverage+1 {
		s.logger.WithField("date", date.Format(dateFormat)).Warn("Not enough history to generate trend signal")
		return interfaces.SignalHold
	}

	current := s.smaOrdering(idx)
	previous := s.smaOrdering(idx - 1)
	if current == previous {
		return interfaces.SignalHold
	}
	return current
}

// smaOrdering reports which average is on top for the windows ending the
// day before index idx (the current date is excluded from both windows).
func (s *TrendStrategy) smaOrdering(idx int) interfaces.Signal {
	shortSMA := mean(s.prices[idx-s.shortAverage : idx])
	longSMA := mean(s.prices[idx-s.longAverage : idx])
	if shortSMA > longSMA {
		return interfaces.SignalBuy
	}
	return interfaces.SignalSell
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Rebalance invests all cash on a buy cross and liquidates the whole stock
// position on a sell cross; a neutral signal trades nothing.
func (s *TrendStrategy) Rebalance(sig interfaces.Signal, date time.Time, price float64, holdings interfaces.Holdings, cash float64) (interfaces.Holdings, float64, float64) {
	switch sig {
	case interfaces.SignalBuy:
		purchase := int64(cash / (price + s.stockCost))
		if purchase < 0 {
			purchase = 0
		}
		holdings.Stock = purchase
		cash -= float64(purchase) * (price + s.stockCost)
		s.ledger.Log(date, s.stock, float64(purchase), price, interfaces.TransactionBuy)
		s.ledger.Log(date, s.stock, float64(purchase), s.stockCost, interfaces.TransactionCosts)

	case interfaces.SignalSell:
		cash += float64(holdings.Stock) * (price - s.stockCost)
		if holdings.Stock > 0 {
			s.ledger.Log(date, s.stock, float64(holdings.Stock), price, interfaces.TransactionSell)
			s.ledger.Log(date, s.stock, float64(holdings.Stock), s.stockCost, interfaces.TransactionCosts)
		}
		holdings.Stock = 0
	}

	portfolioValue := float64(holdings.Stock)*price + cash
	return holdings, portfolioValue, cash
}
