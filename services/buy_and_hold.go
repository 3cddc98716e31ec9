package services

import (
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// BuyAndHoldStrategy puts all available cash into the stock and never
// sells. It exists as the benchmark the trend and collar strategies are
// compared against.
type BuyAndHoldStrategy struct {
	ledger    interfaces.Ledger
	stock     string
	stockCost float64 // flat cost per share traded
	logger    *logrus.Logger
}

var _ interfaces.Strategy = (*BuyAndHoldStrategy)(nil)

// NewBuyAndHoldStrategy creates the benchmark strategy.
func NewBuyAndHoldStrategy(ledger interfaces.Ledger, stock string, stockCost float64) *BuyAndHoldStrategy {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &BuyAndHoldStrategy{
		ledger:    ledger,
		stock:     stock,
		stockCost: stockCost,
		logger:    logger,
	}
}

// Name returns the strategy name.
func (s *BuyAndHoldStrategy) Name() string { return "Buy_And_Hold" }

// Signal always asks to invest; rebalancing decides whether any whole share
// is actually affordable.
func (s *BuyAndHoldStrategy) Signal(date time.Time) interfaces.Signal {
	return interfaces.SignalBuy
}

// Rebalance spends all available cash on whole shares net of the flat
// transaction cost and logs the purchase when any shares were bought.
func (s *BuyAndHoldStrategy) Rebalance(sig interfaces.Signal, date time.Time, price float64, holdings interfaces.Holdings, cash float64) (interfaces.Holdings, float64, float64) {
	purchase := int64(cash / (price + s.stockCost))
	if purchase < 0 {
		purchase = 0
	}

	holdings.Stock += purchase
	cash -= float64(purchase) * (price + s.stockCost)

	if purchase > 0 {
		s.ledger.Log(date, s.stock, float64(purchase), price, interfaces.TransactionBuy)
		s.ledger.Log(date, s.stock, float64(purchase), s.stockCost, interfaces.TransactionCosts)
	}

	portfolioValue := float64(holdings.Stock)*price + cash
	return holdings, portfolioValue, cash
}
