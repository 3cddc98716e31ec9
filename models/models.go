package models

import (
	"time"

	"gorm.io/gorm"
)

// DBBacktestRun represents one completed strategy simulation
type DBBacktestRun struct {
	gorm.Model
	Stock           string    `gorm:"index"`
	StrategyName    string    `gorm:"index"`
	StartDate       time.Time
	EndDate         time.Time
	StartingBalance float64
	TerminalValue   float64
	// Performance summary
	CumulativeReturn     float64
	AnnualizedReturn     float64
	AnnualizedVolatility float64
	ExcessReturn         float64
	SharpeRatio          float64
	MaxDrawdown          float64
	MaxDrawdownDate      time.Time
	QuantileLoss         float64
}

// DBTransaction represents one ledger row of a run
type DBTransaction struct {
	gorm.Model
	RunID    uint      `gorm:"index"`
	Sequence int       // insertion order within the run
	Date     time.Time
	Asset    string    `gorm:"index"`
	Quantity float64
	Price    float64
	Type     string
}

// DBPortfolioValue represents the marked portfolio value at one close
type DBPortfolioValue struct {
	gorm.Model
	RunID uint      `gorm:"index:idx_run_date"`
	Date  time.Time `gorm:"index:idx_run_date"`
	Value float64
}

// TableName overrides for cleaner table names
func (DBBacktestRun) TableName() string {
	return "backtest_runs"
}

func (DBTransaction) TableName() string {
	return "transactions"
}

func (DBPortfolioValue) TableName() string {
	return "portfolio_values"
}
