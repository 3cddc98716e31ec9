package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collar-backtest/interfaces"
	"collar-backtest/models"
	"collar-backtest/services"
)

// LocalStorage persists backtest results to SQLite
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage opens (creating if needed) the results database
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Auto-migrate schemas
	if err := db.AutoMigrate(
		&models.DBBacktestRun{},
		&models.DBTransaction{},
		&models.DBPortfolioValue{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: logger,
	}, nil
}

// SaveRun stores a run header with its performance summary and returns the
// run ID the ledger and value series are keyed by
func (s *LocalStorage) SaveRun(stock string, startingBalance float64, start, end time.Time, report services.PerformanceReport) (uint, error) {
	run := &models.DBBacktestRun{
		Stock:                stock,
		StrategyName:         report.Strategy,
		StartDate:            start,
		EndDate:              end,
		StartingBalance:      startingBalance,
		TerminalValue:        report.TerminalValue,
		CumulativeReturn:     report.CumulativeReturn,
		AnnualizedReturn:     report.AnnualizedReturn,
		AnnualizedVolatility: report.AnnualizedVolatility,
		ExcessReturn:         report.ExcessReturn,
		SharpeRatio:          report.SharpeRatio,
		MaxDrawdown:          report.MaxDrawdown,
		MaxDrawdownDate:      report.MaxDrawdownDate,
		QuantileLoss:         report.QuantileLoss,
	}

	result := s.db.Create(run)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to save run: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"run":      run.ID,
		"strategy": report.Strategy,
	}).Info("Backtest run saved")
	return run.ID, nil
}

// SaveTransactions stores the full ledger of a run
func (s *LocalStorage) SaveTransactions(runID uint, records []interfaces.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}

	dbRecords := make([]*models.DBTransaction, len(records))
	for i, r := range records {
		dbRecords[i] = &models.DBTransaction{
			RunID:    runID,
			Sequence: i,
			Date:     r.Date,
			Asset:    r.Asset,
			Quantity: r.Quantity,
			Price:    r.Price,
			Type:     string(r.Type),
		}
	}

	result := s.db.Create(&dbRecords)
	if result.Error != nil {
		return fmt.Errorf("failed to save transactions: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"run":   runID,
		"saved": result.RowsAffected,
	}).Info("Transactions saved")
	return nil
}

// SavePortfolioValues stores the daily value series of a run
func (s *LocalStorage) SavePortfolioValues(runID uint, series services.PortfolioSeries) error {
	if len(series) == 0 {
		return nil
	}

	dbValues := make([]*models.DBPortfolioValue, len(series))
	for i, p := range series {
		dbValues[i] = &models.DBPortfolioValue{
			RunID: runID,
			Date:  p.Date,
			Value: p.Value,
		}
	}

	result := s.db.Create(&dbValues)
	if result.Error != nil {
		return fmt.Errorf("failed to save portfolio values: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"run":   runID,
		"saved": result.RowsAffected,
	}).Info("Portfolio values saved")
	return nil
}

// GetRuns retrieves run headers, optionally filtered by strategy name
func (s *LocalStorage) GetRuns(strategyName string) ([]*models.DBBacktestRun, error) {
	var runs []*models.DBBacktestRun

	query := s.db.Model(&models.DBBacktestRun{})
	if strategyName != "" {
		query = query.Where("strategy_name = ?", strategyName)
	}

	result := query.Order("created_at DESC").Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get runs: %w", result.Error)
	}

	return runs, nil
}

// GetRun retrieves one run header by ID
func (s *LocalStorage) GetRun(runID uint) (*models.DBBacktestRun, error) {
	var run models.DBBacktestRun

	result := s.db.First(&run, runID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get run: %w", result.Error)
	}

	return &run, nil
}

// GetTransactions retrieves the ledger of a run in insertion order
func (s *LocalStorage) GetTransactions(runID uint) ([]*models.DBTransaction, error) {
	var records []*models.DBTransaction

	result := s.db.Where("run_id = ?", runID).
		Order("sequence ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", result.Error)
	}

	return records, nil
}

// GetPortfolioValues retrieves the value series of a run in date order
func (s *LocalStorage) GetPortfolioValues(runID uint) ([]*models.DBPortfolioValue, error) {
	var values []*models.DBPortfolioValue

	result := s.db.Where("run_id = ?", runID).
		Order("date ASC").
		Find(&values)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get portfolio values: %w", result.Error)
	}

	return values, nil
}

// Close closes the database connection
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
