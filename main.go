package main

import (
	"fmt"
	"os"
	"path/filepath"

	arg "github.com/alexflint/go-arg"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"collar-backtest/config"
	"collar-backtest/controllers"
	"collar-backtest/database"
	"collar-backtest/interfaces"
	"collar-backtest/services"
)

var args struct {
	Config  string `arg:"-c,--config" default:"config.yaml" help:"path to the YAML configuration"`
	Verbose bool   `arg:"-v,--verbose" help:"echo every ledger record while running"`
	Serve   bool   `arg:"--serve" help:"serve results over HTTP after the runs finish"`
}

func main() {
	arg.MustParse(&args)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Optional .env for local overrides such as the database path.
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env")
	}

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Backtest failed")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load(args.Config)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if env := os.Getenv("BACKTEST_DB_PATH"); env != "" {
		dbPath = env
	}

	data, err := services.NewMarketDataService(services.MarketDataFiles{
		Prices:               cfg.Data.PricesFile,
		Dividends:            cfg.Data.DividendsFile,
		Rates:                cfg.Data.RatesFile,
		Vols:                 cfg.Data.VolFiles,
		InterpolateVolTenor:  cfg.Data.InterpolateMaturity,
		InterpolateRateTenor: cfg.Data.InterpolateInterestRate,
	})
	if err != nil {
		return err
	}

	storage, err := database.NewLocalStorage(dbPath)
	if err != nil {
		return err
	}
	defer storage.Close()

	dates := data.Dates()
	for _, name := range cfg.StrategyNames {
		ledger := services.NewTransactionLedger()
		if args.Verbose {
			ledger.SetLogLevel(logrus.DebugLevel)
		}

		strat, err := buildStrategy(name, cfg, data, ledger)
		if err != nil {
			return err
		}

		engine, err := services.NewBacktestEngine(data, strat, ledger, cfg.StockName, cfg.StartingBalance)
		if err != nil {
			return err
		}
		if err := engine.Run(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		report, err := services.ComputePerformance(name, engine.Series(), data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.WithFields(report.Fields()).Info("Performance summary")

		runID, err := storage.SaveRun(cfg.StockName, cfg.StartingBalance, dates[0], dates[len(dates)-1], report)
		if err != nil {
			return err
		}
		if err := storage.SaveTransactions(runID, ledger.Records()); err != nil {
			return err
		}
		if err := storage.SavePortfolioValues(runID, engine.Series()); err != nil {
			return err
		}

		if dir := cfg.Output.LedgerCSVDirectory; dir != "" {
			if err := exportLedgerCSV(dir, name, runID, ledger); err != nil {
				return err
			}
		}
	}

	if cfg.Server.Enabled || args.Serve {
		return serve(cfg, storage, logger)
	}
	return nil
}

func buildStrategy(name string, cfg *config.Config, data interfaces.MarketDataProvider, ledger interfaces.Ledger) (interfaces.Strategy, error) {
	switch name {
	case config.StrategyBuyAndHold:
		return services.NewBuyAndHoldStrategy(ledger, cfg.StockName, cfg.TransactionCosts.Stock), nil

	case config.StrategyTrend:
		return services.NewTrendStrategy(data, ledger, cfg.StockName,
			cfg.Trend.ShortAverage, cfg.Trend.LongAverage, cfg.TransactionCosts.Stock)

	case config.StrategyCollar:
		return services.NewCollarStrategy(data, ledger, services.CollarConfig{
			Stock:             cfg.StockName,
			CallStrike:        cfg.Collar.CallStrike,
			PutStrike:         cfg.Collar.PutStrike,
			CallTenors:        cfg.Collar.CallMaturity,
			PutTenors:         cfg.Collar.PutMaturity,
			ContractSize:      cfg.Collar.ContractSize,
			CashBufferPercent: cfg.Collar.CashBufferPercent,
			StockCost:         cfg.TransactionCosts.Stock,
			CallCost:          cfg.TransactionCosts.Call,
			PutCost:           cfg.TransactionCosts.Put,
		})

	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func exportLedgerCSV(dir, strategy string, runID uint, ledger *services.TransactionLedger) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_run%d_transactions.csv", strategy, runID))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create ledger export: %w", err)
	}
	defer f.Close()
	return ledger.WriteCSV(f)
}

func serve(cfg *config.Config, storage *database.LocalStorage, logger *logrus.Logger) error {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	bc := controllers.NewBacktestController(storage)

	router := gin.Default()
	api := router.Group("/api/v1")
	{
		api.GET("/runs", bc.HandleListRuns)
		api.GET("/runs/:id", bc.HandleGetRun)
		api.GET("/runs/:id/transactions", bc.HandleGetTransactions)
		api.GET("/runs/:id/values", bc.HandleGetPortfolioValues)
	}

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	logger.WithField("port", port).Info("Serving backtest results")
	return router.Run(fmt.Sprintf(":%d", port))
}
