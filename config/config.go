package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Known strategy names.
const (
	StrategyBuyAndHold = "Buy_And_Hold"
	StrategyTrend      = "Trend"
	StrategyCollar     = "Collar"
)

// Config centralizes every parameter of a backtest run. It is loaded once at
// startup and validated before any data is read.
type Config struct {
	StockName       string   `yaml:"stock_name"`
	StartingBalance float64  `yaml:"starting_balance"`
	StrategyNames   []string `yaml:"strategy_names"`

	TransactionCosts TransactionCosts `yaml:"transaction_costs"`
	Trend            TrendConfig      `yaml:"trend"`
	Collar           CollarConfig     `yaml:"collar"`
	Data             DataConfig       `yaml:"data"`
	Database         DatabaseConfig   `yaml:"database"`
	Server           ServerConfig     `yaml:"server"`
	Output           OutputConfig     `yaml:"output"`
}

// TransactionCosts are flat costs per unit traded, by asset.
type TransactionCosts struct {
	Stock float64 `yaml:"stock"`
	Call  float64 `yaml:"call"`
	Put   float64 `yaml:"put"`
}

// TrendConfig holds the moving-average window lengths in trading days.
type TrendConfig struct {
	ShortAverage int `yaml:"short_average"`
	LongAverage  int `yaml:"long_average"`
}

// CollarConfig holds the collar strategy parameters. Strikes are fractions
// of spot at entry; maturities are nominal tenors in days.
type CollarConfig struct {
	CallStrike        float64 `yaml:"call_strike"`
	CallMaturity      []int   `yaml:"call_maturity"`
	PutStrike         float64 `yaml:"put_strike"`
	PutMaturity       []int   `yaml:"put_maturity"`
	ContractSize      int64   `yaml:"contract_size"`
	CashBufferPercent float64 `yaml:"cash_buffer_percent"`
}

// DataConfig names the CSV inputs and the tenors derived by interpolation.
type DataConfig struct {
	PricesFile    string         `yaml:"prices_file"`
	DividendsFile string         `yaml:"dividends_file"`
	RatesFile     string         `yaml:"rates_file"`
	VolFiles      map[int]string `yaml:"vol_files"`

	// InterpolateMaturity is a vol tenor to synthesize from the quoted
	// surfaces; InterpolateInterestRate a rate tenor to synthesize from
	// the quoted curve. Zero disables.
	InterpolateMaturity     int `yaml:"interpolate_maturity"`
	InterpolateInterestRate int `yaml:"interpolate_interest_rate"`
}

// DatabaseConfig locates the SQLite results database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the optional results API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Mode    string `yaml:"mode"` // gin mode: debug, release, test
}

// OutputConfig controls file exports of run results.
type OutputConfig struct {
	LedgerCSVDirectory string `yaml:"ledger_csv_directory"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable configurations before any simulation starts.
func (c *Config) Validate() error {
	if c.StockName == "" {
		return fmt.Errorf("config: stock_name is required")
	}
	if c.StartingBalance <= 0 {
		return fmt.Errorf("config: starting_balance must be positive, got %g", c.StartingBalance)
	}
	if len(c.StrategyNames) == 0 {
		return fmt.Errorf("config: strategy_names must name at least one strategy")
	}
	for _, name := range c.StrategyNames {
		switch name {
		case StrategyBuyAndHold:
		case StrategyTrend:
			if c.Trend.ShortAverage <= 0 || c.Trend.LongAverage <= c.Trend.ShortAverage {
				return fmt.Errorf("config: trend windows must satisfy 0 < short_average (%d) < long_average (%d)",
					c.Trend.ShortAverage, c.Trend.LongAverage)
			}
		case StrategyCollar:
			if err := c.validateCollar(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("config: unknown strategy %q", name)
		}
	}
	if c.TransactionCosts.Stock < 0 || c.TransactionCosts.Call < 0 || c.TransactionCosts.Put < 0 {
		return fmt.Errorf("config: transaction costs must not be negative")
	}
	if c.Data.PricesFile == "" {
		return fmt.Errorf("config: data.prices_file is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port %d is out of range", c.Server.Port)
	}
	return nil
}

func (c *Config) validateCollar() error {
	if c.Collar.CallStrike <= 0 || c.Collar.PutStrike <= 0 {
		return fmt.Errorf("config: collar strikes must be positive spot fractions")
	}
	if len(c.Collar.CallMaturity) == 0 || len(c.Collar.PutMaturity) == 0 {
		return fmt.Errorf("config: collar needs at least one call and one put maturity")
	}
	for _, tenors := range [][]int{c.Collar.CallMaturity, c.Collar.PutMaturity} {
		if !sort.IntsAreSorted(tenors) {
			return fmt.Errorf("config: collar maturities must be ascending")
		}
		for _, t := range tenors {
			if t <= 0 {
				return fmt.Errorf("config: collar maturities must be positive day counts")
			}
			if _, ok := c.Data.VolFiles[t]; !ok && t != c.Data.InterpolateMaturity {
				return fmt.Errorf("config: no vol surface available for %d day maturity", t)
			}
		}
	}
	if c.Collar.ContractSize <= 0 {
		return fmt.Errorf("config: collar contract_size must be positive")
	}
	if c.Collar.CashBufferPercent < 0 || c.Collar.CashBufferPercent >= 1 {
		return fmt.Errorf("config: collar cash_buffer_percent must be in [0, 1)")
	}
	return nil
}
