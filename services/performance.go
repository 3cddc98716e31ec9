package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// PerformanceReport summarizes one portfolio value series. Returns and
// volatility are annualized on a 365 calendar-day basis; excess figures are
// measured against the overnight deposit rate.
type PerformanceReport struct {
	Strategy             string    `json:"strategy"`
	TerminalValue        float64   `json:"terminal_value"`
	CumulativeReturn     float64   `json:"cumulative_return"`
	AnnualizedReturn     float64   `json:"annualized_return"`
	AnnualizedVolatility float64   `json:"annualized_volatility"`
	ExcessReturn         float64   `json:"excess_return"`
	SharpeRatio          float64   `json:"sharpe_ratio"`
	MaxDrawdown          float64   `json:"max_drawdown"`
	MaxDrawdownDate      time.Time `json:"max_drawdown_date"`
	QuantileLoss         float64   `json:"quantile_loss_5pct"`
}

// Fields renders the report for structured logging.
func (r PerformanceReport) Fields() logrus.Fields {
	return logrus.Fields{
		"strategy":          r.Strategy,
		"terminal_value":    fmt.Sprintf("%.2f", r.TerminalValue),
		"cumulative_return": fmt.Sprintf("%.4f", r.CumulativeReturn),
		"annualized_return": fmt.Sprintf("%.4f", r.AnnualizedReturn),
		"annualized_vol":    fmt.Sprintf("%.4f", r.AnnualizedVolatility),
		"excess_return":     fmt.Sprintf("%.4f", r.ExcessReturn),
		"sharpe":            fmt.Sprintf("%.4f", r.SharpeRatio),
		"max_drawdown":      fmt.Sprintf("%.4f", r.MaxDrawdown),
		"max_drawdown_date": r.MaxDrawdownDate.Format(dateFormat),
		"quantile_loss_5pct": fmt.Sprintf("%.4f", r.QuantileLoss),
	}
}

// ComputePerformance derives the report from a value series. The overnight
// rate series from the provider is used as the risk-free benchmark for the
// excess return and the Sharpe ratio.
func ComputePerformance(strategy string, series PortfolioSeries, data interfaces.MarketDataProvider) (PerformanceReport, error) {
	if len(series) < 2 {
		return PerformanceReport{}, errors.New("performance: need at least two portfolio values")
	}
	first, last := series[0], series[len(series)-1]
	if first.Value <= 0 {
		return PerformanceReport{}, errors.New("performance: initial portfolio value must be positive")
	}

	report := PerformanceReport{
		Strategy:         strategy,
		TerminalValue:    last.Value,
		CumulativeReturn: last.Value/first.Value - 1,
	}

	elapsedDays := last.Date.Sub(first.Date).Hours() / 24
	if elapsedDays > 0 {
		report.AnnualizedReturn = math.Pow(last.Value/first.Value, 365.0/elapsedDays) - 1
	}

	returns := make([]float64, 0, len(series)-1)
	excess := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1].Value == 0 {
			return PerformanceReport{}, fmt.Errorf("performance: zero portfolio value on %s", series[i-1].Date.Format(dateFormat))
		}
		ret := series[i].Value/series[i-1].Value - 1
		returns = append(returns, ret)

		overnight, err := data.InterestRate(series[i].Date, 1)
		if err != nil {
			return PerformanceReport{}, fmt.Errorf("performance: %w", err)
		}
		excess = append(excess, ret-(dailyGrowth(overnight)-1))
	}

	report.AnnualizedVolatility = sampleStd(returns) * math.Sqrt(365)
	report.ExcessReturn = meanFloat(excess) * 365
	if sd := sampleStd(excess); sd > 0 {
		report.SharpeRatio = meanFloat(excess) / sd * math.Sqrt(365)
	}

	report.MaxDrawdown, report.MaxDrawdownDate = maxDrawdown(series)
	report.QuantileLoss = quantile(returns, 0.05)
	return report, nil
}

// maxDrawdown returns the deepest peak-to-trough loss and the date of the
// trough.
func maxDrawdown(series PortfolioSeries) (float64, time.Time) {
	peak := series[0].Value
	worst := 0.0
	worstDate := series[0].Date
	for _, p := range series {
		if p.Value > peak {
			peak = p.Value
		}
		dd := p.Value/peak - 1
		if dd < worst {
			worst = dd
			worstDate = p.Date
		}
	}
	return worst, worstDate
}

// quantile computes the q-th quantile with linear interpolation between
// order statistics.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func meanFloat(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the standard deviation with one delta degree of freedom.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := meanFloat(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
