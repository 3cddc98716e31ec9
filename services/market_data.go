package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// ErrMissingData is returned when a series has no value for a requested
// date. The backtest engine treats it as fatal; fabricating values is not
// the provider's job.
var ErrMissingData = errors.New("market data missing")

const dateFormat = "2006-01-02"

// MarketDataFiles names the CSV inputs of one backtest data set.
//
// Prices: Date,Price,DivYield columns, yield in percent.
// Dividends: ExDate,PayDate,Amount rows, one per dividend event.
// Rates: Date column followed by one column per tenor in days, in percent.
// Vols: one file per tenor; Date column followed by one column per strike
// expressed as a fraction of spot, in percent.
type MarketDataFiles struct {
	Prices    string
	Dividends string
	Rates     string
	Vols      map[int]string

	// InterpolateVolTenor and InterpolateRateTenor name additional tenors
	// synthesized by linear interpolation across the loaded curve, so
	// strategies can query maturities the source data does not quote.
	InterpolateVolTenor  int
	InterpolateRateTenor int
}

type volSurface struct {
	strikes []float64
	values  [][]float64 // [date index][strike index]
}

// MarketDataService is the in-memory MarketDataProvider used by backtests.
// All series are reindexed onto the price calendar at load time: vol
// surfaces are zero-filled where the source has no data (zero vol means
// "not yet available" downstream), while missing prices or rates surface
// as errors on access.
type MarketDataService struct {
	logger *logrus.Logger

	dates  []time.Time
	index  map[time.Time]int
	prices []float64
	yields []float64

	dividends map[time.Time]interfaces.DividendEvent // keyed by ex-date

	rateTenors []int
	rates      map[int][]float64

	vols map[int]*volSurface
}

var _ interfaces.MarketDataProvider = (*MarketDataService)(nil)

// NewMarketDataService loads and aligns all series from the given files.
func NewMarketDataService(files MarketDataFiles) (*MarketDataService, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	s := &MarketDataService{
		logger:    logger,
		index:     make(map[time.Time]int),
		dividends: make(map[time.Time]interfaces.DividendEvent),
		rates:     make(map[int][]float64),
		vols:      make(map[int]*volSurface),
	}

	if err := s.loadPrices(files.Prices); err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	if files.Dividends != "" {
		if err := s.loadDividends(files.Dividends); err != nil {
			return nil, fmt.Errorf("failed to load dividends: %w", err)
		}
	}
	if err := s.loadRates(files.Rates); err != nil {
		return nil, fmt.Errorf("failed to load rates: %w", err)
	}
	for tenor, path := range files.Vols {
		if err := s.loadVolSurface(tenor, path); err != nil {
			return nil, fmt.Errorf("failed to load %d-day vol surface: %w", tenor, err)
		}
	}

	if files.InterpolateVolTenor > 0 {
		if err := s.interpolateVolTenor(files.InterpolateVolTenor); err != nil {
			return nil, fmt.Errorf("failed to interpolate %d-day vol: %w", files.InterpolateVolTenor, err)
		}
	}
	if files.InterpolateRateTenor > 0 {
		// Materializing the tenor keeps later lookups exact, even though
		// InterestRate interpolates on the fly as well.
		s.materializeRateTenor(files.InterpolateRateTenor)
	}

	s.convertPercent()

	logger.WithFields(logrus.Fields{
		"dates":      len(s.dates),
		"rateTenors": len(s.rateTenors),
		"volTenors":  len(s.vols),
		"dividends":  len(s.dividends),
	}).Info("Market data loaded")

	return s, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}
	return rows, nil
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(dateFormat, s)
}

func (s *MarketDataService) loadPrices(path string) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	for _, row := range rows[1:] {
		if len(row) < 3 {
			return fmt.Errorf("price row needs Date,Price,DivYield: %v", row)
		}
		day, err := parseDay(row[0])
		if err != nil {
			return err
		}
		price, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return err
		}
		yield, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return err
		}
		s.index[day] = len(s.dates)
		s.dates = append(s.dates, day)
		s.prices = append(s.prices, price)
		s.yields = append(s.yields, yield)
	}
	if !sort.SliceIsSorted(s.dates, func(i, j int) bool { return s.dates[i].Before(s.dates[j]) }) {
		return errors.New("price dates are not sorted ascending")
	}
	return nil
}

func (s *MarketDataService) loadDividends(path string) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	for _, row := range rows[1:] {
		if len(row) < 3 {
			return fmt.Errorf("dividend row needs ExDate,PayDate,Amount: %v", row)
		}
		exDate, err := parseDay(row[0])
		if err != nil {
			return err
		}
		payDate, err := parseDay(row[1])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return err
		}
		s.dividends[exDate] = interfaces.DividendEvent{
			ExDate:  exDate,
			PayDate: payDate,
			Amount:  amount,
		}
	}
	return nil
}

func (s *MarketDataService) loadRates(path string) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	header := rows[0]
	tenors := make([]int, 0, len(header)-1)
	for _, col := range header[1:] {
		tenor, err := strconv.Atoi(col)
		if err != nil {
			return fmt.Errorf("rate header column %q is not a tenor in days", col)
		}
		tenors = append(tenors, tenor)
		s.rates[tenor] = make([]float64, len(s.dates))
	}

	byDate := make(map[time.Time][]float64, len(rows)-1)
	for _, row := range rows[1:] {
		day, err := parseDay(row[0])
		if err != nil {
			return err
		}
		vals := make([]float64, len(tenors))
		for i := range tenors {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		byDate[day] = vals
	}

	for di, day := range s.dates {
		vals, ok := byDate[day]
		if !ok {
			return fmt.Errorf("rate curve has no row for %s", day.Format(dateFormat))
		}
		for ti, tenor := range tenors {
			s.rates[tenor][di] = vals[ti]
		}
	}

	s.rateTenors = tenors
	sort.Ints(s.rateTenors)
	return nil
}

func (s *MarketDataService) loadVolSurface(tenor int, path string) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	header := rows[0]
	strikes := make([]float64, 0, len(header)-1)
	for _, col := range header[1:] {
		strike, err := strconv.ParseFloat(col, 64)
		if err != nil {
			return fmt.Errorf("vol header column %q is not a strike fraction", col)
		}
		strikes = append(strikes, strike)
	}

	byDate := make(map[time.Time][]float64, len(rows)-1)
	for _, row := range rows[1:] {
		day, err := parseDay(row[0])
		if err != nil {
			return err
		}
		vals := make([]float64, len(strikes))
		for i := range strikes {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		byDate[day] = vals
	}

	// Reindex onto the price calendar; dates the surface does not cover
	// (typically the first days of the backtest) become zero rows.
	values := make([][]float64, len(s.dates))
	for di, day := range s.dates {
		if vals, ok := byDate[day]; ok {
			values[di] = vals
		} else {
			values[di] = make([]float64, len(strikes))
		}
	}

	s.vols[tenor] = &volSurface{strikes: strikes, values: values}
	return nil
}

// interpolateVolTenor synthesizes a vol surface for a tenor the source data
// does not quote, interpolating linearly across maturities per strike.
func (s *MarketDataService) interpolateVolTenor(target int) error {
	if _, ok := s.vols[target]; ok {
		return nil
	}
	tenors := make([]int, 0, len(s.vols))
	for tenor := range s.vols {
		tenors = append(tenors, tenor)
	}
	if len(tenors) == 0 {
		return errors.New("no vol surfaces loaded")
	}
	sort.Ints(tenors)

	ref := s.vols[tenors[0]]
	for _, tenor := range tenors[1:] {
		surf := s.vols[tenor]
		if len(surf.strikes) != len(ref.strikes) {
			return fmt.Errorf("vol surfaces disagree on strikes (%d vs %d columns)", len(surf.strikes), len(ref.strikes))
		}
	}

	xs := make([]float64, len(tenors))
	for i, tenor := range tenors {
		xs[i] = float64(tenor)
	}

	values := make([][]float64, len(s.dates))
	ys := make([]float64, len(tenors))
	for di := range s.dates {
		row := make([]float64, len(ref.strikes))
		for si := range ref.strikes {
			for ti, tenor := range tenors {
				ys[ti] = s.vols[tenor].values[di][si]
			}
			row[si] = interpLinear(float64(target), xs, ys)
		}
		values[di] = row
	}

	strikes := make([]float64, len(ref.strikes))
	copy(strikes, ref.strikes)
	s.vols[target] = &volSurface{strikes: strikes, values: values}
	return nil
}

func (s *MarketDataService) materializeRateTenor(target int) {
	if _, ok := s.rates[target]; ok {
		return
	}
	xs := make([]float64, len(s.rateTenors))
	for i, tenor := range s.rateTenors {
		xs[i] = float64(tenor)
	}
	ys := make([]float64, len(s.rateTenors))
	vals := make([]float64, len(s.dates))
	for di := range s.dates {
		for ti, tenor := range s.rateTenors {
			ys[ti] = s.rates[tenor][di]
		}
		vals[di] = interpLinear(float64(target), xs, ys)
	}
	s.rates[target] = vals
	s.rateTenors = append(s.rateTenors, target)
	sort.Ints(s.rateTenors)
}

// convertPercent rescales yields, rates and vols from percent to decimals.
func (s *MarketDataService) convertPercent() {
	for i := range s.yields {
		s.yields[i] /= 100
	}
	for _, vals := range s.rates {
		for i := range vals {
			vals[i] /= 100
		}
	}
	for _, surf := range s.vols {
		for _, row := range surf.values {
			for i := range row {
				row[i] /= 100
			}
		}
	}
}

// interpLinear evaluates piecewise-linear interpolation of (xs, ys) at x,
// clamping to the end values outside the range. xs must be ascending.
func interpLinear(x float64, xs, ys []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Dates returns the simulation clock. The returned slice is read-only.
func (s *MarketDataService) Dates() []time.Time {
	return s.dates
}

func (s *MarketDataService) dateIndex(date time.Time) (int, error) {
	i, ok := s.index[date]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingData, date.Format(dateFormat))
	}
	return i, nil
}

// Price returns the spot price on the given date.
func (s *MarketDataService) Price(date time.Time) (float64, error) {
	i, err := s.dateIndex(date)
	if err != nil {
		return 0, fmt.Errorf("price: %w", err)
	}
	return s.prices[i], nil
}

// DividendYield returns the trailing annualized dividend yield as a decimal.
func (s *MarketDataService) DividendYield(date time.Time) (float64, error) {
	i, err := s.dateIndex(date)
	if err != nil {
		return 0, fmt.Errorf("dividend yield: %w", err)
	}
	return s.yields[i], nil
}

// InterestRate returns the rate for a tenor in days, interpolating across
// the loaded curve when the exact tenor is not quoted.
func (s *MarketDataService) InterestRate(date time.Time, tenorDays int) (float64, error) {
	i, err := s.dateIndex(date)
	if err != nil {
		return 0, fmt.Errorf("interest rate: %w", err)
	}
	if vals, ok := s.rates[tenorDays]; ok {
		return vals[i], nil
	}
	if len(s.rateTenors) == 0 {
		return 0, fmt.Errorf("interest rate: %w: no curve loaded", ErrMissingData)
	}
	xs := make([]float64, len(s.rateTenors))
	ys := make([]float64, len(s.rateTenors))
	for ti, tenor := range s.rateTenors {
		xs[ti] = float64(tenor)
		ys[ti] = s.rates[tenor][i]
	}
	return interpLinear(float64(tenorDays), xs, ys), nil
}

// ImpliedVol returns the implied volatility for a tenor and strike fraction.
// Zero means the surface has no data yet for that date.
func (s *MarketDataService) ImpliedVol(date time.Time, tenorDays int, strikeFraction float64) (float64, error) {
	i, err := s.dateIndex(date)
	if err != nil {
		return 0, fmt.Errorf("implied vol: %w", err)
	}
	surf, ok := s.vols[tenorDays]
	if !ok {
		return 0, fmt.Errorf("implied vol: %w: no %d-day surface", ErrMissingData, tenorDays)
	}
	for si, strike := range surf.strikes {
		if math.Abs(strike-strikeFraction) < 1e-9 {
			return surf.values[i][si], nil
		}
	}
	return 0, fmt.Errorf("implied vol: %w: no %.2f strike on %d-day surface", ErrMissingData, strikeFraction, tenorDays)
}

// DividendOn reports the dividend whose ex-date is the given date.
func (s *MarketDataService) DividendOn(date time.Time) (interfaces.DividendEvent, bool) {
	ev, ok := s.dividends[date]
	return ev, ok
}
