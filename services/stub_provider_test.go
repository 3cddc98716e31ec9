package services

import (
	"fmt"
	"time"

	"collar-backtest/interfaces"
)

// stubProvider is a hand-filled market data provider for strategy and
// engine tests. Rates and vols are flat across tenors and strikes; any
// date absent from a map is treated as missing data.
type stubProvider struct {
	dates  []time.Time
	prices map[time.Time]float64
	yields map[time.Time]float64
	rates  map[time.Time]float64
	vols   map[time.Time]float64
	divs   map[time.Time]interfaces.DividendEvent
}

func newStubProvider(start time.Time, prices []float64) *stubProvider {
	s := &stubProvider{
		prices: make(map[time.Time]float64),
		yields: make(map[time.Time]float64),
		rates:  make(map[time.Time]float64),
		vols:   make(map[time.Time]float64),
		divs:   make(map[time.Time]interfaces.DividendEvent),
	}
	for i, p := range prices {
		day := start.AddDate(0, 0, i)
		s.dates = append(s.dates, day)
		s.prices[day] = p
		s.yields[day] = 0
		s.rates[day] = 0
		s.vols[day] = 0
	}
	return s
}

func (s *stubProvider) setAllVols(vol float64) *stubProvider {
	for _, day := range s.dates {
		s.vols[day] = vol
	}
	return s
}

func (s *stubProvider) setAllRates(rate float64) *stubProvider {
	for _, day := range s.dates {
		s.rates[day] = rate
	}
	return s
}

func (s *stubProvider) Dates() []time.Time { return s.dates }

func (s *stubProvider) Price(date time.Time) (float64, error) {
	p, ok := s.prices[date]
	if !ok {
		return 0, fmt.Errorf("price: %w: %s", ErrMissingData, date.Format(dateFormat))
	}
	return p, nil
}

func (s *stubProvider) DividendYield(date time.Time) (float64, error) {
	y, ok := s.yields[date]
	if !ok {
		return 0, fmt.Errorf("dividend yield: %w: %s", ErrMissingData, date.Format(dateFormat))
	}
	return y, nil
}

func (s *stubProvider) InterestRate(date time.Time, tenorDays int) (float64, error) {
	r, ok := s.rates[date]
	if !ok {
		return 0, fmt.Errorf("interest rate: %w: %s", ErrMissingData, date.Format(dateFormat))
	}
	return r, nil
}

func (s *stubProvider) ImpliedVol(date time.Time, tenorDays int, strikeFraction float64) (float64, error) {
	v, ok := s.vols[date]
	if !ok {
		return 0, fmt.Errorf("implied vol: %w: %s", ErrMissingData, date.Format(dateFormat))
	}
	return v, nil
}

func (s *stubProvider) DividendOn(date time.Time) (interfaces.DividendEvent, bool) {
	ev, ok := s.divs[date]
	return ev, ok
}
