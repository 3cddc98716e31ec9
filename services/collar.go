package services

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"collar-backtest/interfaces"
)

// CollarConfig holds the parameters of the collar strategy: short calls and
// long puts laddered across maturities against a stock position.
type CollarConfig struct {
	Stock string

	// Strikes as fractions of spot at entry (moneyness).
	CallStrike float64
	PutStrike  float64

	// Nominal tenors in days, ascending, one ladder rung each.
	CallTenors []int
	PutTenors  []int

	// ContractSize is the smallest tradable option quantity.
	ContractSize int64

	// CashBufferPercent of capital stays in cash to absorb roll costs.
	CashBufferPercent float64

	// Flat transaction costs per share / per contract unit.
	StockCost float64
	CallCost  float64
	PutCost   float64
}

func (c CollarConfig) validate() error {
	if c.Stock == "" {
		return errors.New("collar: stock name is required")
	}
	if c.CallStrike <= 0 || c.PutStrike <= 0 {
		return errors.New("collar: strikes must be positive spot fractions")
	}
	if len(c.CallTenors) == 0 || len(c.PutTenors) == 0 {
		return errors.New("collar: each option type needs at least one tenor")
	}
	for _, tenors := range [][]int{c.CallTenors, c.PutTenors} {
		if !sort.IntsAreSorted(tenors) {
			return errors.New("collar: tenors must be ascending")
		}
		for _, t := range tenors {
			if t <= 0 {
				return errors.New("collar: tenors must be positive day counts")
			}
		}
	}
	if c.ContractSize <= 0 {
		return errors.New("collar: contract size must be positive")
	}
	if c.CashBufferPercent < 0 || c.CashBufferPercent >= 1 {
		return errors.New("collar: cash buffer must be in [0, 1)")
	}
	return nil
}

// optionLadder is the live book of one option type: an indexed slice of
// rungs, nearest maturity first, plus the precomputed roll calendar.
type optionLadder struct {
	optType        interfaces.OptionType
	strikeFraction float64
	txnCost        float64
	tenors         []int
	rungs          []interfaces.LadderRung
	calendar       []time.Time
	calendarSet    map[time.Time]bool
}

func (l *optionLadder) last() *interfaces.LadderRung {
	return &l.rungs[len(l.rungs)-1]
}

// CollarStrategy maintains a laddered book of short calls and long puts
// against a stock position. It enters on the first date with valid implied
// volatility, rolls expiring rungs on maturity dates, and sells stock when
// cash cannot fund a roll.
type CollarStrategy struct {
	data   interfaces.MarketDataProvider
	ledger interfaces.Ledger
	cfg    CollarConfig
	logger *logrus.Logger

	ladders []*optionLadder // call first, then put
	entered bool
}

var _ interfaces.Strategy = (*CollarStrategy)(nil)

// NewCollarStrategy builds the strategy and precomputes the maturity
// calendars over the provider's full date range.
func NewCollarStrategy(data interfaces.MarketDataProvider, ledger interfaces.Ledger, cfg CollarConfig) (*CollarStrategy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dates := data.Dates()
	if len(dates) == 0 {
		return nil, errors.New("collar: market data has no dates")
	}
	start, end := dates[0], dates[len(dates)-1]

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	s := &CollarStrategy{
		data:   data,
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
	}
	for _, side := range []struct {
		optType interfaces.OptionType
		strike  float64
		cost    float64
		tenors  []int
	}{
		{interfaces.OptionCall, cfg.CallStrike, cfg.CallCost, cfg.CallTenors},
		{interfaces.OptionPut, cfg.PutStrike, cfg.PutCost, cfg.PutTenors},
	} {
		lad := &optionLadder{
			optType:        side.optType,
			strikeFraction: side.strike,
			txnCost:        side.cost,
			tenors:         side.tenors,
			rungs:          make([]interfaces.LadderRung, len(side.tenors)),
			calendar:       buildMaturityCalendar(start, end, side.tenors),
		}
		for i, tenor := range side.tenors {
			lad.rungs[i].TenorDays = tenor
		}
		lad.calendarSet = make(map[time.Time]bool, len(lad.calendar))
		for _, d := range lad.calendar {
			lad.calendarSet[d] = true
		}
		s.ladders = append(s.ladders, lad)
	}
	return s, nil
}

// buildMaturityCalendar steps from the data start in tenor-sized increments
// and snaps near-month-boundary landings to a month begin, emulating listed
// expiries. The snap also guarantees every iteration advances, so the walk
// cannot cycle inside a month.
func buildMaturityCalendar(start, end time.Time, tenors []int) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	add := func(d time.Time) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}

	for _, tenor := range tenors {
		cur := start
		for cur.Before(end) {
			add(cur)
			next := cur.AddDate(0, 0, tenor)
			prev := next.AddDate(0, 0, -1)
			if prev.Month() == next.Month() && prev.Year() == next.Year() {
				if next.Day() <= 15 {
					next = firstOfMonth(next)
				} else {
					next = firstOfMonth(next).AddDate(0, 1, 0)
				}
			}
			if !next.After(cur) {
				break
			}
			cur = next
		}
		add(cur)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func firstOfMonth(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
}

// nearestCalendarDate returns the calendar entry closest to target,
// preferring the earlier one on ties.
func nearestCalendarDate(calendar []time.Time, target time.Time) time.Time {
	i := sort.Search(len(calendar), func(i int) bool { return !calendar[i].Before(target) })
	if i == 0 {
		return calendar[0]
	}
	if i == len(calendar) {
		return calendar[len(calendar)-1]
	}
	before, after := calendar[i-1], calendar[i]
	if target.Sub(before) <= after.Sub(target) {
		return before
	}
	return after
}

// Name returns the strategy name.
func (s *CollarStrategy) Name() string { return "Collar" }

// Signal returns NoData while the vol surface has no data for the nearest
// call tenor at the call strike, Roll on any ladder maturity date, and Hold
// otherwise.
func (s *CollarStrategy) Signal(date time.Time) interfaces.Signal {
	calls := s.ladders[0]
	iv, err := s.data.ImpliedVol(date, calls.tenors[0], calls.strikeFraction)
	if err != nil || iv == 0 {
		s.logger.WithField("date", date.Format(dateFormat)).Warn("No implied volatility data, cannot generate collar signal")
		return interfaces.SignalNoData
	}
	for _, lad := range s.ladders {
		if lad.calendarSet[date] {
			return interfaces.SignalRoll
		}
	}
	return interfaces.SignalHold
}

// Rebalance enters the collar on the first date with valid vol data, rolls
// ladders on maturity dates, and marks the whole book every day. On a
// NoData signal nothing is traded or priced and the portfolio value is the
// cash balance.
func (s *CollarStrategy) Rebalance(sig interfaces.Signal, date time.Time, price float64, holdings interfaces.Holdings, cash float64) (interfaces.Holdings, float64, float64) {
	if sig == interfaces.SignalNoData {
		return holdings, cash, cash
	}

	if !s.entered {
		holdings, cash = s.enter(date, price, holdings, cash)
		s.entered = true
	} else if sig == interfaces.SignalRoll {
		holdings, cash = s.roll(date, price, holdings, cash)
	}

	portfolioValue := s.value(date, price, holdings, cash)
	s.syncHoldings(&holdings)
	return holdings, portfolioValue, cash
}

// marketInputs fetches the pricing inputs for a tenor, downgrading lookup
// failures to warnings with zero values: a zero vol collapses the mark to
// discounted intrinsic instead of aborting the run.
func (s *CollarStrategy) marketInputs(date time.Time, tenor int, strikeFraction float64) (vol, rate, yield float64) {
	var err error
	if vol, err = s.data.ImpliedVol(date, tenor, strikeFraction); err != nil {
		s.logger.WithError(err).Warn("Implied vol lookup failed, using zero")
	}
	if rate, err = s.data.InterestRate(date, tenor); err != nil {
		s.logger.WithError(err).Warn("Interest rate lookup failed, using zero")
	}
	if yield, err = s.data.DividendYield(date); err != nil {
		s.logger.WithError(err).Warn("Dividend yield lookup failed, using zero")
	}
	return vol, rate, yield
}

// markRung prices a live rung at current spot. Remaining time is the
// nominal tenor minus the days already elapsed against the rung's calendar
// maturity, floored at zero, which values rungs whose snapped maturity
// drifted from the nominal tenor.
func (s *CollarStrategy) markRung(date time.Time, price float64, lad *optionLadder, rung *interfaces.LadderRung) float64 {
	daysToMaturity := int(rung.Maturity.Sub(date).Hours() / 24)
	presentTime := (float64(rung.TenorDays) - float64(daysToMaturity)) / 365.0
	if presentTime < 0 {
		presentTime = 0
	}
	tau := float64(rung.TenorDays)/365.0 - presentTime

	vol, rate, yield := s.marketInputs(date, rung.TenorDays, lad.strikeFraction)
	mark, err := BlackScholes(price, rung.Strike, tau, vol, rate, yield, lad.optType)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark option rung")
		return 0
	}
	return mark
}

// enter buys the stock and the full option ladder book in one shot. The
// stock quantity is the largest amount that, net of the options' average
// premium flows and the cash buffer, is a contract-size multiple divisible
// evenly across every ladder's tenor count.
func (s *CollarStrategy) enter(date time.Time, price float64, holdings interfaces.Holdings, cash float64) (interfaces.Holdings, float64) {
	netPremiumFlow := 0.0
	for _, lad := range s.ladders {
		sum := 0.0
		for i, tenor := range lad.tenors {
			strike := lad.strikeFraction * price
			vol, rate, yield := s.marketInputs(date, tenor, lad.strikeFraction)
			entry, err := BlackScholes(price, strike, float64(tenor)/365.0, vol, rate, yield, lad.optType)
			if err != nil {
				s.logger.WithError(err).Error("Failed to price option at entry")
			}
			lad.rungs[i] = interfaces.LadderRung{
				TenorDays:  tenor,
				Strike:     strike,
				EntryPrice: entry,
				Maturity:   nearestCalendarDate(lad.calendar, date.AddDate(0, 0, tenor)),
			}
			sum += entry
		}
		avgPremium := sum / float64(len(lad.tenors))
		netPremiumFlow += lad.optType.PremiumSign()*avgPremium - lad.txnCost*avgPremium
	}

	denom := (price + s.cfg.StockCost) - netPremiumFlow
	var stock int64
	if denom > 0 {
		maxStock := int64((1 - s.cfg.CashBufferPercent) * cash / denom)
		stock = nearestDivisible(maxStock/s.cfg.ContractSize, int64(s.maxLadderLen())) * s.cfg.ContractSize
		if stock < 0 {
			stock = 0
		}
	} else {
		s.logger.Warn("Option premium flows exceed stock cost, entering with no stock")
	}

	s.ledger.Log(date, s.cfg.Stock, float64(stock), price, interfaces.TransactionBuy)
	s.ledger.Log(date, s.cfg.Stock, float64(stock), s.cfg.StockCost, interfaces.TransactionCosts)
	cash -= float64(stock) * (price + s.cfg.StockCost)

	for _, lad := range s.ladders {
		perRung := ((stock / int64(len(lad.tenors))) / s.cfg.ContractSize) * s.cfg.ContractSize
		for i := range lad.rungs {
			rung := &lad.rungs[i]
			rung.Quantity = perRung
			label := interfaces.OptionKey{Type: lad.optType, TenorDays: rung.TenorDays}.Label()
			s.ledger.Log(date, label, float64(perRung), rung.EntryPrice, interfaces.TransactionBuy)
			s.ledger.Log(date, label, float64(perRung), lad.txnCost, interfaces.TransactionCosts)
			cash += float64(perRung) * (lad.optType.PremiumSign()*rung.EntryPrice - lad.txnCost)
		}
	}

	holdings.Stock = stock
	s.logger.WithFields(logrus.Fields{
		"date":  date.Format(dateFormat),
		"stock": stock,
		"cash":  cash,
	}).Info("Collar entered")
	return holdings, cash
}

// roll replaces expiring rungs with fresh far-end exposure and, when cash
// cannot fund the roll, liquidates just enough stock to restore the buffer.
func (s *CollarStrategy) roll(date time.Time, price float64, holdings interfaces.Holdings, cash float64) (interfaces.Holdings, float64) {
	rolled := make(map[*optionLadder]bool, len(s.ladders))
	payoffs := make(map[*optionLadder]float64, len(s.ladders))
	expiredQty := make(map[*optionLadder]int64, len(s.ladders))

	for _, lad := range s.ladders {
		if !lad.calendarSet[date] {
			continue
		}
		rolled[lad] = true

		first := lad.rungs[0]
		pay, err := Payoff(price, first.Strike, lad.optType)
		if err != nil {
			s.logger.WithError(err).Error("Failed to compute expiry payoff")
		}
		payoffs[lad] = pay
		expiredQty[lad] = first.Quantity

		// Shift every rung one slot toward maturity. Slots keep their
		// nominal tenor label; strike, entry price, maturity and
		// quantity are inherited from the next-longer rung.
		for i := 0; i < len(lad.rungs)-1; i++ {
			next := lad.rungs[i+1]
			lad.rungs[i].Strike = next.Strike
			lad.rungs[i].EntryPrice = next.EntryPrice
			lad.rungs[i].Maturity = next.Maturity
			lad.rungs[i].Quantity = next.Quantity
		}

		// Re-strike and re-price the far end fresh, sized to top option
		// coverage back up to the current stock holdings.
		last := lad.last()
		last.Strike = lad.strikeFraction * price
		vol, rate, yield := s.marketInputs(date, last.TenorDays, lad.strikeFraction)
		entry, err := BlackScholes(price, last.Strike, float64(last.TenorDays)/365.0, vol, rate, yield, lad.optType)
		if err != nil {
			s.logger.WithError(err).Error("Failed to price rolled option")
		}
		last.EntryPrice = entry
		last.Maturity = nearestCalendarDate(lad.calendar, date.AddDate(0, 0, last.TenorDays))

		covered := int64(0)
		for i := 0; i < len(lad.rungs)-1; i++ {
			covered += lad.rungs[i].Quantity
		}
		need := holdings.Stock - covered
		if need < 0 {
			need = 0
		}
		last.Quantity = (need / s.cfg.ContractSize) * s.cfg.ContractSize
	}

	rollCost := func(lad *optionLadder) float64 {
		last := lad.last()
		cost := float64(last.Quantity) * (lad.optType.PremiumSign()*last.EntryPrice - lad.txnCost)
		exerciseTxn := 0.0
		if payoffs[lad] != 0 {
			exerciseTxn = -lad.txnCost * float64(expiredQty[lad])
		}
		cost += float64(expiredQty[lad])*lad.optType.MarkSign()*payoffs[lad] + exerciseTxn
		return cost
	}

	required := cash
	for lad := range rolled {
		required += rollCost(lad)
	}

	var stockDelta int64
	var emergencyCash float64
	marks := make(map[*optionLadder][]float64)

	if required < 0 {
		s.logger.WithFields(logrus.Fields{
			"date":     date.Format(dateFormat),
			"shortage": required,
		}).Warn("Insufficient cash, stock must be sold to fund the roll")

		// Sell enough to also replenish the cash buffer on the current
		// stock notional.
		required += -s.cfg.CashBufferPercent * float64(holdings.Stock) * price

		perShareUnwind := 0.0
		for _, lad := range s.ladders {
			mv := make([]float64, len(lad.rungs))
			for i := range lad.rungs {
				mv[i] = s.markRung(date, price, lad, &lad.rungs[i])
				perShareUnwind += lad.optType.MarkSign()*mv[i] - lad.txnCost
			}
			marks[lad] = mv
		}

		denom := price - s.cfg.StockCost + perShareUnwind
		if denom > 0 {
			// Ceiling division: always sell whole shares and err on the
			// side of selling more than strictly needed.
			stockDelta = -int64(math.Ceil(-required / denom))
		}
		// Never sell more than the stock held nor more than any single
		// rung's quantity.
		if stockDelta < -holdings.Stock {
			stockDelta = -holdings.Stock
		}
		for _, lad := range s.ladders {
			for i := range lad.rungs {
				if stockDelta < -lad.rungs[i].Quantity {
					stockDelta = -lad.rungs[i].Quantity
				}
			}
		}

		if stockDelta != 0 {
			previousStock := holdings.Stock
			holdings.Stock = nearestDivisible((previousStock+stockDelta)/s.cfg.ContractSize, int64(s.maxLadderLen())) * s.cfg.ContractSize
			stockDelta = holdings.Stock - previousStock

			sold := float64(-stockDelta)
			s.ledger.Log(date, s.cfg.Stock, sold, price, interfaces.TransactionSell)
			s.ledger.Log(date, s.cfg.Stock, sold, s.cfg.StockCost, interfaces.TransactionCosts)

			for _, lad := range s.ladders {
				adj := floorDiv(floorDiv(stockDelta, int64(len(lad.tenors))), s.cfg.ContractSize) * s.cfg.ContractSize
				for i := range lad.rungs {
					lad.rungs[i].Quantity += adj
					if lad.rungs[i].Quantity < 0 {
						lad.rungs[i].Quantity = 0
					}
				}
			}
		}
	}

	for _, lad := range s.ladders {
		if rolled[lad] {
			last := lad.last()
			lastLabel := interfaces.OptionKey{Type: lad.optType, TenorDays: last.TenorDays}.Label()
			s.ledger.Log(date, lastLabel, float64(last.Quantity), last.EntryPrice, interfaces.TransactionBuy)
			s.ledger.Log(date, lastLabel, float64(last.Quantity), lad.txnCost, interfaces.TransactionCosts)
			if payoffs[lad] > 0 {
				firstLabel := interfaces.OptionKey{Type: lad.optType, TenorDays: lad.tenors[0]}.Label()
				s.ledger.Log(date, firstLabel, float64(expiredQty[lad]), payoffs[lad], interfaces.TransactionSell)
				s.ledger.Log(date, firstLabel, float64(expiredQty[lad]), lad.txnCost, interfaces.TransactionCosts)
			}
		}
		if stockDelta != 0 {
			sold := float64(-stockDelta)
			for i := 0; i < len(lad.rungs)-1; i++ {
				label := interfaces.OptionKey{Type: lad.optType, TenorDays: lad.rungs[i].TenorDays}.Label()
				s.ledger.Log(date, label, sold, marks[lad][i], interfaces.TransactionSell)
				s.ledger.Log(date, label, sold, lad.txnCost, interfaces.TransactionCosts)
				emergencyCash += sold * (lad.optType.MarkSign()*marks[lad][i] - lad.txnCost)
			}
		}
	}

	cash += -float64(stockDelta) * (price - s.cfg.StockCost)
	cash += emergencyCash
	// Roll costs are applied after any emergency resize so the far-end
	// quantities already reflect the reduced stock coverage.
	for lad := range rolled {
		cash += rollCost(lad)
	}

	return holdings, cash
}

// value marks every live rung and sums the book: cash plus stock notional,
// minus short call marks, plus long put marks.
func (s *CollarStrategy) value(date time.Time, price float64, holdings interfaces.Holdings, cash float64) float64 {
	portfolioValue := float64(holdings.Stock)*price + cash
	for _, lad := range s.ladders {
		for i := range lad.rungs {
			rung := &lad.rungs[i]
			if rung.Quantity == 0 {
				continue
			}
			mark := s.markRung(date, price, lad, rung)
			portfolioValue += lad.optType.MarkSign() * mark * float64(rung.Quantity)
		}
	}
	return portfolioValue
}

// syncHoldings mirrors the ladder quantities into the holdings map.
func (s *CollarStrategy) syncHoldings(holdings *interfaces.Holdings) {
	holdings.Options = make(map[interfaces.OptionKey]int64)
	for _, lad := range s.ladders {
		for i := range lad.rungs {
			key := interfaces.OptionKey{Type: lad.optType, TenorDays: lad.rungs[i].TenorDays}
			holdings.Options[key] = lad.rungs[i].Quantity
		}
	}
}

func (s *CollarStrategy) maxLadderLen() int {
	max := 0
	for _, lad := range s.ladders {
		if len(lad.tenors) > max {
			max = len(lad.tenors)
		}
	}
	return max
}

// nearestDivisible returns the multiple of y closest to x.
func nearestDivisible(x, y int64) int64 {
	return int64(math.Round(float64(x)/float64(y))) * y
}

// floorDiv divides rounding toward negative infinity, matching the
// contract-size flooring applied to (possibly negative) stock deltas.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
