package services

import (
	"errors"
	"math"

	"collar-backtest/interfaces"
)

// ErrInvalidOptionType is returned when pricing is requested for anything
// other than a European call or put.
var ErrInvalidOptionType = errors.New("option type must be call or put")

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// BlackScholes returns the present value of a European option under the
// Black-Scholes model with a continuous dividend yield. Time to maturity is
// in years and must be non-negative; at tau = 0 (or zero volatility) the
// value collapses to the discounted intrinsic value on the forward, which
// guards the division by sigma*sqrt(tau) in d1.
func BlackScholes(spot, strike, tau, vol, rate, dividendYield float64, optType interfaces.OptionType) (float64, error) {
	if optType != interfaces.OptionCall && optType != interfaces.OptionPut {
		return 0, ErrInvalidOptionType
	}
	if tau < 0 {
		tau = 0
	}

	forward := spot * math.Exp((rate-dividendYield)*tau)
	discount := math.Exp(-rate * tau)

	sigSqrtTau := vol * math.Sqrt(tau)
	if sigSqrtTau == 0 {
		if optType == interfaces.OptionCall {
			return discount * math.Max(forward-strike, 0), nil
		}
		return discount * math.Max(strike-forward, 0), nil
	}

	d1 := (math.Log(spot/strike) + (rate-dividendYield+0.5*vol*vol)*tau) / sigSqrtTau
	d2 := d1 - sigSqrtTau

	if optType == interfaces.OptionCall {
		return discount * (forward*normCDF(d1) - strike*normCDF(d2)), nil
	}
	return discount * (strike*normCDF(-d2) - forward*normCDF(-d1)), nil
}

// Payoff returns the intrinsic value of an option at expiry.
func Payoff(spot, strike float64, optType interfaces.OptionType) (float64, error) {
	switch optType {
	case interfaces.OptionCall:
		return math.Max(spot-strike, 0), nil
	case interfaces.OptionPut:
		return math.Max(strike-spot, 0), nil
	default:
		return 0, ErrInvalidOptionType
	}
}
