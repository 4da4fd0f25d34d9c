package analysis

import (
	"fmt"
	"math"
)

// -----------------------------------------------------------------------------

// MGreeks holds the option sensitivities for one leg.
type MGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	IV    float64
}

// GreeksFunc computes greeks for one option leg. Inputs: spot, strike,
// time-to-expiry in years, annualized risk-free rate and volatility, and the
// option type ("CE"/"PE"). The pipeline treats this as an injected pure
// function; BlackScholesGreeks is the default implementation.
type GreeksFunc func(spot, strike, t, rate, sigma float64, optType string) (MGreeks, error)

// -----------------------------------------------------------------------------

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// -----------------------------------------------------------------------------

// BlackScholesGreeks computes analytical Black-Scholes delta, gamma and theta
// (theta per calendar day). Returns an error on non-positive inputs so a bad
// row drops the whole account summary rather than polluting it.
func BlackScholesGreeks(spot, strike, t, rate, sigma float64, optType string) (MGreeks, error) {
	if spot <= 0 || strike <= 0 || sigma <= 0 {
		return MGreeks{}, fmt.Errorf("invalid pricing inputs: spot=%v strike=%v sigma=%v", spot, strike, sigma)
	}
	if t <= 0 {
		return MGreeks{}, fmt.Errorf("option expired: t=%v", t)
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (rate+sigma*sigma/2)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	gamma := normPDF(d1) / (spot * sigma * sqrtT)
	common := -spot * normPDF(d1) * sigma / (2 * sqrtT)

	var delta, theta float64
	switch optType {
	case "CE":
		delta = normCDF(d1)
		theta = common - rate*strike*math.Exp(-rate*t)*normCDF(d2)
	case "PE":
		delta = normCDF(d1) - 1
		theta = common + rate*strike*math.Exp(-rate*t)*normCDF(-d2)
	default:
		return MGreeks{}, fmt.Errorf("unknown option type %q", optType)
	}

	return MGreeks{
		Delta: delta,
		Gamma: gamma,
		Theta: theta / 365,
		IV:    sigma,
	}, nil
}
