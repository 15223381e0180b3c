/*
Package depreciation computes and posts periodic depreciation.

PURPOSE:
  Calculate is a pure function: given an asset, the period being posted,
  the number of periods already posted and (for units of production) the
  units consumed, it returns the amount to post and the resulting book
  value. It never reads a store or a clock. The Scheduler (scheduler.go)
  decides which periods are due, fetches usage and persists results.

METHODS (monthly amounts, rounded half away from zero to cents):

  STRAIGHT_LINE        (price - salvage) / usefulLifeMonths
  DECLINING_BALANCE    bookValue * rate / 100 / 12
  UNITS_OF_PRODUCTION  (price - salvage) / totalExpectedUnits * units
  SUM_OF_YEARS_DIGITS  (price - salvage) * remainingYears / (n(n+1)/2) / 12
                       n = ceil(usefulLifeMonths / 12)
                       remainingYears = n - periodsPosted / 12
                       a short final year divides by its own month count

GUARD RAILS:
  - The amount never takes book value below salvage; it is clamped to
    (bookValue - salvage) and the asset is then fully depreciated.
  - The last period of the useful life posts whatever remains, so that
    the ledger sums to exactly (price - salvage) despite rounding.
  - Declining balance finishes the residual when the rounded amount
    reaches zero while book value is still above salvage.

SEE ALSO:
  - scheduler.go: the only production caller
  - money/money.go: rounding rules
*/
package depreciation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/money"
)

var (
	percentMonths = decimal.NewFromInt(1200) // 100% * 12 months
	hundred       = decimal.NewFromInt(100)
)

// Input is everything Calculate needs for one period of one asset.
type Input struct {
	Asset asset.Asset

	// Period is the scheduled depreciation date being posted.
	Period time.Time

	// PeriodsPosted is the number of ledger entries already posted.
	PeriodsPosted int

	// Units consumed in the period. Required for units of production.
	Units *int64
}

type Result struct {
	Amount           money.Amount
	BookValueAfter   money.Amount
	AccumulatedAfter money.Amount
	FullyDepreciated bool

	// Clamped is set when the salvage floor reduced the computed amount.
	Clamped bool
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the method-specific configuration of an asset.
func Validate(cfg asset.DepreciationConfig) error {
	var v asset.ValidationError
	switch cfg.Method {
	case asset.StraightLine, asset.SumOfYearsDigits:
		if cfg.UsefulLifeMonths <= 0 {
			v.Add("useful_life_months", "must be positive for "+string(cfg.Method))
		}
	case asset.DecliningBalance:
		if !cfg.DepreciationRate.IsPositive() || cfg.DepreciationRate.GreaterThan(hundred) {
			v.Add("depreciation_rate", "must be in (0, 100] for DECLINING_BALANCE")
		}
		if cfg.UsefulLifeMonths < 0 {
			v.Add("useful_life_months", "must not be negative")
		}
	case asset.UnitsOfProduction:
		if cfg.TotalExpectedUnits <= 0 {
			v.Add("total_expected_units", "must be positive for UNITS_OF_PRODUCTION")
		}
	default:
		v.Add("depreciation_method", fmt.Sprintf("unknown method %q, want one of %v", cfg.Method, asset.Methods))
	}
	return v.Err()
}

// =============================================================================
// CALCULATE
// =============================================================================

// Calculate returns the depreciation for one period.
func Calculate(in Input) (Result, error) {
	a := in.Asset
	cfg := a.Depreciation
	if err := Validate(cfg); err != nil {
		return Result{}, err
	}

	remaining := a.RemainingDepreciable()
	if !remaining.IsPositive() {
		return Result{
			Amount:           money.Zero,
			BookValueAfter:   a.CurrentBookValue,
			AccumulatedAfter: a.AccumulatedDepreciation,
			FullyDepreciated: true,
		}, nil
	}

	var (
		amount money.Amount
		err    error
	)
	switch cfg.Method {
	case asset.StraightLine:
		amount = a.DepreciableBase().Div(decimal.NewFromInt(int64(cfg.UsefulLifeMonths))).Round()
	case asset.DecliningBalance:
		amount = a.CurrentBookValue.Mul(cfg.DepreciationRate).Div(percentMonths).Round()
		if amount.IsZero() {
			amount = remaining
		}
	case asset.UnitsOfProduction:
		amount, err = unitsOfProduction(a, in.Units)
	case asset.SumOfYearsDigits:
		amount = sumOfYearsDigits(a, in.PeriodsPosted)
	}
	if err != nil {
		return Result{}, err
	}
	if amount.IsNegative() {
		return Result{}, &asset.CalculationError{AssetID: a.ID, Method: cfg.Method, Reason: "computed a negative amount " + amount.String()}
	}

	if finalPeriod(cfg, in.PeriodsPosted) {
		amount = remaining
	}

	res := Result{}
	if amount.GreaterThan(remaining) {
		amount = remaining
		res.Clamped = true
	}
	res.Amount = amount
	res.BookValueAfter = a.CurrentBookValue.Sub(amount)
	res.AccumulatedAfter = a.AccumulatedDepreciation.Add(amount)
	res.FullyDepreciated = res.BookValueAfter.LessOrEqual(a.SalvageValue)
	return res, nil
}

// finalPeriod reports whether the period being posted is the last one of the
// useful life. Units of production has no calendar life.
func finalPeriod(cfg asset.DepreciationConfig, posted int) bool {
	if cfg.Method == asset.UnitsOfProduction || cfg.UsefulLifeMonths <= 0 {
		return false
	}
	return posted+1 >= cfg.UsefulLifeMonths
}

func unitsOfProduction(a asset.Asset, units *int64) (money.Amount, error) {
	if units == nil {
		return money.Zero, &asset.CalculationError{AssetID: a.ID, Method: asset.UnitsOfProduction, Reason: "no usage reading for period"}
	}
	if *units < 0 {
		return money.Zero, &asset.CalculationError{AssetID: a.ID, Method: asset.UnitsOfProduction, Reason: fmt.Sprintf("negative usage %d", *units)}
	}
	// Multiply first so a small per-unit rate does not lose precision.
	return a.DepreciableBase().
		Mul(decimal.NewFromInt(*units)).
		Div(decimal.NewFromInt(a.Depreciation.TotalExpectedUnits)).
		Round(), nil
}

// sumOfYearsDigits works in years of the asset's life, counted from the
// first posted period. A final year shorter than twelve months spreads its
// yearly amount over the months it has, so the schedule never posts a lump.
func sumOfYearsDigits(a asset.Asset, posted int) money.Amount {
	life := a.Depreciation.UsefulLifeMonths
	n := totalYears(life)
	year := posted / 12
	if year >= n {
		return a.RemainingDepreciable()
	}
	months := 12
	if year == n-1 {
		months = life - 12*(n-1)
	}
	digits := int64(n * (n + 1) / 2)
	yearly := a.DepreciableBase().
		Mul(decimal.NewFromInt(int64(n - year))).
		Div(decimal.NewFromInt(digits))
	return yearly.Div(decimal.NewFromInt(int64(months))).Round()
}

func totalYears(months int) int {
	return (months + 11) / 12
}

// Preview returns the amount the first period would post, for display as
// MonthlyDepreciation. Units of production has no usage yet and previews
// zero.
func Preview(a asset.Asset) (money.Amount, error) {
	if a.Depreciation.Method == asset.UnitsOfProduction {
		return money.Zero, Validate(a.Depreciation)
	}
	res, err := Calculate(Input{
		Asset:  a,
		Period: asset.AddMonths(a.DepreciationStartDate, 1),
	})
	if err != nil {
		return money.Zero, err
	}
	return res.Amount, nil
}
