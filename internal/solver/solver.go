// Package solver implements the iterative projections behind "when can I
// reach X" questions. Every projection is a year-by-year forward simulation
// rather than a closed form: contributions make the closed form asymmetric,
// and the loop leaves an auditable path of balances.
package solver

import (
	"fmt"
	"math"

	"fincore/internal/config"
	"fincore/internal/logging"
	"fincore/internal/money"
)

// Inputs bundles one projection request. AnnualRate is the requested rate
// before age capping; MaxYears 0 falls back to the policy horizon.
type Inputs struct {
	CurrentAssets       float64 `json:"current_assets"`
	TargetGoal          float64 `json:"target_goal"`
	AnnualRate          float64 `json:"annual_rate"`
	MonthlyContribution float64 `json:"monthly_contribution"`
	Age                 int     `json:"age"`
	MaxYears            int     `json:"max_years,omitempty"`
}

// YearPoint is one step of a projection path.
type YearPoint struct {
	Year    int     `json:"year"`
	Balance float64 `json:"balance"`
}

// Result is one projection outcome. Results are computed on demand and
// never mutated after construction.
type Result struct {
	Years              float64 `json:"years"`
	FinalAmount        float64 `json:"final_amount"`
	TotalContributions float64 `json:"total_contributions"`
	GrowthComponent    float64 `json:"growth_component"`

	// Rate audit: the requested rate, the rate the simulation actually
	// used, and why they differ when they do.
	RateRequested float64 `json:"rate_requested"`
	RateUsed      float64 `json:"rate_used"`
	RateRationale string  `json:"rate_rationale"`

	AlreadyAchieved bool    `json:"already_achieved"`
	Surplus         float64 `json:"surplus,omitempty"` // final - target when already achieved
	Unbounded       bool    `json:"unbounded"`

	Path []YearPoint `json:"path,omitempty"`
}

// WhatIf pairs a baseline run with a variant run produced by substituting
// exactly one input, plus the year delta between them. Both runs go through
// the same solver so baseline and sensitivity answers can never disagree on
// method.
type WhatIf struct {
	Parameter  string  `json:"parameter"` // which input was substituted
	Baseline   Result  `json:"baseline"`
	Variant    Result  `json:"variant"`
	DeltaYears float64 `json:"delta_years"`
	HasDelta   bool    `json:"has_delta"` // false when either side is unbounded
}

// CapRate applies the age-band policy ceiling to a requested growth rate
// and explains the outcome. The cap is a deliberate conservative bias for
// retirement horizons: a blended portfolio rate above the band ceiling is
// not used, and the rationale says so.
func CapRate(age int, requested float64, policy *config.Policy) (float64, string) {
	ceiling, band := policy.CapForAge(age)
	if requested <= ceiling {
		return requested, fmt.Sprintf("using requested rate %s (within the %s ceiling for %s)",
			money.FormatPercent(requested), money.FormatPercent(ceiling), bandLabel(policy, band))
	}
	return ceiling, fmt.Sprintf("requested rate %s capped at %s for %s",
		money.FormatPercent(requested), money.FormatPercent(ceiling), bandLabel(policy, band))
}

// bandLabel renders a rate-cap band as an age range. Bands are ordered by
// MinAge descending, so the previous entry bounds this one from above.
func bandLabel(p *config.Policy, band config.RateCapBand) string {
	for i, b := range p.RateCaps {
		if b.MinAge != band.MinAge {
			continue
		}
		if i == 0 {
			return fmt.Sprintf("age %d and over", band.MinAge)
		}
		upper := p.RateCaps[i-1].MinAge
		if band.MinAge == 0 {
			return fmt.Sprintf("age under %d", upper)
		}
		return fmt.Sprintf("age %d-%d", band.MinAge, upper-1)
	}
	return fmt.Sprintf("age %d and over", band.MinAge)
}

// YearsToGoal simulates assets = assets*(1+rate) + 12*contribution year by
// year until the target is crossed or the horizon cap is reached. The cap
// breach is a legitimate financial outcome, reported as Unbounded with the
// capped year count, never an error.
func YearsToGoal(in Inputs, policy *config.Policy) Result {
	rate, rationale := CapRate(in.Age, in.AnnualRate, policy)

	maxYears := in.MaxYears
	if maxYears <= 0 {
		maxYears = policy.Solver.MaxHorizonYears
	}

	res := Result{
		RateRequested: in.AnnualRate,
		RateUsed:      rate,
		RateRationale: rationale,
	}

	if in.CurrentAssets >= in.TargetGoal {
		res.AlreadyAchieved = true
		res.FinalAmount = in.CurrentAssets
		res.Surplus = in.CurrentAssets - in.TargetGoal
		res.Path = []YearPoint{{Year: 0, Balance: round2(in.CurrentAssets)}}
		logging.SolverDebug("YearsToGoal: already achieved, surplus %.2f", res.Surplus)
		return res
	}

	annualContribution := in.MonthlyContribution * 12

	// Nothing invested and nothing coming in can never cross a positive
	// target; skip the loop rather than iterating to the cap.
	if in.CurrentAssets <= 0 && annualContribution <= 0 {
		res.Years = float64(maxYears)
		res.Unbounded = true
		res.FinalAmount = in.CurrentAssets
		res.Path = []YearPoint{{Year: 0, Balance: round2(in.CurrentAssets)}}
		return res
	}

	assets := in.CurrentAssets
	prev := assets
	path := make([]YearPoint, 0, maxYears+1)
	path = append(path, YearPoint{Year: 0, Balance: round2(assets)})

	years := 0
	for assets < in.TargetGoal && years < maxYears {
		prev = assets
		assets = assets*(1+rate) + annualContribution
		years++
		res.TotalContributions += annualContribution
		path = append(path, YearPoint{Year: years, Balance: round2(assets)})
	}

	res.Path = path
	res.FinalAmount = assets
	res.GrowthComponent = assets - in.CurrentAssets - res.TotalContributions

	if assets < in.TargetGoal {
		res.Years = float64(maxYears)
		res.Unbounded = true
		logging.SolverWarn("YearsToGoal: target %.2f unreachable within %d years (final %.2f)",
			in.TargetGoal, maxYears, assets)
		return res
	}

	// Fractional final year by linear interpolation inside the crossing
	// year, so "3.8 years" instead of a rounded-up 4.
	res.Years = float64(years)
	if years > 0 && assets > prev {
		fraction := (in.TargetGoal - prev) / (assets - prev)
		res.Years = float64(years-1) + fraction
	}

	logging.SolverDebug("YearsToGoal: current=%.2f target=%.2f rate=%.4f years=%.2f",
		in.CurrentAssets, in.TargetGoal, rate, res.Years)

	return res
}

// GoalAdjustment re-runs the solver with the target substituted and reports
// the delta versus the baseline.
func GoalAdjustment(base Inputs, newTarget float64, policy *config.Policy) WhatIf {
	baseline := YearsToGoal(base, policy)

	variant := base
	variant.TargetGoal = newTarget

	return newWhatIf(
		fmt.Sprintf("target_goal %s -> %s", money.FormatUSD(base.TargetGoal), money.FormatUSD(newTarget)),
		baseline,
		YearsToGoal(variant, policy),
	)
}

// GrowthRateSensitivity re-runs the solver with the rate substituted. The
// variant rate passes through the same age cap as the baseline, so the
// rationale records when the cap bites.
func GrowthRateSensitivity(base Inputs, newRate float64, policy *config.Policy) WhatIf {
	baseline := YearsToGoal(base, policy)

	variant := base
	variant.AnnualRate = newRate

	return newWhatIf(
		fmt.Sprintf("annual_rate %s -> %s", money.FormatPercent(base.AnnualRate), money.FormatPercent(newRate)),
		baseline,
		YearsToGoal(variant, policy),
	)
}

func newWhatIf(parameter string, baseline, variant Result) WhatIf {
	w := WhatIf{
		Parameter: parameter,
		Baseline:  baseline,
		Variant:   variant,
	}
	if !baseline.Unbounded && !variant.Unbounded {
		w.DeltaYears = variant.Years - baseline.Years
		w.HasDelta = true
	}
	logging.SolverDebug("WhatIf %s: baseline=%.2fy variant=%.2fy delta=%.2fy (comparable=%v)",
		parameter, baseline.Years, variant.Years, w.DeltaYears, w.HasDelta)
	return w
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
