// Package plan builds deterministic financial plans: gap analysis with a
// fixed-seed Monte Carlo projection, a seven-bucket target allocation,
// rebalancing trades, a contribution schedule against statutory caps, a
// debt avalanche, stress tests, and a numeric tax strategy. Build is a pure
// function of its input and policy: identical input yields byte-identical
// marshalled output. Output carries figures only, never advice language;
// prose belongs to the narrator.
package plan

import (
	"fmt"
	"math"

	"fincore/internal/config"
	"fincore/internal/logging"
	"fincore/internal/solver"
	"fincore/internal/types"
)

// AllocationSumTolerance bounds how far a weight set may drift from 1.0.
const AllocationSumTolerance = 0.01

// EmergencyTopUpMonths spreads an emergency fund gap over this many months
// of contributions.
const EmergencyTopUpMonths = 12

// CurrentState describes where the user stands today. Allocation maps
// bucket name to share of investable assets and must sum to 1.0 within
// AllocationSumTolerance.
type CurrentState struct {
	NetWorth         float64            `json:"net_worth"`
	InvestableAssets float64            `json:"investable_assets"`
	LiquidAssets     float64            `json:"liquid_assets"`
	MonthlyIncome    float64            `json:"monthly_income"`
	MonthlyExpenses  float64            `json:"monthly_expenses"`
	Age              int                `json:"age"`
	Allocation       map[string]float64 `json:"allocation"`
	Liabilities      []types.Liability  `json:"liabilities,omitempty"`
	Accounts         []types.Account    `json:"accounts,omitempty"`
}

// Goal is what the user is aiming for.
type Goal struct {
	TargetNetWorth float64 `json:"target_net_worth"`
	RetirementAge  int     `json:"retirement_age"`
	AnnualSpending float64 `json:"annual_spending"`
	RiskTolerance  int     `json:"risk_tolerance"` // 1 (conservative) to 10 (aggressive)
}

// Constraints bound the plan. Zero values fall back to policy defaults
// where one exists (emergency fund months) or disable the feature (tax
// bracket 0 disables the tax strategy).
type Constraints struct {
	EmergencyFundMonths float64 `json:"emergency_fund_months"`
	MaxSingleAssetShare float64 `json:"max_single_asset_share"`
	TaxBracket          float64 `json:"tax_bracket"` // marginal, as a fraction
	MaxDebtToIncome     float64 `json:"max_debt_to_income"`
}

// PlanInput is the immutable bundle Build consumes. Build never mutates it.
type PlanInput struct {
	State       CurrentState `json:"state"`
	Goal        Goal         `json:"goal"`
	Constraints Constraints  `json:"constraints"`
}

// GapAnalysis quantifies the distance to the target and the funding
// distribution over the horizon.
type GapAnalysis struct {
	CurrentInvestable float64 `json:"current_investable"`
	TargetNetWorth    float64 `json:"target_net_worth"`
	Gap               float64 `json:"gap"`
	HorizonYears      int     `json:"horizon_years"`

	// RequiredMonthly is the level contribution that lands exactly on the
	// target at the capped deterministic rate; CapacityShortfall is how far
	// it exceeds the actual monthly surplus, when it does.
	RequiredMonthly   float64 `json:"required_monthly_contribution"`
	MonthlyCapacity   float64 `json:"monthly_capacity"`
	CapacityShortfall float64 `json:"capacity_shortfall,omitempty"`

	RateUsed      float64 `json:"rate_used"`
	RateRationale string  `json:"rate_rationale"`

	Projection Projection `json:"projection"`
}

// PlanMetrics summarizes plan-level ratios.
type PlanMetrics struct {
	SavingsRate     float64 `json:"savings_rate"`
	DebtToIncome    float64 `json:"debt_to_income"`
	EmergencyMonths float64 `json:"emergency_fund_months"`
	EquityShare     float64 `json:"equity_share"`
}

// PlanOutput is the full deterministic plan.
type PlanOutput struct {
	Gap           GapAnalysis          `json:"gap_analysis"`
	Target        map[string]float64   `json:"target_allocation"`
	Trades        []Trade              `json:"rebalancing_trades"`
	Contributions ContributionSchedule `json:"contribution_schedule"`
	Debts         []DebtAction         `json:"debt_schedule"`
	Stress        []StressResult       `json:"stress_tests"`
	Tax           *TaxStrategy         `json:"tax_strategy,omitempty"`
	Metrics       PlanMetrics          `json:"metrics"`
}

// Validate rejects malformed input before any computation runs. Violations
// are typed ValidationErrors; a valid input never fails mid-build.
func Validate(in *PlanInput) error {
	if in == nil {
		return &types.ValidationError{Field: "plan_input", Reason: "nil"}
	}
	if !isFinite(in.Goal.TargetNetWorth) || in.Goal.TargetNetWorth <= 0 {
		return &types.ValidationError{Field: "target_net_worth", Reason: "must be positive"}
	}
	if in.Goal.RiskTolerance < 1 || in.Goal.RiskTolerance > 10 {
		return &types.ValidationError{Field: "risk_tolerance", Reason: "must be within 1..10"}
	}
	if in.State.Age <= 0 {
		return &types.ValidationError{Field: "age", Reason: "must be positive"}
	}
	if in.Goal.RetirementAge <= in.State.Age {
		return &types.ValidationError{
			Field:  "retirement_age",
			Reason: fmt.Sprintf("%d does not leave a horizon past current age %d", in.Goal.RetirementAge, in.State.Age),
		}
	}

	if len(in.State.Allocation) == 0 {
		return &types.ValidationError{Field: "allocation", Reason: "current allocation missing"}
	}
	sum := 0.0
	for bucket, weight := range in.State.Allocation {
		if !knownBucket(bucket) {
			return &types.ValidationError{Field: "allocation", Reason: fmt.Sprintf("unknown bucket %q", bucket)}
		}
		if !isFinite(weight) || weight < 0 {
			return &types.ValidationError{Field: "allocation", Reason: fmt.Sprintf("bucket %q has invalid weight", bucket)}
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > AllocationSumTolerance {
		return &types.ValidationError{
			Field:  "allocation",
			Reason: fmt.Sprintf("weights sum to %.4f, want 1.0 within %.2f", sum, AllocationSumTolerance),
		}
	}

	if in.Constraints.TaxBracket < 0 || in.Constraints.TaxBracket >= 1 {
		return &types.ValidationError{Field: "tax_bracket", Reason: "must be a fraction within [0, 1)"}
	}
	if in.Constraints.EmergencyFundMonths < 0 {
		return &types.ValidationError{Field: "emergency_fund_months", Reason: "must not be negative"}
	}

	for _, l := range in.State.Liabilities {
		if !isFinite(l.Balance) || l.Balance < 0 {
			return &types.ValidationError{Field: "liabilities", Reason: fmt.Sprintf("%q has invalid balance", l.Name)}
		}
		if !isFinite(l.AnnualRate) || l.AnnualRate < 0 {
			return &types.ValidationError{Field: "liabilities", Reason: fmt.Sprintf("%q has invalid rate", l.Name)}
		}
	}

	return nil
}

// Build computes the full plan. Pure: no I/O, no clock, no randomness
// outside the fixed-seed projection.
func Build(in *PlanInput, policy *config.Policy) (*PlanOutput, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryPlan, "plan build")
	defer timer.Stop()

	horizon := in.Goal.RetirementAge - in.State.Age
	target := TargetAllocation(in.Goal.RiskTolerance, float64(horizon), policy)

	contributions := buildContributions(in, policy)
	extra := contributions.line("taxable") // what could attack debt instead of taxable investing

	out := &PlanOutput{
		Gap:           buildGap(in, policy, horizon),
		Target:        target,
		Trades:        RebalancingTrades(in.State.Allocation, target, in.State.InvestableAssets, policy.Rebalance.DriftThreshold),
		Contributions: contributions,
		Debts:         avalanche(in.State.Liabilities, extra, policy.Debt.MaxMonths),
		Stress:        stressTests(in, target, policy),
		Tax:           taxStrategy(in, contributions, policy),
		Metrics:       buildMetrics(in, target),
	}

	logging.PlanDebug("Plan built: gap=%.2f horizon=%dy trades=%d debts=%d",
		out.Gap.Gap, horizon, len(out.Trades), len(out.Debts))

	return out, nil
}

func buildGap(in *PlanInput, policy *config.Policy, horizon int) GapAnalysis {
	capacity := in.State.MonthlyIncome - in.State.MonthlyExpenses

	// Deterministic funding math runs at the age-capped rate; the Monte
	// Carlo projection keeps the uncapped risk-band distribution so the
	// bands reflect the portfolio actually held.
	blended := policy.MeanForRisk(in.Goal.RiskTolerance)
	rate, rationale := solver.CapRate(in.State.Age, blended, policy)

	g := GapAnalysis{
		CurrentInvestable: round2(in.State.InvestableAssets),
		TargetNetWorth:    round2(in.Goal.TargetNetWorth),
		Gap:               round2(in.Goal.TargetNetWorth - in.State.NetWorth),
		HorizonYears:      horizon,
		MonthlyCapacity:   round2(capacity),
		RateUsed:          rate,
		RateRationale:     rationale,
	}

	required := requiredMonthly(in.State.InvestableAssets, in.Goal.TargetNetWorth, rate, horizon)
	g.RequiredMonthly = round2(required)
	if required > capacity {
		g.CapacityShortfall = round2(required - capacity)
	}

	// Contributions below zero are a shortfall finding, not a withdrawal
	// model; the projection contributes nothing in that case.
	contribution := math.Max(0, capacity)
	g.Projection = project(in.State.InvestableAssets, contribution, horizon,
		in.Goal.RiskTolerance, in.Goal.TargetNetWorth, policy)

	return g
}

// requiredMonthly solves the annuity future value for the level
// contribution that lands exactly on target after years at rate.
func requiredMonthly(current, target, rate float64, years int) float64 {
	if years <= 0 || target <= current {
		return 0
	}
	n := float64(years)
	if rate <= 0 {
		return (target - current) / (12 * n)
	}
	growth := math.Pow(1+rate, n)
	future := current * growth
	if future >= target {
		return 0
	}
	annual := (target - future) * rate / (growth - 1)
	return annual / 12
}

func buildMetrics(in *PlanInput, target map[string]float64) PlanMetrics {
	m := PlanMetrics{
		EquityShare: round4(equityShare(target)),
	}
	if in.State.MonthlyIncome > 0 {
		m.SavingsRate = round4((in.State.MonthlyIncome - in.State.MonthlyExpenses) / in.State.MonthlyIncome)
		annualIncome := in.State.MonthlyIncome * 12
		m.DebtToIncome = round4(totalLiabilities(in.State.Liabilities) / annualIncome)
	}
	if in.State.MonthlyExpenses > 0 {
		m.EmergencyMonths = round2(in.State.LiquidAssets / in.State.MonthlyExpenses)
	}
	return m
}

func totalLiabilities(liabilities []types.Liability) float64 {
	sum := 0.0
	for _, l := range liabilities {
		sum += l.Balance
	}
	return sum
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
