package plan

import (
	"math"

	"fincore/internal/config"
	"fincore/internal/solver"
)

// StressResult measures one instantaneous market shock against the target
// allocation. Only the equity-bearing share of the portfolio takes the hit;
// RecoveryYears is how long the shocked portfolio needs to regrow to its
// pre-shock value at the capped deterministic rate with no contributions.
type StressResult struct {
	Shock          float64 `json:"shock"`
	PortfolioValue float64 `json:"portfolio_value"`
	Loss           float64 `json:"loss"`
	ShortfallRatio float64 `json:"shortfall_ratio"`
	RecoveryYears  float64 `json:"recovery_years"`
	Unbounded      bool    `json:"unbounded,omitempty"`
}

func stressTests(in *PlanInput, target map[string]float64, policy *config.Policy) []StressResult {
	investable := in.State.InvestableAssets
	if investable <= 0 {
		return nil
	}

	equity := equityShare(target)
	blended := policy.MeanForRisk(in.Goal.RiskTolerance)

	results := make([]StressResult, 0, len(policy.Stress.Shocks))
	for _, shock := range policy.Stress.Shocks {
		loss := investable * equity * math.Abs(shock)
		shocked := investable - loss

		r := StressResult{
			Shock:          shock,
			PortfolioValue: round2(shocked),
			Loss:           round2(loss),
		}
		if in.Goal.TargetNetWorth > 0 {
			r.ShortfallRatio = round4(math.Max(0, in.Goal.TargetNetWorth-shocked) / in.Goal.TargetNetWorth)
		}

		recovery := solver.YearsToGoal(solver.Inputs{
			CurrentAssets: shocked,
			TargetGoal:    investable,
			AnnualRate:    blended,
			Age:           in.State.Age,
			MaxYears:      policy.Solver.MaxHorizonYears,
		}, policy)
		r.RecoveryYears = round2(recovery.Years)
		r.Unbounded = recovery.Unbounded

		results = append(results, r)
	}
	return results
}

// TaxStrategy quantifies pretax space in plain figures. Produced only when
// the input carries a marginal bracket.
type TaxStrategy struct {
	MarginalBracket   float64 `json:"marginal_bracket"`
	PretaxRoomAnnual  float64 `json:"pretax_room_annual"`
	EstimatedDeferral float64 `json:"estimated_annual_deferral"`
	AdvantagedShare   float64 `json:"advantaged_share"`
	TaxableShare      float64 `json:"taxable_share"`
}

func taxStrategy(in *PlanInput, contributions ContributionSchedule, policy *config.Policy) *TaxStrategy {
	bracket := in.Constraints.TaxBracket
	if bracket <= 0 {
		return nil
	}

	pretaxAnnual := (contributions.line(Account401K) + contributions.line(AccountHSA)) * 12
	room := policy.Contribution.Limit401K + policy.Contribution.LimitHSA - pretaxAnnual
	if room < 0 {
		room = 0
	}

	t := &TaxStrategy{
		MarginalBracket:   bracket,
		PretaxRoomAnnual:  round2(room),
		EstimatedDeferral: round2(pretaxAnnual * bracket),
	}
	if contributions.TotalRouted > 0 {
		advantaged := contributions.line(Account401K) + contributions.line(AccountHSA) + contributions.line(AccountIRA)
		t.AdvantagedShare = round4(advantaged / contributions.TotalRouted)
		t.TaxableShare = round4(contributions.line(AccountTaxable) / contributions.TotalRouted)
	}
	return t
}
