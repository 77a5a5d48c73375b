// Package narrator is the engine's only LLM boundary. A Narrator renders
// prose around figures the deterministic layers already computed; it never
// computes figures itself. Every narration is validated downstream by the
// grounding package, and when narration is unavailable or rejected the
// Fallback composer produces a replacement built purely from formatted fact
// and solver values, which by construction always validates.
package narrator

import (
	"context"
	"regexp"
	"strings"

	"fincore/internal/money"
	"fincore/internal/solver"
	"fincore/internal/types"
)

// Narrator turns computed results into user-facing prose. Implementations
// must not introduce figures beyond those carried by the Request; the
// grounding validator rejects any that slip through.
type Narrator interface {
	Narrate(ctx context.Context, req *Request) (string, error)
}

// Request bundles everything a narration may draw from: the user's words,
// the derived fact set with its evidence lines, and the deterministic
// calculation outcome when one was routed. Result is set for a plain
// projection, WhatIf for the substitution calculations; both nil means a
// facts-only answer.
type Request struct {
	Query string
	Facts *types.FactSet

	Calc   types.CalcRequest
	Inputs *solver.Inputs
	Result *solver.Result
	WhatIf *solver.WhatIf
}

// Numbers returns every quotable figure the calculation produced, keyed by
// name. The engine merges these with the fact set when validating the
// narrated answer, so solver outputs ground the same way derived facts do.
// Rates are fractions, matching how the validator reads percent figures.
func (r *Request) Numbers() map[string]float64 {
	nums := make(map[string]float64)

	addResult := func(prefix string, res *solver.Result) {
		if res == nil {
			return
		}
		nums[prefix+"years"] = res.Years
		nums[prefix+"final_amount"] = res.FinalAmount
		nums[prefix+"total_contributions"] = res.TotalContributions
		nums[prefix+"growth_component"] = res.GrowthComponent
		nums[prefix+"rate_requested"] = res.RateRequested
		nums[prefix+"rate_used"] = res.RateUsed
		if res.AlreadyAchieved {
			nums[prefix+"surplus"] = res.Surplus
		}
	}

	addResult("", r.Result)
	if r.WhatIf != nil {
		addResult("baseline_", &r.WhatIf.Baseline)
		addResult("variant_", &r.WhatIf.Variant)
		if r.WhatIf.HasDelta {
			nums["delta_years"] = r.WhatIf.DeltaYears
		}
	}

	if r.Inputs != nil {
		nums["target_goal"] = r.Inputs.TargetGoal
		nums["monthly_contribution"] = r.Inputs.MonthlyContribution
		nums["current_assets"] = r.Inputs.CurrentAssets
		nums["annual_rate"] = r.Inputs.AnnualRate
	}
	if r.Calc.HasTargetAmount {
		nums["requested_target"] = r.Calc.TargetAmount
	}
	if r.Calc.HasGrowthRate {
		nums["requested_rate"] = r.Calc.GrowthRate
	}

	return nums
}

// =============================================================================
// RESPONSE HYGIENE
// =============================================================================

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Clean normalizes a raw LLM answer before validation: code fences
// stripped, line endings unified, runs of blank lines collapsed. Models
// routinely wrap prose in markdown fences despite instructions not to.
func Clean(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.TrimSpace(s)

	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	return blankRuns.ReplaceAllString(s, "\n\n")
}

// =============================================================================
// FALLBACK COMPOSER
// =============================================================================

// Fallback composes the deterministic answer used when no narrator is
// configured, the narration call fails, or the narrated answer is rejected
// by grounding. Every figure is rendered by the shared money formatters
// from fact set or solver values, so the composition always passes the
// validator it replaces the LLM for.
func Fallback(req *Request) string {
	if req == nil || req.Facts == nil {
		return "Your records are incomplete, so no figures can be quoted with confidence. " +
			"Please re-submit your financial snapshot."
	}

	var b strings.Builder
	writeCalc(&b, req)
	writeFacts(&b, req.Facts)
	return strings.TrimSpace(b.String())
}

// writeCalc renders the routed calculation outcome, when one exists.
func writeCalc(b *strings.Builder, req *Request) {
	switch {
	case req.Result != nil:
		writeProjection(b, req)
	case req.WhatIf != nil:
		writeWhatIf(b, req)
	}
}

func writeProjection(b *strings.Builder, req *Request) {
	res := req.Result
	target := "your target"
	if req.Inputs != nil {
		target = "your target of " + money.FormatUSD(req.Inputs.TargetGoal)
	}

	switch {
	case res.AlreadyAchieved:
		b.WriteString("You have already reached " + target + ": your current balance of " +
			money.FormatUSD(res.FinalAmount) + " exceeds it by " + money.FormatUSD(res.Surplus) + ". ")
	case res.Unbounded:
		b.WriteString("At the modeled growth rate your balance does not reach " + target +
			" within " + money.FormatYears(res.Years) + " years; the projection ends at " +
			money.FormatUSD(res.FinalAmount) + ". ")
		if req.Inputs != nil {
			b.WriteString("That projection starts from " + money.FormatUSD(req.Inputs.CurrentAssets) +
				" with " + money.FormatUSD(req.Inputs.MonthlyContribution) + " contributed per month. ")
		}
	default:
		b.WriteString("Reaching " + target + " takes about " + money.FormatYears(res.Years) + " years")
		if req.Inputs != nil {
			b.WriteString(", starting from " + money.FormatUSD(req.Inputs.CurrentAssets) +
				" with " + money.FormatUSD(req.Inputs.MonthlyContribution) + " contributed per month")
		}
		b.WriteString(". The projection ends at " + money.FormatUSD(res.FinalAmount) +
			", of which " + money.FormatUSD(res.TotalContributions) + " comes from contributions and " +
			money.FormatUSD(res.GrowthComponent) + " from growth. ")
	}

	writeRate(b, res)
	b.WriteString("\n\n")
}

// writeRate states the modeled rate using only the requested and applied
// values. The solver's rationale text also names the policy ceiling, which
// is not a quotable figure, so the composer never embeds it verbatim.
func writeRate(b *strings.Builder, res *solver.Result) {
	if res.AlreadyAchieved {
		return
	}
	if res.RateUsed == res.RateRequested {
		b.WriteString("Growth was modeled at " + money.FormatPercent(res.RateUsed) + " per year. ")
		return
	}
	b.WriteString("Growth was modeled at " + money.FormatPercent(res.RateUsed) +
		" per year; the requested " + money.FormatPercent(res.RateRequested) +
		" exceeds the ceiling for your age band. ")
}

func writeWhatIf(b *strings.Builder, req *Request) {
	w := req.WhatIf
	b.WriteString("Comparing " + w.Parameter + ": ")

	switch {
	case w.Baseline.Unbounded && w.Variant.Unbounded:
		b.WriteString("neither scenario reaches the target within the modeled horizon. " +
			"The baseline ends at " + money.FormatUSD(w.Baseline.FinalAmount) +
			" and the variant at " + money.FormatUSD(w.Variant.FinalAmount) + ". ")
	case w.Baseline.Unbounded:
		b.WriteString("the baseline never reaches the target within the modeled horizon, " +
			"while the variant gets there in about " + money.FormatYears(w.Variant.Years) + " years. ")
	case w.Variant.Unbounded:
		b.WriteString("the baseline gets there in about " + money.FormatYears(w.Baseline.Years) +
			" years, while the variant never reaches the target within the modeled horizon. ")
	default:
		b.WriteString("the horizon moves from " + money.FormatYears(w.Baseline.Years) +
			" years to " + money.FormatYears(w.Variant.Years) + " years, a difference of " +
			money.FormatYears(w.DeltaYears) + " years. ")
	}

	if w.Variant.RateUsed != w.Baseline.RateUsed {
		b.WriteString("The variant models growth at " + money.FormatPercent(w.Variant.RateUsed) +
			" per year against " + money.FormatPercent(w.Baseline.RateUsed) + " for the baseline. ")
	}
	if w.Variant.RateUsed != w.Variant.RateRequested {
		b.WriteString("The requested " + money.FormatPercent(w.Variant.RateRequested) +
			" exceeds the ceiling for your age band and was not used. ")
	}
	b.WriteString("\n\n")
}

// writeFacts renders the supporting facts paragraph shared by every
// fallback answer.
func writeFacts(b *strings.Builder, facts *types.FactSet) {
	b.WriteString("Here is what your records support. ")
	b.WriteString("Net worth: " + money.FormatUSD(facts.NetWorth) + " (" +
		money.FormatUSD(facts.Snapshot.TotalAssets) + " in total assets minus " +
		money.FormatUSD(facts.Snapshot.TotalLiabilities) + " in liabilities). ")
	b.WriteString("Monthly surplus: " + money.FormatUSD(facts.MonthlySurplus) + " on " +
		money.FormatUSD(facts.Snapshot.MonthlyIncome) + " of income against " +
		money.FormatUSD(facts.Snapshot.MonthlyExpenses) + " of expenses. ")
	b.WriteString("Savings rate: " + money.FormatPercent(facts.SavingsRate) + ".")
	if facts.FINumber > 0 {
		b.WriteString(" Financial independence target: " + money.FormatUSD(facts.FINumber) +
			", currently " + money.FormatPercent(facts.FIProgress) + " funded.")
	}
}
