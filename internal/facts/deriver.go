// Package facts derives the canonical fact set from a financial snapshot.
// Every figure the engine is allowed to quote is computed here with an
// evidence line recording the arithmetic, then identity-checked before
// release. Derivation is a total function over usable snapshots: malformed
// numeric input is coerced to 0 and recorded as a data quality warning,
// never raised.
package facts

import (
	"fmt"
	"math"

	"fincore/internal/logging"
	"fincore/internal/money"
	"fincore/internal/types"
)

// FIExpenseMultiple converts annual expenses into a financial-independence
// target. 25x annual expenses is the inverse of the 4% withdrawal rule.
const FIExpenseMultiple = 25.0

// IdentityTolerance is the maximum drift allowed when identity facts are
// re-derived during the post-compute self check.
const IdentityTolerance = 0.01

// MonthsPerYear converts monthly flows to annual.
const MonthsPerYear = 12.0

// Derive computes the fact set for one snapshot. The caller's snapshot is
// never mutated; a sanitized copy is embedded in the result so grounding
// can quote raw snapshot figures too. A nil snapshot is the only error.
func Derive(snap *types.FinancialSnapshot) (*types.FactSet, error) {
	if snap == nil {
		return nil, types.ErrNilSnapshot
	}

	timer := logging.StartTimer(logging.CategoryFacts, "fact derivation")
	defer timer.Stop()

	s := &sanitizer{}
	clean := *snap
	clean.TotalAssets = s.number("totalAssets", clean.TotalAssets)
	clean.TotalLiabilities = s.number("totalLiabilities", clean.TotalLiabilities)
	clean.MonthlyIncome = s.number("monthlyIncome", clean.MonthlyIncome)
	clean.MonthlyExpenses = s.number("monthlyExpenses", clean.MonthlyExpenses)
	clean.LiquidAssets = s.number("liquidAssets", clean.LiquidAssets)
	clean.InvestmentTotal = s.number("investmentTotal", clean.InvestmentTotal)
	clean.RetirementTotal = s.number("retirementTotal", clean.RetirementTotal)

	facts := &types.FactSet{
		Snapshot: clean,
		Evidence: make(map[string]string),
	}

	facts.NetWorth = clean.TotalAssets - clean.TotalLiabilities
	facts.MonthlySurplus = clean.MonthlyIncome - clean.MonthlyExpenses
	facts.AnnualIncome = clean.MonthlyIncome * MonthsPerYear
	facts.AnnualExpenses = clean.MonthlyExpenses * MonthsPerYear
	facts.AnnualSurplus = facts.MonthlySurplus * MonthsPerYear
	facts.FINumber = clean.MonthlyExpenses * MonthsPerYear * FIExpenseMultiple
	facts.InvestableTotal = clean.InvestmentTotal + clean.RetirementTotal

	// Every ratio guards its denominator; a zero denominator yields 0 and
	// a warning naming what that disables.
	if clean.MonthlyIncome > 0 {
		facts.SavingsRate = facts.MonthlySurplus / clean.MonthlyIncome
		facts.DebtToIncome = clean.TotalLiabilities / facts.AnnualIncome
	} else {
		s.warn("monthlyIncome", "no income recorded, savings_rate and debt_to_income default to 0")
	}
	if clean.MonthlyExpenses > 0 {
		facts.LiquidMonths = clean.LiquidAssets / clean.MonthlyExpenses
	} else {
		s.warn("monthlyExpenses", "no expenses recorded, liquid_months and fi_number default to 0")
	}
	if clean.TotalAssets > 0 {
		facts.DebtToAssetRatio = clean.TotalLiabilities / clean.TotalAssets
		facts.InvestmentAllocation = facts.InvestableTotal / clean.TotalAssets
	}
	if facts.FINumber > 0 {
		facts.FIProgress = facts.NetWorth / facts.FINumber
	}

	facts.YearsToFI = yearsToFI(facts)

	buildEvidence(facts)
	contextWarnings(s, &clean)

	facts.Warnings = append(facts.Warnings, s.warnings...)
	facts.Warnings = append(facts.Warnings, CheckIdentities(facts)...)

	logging.FactsDebug("Derived facts: net_worth=%.2f surplus=%.2f savings_rate=%.4f warnings=%d",
		facts.NetWorth, facts.MonthlySurplus, facts.SavingsRate, len(facts.Warnings))

	return facts, nil
}

// yearsToFI is the linear horizon estimate: remaining gap divided by annual
// surplus. Compound growth what-ifs belong to the solver package; this fact
// is deliberately the simple auditable form.
func yearsToFI(f *types.FactSet) float64 {
	if f.SavingsRate <= 0 || f.FINumber <= 0 {
		return math.Inf(1)
	}
	remaining := math.Max(0, f.FINumber-f.NetWorth)
	return remaining / (f.MonthlySurplus * MonthsPerYear)
}

// CheckIdentities re-derives the identity facts from the embedded snapshot
// and reports disagreements beyond IdentityTolerance. It never corrects the
// fact set. A violation means a defect upstream, not bad user data.
func CheckIdentities(f *types.FactSet) []string {
	snap := f.Snapshot
	var violations []string

	netWorth := snap.TotalAssets - snap.TotalLiabilities
	if math.Abs(netWorth-f.NetWorth) > IdentityTolerance {
		violations = append(violations,
			fmt.Sprintf("net_worth_identity_violation: recomputed %.2f, stored %.2f", netWorth, f.NetWorth))
	}

	surplus := snap.MonthlyIncome - snap.MonthlyExpenses
	if math.Abs(surplus-f.MonthlySurplus) > IdentityTolerance {
		violations = append(violations,
			fmt.Sprintf("monthly_surplus_identity_violation: recomputed %.2f, stored %.2f", surplus, f.MonthlySurplus))
	}

	annualExpenses := snap.MonthlyExpenses * MonthsPerYear
	if math.Abs(annualExpenses-f.AnnualExpenses) > IdentityTolerance {
		violations = append(violations,
			fmt.Sprintf("annual_expenses_identity_violation: recomputed %.2f, stored %.2f", annualExpenses, f.AnnualExpenses))
	}

	fiNumber := snap.MonthlyExpenses * MonthsPerYear * FIExpenseMultiple
	if math.Abs(fiNumber-f.FINumber) > IdentityTolerance {
		violations = append(violations,
			fmt.Sprintf("fi_number_identity_violation: recomputed %.2f, stored %.2f", fiNumber, f.FINumber))
	}

	if len(violations) > 0 {
		logging.FactsError("Identity check failed: %v", violations)
	}

	return violations
}

// buildEvidence records the arithmetic behind every fact, rendered with the
// shared money formatter so quoted figures and evidence agree byte for byte.
func buildEvidence(f *types.FactSet) {
	snap := f.Snapshot
	ev := f.Evidence

	ev["net_worth"] = fmt.Sprintf("net_worth = totalAssets (%s) - totalLiabilities (%s) = %s",
		money.FormatUSD(snap.TotalAssets), money.FormatUSD(snap.TotalLiabilities), money.FormatUSD(f.NetWorth))
	ev["monthly_surplus"] = fmt.Sprintf("monthly_surplus = monthlyIncome (%s) - monthlyExpenses (%s) = %s",
		money.FormatUSD(snap.MonthlyIncome), money.FormatUSD(snap.MonthlyExpenses), money.FormatUSD(f.MonthlySurplus))
	ev["annual_income"] = fmt.Sprintf("annual_income = monthlyIncome (%s) x 12 = %s",
		money.FormatUSD(snap.MonthlyIncome), money.FormatUSD(f.AnnualIncome))
	ev["annual_expenses"] = fmt.Sprintf("annual_expenses = monthlyExpenses (%s) x 12 = %s",
		money.FormatUSD(snap.MonthlyExpenses), money.FormatUSD(f.AnnualExpenses))
	ev["annual_surplus"] = fmt.Sprintf("annual_surplus = monthly_surplus (%s) x 12 = %s",
		money.FormatUSD(f.MonthlySurplus), money.FormatUSD(f.AnnualSurplus))
	ev["fi_number"] = fmt.Sprintf("fi_number = annual_expenses (%s) x %.0f = %s",
		money.FormatUSD(f.AnnualExpenses), FIExpenseMultiple, money.FormatUSD(f.FINumber))
	ev["investable_total"] = fmt.Sprintf("investable_total = investmentTotal (%s) + retirementTotal (%s) = %s",
		money.FormatUSD(snap.InvestmentTotal), money.FormatUSD(snap.RetirementTotal), money.FormatUSD(f.InvestableTotal))

	if snap.MonthlyIncome > 0 {
		ev["savings_rate"] = fmt.Sprintf("savings_rate = monthly_surplus (%s) / monthlyIncome (%s) = %s",
			money.FormatUSD(f.MonthlySurplus), money.FormatUSD(snap.MonthlyIncome), money.FormatPercent(f.SavingsRate))
		ev["debt_to_income"] = fmt.Sprintf("debt_to_income = totalLiabilities (%s) / annual_income (%s) = %.2f",
			money.FormatUSD(snap.TotalLiabilities), money.FormatUSD(f.AnnualIncome), f.DebtToIncome)
	} else {
		ev["savings_rate"] = "savings_rate = 0 (no income recorded)"
		ev["debt_to_income"] = "debt_to_income = 0 (no income recorded)"
	}

	if snap.MonthlyExpenses > 0 {
		ev["liquid_months"] = fmt.Sprintf("liquid_months = liquidAssets (%s) / monthlyExpenses (%s) = %.1f months",
			money.FormatUSD(snap.LiquidAssets), money.FormatUSD(snap.MonthlyExpenses), f.LiquidMonths)
	} else {
		ev["liquid_months"] = "liquid_months = 0 (no expenses recorded)"
	}

	if snap.TotalAssets > 0 {
		ev["debt_to_asset_ratio"] = fmt.Sprintf("debt_to_asset_ratio = totalLiabilities (%s) / totalAssets (%s) = %.2f",
			money.FormatUSD(snap.TotalLiabilities), money.FormatUSD(snap.TotalAssets), f.DebtToAssetRatio)
		ev["investment_allocation"] = fmt.Sprintf("investment_allocation = investable_total (%s) / totalAssets (%s) = %s",
			money.FormatUSD(f.InvestableTotal), money.FormatUSD(snap.TotalAssets), money.FormatPercent(f.InvestmentAllocation))
	} else {
		ev["debt_to_asset_ratio"] = "debt_to_asset_ratio = 0 (no assets recorded)"
		ev["investment_allocation"] = "investment_allocation = 0 (no assets recorded)"
	}

	if f.FINumber > 0 {
		ev["fi_progress"] = fmt.Sprintf("fi_progress = net_worth (%s) / fi_number (%s) = %s",
			money.FormatUSD(f.NetWorth), money.FormatUSD(f.FINumber), money.FormatPercent(f.FIProgress))
	} else {
		ev["fi_progress"] = "fi_progress = 0 (no fi_number)"
	}

	if math.IsInf(f.YearsToFI, 1) {
		ev["years_to_fi"] = "years_to_fi = unreachable (savings rate is not positive or no FI target)"
	} else {
		remaining := math.Max(0, f.FINumber-f.NetWorth)
		ev["years_to_fi"] = fmt.Sprintf("years_to_fi = remaining gap (%s) / annual_surplus (%s) = %s years",
			money.FormatUSD(remaining), money.FormatUSD(f.AnnualSurplus), money.FormatYears(f.YearsToFI))
	}
}

// contextWarnings flags missing contextual attributes, naming the downstream
// capability each one disables.
func contextWarnings(s *sanitizer, snap *types.FinancialSnapshot) {
	if snap.Age <= 0 {
		s.warn("age", "missing, growth rate capping assumes the under-50 band")
	}
	if snap.State == "" {
		s.warn("state", "missing, state tax treatment unavailable")
	}
	if snap.FilingStatus == "" {
		s.warn("filingStatus", "missing, tax strategy disabled")
	}
	if snap.RiskTolerance < 1 || snap.RiskTolerance > 10 {
		s.warn("riskTolerance", fmt.Sprintf("%d outside 1-10, allocation modeling uses the moderate band", snap.RiskTolerance))
	}
}

type sanitizer struct {
	warnings []string
}

// number coerces non-finite or negative balances to 0. Snapshot aggregates
// are magnitudes; a negative total is malformed input, not a valid state
// (negative positions surface as liabilities).
func (s *sanitizer) number(field string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.warn(field, "not a finite number, using 0")
		return 0
	}
	if v < 0 {
		s.warn(field, fmt.Sprintf("negative value %.2f, using 0", v))
		return 0
	}
	return v
}

func (s *sanitizer) warn(field, detail string) {
	s.warnings = append(s.warnings, types.DataQualityWarning{Field: field, Detail: detail}.String())
}
