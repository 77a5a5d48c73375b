package grounding

import (
	"fmt"
	"strings"

	"fincore/internal/money"
	"fincore/internal/types"
)

// Fallback composes the deterministic replacement for a rejected answer:
// plain statements of the derived facts with every figure rendered by the
// shared money formatters, so the composed text passes its own validation.
func Fallback(facts *types.FactSet) string {
	if facts == nil {
		return "Your records are incomplete, so no figures can be quoted with confidence. " +
			"Please re-submit your financial snapshot."
	}

	var b strings.Builder
	b.WriteString("Here is what your records support. ")
	fmt.Fprintf(&b, "Net worth: %s (%s in total assets minus %s in liabilities). ",
		money.FormatUSD(facts.NetWorth),
		money.FormatUSD(facts.Snapshot.TotalAssets),
		money.FormatUSD(facts.Snapshot.TotalLiabilities))
	fmt.Fprintf(&b, "Monthly surplus: %s on %s of income against %s of expenses. ",
		money.FormatUSD(facts.MonthlySurplus),
		money.FormatUSD(facts.Snapshot.MonthlyIncome),
		money.FormatUSD(facts.Snapshot.MonthlyExpenses))
	fmt.Fprintf(&b, "Savings rate: %s.", money.FormatPercent(facts.SavingsRate))
	if facts.FINumber > 0 {
		fmt.Fprintf(&b, " Financial independence target: %s, currently %s funded.",
			money.FormatUSD(facts.FINumber),
			money.FormatPercent(facts.FIProgress))
	}
	return b.String()
}
