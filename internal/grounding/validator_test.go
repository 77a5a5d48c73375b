package grounding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincore/internal/config"
	"fincore/internal/facts"
	"fincore/internal/types"
)

func groundedSnapshot() *types.FinancialSnapshot {
	return &types.FinancialSnapshot{
		TotalAssets:      500_000,
		TotalLiabilities: 120_000,
		MonthlyIncome:    10_000,
		MonthlyExpenses:  6_000,
		LiquidAssets:     30_000,
		InvestmentTotal:  200_000,
		RetirementTotal:  150_000,
		Age:              40,
		State:            "CA",
		FilingStatus:     "single",
		Dependents:       1,
		MaritalStatus:    "married",
		RiskTolerance:    6,
	}
}

func deriveFacts(t *testing.T, snap *types.FinancialSnapshot) *types.FactSet {
	t.Helper()
	fs, err := facts.Derive(snap)
	require.NoError(t, err)
	return fs
}

func defaultValidator() *Validator {
	return NewValidator(config.DefaultPolicy())
}

func TestValidateEmptyAnswer(t *testing.T) {
	res := defaultValidator().Validate("   ", deriveFacts(t, groundedSnapshot()), nil)

	assert.True(t, res.Valid)
	assert.Equal(t, types.ConfidenceHigh, res.Confidence)
	assert.Empty(t, res.Matches)
	assert.Empty(t, res.Violations)
}

func TestNetWorthQuoteGrounds(t *testing.T) {
	snap := groundedSnapshot()
	snap.TotalAssets = 2_764_574
	snap.TotalLiabilities = 200_000
	fs := deriveFacts(t, snap)

	res := defaultValidator().Validate("Your net worth is $2,564,574.", fs, nil)

	require.True(t, res.Valid)
	assert.Equal(t, types.ConfidenceHigh, res.Confidence)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "$2,564,574", res.Matches[0].Raw)
	assert.Equal(t, "net_worth", res.Matches[0].Fact)
	assert.Equal(t, 2_564_574.0, res.Matches[0].FactValue)
	assert.False(t, res.Matches[0].Annualized)
}

func TestFabricatedFigureRejected(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())
	v := defaultValidator()

	res := v.Validate("Your net worth is $9,999,999.", fs, nil)

	assert.False(t, res.Valid)
	assert.Equal(t, types.ConfidenceLow, res.Confidence)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "$9,999,999", res.Violations[0].Raw)
	assert.Contains(t, res.Violations[0].Sentence, "net worth")

	// The suggested replacement must itself survive validation.
	require.NotEmpty(t, res.Fallback)
	replacement := v.Validate(res.Fallback, fs, nil)
	assert.True(t, replacement.Valid)
	assert.Empty(t, replacement.Violations)
}

func TestHedgedFigureIsAssumption(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())

	res := defaultValidator().Validate(
		"If you were to save $7,500 every month, you could reach the goal sooner.", fs, nil)

	assert.True(t, res.Valid, "hedged figures never invalidate an answer on their own")
	assert.Equal(t, types.ConfidenceMedium, res.Confidence)
	require.Len(t, res.Assumptions, 1)
	assert.Contains(t, res.Assumptions[0], "$7,500")
	assert.Empty(t, res.Violations)
}

func TestMonthlyAnnualBridge(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())
	extra := map[string]float64{"required_monthly": 3_000}

	res := defaultValidator().Validate(
		"That plan needs $36,000 per year in contributions.", fs, extra)

	require.True(t, res.Valid)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	assert.Equal(t, "$36,000", m.Raw)
	assert.Equal(t, "required_monthly", m.Fact)
	assert.Equal(t, 3_000.0, m.FactValue)
	assert.True(t, m.Annualized, "annual quote of a monthly fact rides the x12 bridge")
}

func TestPercentFiguresGround(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())

	res := defaultValidator().Validate(
		"Your savings rate is 40% and your debt sits at 24% of assets.", fs, nil)

	require.True(t, res.Valid)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "savings_rate", res.Matches[0].Fact)
	assert.Equal(t, "debt_to_asset_ratio", res.Matches[1].Fact)
}

func TestPercentNeverBridges(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())
	extra := map[string]float64{"monthly_rate": 0.005}

	// 6% is exactly monthly_rate x 12, but percentages are period-free:
	// the bridge must not apply, so the figure stays ungrounded.
	res := defaultValidator().Validate("Your rate is 6%.", fs, extra)

	assert.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "6%", res.Violations[0].Raw)
}

func TestUngroundedBudget(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())
	answer := "You could target $1,111 in month one. " +
		"You might raise it to $2,222 later. " +
		"Consider $3,333 as a stretch."

	res := defaultValidator().Validate(answer, fs, nil)
	assert.True(t, res.Valid, "three hedged figures sit inside the default budget")
	assert.Equal(t, types.ConfidenceMedium, res.Confidence)
	assert.Len(t, res.Assumptions, 3)

	tight := config.DefaultPolicy()
	tight.Grounding.MaxUngrounded = 2

	res = NewValidator(tight).Validate(answer, fs, nil)
	assert.False(t, res.Valid, "the same answer fails once the budget shrinks")
	assert.Equal(t, types.ConfidenceLow, res.Confidence)
	assert.Empty(t, res.Violations, "budget rejection is not a critical violation")
	assert.NotEmpty(t, res.Fallback)
}

func TestFallbackComposerAlwaysGrounds(t *testing.T) {
	alreadyFI := groundedSnapshot()
	alreadyFI.TotalAssets = 3_000_000
	alreadyFI.TotalLiabilities = 0

	zeroIncome := groundedSnapshot()
	zeroIncome.MonthlyIncome = 0

	for name, snap := range map[string]*types.FinancialSnapshot{
		"typical":     groundedSnapshot(),
		"already_fi":  alreadyFI,
		"zero_income": zeroIncome,
	} {
		t.Run(name, func(t *testing.T) {
			fs := deriveFacts(t, snap)
			text := Fallback(fs)
			require.NotEmpty(t, text)

			res := defaultValidator().Validate(text, fs, nil)
			assert.True(t, res.Valid, "composed text must pass its own validation:\n%s", text)
			assert.Empty(t, res.Violations)
		})
	}
}

func TestValidateExtraFactsOnly(t *testing.T) {
	extra := map[string]float64{"rate_ceiling": 0.07}

	res := defaultValidator().Validate("Growth is capped at 7% for your age band.", nil, extra)

	require.True(t, res.Valid)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "rate_ceiling", res.Matches[0].Fact)
}

func TestValidateNilFactsFallback(t *testing.T) {
	res := defaultValidator().Validate("Your net worth is $1,234,567.", nil, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Fallback, "records are incomplete")
}

func TestExtractFigures(t *testing.T) {
	cases := []struct {
		text    string
		values  []float64
		percent []bool
	}{
		{"$1,234.56", []float64{1234.56}, []bool{false}},
		{"$2.5 million", []float64{2_500_000}, []bool{false}},
		{"$3M", []float64{3_000_000}, []bool{false}},
		{"$250k", []float64{250_000}, []bool{false}},
		{"120 thousand dollars", []float64{120_000}, []bool{false}},
		{"save 30 dollars", []float64{30}, []bool{false}},
		{"-$500", []float64{-500}, []bool{false}},
		{"7% then 7.5 percent", []float64{0.07, 0.075}, []bool{true, true}},
		{"a balance of 250000 has no marker", nil, nil},
		{"in 12 years", nil, nil},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			figs := extractFigures(tc.text)
			require.Len(t, figs, len(tc.values))
			for i, fig := range figs {
				assert.InDelta(t, tc.values[i], fig.value, 1e-9)
				assert.Equal(t, tc.percent[i], fig.percent)
			}
		})
	}
}

func TestExtractFiguresNoDoubleCount(t *testing.T) {
	// The $-form claims the span first; the "N dollars" form must not
	// re-extract the same figure.
	figs := extractFigures("roughly $2.5 million dollars saved")
	require.Len(t, figs, 1)
	assert.InDelta(t, 2_500_000.0, figs[0].value, 1e-9)
	assert.Equal(t, "$2.5 million", figs[0].raw)
}

func TestViolationSentenceContext(t *testing.T) {
	fs := deriveFacts(t, groundedSnapshot())
	answer := "Your net worth is $380,000. The market added $77,777 last week."

	res := defaultValidator().Validate(answer, fs, nil)

	require.Len(t, res.Matches, 1)
	require.Len(t, res.Violations, 1)
	assert.True(t, strings.HasPrefix(res.Violations[0].Sentence, "The market"),
		"the violation carries only its own sentence, got %q", res.Violations[0].Sentence)
}
