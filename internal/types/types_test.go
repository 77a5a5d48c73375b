package types

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotWireKeys(t *testing.T) {
	// The ingestion contract is camelCase; these keys are fixed.
	raw := `{
		"totalAssets": 500000,
		"totalLiabilities": 120000,
		"monthlyIncome": 10000,
		"monthlyExpenses": 6000,
		"liquidAssets": 30000,
		"investmentTotal": 200000,
		"retirementTotal": 150000,
		"age": 40,
		"state": "CA",
		"filingStatus": "single",
		"riskTolerance": 6,
		"accounts": [{"name": "401k", "kind": "401k", "balance": 150000, "equityShare": 0.9}],
		"liabilities": [{"name": "card", "balance": 4000, "annualRate": 0.22, "minimumPayment": 120}]
	}`

	var snap FinancialSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))

	assert.Equal(t, 500_000.0, snap.TotalAssets)
	assert.Equal(t, 40, snap.Age)
	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, 0.9, snap.Accounts[0].EquityShare)
	require.Len(t, snap.Liabilities, 1)
	assert.Equal(t, 0.22, snap.Liabilities[0].AnnualRate)
}

func TestFactSetRoundTripFiniteHorizon(t *testing.T) {
	fs := FactSet{
		NetWorth:  380_000,
		YearsToFI: 29.58,
		Evidence:  map[string]string{"net_worth": "500,000 - 120,000"},
		Warnings:  []string{"age missing"},
	}

	data, err := json.Marshal(fs)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"years_to_fi":29.58`)

	var back FactSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, fs.NetWorth, back.NetWorth)
	assert.Equal(t, fs.YearsToFI, back.YearsToFI)
	assert.Equal(t, fs.Evidence, back.Evidence)
	assert.Equal(t, fs.Warnings, back.Warnings)
}

func TestNumericFactsExcludesInfiniteHorizon(t *testing.T) {
	fs := FactSet{NetWorth: 380_000, YearsToFI: math.Inf(1)}
	facts := fs.NumericFacts()

	assert.NotContains(t, facts, "years_to_fi")
	assert.Equal(t, 380_000.0, facts["net_worth"])
	assert.Contains(t, facts, "monthly_expenses", "snapshot echo fields are quotable")

	fs.YearsToFI = 12.5
	assert.Equal(t, 12.5, fs.NumericFacts()["years_to_fi"])
}

func TestCalcRequestIsCalc(t *testing.T) {
	assert.False(t, CalcRequest{}.IsCalc())
	assert.False(t, CalcRequest{Type: CalcNone}.IsCalc())
	assert.True(t, CalcRequest{Type: CalcGrowthRateSensitivity}.IsCalc())
}

func TestErrorTaxonomy(t *testing.T) {
	verr := &ValidationError{Field: "age", Reason: "must be positive"}
	assert.Equal(t, "invalid input: age: must be positive", verr.Error())

	var target *ValidationError
	assert.True(t, errors.As(error(verr), &target))

	uerr := &UnboundedError{Metric: "years_to_goal", HorizonYears: 50}
	assert.Equal(t, "years_to_goal does not converge within 50 years", uerr.Error())

	gerr := &GroundingError{Violations: []string{"$1", "$2"}}
	assert.Contains(t, gerr.Error(), "2 ungrounded figure(s)")

	warn := DataQualityWarning{Field: "liquidAssets", Detail: "negative, coerced to 0"}
	assert.Equal(t, "data quality: liquidAssets: negative, coerced to 0", warn.String())
}
