package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincore/internal/config"
)

func TestStressDeepeningShocks(t *testing.T) {
	policy := config.DefaultPolicy()
	in := validInput()
	target := TargetAllocation(in.Goal.RiskTolerance, 20, policy)

	results := stressTests(in, target, policy)
	require.Len(t, results, len(policy.Stress.Shocks))

	for i, r := range results {
		assert.Equal(t, policy.Stress.Shocks[i], r.Shock)
		assert.InDelta(t, in.State.InvestableAssets, r.PortfolioValue+r.Loss, 0.01)
		assert.False(t, r.Unbounded)
		assert.Greater(t, r.RecoveryYears, 0.0)

		if i == 0 {
			continue
		}
		prev := results[i-1]
		assert.Greater(t, r.Loss, prev.Loss)
		assert.Less(t, r.PortfolioValue, prev.PortfolioValue)
		assert.GreaterOrEqual(t, r.RecoveryYears, prev.RecoveryYears)
		assert.GreaterOrEqual(t, r.ShortfallRatio, prev.ShortfallRatio)
	}
}

func TestStressOnlyEquityTakesTheHit(t *testing.T) {
	policy := config.DefaultPolicy()
	in := validInput()

	// All-reserve portfolio: a market shock costs nothing.
	reserve := map[string]float64{
		BucketBonds: 0.70,
		BucketCash:  0.20,
		BucketCommodities: 0.10,
	}
	results := stressTests(in, reserve, policy)
	require.Len(t, results, len(policy.Stress.Shocks))
	for _, r := range results {
		assert.Zero(t, r.Loss)
		assert.InDelta(t, in.State.InvestableAssets, r.PortfolioValue, 0.01)
	}
}

func TestStressNothingInvested(t *testing.T) {
	policy := config.DefaultPolicy()
	in := validInput()
	in.State.InvestableAssets = 0

	assert.Nil(t, stressTests(in, TargetAllocation(6, 20, policy), policy))
}

func TestTaxStrategyDisabledWithoutBracket(t *testing.T) {
	policy := config.DefaultPolicy()
	in := validInput()
	in.Constraints.TaxBracket = 0

	assert.Nil(t, taxStrategy(in, buildContributions(in, policy), policy))
}

func TestTaxStrategyFigures(t *testing.T) {
	policy := config.DefaultPolicy()
	in := validInput()

	contrib := buildContributions(in, policy)
	ts := taxStrategy(in, contrib, policy)
	require.NotNil(t, ts)

	assert.Equal(t, 0.24, ts.MarginalBracket)
	// 401k and HSA are fully funded; only cent-level rounding can remain.
	assert.Less(t, ts.PretaxRoomAnnual, 1.0)

	wantDeferral := (contrib.line(Account401K) + contrib.line(AccountHSA)) * 12 * 0.24
	assert.InDelta(t, wantDeferral, ts.EstimatedDeferral, 0.01)

	assert.InDelta(t, 0.725, ts.AdvantagedShare, 0.001)
	assert.InDelta(t, 0.15, ts.TaxableShare, 0.001)
}

func TestTaxStrategyReportsRemainingRoom(t *testing.T) {
	policy := config.DefaultPolicy()
	in := validInput()
	in.State.MonthlyIncome = 7_000
	in.State.LiquidAssets = 36_000
	in.Constraints.TaxBracket = 0.22

	contrib := buildContributions(in, policy) // a single $1,000 401k line
	ts := taxStrategy(in, contrib, policy)
	require.NotNil(t, ts)

	wantRoom := policy.Contribution.Limit401K + policy.Contribution.LimitHSA - 12_000
	assert.InDelta(t, wantRoom, ts.PretaxRoomAnnual, 0.01)
	assert.InDelta(t, 12_000*0.22, ts.EstimatedDeferral, 0.01)
	assert.InDelta(t, 1.0, ts.AdvantagedShare, 1e-9)
	assert.Zero(t, ts.TaxableShare)
}
