package solver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fincore/internal/config"
)

func TestCapRate(t *testing.T) {
	policy := config.DefaultPolicy()

	tests := []struct {
		name      string
		age       int
		requested float64
		wantRate  float64
		wantIn    string
	}{
		{name: "under 50 uncapped", age: 30, requested: 0.05, wantRate: 0.05, wantIn: "within"},
		{name: "under 50 capped", age: 30, requested: 0.09, wantRate: 0.07, wantIn: "age under 50"},
		{name: "age 55 capped", age: 55, requested: 0.08, wantRate: 0.06, wantIn: "age 50-59"},
		{name: "age 55 at ceiling", age: 55, requested: 0.06, wantRate: 0.06, wantIn: "within"},
		{name: "age 62 capped", age: 62, requested: 0.08, wantRate: 0.05, wantIn: "age 60 and over"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, rationale := CapRate(tt.age, tt.requested, policy)
			assert.InDelta(t, tt.wantRate, rate, 1e-9)
			assert.Contains(t, rationale, tt.wantIn)
		})
	}
}

func TestYearsToGoalSolvedExample(t *testing.T) {
	policy := config.DefaultPolicy()

	res := YearsToGoal(Inputs{
		CurrentAssets:       2_500_000,
		TargetGoal:          3_500_000,
		AnnualRate:          0.06,
		MonthlyContribution: 7_863,
		Age:                 55,
	}, policy)

	require.False(t, res.Unbounded)
	require.False(t, res.AlreadyAchieved)
	assert.Greater(t, res.Years, 3.0)
	assert.Less(t, res.Years, 6.0)
	assert.GreaterOrEqual(t, res.FinalAmount, 3_500_000.0)
	assert.InDelta(t, 0.06, res.RateUsed, 1e-9, "6% requested at age 55 stays 6%")

	// Components reconcile: final = start + contributions + growth.
	assert.InDelta(t, res.FinalAmount,
		2_500_000+res.TotalContributions+res.GrowthComponent, 0.01)
	assert.Greater(t, res.GrowthComponent, 0.0)

	// Path starts at year 0 and ends at or past the target.
	require.NotEmpty(t, res.Path)
	assert.Equal(t, 0, res.Path[0].Year)
	assert.GreaterOrEqual(t, res.Path[len(res.Path)-1].Balance, 3_500_000.0)
}

func TestYearsToGoalAppliesAgeCap(t *testing.T) {
	policy := config.DefaultPolicy()

	res := YearsToGoal(Inputs{
		CurrentAssets:       2_500_000,
		TargetGoal:          3_500_000,
		AnnualRate:          0.08,
		MonthlyContribution: 7_863,
		Age:                 55,
	}, policy)

	assert.InDelta(t, 0.08, res.RateRequested, 1e-9)
	assert.InDelta(t, 0.06, res.RateUsed, 1e-9, "capped rate for age 55 is min(requested, 6%)")
	assert.Contains(t, res.RateRationale, "capped")
}

func TestYearsToGoalAlreadyAchieved(t *testing.T) {
	policy := config.DefaultPolicy()

	res := YearsToGoal(Inputs{
		CurrentAssets: 4_000_000,
		TargetGoal:    3_500_000,
		AnnualRate:    0.06,
		Age:           55,
	}, policy)

	assert.True(t, res.AlreadyAchieved)
	assert.Equal(t, 0.0, res.Years)
	assert.InDelta(t, 500_000.0, res.Surplus, 1e-6)
	assert.False(t, res.Unbounded)
}

func TestYearsToGoalUnboundedNoInflow(t *testing.T) {
	policy := config.DefaultPolicy()

	res := YearsToGoal(Inputs{
		CurrentAssets:       0,
		TargetGoal:          1_000_000,
		AnnualRate:          0.07,
		MonthlyContribution: 0,
		Age:                 30,
	}, policy)

	assert.True(t, res.Unbounded)
	assert.Equal(t, float64(config.DefaultMaxHorizonYears), res.Years)
}

func TestYearsToGoalUnboundedAtHorizon(t *testing.T) {
	policy := config.DefaultPolicy()

	res := YearsToGoal(Inputs{
		CurrentAssets:       1_000,
		TargetGoal:          10_000_000,
		AnnualRate:          0.01,
		MonthlyContribution: 10,
		Age:                 30,
	}, policy)

	assert.True(t, res.Unbounded)
	assert.Equal(t, float64(config.DefaultMaxHorizonYears), res.Years)
	assert.Len(t, res.Path, config.DefaultMaxHorizonYears+1, "path covers year 0 through the cap")
	assert.Less(t, res.FinalAmount, 10_000_000.0)
}

func TestYearsToGoalFractionalYears(t *testing.T) {
	policy := config.DefaultPolicy()

	res := YearsToGoal(Inputs{
		CurrentAssets:       2_500_000,
		TargetGoal:          3_500_000,
		AnnualRate:          0.06,
		MonthlyContribution: 7_863,
		Age:                 55,
	}, policy)

	require.False(t, res.Unbounded)
	assert.NotEqual(t, res.Years, float64(int(res.Years)),
		"crossing mid-year should interpolate a fractional count")
}

func TestYearsToGoalDeterministic(t *testing.T) {
	policy := config.DefaultPolicy()
	in := Inputs{
		CurrentAssets:       800_000,
		TargetGoal:          2_000_000,
		AnnualRate:          0.065,
		MonthlyContribution: 3_000,
		Age:                 42,
	}

	first := YearsToGoal(in, policy)
	second := YearsToGoal(in, policy)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical inputs produced different results (-first +second):\n%s", diff)
	}
}

func TestGoalAdjustment(t *testing.T) {
	policy := config.DefaultPolicy()
	base := Inputs{
		CurrentAssets:       2_500_000,
		TargetGoal:          3_500_000,
		AnnualRate:          0.06,
		MonthlyContribution: 7_863,
		Age:                 55,
	}

	w := GoalAdjustment(base, 3_100_000, policy)

	require.True(t, w.HasDelta)
	assert.Less(t, w.Variant.Years, w.Baseline.Years, "a lower goal arrives sooner")
	assert.Negative(t, w.DeltaYears)
	assert.Contains(t, w.Parameter, "$3,100,000")

	// Substituting the same value is a no-op delta.
	same := GoalAdjustment(base, base.TargetGoal, policy)
	require.True(t, same.HasDelta)
	assert.InDelta(t, 0.0, same.DeltaYears, 1e-9)
}

func TestGrowthRateSensitivityCapsVariant(t *testing.T) {
	policy := config.DefaultPolicy()
	base := Inputs{
		CurrentAssets:       2_500_000,
		TargetGoal:          3_500_000,
		AnnualRate:          0.05,
		MonthlyContribution: 7_863,
		Age:                 55,
	}

	w := GrowthRateSensitivity(base, 0.08, policy)

	require.True(t, w.HasDelta)
	assert.InDelta(t, 0.06, w.Variant.RateUsed, 1e-9, "8% at age 55 runs at the 6% cap")
	assert.Contains(t, w.Variant.RateRationale, "capped")
	assert.Less(t, w.Variant.Years, w.Baseline.Years, "a faster rate arrives sooner")
}

func TestWhatIfUnboundedSideHasNoDelta(t *testing.T) {
	policy := config.DefaultPolicy()
	base := Inputs{
		CurrentAssets:       2_500_000,
		TargetGoal:          3_500_000,
		AnnualRate:          0.06,
		MonthlyContribution: 7_863,
		Age:                 55,
	}

	w := GoalAdjustment(base, 900_000_000, policy)

	assert.True(t, w.Variant.Unbounded)
	assert.False(t, w.HasDelta, "no year delta against an unreachable variant")
}
